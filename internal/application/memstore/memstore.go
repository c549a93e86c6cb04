// Package memstore is an in-process application store. It backs the
// "memory" database driver and the lifecycle tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"whitelist-bot/internal/application"
)

// Store keeps applications in a map guarded by a mutex. Each method holds
// the lock for its whole check-and-write, which gives the same atomicity as
// the conditional statements of the postgres store.
type Store struct {
	mu   sync.Mutex
	apps map[string]*application.Application
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		apps: make(map[string]*application.Application),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ application.Store = (*Store)(nil)

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Get(_ context.Context, candidateID string) (*application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[candidateID]
	if !ok {
		return nil, application.ErrNotFound
	}
	return clone(app), nil
}

func (s *Store) FindByTicketChannel(_ context.Context, channelID string) (*application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if channelID == "" {
		return nil, application.ErrNotFound
	}
	for _, app := range s.apps {
		if app.TicketChannelID == channelID {
			return clone(app), nil
		}
	}
	return nil, application.ErrNotFound
}

func (s *Store) List(context.Context) ([]*application.Application, error) {
	s.mu.Lock()
	out := s.snapshot(func(*application.Application) bool { return true })
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return newer(out[i].SubmittedAt, out[j].SubmittedAt, out[i].CandidateID, out[j].CandidateID)
	})
	return out, nil
}

func (s *Store) ListWhitelisted(context.Context) ([]*application.Application, error) {
	s.mu.Lock()
	out := s.snapshot(func(a *application.Application) bool { return a.Whitelisted })
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return newer(out[i].WhitelistedAt, out[j].WhitelistedAt, out[i].CandidateID, out[j].CandidateID)
	})
	return out, nil
}

func (s *Store) RecordFailure(_ context.Context, candidateID string, score int, failedAt, cooldownUntil time.Time) (*application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app := s.upsert(candidateID)
	if app.Submitted {
		return nil, application.ErrConflict
	}
	app.Score = score
	app.FailedAt = ptr(failedAt)
	app.CooldownUntil = ptr(cooldownUntil)
	app.Submitted = false
	app.UpdatedAt = failedAt
	return clone(app), nil
}

func (s *Store) Submit(_ context.Context, sub application.Submission, now time.Time) (*application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.apps[sub.CandidateID]; ok {
		blocked := existing.Submitted || existing.Whitelisted || existing.Blacklisted ||
			(existing.CooldownUntil != nil && existing.CooldownUntil.After(now))
		if blocked {
			return nil, application.ErrConflict
		}
	}

	app := s.upsert(sub.CandidateID)
	app.Profile = sub.Profile
	app.Score = sub.Score
	app.FormFields = copyFields(sub.FormFields)
	app.Submitted = true
	app.SubmittedAt = ptr(now)
	app.FailedAt = nil
	app.CooldownUntil = nil
	app.TicketChannelID = ""
	app.TicketClosed = false
	app.UpdatedAt = now
	return clone(app), nil
}

func (s *Store) SetTicket(_ context.Context, candidateID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[candidateID]
	if !ok || !app.Submitted {
		return application.ErrNotFound
	}
	app.TicketChannelID = channelID
	app.TicketClosed = false
	app.UpdatedAt = s.now()
	return nil
}

func (s *Store) CloseTicket(_ context.Context, candidateID, channelID string) (*application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[candidateID]
	if !ok || app.TicketChannelID == "" || (channelID != "" && app.TicketChannelID != channelID) {
		return nil, application.ErrNotFound
	}
	if app.TicketClosed {
		return nil, application.ErrConflict
	}
	app.TicketClosed = true
	app.UpdatedAt = s.now()
	return clone(app), nil
}

func (s *Store) Whitelist(_ context.Context, candidateID string, stamp application.Stamp, requireSubmitted bool) (*application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.apps[candidateID]
	if requireSubmitted && (!ok || !existing.Submitted) {
		return nil, application.ErrNotFound
	}
	if ok && existing.Whitelisted {
		return nil, application.ErrConflict
	}

	app := s.upsert(candidateID)
	app.Whitelisted = true
	app.WhitelistedAt = ptr(stamp.At)
	app.WhitelistedBy = stamp.By
	clearBlacklist(app)
	app.UpdatedAt = stamp.At
	return clone(app), nil
}

func (s *Store) Blacklist(_ context.Context, candidateID string, stamp application.Stamp, reason string) (*application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app := s.upsert(candidateID)
	app.Blacklisted = true
	app.BlacklistedAt = ptr(stamp.At)
	app.BlacklistedBy = stamp.By
	app.BlacklistReason = reason
	app.Whitelisted = false
	app.WhitelistedAt = nil
	app.WhitelistedBy = ""
	app.UpdatedAt = stamp.At
	return clone(app), nil
}

func (s *Store) Unblacklist(_ context.Context, candidateID string) (*application.Application, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[candidateID]
	if !ok {
		return nil, "", application.ErrNotFound
	}
	if !app.Blacklisted {
		return nil, "", application.ErrConflict
	}
	var released string
	if !app.TicketClosed {
		released = app.TicketChannelID
	}
	clearBlacklist(app)
	app.Submitted = false
	app.TicketChannelID = ""
	app.TicketClosed = false
	app.UpdatedAt = s.now()
	return clone(app), released, nil
}

// upsert returns the live record for candidateID, creating it if needed.
// Callers must hold s.mu.
func (s *Store) upsert(candidateID string) *application.Application {
	app, ok := s.apps[candidateID]
	if !ok {
		now := s.now()
		app = &application.Application{CandidateID: candidateID, CreatedAt: now, UpdatedAt: now}
		s.apps[candidateID] = app
	}
	return app
}

func (s *Store) snapshot(keep func(*application.Application) bool) []*application.Application {
	out := make([]*application.Application, 0, len(s.apps))
	for _, app := range s.apps {
		if keep(app) {
			out = append(out, clone(app))
		}
	}
	return out
}

func clearBlacklist(app *application.Application) {
	app.Blacklisted = false
	app.BlacklistedAt = nil
	app.BlacklistedBy = ""
	app.BlacklistReason = ""
}

// newer orders nil timestamps last and breaks ties by id.
func newer(a, b *time.Time, idA, idB string) bool {
	switch {
	case a == nil && b == nil:
		return idA < idB
	case a == nil:
		return false
	case b == nil:
		return true
	case a.Equal(*b):
		return idA < idB
	}
	return a.After(*b)
}

func clone(app *application.Application) *application.Application {
	c := *app
	c.FormFields = copyFields(app.FormFields)
	return &c
}

func copyFields(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func ptr(t time.Time) *time.Time { return &t }
