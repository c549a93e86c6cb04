// Package cooldown decides whether a candidate may (re)submit after a
// failed pre-screen.
package cooldown

import (
	"context"
	"errors"
	"time"

	"whitelist-bot/internal/application"
)

// DefaultWindow is how long a failed screening blocks submission.
const DefaultWindow = 48 * time.Hour

// Decision is the outcome of CanSubmit.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
	Until     *time.Time
}

// Gate reads and writes cooldown state through the application store. It
// has no side effects beyond the store write in RecordFailure.
type Gate struct {
	store  application.Store
	window time.Duration
	now    func() time.Time
}

type Option func(*Gate)

func WithWindow(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func NewGate(store application.Store, opts ...Option) *Gate {
	g := &Gate{store: store, window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Window returns the configured cooldown length.
func (g *Gate) Window() time.Duration { return g.window }

// Now returns the gate's current time.
func (g *Gate) Now() time.Time { return g.now() }

// CanSubmit reports whether candidateID is outside any cooldown window.
// A missing record is allowed.
func (g *Gate) CanSubmit(ctx context.Context, candidateID string) (Decision, error) {
	app, err := g.store.Get(ctx, candidateID)
	if errors.Is(err, application.ErrNotFound) {
		return Decision{Allowed: true}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	return g.Evaluate(app), nil
}

// Evaluate applies the cooldown rule to an already loaded record.
func (g *Gate) Evaluate(app *application.Application) Decision {
	now := g.now()
	if !app.InCooldown(now) {
		return Decision{Allowed: true}
	}
	until := *app.CooldownUntil
	return Decision{Allowed: false, Remaining: until.Sub(now), Until: &until}
}

// RecordFailure starts a fresh cooldown window from now. It returns the end
// of the window, or application.ErrConflict when an application is
// currently submitted.
func (g *Gate) RecordFailure(ctx context.Context, candidateID string, score int) (time.Time, error) {
	now := g.now()
	until := now.Add(g.window)
	if _, err := g.store.RecordFailure(ctx, candidateID, score, now, until); err != nil {
		return time.Time{}, err
	}
	return until, nil
}
