// Package ticket creates and locates the private staff channel opened for
// each submitted application.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"whitelist-bot/internal/application"
	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/messages"
	"whitelist-bot/internal/platform"
	"whitelist-bot/internal/ticketcache"
)

// Ticket is a provisioned ticket channel.
type Ticket struct {
	ChannelID string
	Created   bool
}

// Config holds the guild layout the provisioner creates channels in.
type Config struct {
	CategoryID  string
	StaffRoleID string
}

// Provisioner owns ticket channel creation. Creation is serialized per
// candidate so two calls for the same candidate can never both create a
// channel, while different candidates proceed in parallel.
type Provisioner struct {
	store    application.Store
	cache    ticketcache.Cache
	platform platform.Platform
	messages *messages.Builder
	cfg      Config
	logger   logger.Logger

	locks candidateLocks
}

func NewProvisioner(
	store application.Store,
	cache ticketcache.Cache,
	p platform.Platform,
	msgs *messages.Builder,
	cfg Config,
	log logger.Logger,
) *Provisioner {
	return &Provisioner{
		store:    store,
		cache:    cache,
		platform: p,
		messages: msgs,
		cfg:      cfg,
		logger:   logger.Component(log, "ticket"),
	}
}

// Lookup finds the live ticket channel of app: cache first, then the store
// handle verified on the platform. A cached handle is only trusted when it
// matches the open ticket recorded on app. Lookup never fails; a transient
// platform error keeps the known handle rather than reporting a miss.
func (p *Provisioner) Lookup(ctx context.Context, app *application.Application) (string, bool) {
	if app == nil {
		return "", false
	}
	log := p.logger.WithFields(map[string]interface{}{"candidateId": app.CandidateID})

	if id, ok := p.cache.Get(ctx, app.CandidateID); ok {
		if !app.TicketOpen() || id != app.TicketChannelID {
			log.Debug("dropping stale cached ticket channel", map[string]interface{}{"channelId": id})
			p.cache.Invalidate(ctx, app.CandidateID)
		} else {
			switch err := p.platform.ResolveChannel(ctx, id); {
			case err == nil:
				return id, true
			case errors.Is(err, platform.ErrNotFound):
				log.Debug("cached ticket channel is gone", map[string]interface{}{"channelId": id})
				p.cache.Invalidate(ctx, app.CandidateID)
				return "", false
			default:
				log.Warn("could not verify cached ticket channel", map[string]interface{}{
					"channelId": id,
					"error":     err.Error(),
				})
				return id, true
			}
		}
	}

	if !app.TicketOpen() {
		return "", false
	}
	id := app.TicketChannelID
	switch err := p.platform.ResolveChannel(ctx, id); {
	case err == nil:
		p.cache.Set(ctx, app.CandidateID, id)
		return id, true
	case errors.Is(err, platform.ErrNotFound):
		log.Info("stored ticket channel no longer exists", map[string]interface{}{"channelId": id})
		return "", false
	default:
		log.Warn("could not verify stored ticket channel", map[string]interface{}{
			"channelId": id,
			"error":     err.Error(),
		})
		return id, true
	}
}

// Ensure returns the ticket of the candidate of app, creating the channel
// when none exists. The record is re-read under the creation lock, and a new
// handle is persisted and cached before it is returned.
func (p *Provisioner) Ensure(ctx context.Context, app *application.Application) (Ticket, error) {
	unlock := p.locks.lock(app.CandidateID)
	defer unlock()

	current, err := p.store.Get(ctx, app.CandidateID)
	if err != nil {
		return Ticket{}, fmt.Errorf("load application %s: %w", app.CandidateID, err)
	}
	if id, ok := p.Lookup(ctx, current); ok {
		return Ticket{ChannelID: id}, nil
	}

	spec := platform.TicketSpec{
		Name:        platform.TicketChannelName(current.Profile.DisplayName, current.CandidateID),
		CategoryID:  p.cfg.CategoryID,
		StaffRoleID: p.cfg.StaffRoleID,
		Topic:       fmt.Sprintf("Whitelist application of %s (%s)", current.DisplayNameOr(current.CandidateID), current.CandidateID),
	}
	id, err := p.platform.CreateTicketChannel(ctx, spec)
	if err != nil {
		return Ticket{}, fmt.Errorf("create ticket channel: %w", err)
	}

	if err := p.store.SetTicket(ctx, current.CandidateID, id); err != nil {
		return Ticket{ChannelID: id, Created: true}, fmt.Errorf("record ticket channel %s: %w", id, err)
	}
	p.cache.Set(ctx, current.CandidateID, id)

	p.logger.Info("ticket channel created", map[string]interface{}{
		"candidateId": current.CandidateID,
		"channelId":   id,
		"name":        spec.Name,
	})
	return Ticket{ChannelID: id, Created: true}, nil
}

// candidateLocks hands out one mutex per candidate id. An entry lives only
// while a caller holds or waits on it.
type candidateLocks struct {
	mu    sync.Mutex
	locks map[string]*candidateLock
}

type candidateLock struct {
	sync.Mutex
	refs int
}

func (c *candidateLocks) lock(id string) (unlock func()) {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*candidateLock)
	}
	l, ok := c.locks[id]
	if !ok {
		l = &candidateLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

func (c *candidateLocks) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

// PostIntro posts the application card and the close button into the ticket.
func (p *Provisioner) PostIntro(ctx context.Context, t Ticket, app *application.Application) error {
	err := p.platform.SendToChannel(ctx, t.ChannelID, p.messages.TicketIntro(app))
	if errors.Is(err, platform.ErrNotFound) {
		p.cache.Invalidate(ctx, app.CandidateID)
	}
	return err
}
