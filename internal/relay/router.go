// Package relay forwards messages between a candidate's DMs and their ticket
// channel while the ticket is open, and tears tickets down on close.
package relay

import (
	"context"
	"errors"
	"time"

	"whitelist-bot/internal/application"
	apperrors "whitelist-bot/internal/common/errors"
	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/common/metrics"
	"whitelist-bot/internal/effects"
	"whitelist-bot/internal/messages"
	"whitelist-bot/internal/platform"
	"whitelist-bot/internal/ticketcache"
)

// DefaultCloseDelay is how long a closed ticket stays visible before deletion.
const DefaultCloseDelay = 5 * time.Second

// Side effects reported by Close and Teardown. Deletion runs after the close
// delay, so the report only says it was scheduled.
const (
	EffectNotice            = "ticket.notice"
	EffectDM                = "dm.closure"
	EffectDeletionScheduled = "ticket.delete_scheduled"
)

// Result says what the router did with a message.
type Result string

const (
	Forwarded      Result = "forwarded"
	DroppedBot     Result = "dropped_bot"
	DroppedNoEntry Result = "dropped_no_ticket"
	DroppedClosed  Result = "dropped_closed"
	Failed         Result = "failed"
)

// Locator resolves the live ticket channel of an application.
type Locator interface {
	Lookup(ctx context.Context, app *application.Application) (string, bool)
}

// Scheduler runs f after d. time.AfterFunc satisfies it through SchedulerFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(d time.Duration, f func())

func (s SchedulerFunc) AfterFunc(d time.Duration, f func()) { s(d, f) }

var timerScheduler = SchedulerFunc(func(d time.Duration, f func()) { time.AfterFunc(d, f) })

// CandidateMessage is a DM received from a candidate.
type CandidateMessage struct {
	AuthorID    string
	DisplayName string
	AvatarURL   string
	Bot         bool
	Content     string
}

// StaffMessage is a message posted in a guild channel.
type StaffMessage struct {
	ChannelID   string
	AuthorID    string
	DisplayName string
	AvatarURL   string
	Bot         bool
	Content     string
	SentAt      time.Time
}

// CloseRequest closes the ticket of CandidateID, or of the application owning
// ChannelID when CandidateID is empty. When both are set the ticket must be
// ChannelID: a close button left in a channel of an earlier cycle never
// touches the current ticket.
type CloseRequest struct {
	CandidateID string
	ChannelID   string
	ClosedBy    string
}

// Router is safe for concurrent use. Per-channel ordering is the caller's
// concern (see events.Dispatcher).
type Router struct {
	store     application.Store
	cache     ticketcache.Cache
	tickets   Locator
	platform  platform.Platform
	messages  *messages.Builder
	scheduler Scheduler
	delay     time.Duration
	logger    logger.Logger
}

type Option func(*Router)

// WithCloseDelay sets the delay between closing a ticket and deleting it.
func WithCloseDelay(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.delay = d
		}
	}
}

// WithScheduler replaces the timer used for delayed deletion.
func WithScheduler(s Scheduler) Option {
	return func(r *Router) { r.scheduler = s }
}

func NewRouter(
	store application.Store,
	cache ticketcache.Cache,
	tickets Locator,
	p platform.Platform,
	msgs *messages.Builder,
	log logger.Logger,
	opts ...Option,
) *Router {
	r := &Router{
		store:     store,
		cache:     cache,
		tickets:   tickets,
		platform:  p,
		messages:  msgs,
		scheduler: timerScheduler,
		delay:     DefaultCloseDelay,
		logger:    logger.Component(log, "relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromCandidate forwards a candidate DM into their open ticket. Messages
// with no open ticket are dropped silently.
func (r *Router) FromCandidate(ctx context.Context, msg CandidateMessage) (Result, error) {
	if msg.Bot {
		return r.count("to_ticket", DroppedBot), nil
	}

	app, err := r.store.Get(ctx, msg.AuthorID)
	if errors.Is(err, application.ErrNotFound) {
		return r.count("to_ticket", DroppedNoEntry), nil
	}
	if err != nil {
		r.count("to_ticket", Failed)
		return Failed, apperrors.NewStoreError("get", err)
	}
	if !app.TicketOpen() {
		return r.count("to_ticket", dropReason(app)), nil
	}

	channelID, ok := r.tickets.Lookup(ctx, app)
	if !ok {
		return r.count("to_ticket", DroppedNoEntry), nil
	}

	name := msg.DisplayName
	if name == "" {
		name = app.DisplayNameOr(msg.AuthorID)
	}
	err = r.platform.SendToChannel(ctx, channelID, r.messages.CandidateReply(name, msg.AvatarURL, msg.Content))
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			r.cache.Invalidate(ctx, app.CandidateID)
		}
		r.count("to_ticket", Failed)
		r.logger.Warn("failed to relay candidate message", map[string]interface{}{
			"candidateId": app.CandidateID,
			"channelId":   channelID,
			"error":       err.Error(),
		})
		return Failed, err
	}
	return r.count("to_ticket", Forwarded), nil
}

// FromStaff forwards a message posted in a ticket channel to the candidate.
// The bot's own messages and messages in closed tickets are dropped.
func (r *Router) FromStaff(ctx context.Context, msg StaffMessage) (Result, error) {
	if msg.Bot || msg.AuthorID == r.platform.BotUserID() {
		return r.count("to_candidate", DroppedBot), nil
	}

	app, err := r.store.FindByTicketChannel(ctx, msg.ChannelID)
	if errors.Is(err, application.ErrNotFound) {
		return r.count("to_candidate", DroppedNoEntry), nil
	}
	if err != nil {
		r.count("to_candidate", Failed)
		return Failed, apperrors.NewStoreError("find_by_ticket", err)
	}
	if !app.TicketOpen() {
		return r.count("to_candidate", dropReason(app)), nil
	}

	embed := r.messages.StaffMessage(msg.DisplayName, msg.AvatarURL, msg.Content, msg.SentAt)
	if err := r.platform.SendDirect(ctx, app.CandidateID, embed); err != nil {
		r.count("to_candidate", Failed)
		r.logger.Warn("failed to relay staff message", map[string]interface{}{
			"candidateId": app.CandidateID,
			"channelId":   msg.ChannelID,
			"error":       err.Error(),
		})
		return Failed, err
	}
	return r.count("to_candidate", Forwarded), nil
}

// Close marks the ticket closed, notifies both sides and schedules the
// channel deletion. Closing an already closed ticket changes nothing.
func (r *Router) Close(ctx context.Context, req CloseRequest) (effects.Report, error) {
	candidateID := req.CandidateID
	if candidateID == "" {
		app, err := r.store.FindByTicketChannel(ctx, req.ChannelID)
		if errors.Is(err, application.ErrNotFound) {
			return effects.Report{}, apperrors.NewNotFoundError(req.ChannelID)
		}
		if err != nil {
			return effects.Report{}, apperrors.NewStoreError("find_by_ticket", err)
		}
		candidateID = app.CandidateID
	}

	app, err := r.store.CloseTicket(ctx, candidateID, req.ChannelID)
	switch {
	case errors.Is(err, application.ErrNotFound) && req.ChannelID != "":
		return r.closeStale(ctx, candidateID, req)
	case errors.Is(err, application.ErrNotFound):
		return effects.Report{}, apperrors.NewNotFoundError(candidateID)
	case errors.Is(err, application.ErrConflict):
		return effects.Report{StateChanged: false}, nil
	case err != nil:
		return effects.Report{}, apperrors.NewStoreError("close_ticket", err)
	}

	report := effects.Report{StateChanged: true}
	r.Teardown(ctx, &report, candidateID, app.TicketChannelID, req.ClosedBy)

	log := r.logger.WithFields(map[string]interface{}{
		"candidateId": candidateID,
		"channelId":   app.TicketChannelID,
		"closedBy":    req.ClosedBy,
	})
	if err := report.Record(EffectDM, r.platform.SendDirect(ctx, candidateID, r.messages.TicketClosedDM())); err != nil {
		log.Warn("failed to send closure DM", map[string]interface{}{"error": err.Error()})
	}

	log.Info("ticket closed", map[string]interface{}{"effects": report.String()})
	return report, nil
}

// closeStale answers a close request for a channel that is not the
// candidate's current ticket. A channel no application owns any more is left
// over from an earlier cycle and is deleted; one that is owned elsewhere is
// not found from this candidate's point of view.
func (r *Router) closeStale(ctx context.Context, candidateID string, req CloseRequest) (effects.Report, error) {
	_, err := r.store.FindByTicketChannel(ctx, req.ChannelID)
	switch {
	case err == nil:
		return effects.Report{}, apperrors.NewNotFoundError(candidateID)
	case !errors.Is(err, application.ErrNotFound):
		return effects.Report{}, apperrors.NewStoreError("find_by_ticket", err)
	}

	log := r.logger.WithFields(map[string]interface{}{
		"candidateId": candidateID,
		"channelId":   req.ChannelID,
		"closedBy":    req.ClosedBy,
	})
	report := effects.Report{StateChanged: false}
	r.scheduleDeletion(req.ChannelID, log)
	_ = report.Record(EffectDeletionScheduled, nil)

	log.Info("stale ticket channel scheduled for deletion", nil)
	return report, nil
}

// Teardown detaches channelID from candidateID: the cached handle is
// dropped, a closure notice is posted and the channel deletion is scheduled.
// Outcomes are recorded on report. The store write that ended the ticket is
// the caller's.
func (r *Router) Teardown(ctx context.Context, report *effects.Report, candidateID, channelID, closedBy string) {
	r.cache.Invalidate(ctx, candidateID)
	if channelID == "" {
		return
	}

	log := r.logger.WithFields(map[string]interface{}{
		"candidateId": candidateID,
		"channelId":   channelID,
		"closedBy":    closedBy,
	})
	if err := report.Record(EffectNotice, r.platform.SendToChannel(ctx, channelID, r.messages.TicketClosedNotice(closedBy, r.delay))); err != nil {
		log.Warn("failed to post closure notice", map[string]interface{}{"error": err.Error()})
	}
	r.scheduleDeletion(channelID, log)
	_ = report.Record(EffectDeletionScheduled, nil)
}

func (r *Router) scheduleDeletion(channelID string, log logger.Logger) {
	r.scheduler.AfterFunc(r.delay, func() {
		// The triggering request is long gone; the platform adapter bounds the call.
		err := r.platform.DeleteChannel(context.Background(), channelID)
		if err != nil && !errors.Is(err, platform.ErrNotFound) {
			log.Error("failed to delete ticket channel", map[string]interface{}{"error": err.Error()})
			return
		}
		log.Info("ticket channel deleted", nil)
	})
}

func (r *Router) count(direction string, res Result) Result {
	metrics.RelayMessages.WithLabelValues(direction, string(res)).Inc()
	return res
}

func dropReason(app *application.Application) Result {
	if app.TicketClosed {
		return DroppedClosed
	}
	return DroppedNoEntry
}
