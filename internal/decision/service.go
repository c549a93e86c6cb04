// Package decision implements the whitelist lifecycle: submission, staff
// decisions and the reads around them. Every mutating operation is one
// conditional store write followed by side effects that are attempted once
// and reported, never rolled back.
package decision

import (
	"context"
	"errors"
	"time"

	"whitelist-bot/internal/application"
	apperrors "whitelist-bot/internal/common/errors"
	"whitelist-bot/internal/common/logger"
	"whitelist-bot/internal/common/metrics"
	"whitelist-bot/internal/common/validation"
	"whitelist-bot/internal/cooldown"
	"whitelist-bot/internal/effects"
	"whitelist-bot/internal/messages"
	"whitelist-bot/internal/notify"
	"whitelist-bot/internal/platform"
	"whitelist-bot/internal/roles"
	"whitelist-bot/internal/ticket"
)

// Side effect names reported in effects.Report.
const (
	EffectTicketCreate   = "ticket.create"
	EffectTicketIntro    = "ticket.intro"
	EffectRoles          = "roles"
	EffectConfirmationDM = "dm.confirmation"
	EffectOutcomeDM      = "dm.outcome"
	EffectPublish        = "events.publish"
	EffectStaffEmail     = "staff.email"
	EffectSearchIndex    = "search.index"
)

// DefaultRejectReason is used when staff give no reason.
const DefaultRejectReason = "No reason given"

// TicketProvisioner creates the staff ticket of a submission.
type TicketProvisioner interface {
	Ensure(ctx context.Context, app *application.Application) (ticket.Ticket, error)
	PostIntro(ctx context.Context, t ticket.Ticket, app *application.Application) error
}

// RoleApplier reconciles guild roles.
type RoleApplier interface {
	Apply(ctx context.Context, candidateID, reason string, change roles.Change) roles.Outcome
}

// Messenger is the part of the platform used for DMs and membership checks.
type Messenger interface {
	SendDirect(ctx context.Context, userID string, msg platform.Message) error
	MemberExists(ctx context.Context, userID string) (bool, error)
}

// TicketCloser tears down a ticket channel whose application no longer
// holds it, recording what it did on report.
type TicketCloser interface {
	Teardown(ctx context.Context, report *effects.Report, candidateID, channelID, closedBy string)
}

// Indexer keeps the search index in sync.
type Indexer interface {
	Index(ctx context.Context, app *application.Application) error
}

// Dependencies wires a Service. Closer, Publisher, Alerter and Indexer are
// optional.
type Dependencies struct {
	Store     application.Store
	Gate      *cooldown.Gate
	Tickets   TicketProvisioner
	Closer    TicketCloser
	Roles     RoleApplier
	Catalog   roles.Catalog
	Platform  Messenger
	Messages  *messages.Builder
	Publisher notify.Publisher
	Alerter   notify.Alerter
	Indexer   Indexer
	Logger    logger.Logger
}

type Service struct {
	store     application.Store
	gate      *cooldown.Gate
	tickets   TicketProvisioner
	closer    TicketCloser
	roles     RoleApplier
	catalog   roles.Catalog
	platform  Messenger
	messages  *messages.Builder
	publisher notify.Publisher
	alerter   notify.Alerter
	indexer   Indexer
	logger    logger.Logger
}

func NewService(deps Dependencies) *Service {
	gate := deps.Gate
	if gate == nil {
		gate = cooldown.NewGate(deps.Store)
	}
	return &Service{
		store:     deps.Store,
		gate:      gate,
		tickets:   deps.Tickets,
		closer:    deps.Closer,
		roles:     deps.Roles,
		catalog:   deps.Catalog,
		platform:  deps.Platform,
		messages:  deps.Messages,
		publisher: deps.Publisher,
		alerter:   deps.Alerter,
		indexer:   deps.Indexer,
		logger:    logger.Component(deps.Logger, "decision"),
	}
}

// Result is returned by every mutating operation.
type Result struct {
	Report      effects.Report
	Application *application.Application
}

// ==========================
// Requests
// ==========================

type SubmitRequest struct {
	CandidateID string                 `json:"candidateId"`
	DisplayName string                 `json:"displayName"`
	AvatarURL   string                 `json:"avatarUrl,omitempty"`
	Score       int                    `json:"score"`
	Fields      map[string]interface{} `json:"fields"`
}

type FailureRequest struct {
	CandidateID string `json:"candidateId"`
	Score       int    `json:"score"`
}

// ApproveRequest approves a candidate. Override skips the requirement of a
// submitted application; it is only offered to the admin API.
type ApproveRequest struct {
	CandidateID string
	Approver    string
	Override    bool
}

type RejectRequest struct {
	CandidateID string
	Approver    string
	Reason      string
}

type UnrejectRequest struct {
	CandidateID string
	Actor       string
}

// ==========================
// Submission
// ==========================

// Submit validates and stores an application, then opens its ticket,
// grants the candidate role and confirms by DM.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (res Result, err error) {
	start := time.Now()
	defer func() { s.finish("submit", start, res.Report, err) }()

	if req.Fields == nil {
		req.Fields = map[string]interface{}{}
	}
	doc := map[string]interface{}{
		"candidateId": req.CandidateID,
		"displayName": req.DisplayName,
		"score":       req.Score,
		"fields":      req.Fields,
	}
	if req.AvatarURL != "" {
		doc["avatarUrl"] = req.AvatarURL
	}
	if err := validate(submissionSchema, doc); err != nil {
		return Result{}, err
	}

	existing, err := s.store.Get(ctx, req.CandidateID)
	switch {
	case errors.Is(err, application.ErrNotFound):
	case err != nil:
		return Result{}, apperrors.NewStoreError("get", err)
	default:
		if err := s.submitConflict(existing); err != nil {
			return Result{}, err
		}
	}

	app, err := s.store.Submit(ctx, application.Submission{
		CandidateID: req.CandidateID,
		Profile:     application.Profile{DisplayName: req.DisplayName, AvatarURL: req.AvatarURL},
		Score:       req.Score,
		FormFields:  req.Fields,
	}, s.gate.Now())
	if errors.Is(err, application.ErrConflict) {
		return Result{}, s.classifySubmitConflict(ctx, req.CandidateID)
	}
	if err != nil {
		return Result{}, apperrors.NewStoreError("submit", err)
	}

	report := effects.Report{StateChanged: true}
	log := s.logger.WithFields(map[string]interface{}{"candidateId": app.CandidateID, "operation": "submit"})

	tk, err := s.tickets.Ensure(ctx, app)
	if report.Record(EffectTicketCreate, err) != nil {
		log.Error("failed to create ticket", map[string]interface{}{"error": err.Error()})
		report.Skip(EffectTicketIntro, err)
	} else {
		app.TicketChannelID = tk.ChannelID
		if err := report.Record(EffectTicketIntro, s.tickets.PostIntro(ctx, tk, app)); err != nil {
			log.Error("failed to post ticket intro", map[string]interface{}{"error": err.Error(), "channelId": tk.ChannelID})
		}
	}

	s.applyRoles(ctx, &report, log, app.CandidateID, "submit", s.catalog.OnSubmit())

	if err := report.Record(EffectConfirmationDM, s.platform.SendDirect(ctx, app.CandidateID, s.messages.Confirmation(app))); err != nil {
		log.Warn("failed to send confirmation DM", map[string]interface{}{"error": err.Error()})
	}

	s.publish(ctx, &report, log, notify.NewEvent(notify.EventSubmitted, app, "", "", s.gate.Now()))

	if s.alerter != nil {
		if err := report.Record(EffectStaffEmail, s.alerter.NotifySubmission(ctx, app)); err != nil {
			log.Warn("failed to alert staff", map[string]interface{}{"error": err.Error()})
		}
	}
	s.index(ctx, &report, log, app)

	log.Info("application submitted", map[string]interface{}{"effects": report.String()})
	return Result{Report: report, Application: app}, nil
}

// submitConflict classifies a record that blocks a new submission.
func (s *Service) submitConflict(app *application.Application) error {
	switch {
	case app.Blacklisted:
		return apperrors.NewCandidateBlacklistedError(app.CandidateID)
	case app.Whitelisted:
		return apperrors.NewAlreadyProcessedError(app.CandidateID)
	case app.Submitted:
		return apperrors.NewDuplicateSubmissionError(app.CandidateID)
	}
	if d := s.gate.Evaluate(app); !d.Allowed {
		return apperrors.NewCooldownActiveError(app.CandidateID, *d.Until)
	}
	return nil
}

// classifySubmitConflict explains a rejected conditional write. A record
// that looks submittable again lost a race against a concurrent submission.
func (s *Service) classifySubmitConflict(ctx context.Context, candidateID string) error {
	app, err := s.store.Get(ctx, candidateID)
	if err != nil {
		return apperrors.NewDuplicateSubmissionError(candidateID)
	}
	if err := s.submitConflict(app); err != nil {
		return err
	}
	return apperrors.NewDuplicateSubmissionError(candidateID)
}

// RecordFailure starts the cooldown after a failed pre-screen.
func (s *Service) RecordFailure(ctx context.Context, req FailureRequest) (until time.Time, err error) {
	start := time.Now()
	defer func() { s.finish("fail", start, effects.Report{}, err) }()

	if err := validate(candidateSchema, map[string]interface{}{"candidateId": req.CandidateID}); err != nil {
		return time.Time{}, err
	}
	if req.Score < 0 {
		return time.Time{}, apperrors.NewValidationError("score: must be greater than or equal to 0")
	}

	until, err = s.gate.RecordFailure(ctx, req.CandidateID, req.Score)
	if errors.Is(err, application.ErrConflict) {
		return time.Time{}, apperrors.NewDuplicateSubmissionError(req.CandidateID)
	}
	if err != nil {
		return time.Time{}, apperrors.NewStoreError("record_failure", err)
	}

	s.logger.Info("screening failure recorded", map[string]interface{}{
		"candidateId":   req.CandidateID,
		"score":         req.Score,
		"cooldownUntil": until,
	})
	return until, nil
}

// ==========================
// Staff decisions
// ==========================

// Approve whitelists a candidate.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (res Result, err error) {
	start := time.Now()
	defer func() { s.finish("approve", start, res.Report, err) }()

	if err := validate(candidateSchema, map[string]interface{}{"candidateId": req.CandidateID}); err != nil {
		return Result{}, err
	}

	app, err := s.store.Whitelist(ctx, req.CandidateID, application.Stamp{By: req.Approver, At: s.gate.Now()}, !req.Override)
	switch {
	case errors.Is(err, application.ErrNotFound):
		return Result{}, apperrors.NewNotFoundError(req.CandidateID)
	case errors.Is(err, application.ErrConflict):
		return Result{}, apperrors.NewAlreadyProcessedError(req.CandidateID)
	case err != nil:
		return Result{}, apperrors.NewStoreError("whitelist", err)
	}

	report := effects.Report{StateChanged: true}
	log := s.logger.WithFields(map[string]interface{}{
		"candidateId": app.CandidateID,
		"operation":   "approve",
		"approver":    req.Approver,
		"override":    req.Override,
	})

	s.applyRoles(ctx, &report, log, app.CandidateID, "approve", s.catalog.OnApprove())
	if err := report.Record(EffectOutcomeDM, s.platform.SendDirect(ctx, app.CandidateID, s.messages.Approved(app))); err != nil {
		log.Warn("failed to send approval DM", map[string]interface{}{"error": err.Error()})
	}
	s.publish(ctx, &report, log, notify.NewEvent(notify.EventApproved, app, req.Approver, "", s.gate.Now()))
	s.index(ctx, &report, log, app)

	log.Info("candidate whitelisted", map[string]interface{}{"effects": report.String()})
	return Result{Report: report, Application: app}, nil
}

// Reject blacklists a candidate, whatever their current state.
func (s *Service) Reject(ctx context.Context, req RejectRequest) (res Result, err error) {
	start := time.Now()
	defer func() { s.finish("reject", start, res.Report, err) }()

	if req.Reason == "" {
		req.Reason = DefaultRejectReason
	}
	if err := validate(candidateSchema, map[string]interface{}{"candidateId": req.CandidateID, "reason": req.Reason}); err != nil {
		return Result{}, err
	}

	app, err := s.store.Blacklist(ctx, req.CandidateID, application.Stamp{By: req.Approver, At: s.gate.Now()}, req.Reason)
	if err != nil {
		return Result{}, apperrors.NewStoreError("blacklist", err)
	}

	report := effects.Report{StateChanged: true}
	log := s.logger.WithFields(map[string]interface{}{
		"candidateId": app.CandidateID,
		"operation":   "reject",
		"approver":    req.Approver,
	})

	s.applyRoles(ctx, &report, log, app.CandidateID, "reject", s.catalog.OnReject())
	if err := report.Record(EffectOutcomeDM, s.platform.SendDirect(ctx, app.CandidateID, s.messages.Rejected(req.Reason))); err != nil {
		log.Warn("failed to send rejection DM", map[string]interface{}{"error": err.Error()})
	}
	s.publish(ctx, &report, log, notify.NewEvent(notify.EventRejected, app, req.Approver, req.Reason, s.gate.Now()))
	s.index(ctx, &report, log, app)

	log.Info("candidate blacklisted", map[string]interface{}{"reason": req.Reason, "effects": report.String()})
	return Result{Report: report, Application: app}, nil
}

// Unreject lifts a blacklist and ends the submission cycle, tearing down a
// ticket that was still open. A record that is not blacklisted is left
// untouched but its roles are still converged.
func (s *Service) Unreject(ctx context.Context, req UnrejectRequest) (res Result, err error) {
	start := time.Now()
	defer func() { s.finish("unreject", start, res.Report, err) }()

	if err := validate(candidateSchema, map[string]interface{}{"candidateId": req.CandidateID}); err != nil {
		return Result{}, err
	}

	log := s.logger.WithFields(map[string]interface{}{"candidateId": req.CandidateID, "operation": "unreject"})

	app, released, err := s.store.Unblacklist(ctx, req.CandidateID)
	switch {
	case errors.Is(err, application.ErrNotFound):
		return Result{}, apperrors.NewNotFoundError(req.CandidateID)
	case errors.Is(err, application.ErrConflict):
		report := effects.Report{StateChanged: false}
		s.applyRoles(ctx, &report, log, req.CandidateID, "unreject", s.catalog.OnUnreject())
		current, getErr := s.store.Get(ctx, req.CandidateID)
		if getErr != nil {
			log.Warn("failed to reload application", map[string]interface{}{"error": getErr.Error()})
		}
		log.Info("candidate was not blacklisted", map[string]interface{}{"effects": report.String()})
		return Result{Report: report, Application: current}, nil
	case err != nil:
		return Result{}, apperrors.NewStoreError("unblacklist", err)
	}

	report := effects.Report{StateChanged: true}
	if released != "" {
		if s.closer != nil {
			s.closer.Teardown(ctx, &report, app.CandidateID, released, req.Actor)
		} else {
			log.Warn("ticket channel left open, no closer configured", map[string]interface{}{"channelId": released})
		}
	}
	s.applyRoles(ctx, &report, log, app.CandidateID, "unreject", s.catalog.OnUnreject())
	s.publish(ctx, &report, log, notify.NewEvent(notify.EventUnrejected, app, req.Actor, "", s.gate.Now()))
	s.index(ctx, &report, log, app)

	log.Info("candidate unblacklisted", map[string]interface{}{"effects": report.String()})
	return Result{Report: report, Application: app}, nil
}

// ==========================
// Side effect helpers
// ==========================

func (s *Service) applyRoles(ctx context.Context, report *effects.Report, log logger.Logger, candidateID, reason string, change roles.Change) {
	out := s.roles.Apply(ctx, candidateID, reason, change)
	if err := report.Record(EffectRoles, out.Err()); err != nil {
		log.Warn("role sync incomplete", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Service) publish(ctx context.Context, report *effects.Report, log logger.Logger, ev notify.Event) {
	if s.publisher == nil {
		return
	}
	if err := report.Record(EffectPublish, s.publisher.Publish(ctx, ev)); err != nil {
		log.Warn("failed to publish lifecycle event", map[string]interface{}{"error": err.Error(), "type": ev.Type})
	}
}

func (s *Service) index(ctx context.Context, report *effects.Report, log logger.Logger, app *application.Application) {
	if s.indexer == nil {
		return
	}
	if err := report.Record(EffectSearchIndex, s.indexer.Index(ctx, app)); err != nil {
		log.Warn("failed to index application", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Service) finish(op string, start time.Time, report effects.Report, err error) {
	metrics.DecisionDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DecisionsTotal.WithLabelValues(op, string(apperrors.CodeOf(err))).Inc()
		return
	}
	metrics.DecisionsTotal.WithLabelValues(op, "ok").Inc()
	for _, name := range report.Failed() {
		metrics.SideEffectFailures.WithLabelValues(op, name).Inc()
	}
}

func validate(schema *validation.Schema, doc map[string]interface{}) error {
	if result := schema.Validate(doc); !result.Valid {
		return apperrors.NewValidationError(result.Summary())
	}
	return nil
}
