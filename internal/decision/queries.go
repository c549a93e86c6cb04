package decision

import (
	"context"
	"errors"
	"time"

	"whitelist-bot/internal/application"
	apperrors "whitelist-bot/internal/common/errors"
)

// StatusView is the lifecycle state exposed to the candidate.
type StatusView struct {
	CandidateID   string             `json:"candidateId"`
	Status        application.Status `json:"status"`
	Cooldown      bool               `json:"cooldown"`
	FailedAt      *time.Time         `json:"failedAt,omitempty"`
	CooldownUntil *time.Time         `json:"cooldownUntil,omitempty"`
	Submitted     bool               `json:"submitted"`
	Whitelisted   bool               `json:"whitelisted"`
	Blacklisted   bool               `json:"blacklisted"`
}

// MemberCheck reports guild membership and blacklist state.
type MemberCheck struct {
	IsMember        bool   `json:"isMember"`
	Blacklisted     bool   `json:"blacklisted"`
	BlacklistReason string `json:"blacklistReason"`
}

// Status returns the derived state of candidateID. An unknown candidate is
// reported as StatusNone, not as an error.
func (s *Service) Status(ctx context.Context, candidateID string) (StatusView, error) {
	if err := validate(candidateSchema, map[string]interface{}{"candidateId": candidateID}); err != nil {
		return StatusView{}, err
	}

	view := StatusView{CandidateID: candidateID, Status: application.StatusNone}
	app, err := s.store.Get(ctx, candidateID)
	if errors.Is(err, application.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return StatusView{}, apperrors.NewStoreError("get", err)
	}

	now := s.gate.Now()
	view.Status = app.Status(now)
	view.Submitted = app.Submitted
	view.Whitelisted = app.Whitelisted
	view.Blacklisted = app.Blacklisted
	if d := s.gate.Evaluate(app); !d.Allowed {
		view.Cooldown = true
		view.FailedAt = app.FailedAt
		view.CooldownUntil = d.Until
	}
	return view, nil
}

// List returns every application, newest submission first.
func (s *Service) List(ctx context.Context) ([]*application.Application, error) {
	apps, err := s.store.List(ctx)
	if err != nil {
		return nil, apperrors.NewStoreError("list", err)
	}
	return apps, nil
}

// Members returns the public roster of whitelisted candidates.
func (s *Service) Members(ctx context.Context) ([]application.Member, error) {
	apps, err := s.store.ListWhitelisted(ctx)
	if err != nil {
		return nil, apperrors.NewStoreError("list_whitelisted", err)
	}
	out := make([]application.Member, 0, len(apps))
	for _, app := range apps {
		out = append(out, app.ToMember())
	}
	return out, nil
}

// MemberCheck looks candidateID up in the guild and the store.
func (s *Service) MemberCheck(ctx context.Context, candidateID string) (MemberCheck, error) {
	if err := validate(candidateSchema, map[string]interface{}{"candidateId": candidateID}); err != nil {
		return MemberCheck{}, err
	}

	isMember, err := s.platform.MemberExists(ctx, candidateID)
	if err != nil {
		return MemberCheck{}, apperrors.Wrap(apperrors.ErrCodePlatformUnavailable, "Guild member lookup failed", err)
	}

	out := MemberCheck{IsMember: isMember}
	app, err := s.store.Get(ctx, candidateID)
	switch {
	case errors.Is(err, application.ErrNotFound):
	case err != nil:
		return MemberCheck{}, apperrors.NewStoreError("get", err)
	case app.Blacklisted:
		out.Blacklisted = true
		out.BlacklistReason = app.BlacklistReason
	}
	return out, nil
}
