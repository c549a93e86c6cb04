// Package application holds the whitelist application record and the store
// contract every lifecycle transition goes through.
package application

import (
	"time"
)

// Status is the lifecycle state derived from an Application's flags.
type Status string

const (
	StatusNone                 Status = "none"
	StatusCooldownAfterFailure Status = "cooldown_after_failure"
	StatusSubmitted            Status = "submitted"
	StatusWhitelisted          Status = "whitelisted"
	StatusBlacklisted          Status = "blacklisted"
)

// Profile is the platform identity captured at submission time.
type Profile struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Application is one candidate's record. There is exactly one per candidate
// id; it is upserted across cycles and never deleted.
type Application struct {
	CandidateID string                 `json:"candidateId"`
	Profile     Profile                `json:"profile"`
	Score       int                    `json:"score"`
	FormFields  map[string]interface{} `json:"formFields,omitempty"`

	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`

	FailedAt      *time.Time `json:"failedAt,omitempty"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`

	TicketChannelID string `json:"ticketChannelId,omitempty"`
	TicketClosed    bool   `json:"ticketClosed"`

	Whitelisted   bool       `json:"whitelisted"`
	WhitelistedAt *time.Time `json:"whitelistedAt,omitempty"`
	WhitelistedBy string     `json:"whitelistedBy,omitempty"`

	Blacklisted     bool       `json:"blacklisted"`
	BlacklistedAt   *time.Time `json:"blacklistedAt,omitempty"`
	BlacklistedBy   string     `json:"blacklistedBy,omitempty"`
	BlacklistReason string     `json:"blacklistReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Status derives the lifecycle state at now. The first matching rule wins.
func (a *Application) Status(now time.Time) Status {
	switch {
	case a == nil:
		return StatusNone
	case a.Blacklisted:
		return StatusBlacklisted
	case a.Whitelisted:
		return StatusWhitelisted
	case a.Submitted:
		return StatusSubmitted
	case a.InCooldown(now):
		return StatusCooldownAfterFailure
	}
	return StatusNone
}

// InCooldown reports whether a failed screening still blocks submission.
// The cooldown is only meaningful while no application is submitted.
func (a *Application) InCooldown(now time.Time) bool {
	if a == nil || a.Submitted || a.CooldownUntil == nil {
		return false
	}
	return a.CooldownUntil.After(now)
}

// TicketOpen reports whether messages should be relayed for this record.
func (a *Application) TicketOpen() bool {
	return a != nil && a.Submitted && a.TicketChannelID != "" && !a.TicketClosed
}

// DisplayNameOr returns the captured display name or fallback.
func (a *Application) DisplayNameOr(fallback string) string {
	if a == nil || a.Profile.DisplayName == "" {
		return fallback
	}
	return a.Profile.DisplayName
}

// Field returns a form answer rendered as text, or "" when absent.
func (a *Application) Field(key string) string {
	if a == nil || a.FormFields == nil {
		return ""
	}
	v, ok := a.FormFields[key]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}
