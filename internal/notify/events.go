// Package notify fans lifecycle changes out to systems outside the guild:
// lifecycle events on an SNS topic (consumed by the game server whitelist
// sync) and email alerts to staff through SES.
package notify

import (
	"context"
	"time"

	"whitelist-bot/internal/application"

	"github.com/google/uuid"
)

// EventType names a lifecycle transition.
type EventType string

const (
	EventSubmitted  EventType = "application.submitted"
	EventApproved   EventType = "application.approved"
	EventRejected   EventType = "application.rejected"
	EventUnrejected EventType = "application.unrejected"
)

// Event is the message published for every committed transition.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	CandidateID string    `json:"candidateId"`
	DisplayName string    `json:"displayName,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// NewEvent builds an event for app as it stands after the transition.
func NewEvent(t EventType, app *application.Application, actor, reason string, at time.Time) Event {
	return Event{
		ID:          uuid.New().String(),
		Type:        t,
		CandidateID: app.CandidateID,
		DisplayName: app.Profile.DisplayName,
		Actor:       actor,
		Reason:      reason,
		Status:      string(app.Status(at)),
		OccurredAt:  at.UTC(),
	}
}

// Publisher publishes lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Alerter tells staff about a new submission outside the guild.
type Alerter interface {
	NotifySubmission(ctx context.Context, app *application.Application) error
}
