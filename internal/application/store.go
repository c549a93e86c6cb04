package application

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup or the
	// precondition of an update that requires an existing row.
	ErrNotFound = errors.New("application not found")
	// ErrConflict is returned when a conditional write matched a record whose
	// state forbids the transition. Callers re-read the record to classify it.
	ErrConflict = errors.New("application state conflict")
)

// Submission is the payload persisted by Store.Submit.
type Submission struct {
	CandidateID string
	Profile     Profile
	Score       int
	FormFields  map[string]interface{}
}

// Stamp identifies who performed a staff decision and when.
type Stamp struct {
	By string
	At time.Time
}

// Store is the persistent application store. Every mutating method is a
// single conditional write; implementations never read-modify-write.
type Store interface {
	Get(ctx context.Context, candidateID string) (*Application, error)
	// FindByTicketChannel returns the submitted application owning channelID.
	FindByTicketChannel(ctx context.Context, channelID string) (*Application, error)
	// List returns every application, most recent submission first.
	List(ctx context.Context) ([]*Application, error)
	// ListWhitelisted returns whitelisted applications, most recently approved first.
	ListWhitelisted(ctx context.Context) ([]*Application, error)

	// RecordFailure upserts a failed screening unless an application is
	// currently submitted (ErrConflict).
	RecordFailure(ctx context.Context, candidateID string, score int, failedAt, cooldownUntil time.Time) (*Application, error)
	// Submit opens a new cycle. It fails with ErrConflict when the existing
	// record is submitted, whitelisted, blacklisted or cooling down at now.
	Submit(ctx context.Context, sub Submission, now time.Time) (*Application, error)
	// SetTicket records the ticket channel of the open submission.
	SetTicket(ctx context.Context, candidateID, channelID string) error
	// CloseTicket marks the ticket closed. A non-empty channelID must match
	// the recorded ticket. It returns ErrNotFound when candidateID has no
	// such ticket and ErrConflict when it is already closed.
	CloseTicket(ctx context.Context, candidateID, channelID string) (*Application, error)

	// Whitelist approves a candidate. With requireSubmitted the record must
	// exist and be submitted (ErrNotFound otherwise); without it the record is
	// upserted. An already whitelisted record yields ErrConflict.
	Whitelist(ctx context.Context, candidateID string, stamp Stamp, requireSubmitted bool) (*Application, error)
	// Blacklist upserts a rejection and clears any whitelist approval.
	Blacklist(ctx context.Context, candidateID string, stamp Stamp, reason string) (*Application, error)
	// Unblacklist lifts a rejection and closes the submission cycle, which
	// detaches its ticket. released is the channel of a ticket that was still
	// open and now needs tearing down. It returns ErrConflict when the record
	// exists but is not blacklisted.
	Unblacklist(ctx context.Context, candidateID string) (app *Application, released string, err error)

	Ping(ctx context.Context) error
}
