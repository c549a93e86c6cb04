// Package postgres implements application.Store on PostgreSQL. Each
// transition is one conditional statement so concurrent callers serialize
// on the row instead of racing a read-modify-write.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whitelist-bot/internal/application"
)

const columns = `candidate_id, display_name, avatar_url, score, form_fields,
	submitted, submitted_at, failed_at, cooldown_until,
	ticket_channel_id, ticket_closed,
	whitelisted, whitelisted_at, whitelisted_by,
	blacklisted, blacklisted_at, blacklisted_by, blacklist_reason,
	created_at, updated_at`

// Store is the PostgreSQL application store.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ application.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Get(ctx context.Context, candidateID string) (*application.Application, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM applications WHERE candidate_id = $1`, candidateID)
	app, err := scanApplication(row)
	if err != nil {
		return nil, wrap("get application", err)
	}
	return app, nil
}

func (s *Store) FindByTicketChannel(ctx context.Context, channelID string) (*application.Application, error) {
	if channelID == "" {
		return nil, application.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+columns+` FROM applications
		WHERE ticket_channel_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`, channelID)
	app, err := scanApplication(row)
	if err != nil {
		return nil, wrap("find by ticket channel", err)
	}
	return app, nil
}

func (s *Store) List(ctx context.Context) ([]*application.Application, error) {
	return s.query(ctx, "list applications", `
		SELECT `+columns+` FROM applications
		ORDER BY submitted_at DESC NULLS LAST, candidate_id`)
}

func (s *Store) ListWhitelisted(ctx context.Context) ([]*application.Application, error) {
	return s.query(ctx, "list whitelisted", `
		SELECT `+columns+` FROM applications
		WHERE whitelisted
		ORDER BY whitelisted_at DESC NULLS LAST, candidate_id`)
}

func (s *Store) RecordFailure(ctx context.Context, candidateID string, score int, failedAt, cooldownUntil time.Time) (*application.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (candidate_id, score, failed_at, cooldown_until, submitted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $3, $3)
		ON CONFLICT (candidate_id) DO UPDATE SET
			score = EXCLUDED.score,
			failed_at = EXCLUDED.failed_at,
			cooldown_until = EXCLUDED.cooldown_until,
			submitted = FALSE,
			updated_at = EXCLUDED.updated_at
		WHERE applications.submitted = FALSE
		RETURNING `+columns,
		candidateID, score, failedAt.UTC(), cooldownUntil.UTC())

	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		// The insert path always returns a row, so no row means the
		// conflict filter rejected an existing submitted record.
		return nil, application.ErrConflict
	}
	if err != nil {
		return nil, wrap("record failure", err)
	}
	return app, nil
}

func (s *Store) Submit(ctx context.Context, sub application.Submission, now time.Time) (*application.Application, error) {
	fields := sub.FormFields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	formJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode form fields: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (
			candidate_id, display_name, avatar_url, score, form_fields,
			submitted, submitted_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6, $6)
		ON CONFLICT (candidate_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			score = EXCLUDED.score,
			form_fields = EXCLUDED.form_fields,
			submitted = TRUE,
			submitted_at = EXCLUDED.submitted_at,
			failed_at = NULL,
			cooldown_until = NULL,
			ticket_channel_id = '',
			ticket_closed = FALSE,
			updated_at = EXCLUDED.updated_at
		WHERE applications.submitted = FALSE
			AND applications.whitelisted = FALSE
			AND applications.blacklisted = FALSE
			AND (applications.cooldown_until IS NULL OR applications.cooldown_until <= EXCLUDED.submitted_at)
		RETURNING `+columns,
		sub.CandidateID, sub.Profile.DisplayName, sub.Profile.AvatarURL, sub.Score, formJSON, now.UTC())

	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, application.ErrConflict
	}
	if err != nil {
		return nil, wrap("submit application", err)
	}
	return app, nil
}

func (s *Store) SetTicket(ctx context.Context, candidateID, channelID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE applications
		SET ticket_channel_id = $2, ticket_closed = FALSE, updated_at = NOW()
		WHERE candidate_id = $1 AND submitted = TRUE`,
		candidateID, channelID)
	if err != nil {
		return wrap("set ticket", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("set ticket", err)
	}
	if n == 0 {
		return application.ErrNotFound
	}
	return nil
}

func (s *Store) CloseTicket(ctx context.Context, candidateID, channelID string) (*application.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE applications
		SET ticket_closed = TRUE, updated_at = NOW()
		WHERE candidate_id = $1 AND ticket_channel_id <> ''
			AND ($2 = '' OR ticket_channel_id = $2)
			AND ticket_closed = FALSE
		RETURNING `+columns, candidateID, channelID)

	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classify(ctx, candidateID, func(a *application.Application) bool {
			return a.TicketChannelID != "" && (channelID == "" || a.TicketChannelID == channelID)
		})
	}
	if err != nil {
		return nil, wrap("close ticket", err)
	}
	return app, nil
}

func (s *Store) Whitelist(ctx context.Context, candidateID string, stamp application.Stamp, requireSubmitted bool) (*application.Application, error) {
	var row *sql.Row
	if requireSubmitted {
		row = s.db.QueryRowContext(ctx, `
			UPDATE applications SET
				whitelisted = TRUE, whitelisted_at = $2, whitelisted_by = $3,
				blacklisted = FALSE, blacklisted_at = NULL, blacklisted_by = '', blacklist_reason = '',
				updated_at = $2
			WHERE candidate_id = $1 AND submitted = TRUE AND whitelisted = FALSE
			RETURNING `+columns,
			candidateID, stamp.At.UTC(), stamp.By)
	} else {
		row = s.db.QueryRowContext(ctx, `
			INSERT INTO applications (candidate_id, whitelisted, whitelisted_at, whitelisted_by, created_at, updated_at)
			VALUES ($1, TRUE, $2, $3, $2, $2)
			ON CONFLICT (candidate_id) DO UPDATE SET
				whitelisted = TRUE,
				whitelisted_at = EXCLUDED.whitelisted_at,
				whitelisted_by = EXCLUDED.whitelisted_by,
				blacklisted = FALSE, blacklisted_at = NULL, blacklisted_by = '', blacklist_reason = '',
				updated_at = EXCLUDED.updated_at
			WHERE applications.whitelisted = FALSE
			RETURNING `+columns,
			candidateID, stamp.At.UTC(), stamp.By)
	}

	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		if !requireSubmitted {
			return nil, application.ErrConflict
		}
		existing, getErr := s.Get(ctx, candidateID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Whitelisted {
			return nil, application.ErrConflict
		}
		return nil, application.ErrNotFound
	}
	if err != nil {
		return nil, wrap("whitelist", err)
	}
	return app, nil
}

func (s *Store) Blacklist(ctx context.Context, candidateID string, stamp application.Stamp, reason string) (*application.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (candidate_id, blacklisted, blacklisted_at, blacklisted_by, blacklist_reason, created_at, updated_at)
		VALUES ($1, TRUE, $2, $3, $4, $2, $2)
		ON CONFLICT (candidate_id) DO UPDATE SET
			blacklisted = TRUE,
			blacklisted_at = EXCLUDED.blacklisted_at,
			blacklisted_by = EXCLUDED.blacklisted_by,
			blacklist_reason = EXCLUDED.blacklist_reason,
			whitelisted = FALSE, whitelisted_at = NULL, whitelisted_by = '',
			updated_at = EXCLUDED.updated_at
		RETURNING `+columns,
		candidateID, stamp.At.UTC(), stamp.By, reason)

	app, err := scanApplication(row)
	if err != nil {
		return nil, wrap("blacklist", err)
	}
	return app, nil
}

// Unblacklist reads the previous ticket through a locked self-join so the
// open channel it releases is returned along with the new row.
func (s *Store) Unblacklist(ctx context.Context, candidateID string) (*application.Application, string, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE applications SET
			blacklisted = FALSE, blacklisted_at = NULL, blacklisted_by = '', blacklist_reason = '',
			submitted = FALSE, ticket_channel_id = '', ticket_closed = FALSE,
			updated_at = NOW()
		FROM (
			SELECT candidate_id AS prev_id, ticket_channel_id AS prev_channel, ticket_closed AS prev_closed
			FROM applications WHERE candidate_id = $1
			FOR UPDATE
		) prev
		WHERE applications.candidate_id = prev.prev_id AND applications.blacklisted = TRUE
		RETURNING `+columns+`, CASE WHEN prev.prev_closed THEN '' ELSE prev.prev_channel END`, candidateID)

	var released string
	app, err := scanApplication(row, &released)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", s.classify(ctx, candidateID, func(*application.Application) bool { return true })
	}
	if err != nil {
		return nil, "", wrap("unblacklist", err)
	}
	return app, released, nil
}

// classify explains why a conditional UPDATE matched nothing: ErrNotFound
// when the row is missing or fails exists, ErrConflict otherwise.
func (s *Store) classify(ctx context.Context, candidateID string, exists func(*application.Application) bool) error {
	app, err := s.Get(ctx, candidateID)
	if err != nil {
		return err
	}
	if !exists(app) {
		return application.ErrNotFound
	}
	return application.ErrConflict
}

func (s *Store) query(ctx context.Context, op, q string, args ...interface{}) ([]*application.Application, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []*application.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanApplication reads the columns list, then any extra destinations.
func scanApplication(row scanner, extra ...interface{}) (*application.Application, error) {
	var (
		app         application.Application
		formJSON    []byte
		submittedAt sql.NullTime
		failedAt    sql.NullTime
		cooldown    sql.NullTime
		wlAt        sql.NullTime
		blAt        sql.NullTime
	)

	dest := []interface{}{
		&app.CandidateID, &app.Profile.DisplayName, &app.Profile.AvatarURL, &app.Score, &formJSON,
		&app.Submitted, &submittedAt, &failedAt, &cooldown,
		&app.TicketChannelID, &app.TicketClosed,
		&app.Whitelisted, &wlAt, &app.WhitelistedBy,
		&app.Blacklisted, &blAt, &app.BlacklistedBy, &app.BlacklistReason,
		&app.CreatedAt, &app.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	if len(formJSON) > 0 {
		if err := json.Unmarshal(formJSON, &app.FormFields); err != nil {
			return nil, fmt.Errorf("decode form fields: %w", err)
		}
	}
	app.SubmittedAt = nullTime(submittedAt)
	app.FailedAt = nullTime(failedAt)
	app.CooldownUntil = nullTime(cooldown)
	app.WhitelistedAt = nullTime(wlAt)
	app.BlacklistedAt = nullTime(blAt)
	return &app, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return application.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
