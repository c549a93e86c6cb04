package postgres

import (
	"context"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS applications (
	candidate_id      TEXT PRIMARY KEY,
	display_name      TEXT NOT NULL DEFAULT '',
	avatar_url        TEXT NOT NULL DEFAULT '',
	score             INTEGER NOT NULL DEFAULT 0,
	form_fields       JSONB NOT NULL DEFAULT '{}'::jsonb,
	submitted         BOOLEAN NOT NULL DEFAULT FALSE,
	submitted_at      TIMESTAMPTZ,
	failed_at         TIMESTAMPTZ,
	cooldown_until    TIMESTAMPTZ,
	ticket_channel_id TEXT NOT NULL DEFAULT '',
	ticket_closed     BOOLEAN NOT NULL DEFAULT FALSE,
	whitelisted       BOOLEAN NOT NULL DEFAULT FALSE,
	whitelisted_at    TIMESTAMPTZ,
	whitelisted_by    TEXT NOT NULL DEFAULT '',
	blacklisted       BOOLEAN NOT NULL DEFAULT FALSE,
	blacklisted_at    TIMESTAMPTZ,
	blacklisted_by    TEXT NOT NULL DEFAULT '',
	blacklist_reason  TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT applications_single_outcome CHECK (NOT (whitelisted AND blacklisted))
);
CREATE INDEX IF NOT EXISTS applications_ticket_channel_idx
	ON applications (ticket_channel_id) WHERE ticket_channel_id <> '';
CREATE INDEX IF NOT EXISTS applications_whitelisted_idx
	ON applications (whitelisted_at DESC) WHERE whitelisted;
`

// Migrate creates the applications table and its indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("migrate applications schema: %w", err)
	}
	return nil
}
