package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL is idempotent; %[1]s is the threads table, %[2]s the messages table.
// The active-message index backs FindActiveAssistant; the single-active rule itself
// is enforced by the coordinator under the thread row lock.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id                        UUID PRIMARY KEY,
	user_id                   TEXT NOT NULL,
	title                     VARCHAR(255) NOT NULL,
	user_set_title            BOOLEAN NOT NULL DEFAULT FALSE,
	model                     TEXT NOT NULL,
	generation_status         TEXT NOT NULL,
	generation_token          TEXT NOT NULL DEFAULT '',
	visibility                TEXT NOT NULL DEFAULT 'visible',
	pinned                    BOOLEAN NOT NULL DEFAULT FALSE,
	is_public                 BOOLEAN NOT NULL DEFAULT FALSE,
	folder_id                 TEXT,
	branch_parent_thread_id   UUID,
	branch_parent_message_id  UUID,
	last_message_at           TIMESTAMPTZ NOT NULL,
	created_at                TIMESTAMPTZ NOT NULL,
	updated_at                TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS %[1]s_user_idx ON %[1]s (user_id, pinned DESC, last_message_at DESC);

CREATE TABLE IF NOT EXISTS %[2]s (
	id                      UUID PRIMARY KEY,
	thread_id               UUID NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
	user_id                 TEXT NOT NULL,
	position                INT NOT NULL,
	role                    TEXT NOT NULL,
	status                  TEXT NOT NULL,
	parts                   JSONB NOT NULL DEFAULT '[]',
	model                   TEXT NOT NULL DEFAULT '',
	model_params            JSONB NOT NULL DEFAULT '{}',
	attachment_ids          TEXT[] NOT NULL DEFAULT '{}',
	server_error            JSONB,
	resumable_stream_id     TEXT,
	branches                TEXT[] NOT NULL DEFAULT '{}',
	time_to_first_token_ms  BIGINT,
	tokens                  INT,
	tokens_per_second       DOUBLE PRECISION,
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL,
	UNIQUE (thread_id, position)
);

CREATE INDEX IF NOT EXISTS %[2]s_active_idx ON %[2]s (thread_id, position DESC)
	WHERE role = 'assistant' AND status IN ('waiting', 'thinking', 'streaming');
`

// EnsureSchema creates the chat tables for the configured prefix if missing
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaDDL, tables.Threads, tables.Messages)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
