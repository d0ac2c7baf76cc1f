package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the matchtalk schema.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// User directory. Writes happen in the profile service; this schema
		// exists so the subsystem runs standalone in dev.
		`CREATE TABLE IF NOT EXISTS users (
			id           BIGSERIAL    PRIMARY KEY,
			username     VARCHAR(50)  UNIQUE NOT NULL,
			display_name VARCHAR(100) NOT NULL DEFAULT '',
			avatar_url   TEXT,
			is_active    BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// Conversations: one row per unordered user pair. The unique index
		// on the normalized pair is what makes concurrent creation idempotent.
		`CREATE TABLE IF NOT EXISTS conversations (
			id              BIGSERIAL   PRIMARY KEY,
			user_low_id     BIGINT      NOT NULL REFERENCES users(id),
			user_high_id    BIGINT      NOT NULL REFERENCES users(id),
			match_id        BIGINT,
			last_message_at TIMESTAMPTZ,
			low_archived    BOOLEAN     NOT NULL DEFAULT FALSE,
			high_archived   BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT conversations_pair_ordered CHECK (user_low_id < user_high_id),
			CONSTRAINT conversations_pair_unique  UNIQUE (user_low_id, user_high_id)
		)`,

		// Append-only message log. The BIGSERIAL id is the per-conversation
		// order key; created_at is for display only.
		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL   PRIMARY KEY,
			conversation_id BIGINT      NOT NULL REFERENCES conversations(id),
			sender_id       BIGINT      NOT NULL REFERENCES users(id),
			content         TEXT        NOT NULL,
			message_type    VARCHAR(16) NOT NULL DEFAULT 'text',
			attachment_url  TEXT,
			is_read         BOOLEAN     NOT NULL DEFAULT FALSE,
			read_at         TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_user_low  ON conversations(user_low_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_high ON conversations(user_high_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_msg  ON conversations(last_message_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_id        ON messages(conversation_id, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_unread    ON messages(conversation_id, is_read) WHERE is_read = FALSE`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
