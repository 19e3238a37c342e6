package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"winechat/internal/domain"
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

// NewRepositories returns PostgreSQL-backed implementations of every repository.
func NewRepositories(db *sql.DB) domain.Repositories {
	return domain.Repositories{
		Users:         NewUserRepo(db),
		Conversations: NewConversationRepo(db),
		Participants:  NewParticipantRepo(db),
		Messages:      NewMessageRepo(db),
	}
}

// Migrate runs idempotent DDL migrations on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL    PRIMARY KEY,
			username         VARCHAR(50)  UNIQUE NOT NULL,
			hashed_password  VARCHAR(255) NOT NULL,
			is_active        BOOLEAN      NOT NULL DEFAULT TRUE,
			is_banned        BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// user_low/user_high hold the ordered participant pair of a direct thread.
		`CREATE TABLE IF NOT EXISTS conversations (
			id         BIGSERIAL    PRIMARY KEY,
			user_low   BIGINT       NOT NULL REFERENCES users(id),
			user_high  BIGINT       NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			CONSTRAINT conversations_pair_key UNIQUE (user_low, user_high)
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id BIGINT       NOT NULL REFERENCES conversations(id),
			user_id         BIGINT       NOT NULL REFERENCES users(id),
			joined_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL    PRIMARY KEY,
			conversation_id BIGINT       NOT NULL REFERENCES conversations(id),
			sender_id       BIGINT       NOT NULL REFERENCES users(id),
			content         TEXT         NOT NULL,
			message_type    VARCHAR(20)  NOT NULL DEFAULT 'text',
			order_id        BIGINT,
			read_at         TIMESTAMPTZ,
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, sender_id) WHERE read_at IS NULL`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
