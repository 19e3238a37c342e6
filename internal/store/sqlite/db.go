package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"winechat/internal/domain"
)

// Open opens a SQLite database with the given DSN.
// SQLite allows a single writer, so the pool is capped at one connection;
// this also keeps ":memory:" databases alive for the life of the pool.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// NewRepositories returns SQLite-backed implementations of every repository.
func NewRepositories(db *sql.DB) domain.Repositories {
	return domain.Repositories{
		Users:         NewUserRepo(db),
		Conversations: NewConversationRepo(db),
		Participants:  NewParticipantRepo(db),
		Messages:      NewMessageRepo(db),
	}
}

// Migrate runs idempotent CREATE TABLE / CREATE INDEX statements.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			hashed_password VARCHAR(255) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_banned BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL
		);`,
		// user_low/user_high hold the ordered participant pair of a direct thread.
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY,
			user_low INTEGER NOT NULL,
			user_high INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (user_low, user_high),
			FOREIGN KEY (user_low) REFERENCES users(id),
			FOREIGN KEY (user_high) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			joined_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			conversation_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			message_type VARCHAR(20) NOT NULL DEFAULT 'text',
			order_id INTEGER DEFAULT NULL,
			read_at DATETIME DEFAULT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (sender_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, sender_id) WHERE read_at IS NULL;`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
