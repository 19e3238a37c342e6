package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"winechat/internal/domain"
)

// notBefore returns at, moved forward to latest when latest is later.
func notBefore(at time.Time, latest sql.NullTime) time.Time {
	if latest.Valid && latest.Time.After(at) {
		return latest.Time.UTC()
	}
	return at
}

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, conversation_id, sender_id, content, message_type, order_id, read_at, created_at`

// Append locks the conversation row so that concurrent senders on other
// instances are serialized on the same thread.
func (r *MessageRepo) Append(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var convID int64
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM conversations WHERE id = $1 FOR UPDATE
	`, m.ConversationID).Scan(&convID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("lock conversation: %w", err)
	}

	// Timestamps are settled under the row lock so created_at order matches
	// commit order even across instances with skewed clocks.
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var latest sql.NullTime
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM messages WHERE conversation_id = $1
	`, m.ConversationID).Scan(&latest); err != nil {
		return fmt.Errorf("latest message time: %w", err)
	}
	m.CreatedAt = notBefore(m.CreatedAt, latest)

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, message_type, order_id, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
		RETURNING id
	`, m.ConversationID, m.SenderID, m.Content, m.MessageType, m.OrderID, m.CreatedAt,
	).Scan(&m.ID); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = GREATEST(updated_at, $1) WHERE id = $2
	`, m.CreatedAt, m.ConversationID); err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) Latest(ctx context.Context, conversationID int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListPage(ctx context.Context, conversationID int64, offset, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return r.scanMessages(rows)
}

func (r *MessageRepo) MarkRead(ctx context.Context, messageID, readerID int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read_at = $1
		WHERE id = $2 AND sender_id <> $3 AND read_at IS NULL
	`, at, messageID, readerID)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *MessageRepo) MarkAllRead(ctx context.Context, conversationID, readerID int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read_at = $1
		WHERE conversation_id = $2 AND sender_id <> $3 AND read_at IS NULL
	`, at, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepo) CountUnread(ctx context.Context, conversationID, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) CountUnreadForUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN conversation_participants cp
		  ON cp.conversation_id = m.conversation_id AND cp.user_id = $1
		WHERE m.sender_id <> $1 AND m.read_at IS NULL
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread for user: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	if err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MessageType,
		&m.OrderID, &m.ReadAt, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepo) scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
