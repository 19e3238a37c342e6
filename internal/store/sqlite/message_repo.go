package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"winechat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, conversation_id, sender_id, content, message_type, order_id, read_at, created_at`

func (r *MessageRepo) Append(ctx context.Context, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// created_at never goes backwards within a conversation, so it orders
	// messages the way they were stored.
	latest, err := r.latestCreatedAt(ctx, tx, m.ConversationID)
	if err != nil {
		return err
	}
	if latest.After(m.CreatedAt) {
		m.CreatedAt = latest
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, message_type, order_id, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
	`, m.ConversationID, m.SenderID, m.Content, m.MessageType, m.OrderID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	// updated_at only moves forward.
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?
	`, m.CreatedAt, m.ConversationID); err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (r *MessageRepo) latestCreatedAt(ctx context.Context, tx *sql.Tx, conversationID int64) (time.Time, error) {
	var latest time.Time
	err := tx.QueryRowContext(ctx, `
		SELECT created_at FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest message time: %w", err)
	}
	return latest.UTC(), nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
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
		WHERE conversation_id = ?
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
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
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

func (r *MessageRepo) MarkRead(ctx context.Context, messageID, readerID int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read_at = ?
		WHERE id = ? AND sender_id <> ? AND read_at IS NULL
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
		UPDATE messages SET read_at = ?
		WHERE conversation_id = ? AND sender_id <> ? AND read_at IS NULL
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
		WHERE conversation_id = ? AND sender_id <> ? AND read_at IS NULL
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
		  ON cp.conversation_id = m.conversation_id AND cp.user_id = ?
		WHERE m.sender_id <> ? AND m.read_at IS NULL
	`, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread for user: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
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
