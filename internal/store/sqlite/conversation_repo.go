package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"winechat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) FindOrCreateDirect(ctx context.Context, a, b int64) (*domain.Conversation, bool, error) {
	low, high := domain.OrderedPair(a, b)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	c := &domain.Conversation{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at FROM conversations
		WHERE user_low = ? AND user_high = ?
	`, low, high).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return c, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("find conversation: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (user_low, user_high, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, low, high, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = now, now

	for _, uid := range []int64{low, high} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, c.ID, uid, now); err != nil {
			return nil, false, fmt.Errorf("insert participant %d: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit conversation: %w", err)
	}
	return c, true, nil
}

func (r *ConversationRepo) FindDirect(ctx context.Context, a, b int64) (*domain.Conversation, error) {
	low, high := domain.OrderedPair(a, b)
	return r.scanConversation(ctx, `
		SELECT id, created_at, updated_at FROM conversations
		WHERE user_low = ? AND user_high = ?
	`, low, high)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	return r.scanConversation(ctx, `SELECT id, created_at, updated_at FROM conversations WHERE id = ?`, id)
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = ?
		ORDER BY c.updated_at DESC, c.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *ConversationRepo) scanConversation(ctx context.Context, query string, args ...any) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}
