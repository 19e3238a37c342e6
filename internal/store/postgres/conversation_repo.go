package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"winechat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

// FindOrCreateDirect relies on the (user_low, user_high) unique constraint:
// concurrent creators race on the insert and the loser reads the winner's row.
func (r *ConversationRepo) FindOrCreateDirect(ctx context.Context, a, b int64) (*domain.Conversation, bool, error) {
	low, high := domain.OrderedPair(a, b)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	c := &domain.Conversation{}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversations (user_low, user_high, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT ON CONSTRAINT conversations_pair_key DO NOTHING
		RETURNING id, created_at, updated_at
	`, low, high).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.QueryRowContext(ctx, `
			SELECT id, created_at, updated_at FROM conversations
			WHERE user_low = $1 AND user_high = $2
		`, low, high).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, false, fmt.Errorf("find conversation: %w", err)
		}
		return c, false, tx.Commit()
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}

	for _, uid := range []int64{low, high} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT DO NOTHING
		`, c.ID, uid); err != nil {
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
		WHERE user_low = $1 AND user_high = $2
	`, low, high)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	return r.scanConversation(ctx, `
		SELECT id, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id)
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
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
