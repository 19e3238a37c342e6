package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"winechat/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	u.CreatedAt = time.Now().UTC()
	u.IsActive = true
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, hashed_password, is_active, is_banned, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.Username, u.HashedPassword, u.IsActive, u.IsBanned, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	u.ID = id
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT id, username, hashed_password, is_active, is_banned, created_at FROM users WHERE id = ?`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT id, username, hashed_password, is_active, is_banned, created_at FROM users WHERE username = ?`, username)
}

func (r *UserRepo) SetBanned(ctx context.Context, id int64, banned bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_banned = ? WHERE id = ?`, banned, id)
	if err != nil {
		return fmt.Errorf("set banned: %w", err)
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

func (r *UserRepo) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.HashedPassword, &u.IsActive, &u.IsBanned, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}
