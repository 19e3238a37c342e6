package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"winechat/internal/domain"
)

// UserService provides account administration used by the CLI.
type UserService struct {
	users domain.UserRepository
	log   *zap.Logger
}

func NewUserService(users domain.UserRepository, log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{users: users, log: log}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// SetBanned bans or unbans a user. Banned users cannot authenticate and
// cannot be messaged; existing conversations and messages are kept.
func (s *UserService) SetBanned(ctx context.Context, id int64, banned bool) error {
	if err := s.users.SetBanned(ctx, id, banned); err != nil {
		return fmt.Errorf("set banned for user %d: %w", id, err)
	}
	s.log.Info("user ban state changed", zap.Int64("user_id", id), zap.Bool("banned", banned))
	return nil
}
