package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"winechat/internal/domain"
	"winechat/internal/security"
)

// AuthService handles registration, login and token resolution.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
	hash   *security.PasswordHasher
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hash *security.PasswordHasher) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		hash:   hash,
	}
}

type RegisterInput struct {
	Username string
	Password string
}

type LoginInput struct {
	Username string
	Password string
}

type TokenResponse struct {
	AccessToken string       `json:"accessToken"`
	TokenType   string       `json:"tokenType"`
	User        *domain.User `json:"user"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", domain.ErrInvalidOperation)
	}

	_, err := s.users.GetByUsername(ctx, in.Username)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: username already registered", domain.ErrConflict)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("check username: %w", err)
	}

	hashed, err := s.hash.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:       in.Username,
		HashedPassword: hashed,
		IsActive:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(in.Username))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: incorrect username or password", domain.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := s.hash.Verify(in.Password, user.HashedPassword); err != nil {
		return nil, fmt.Errorf("%w: incorrect username or password", domain.ErrUnauthenticated)
	}
	if !user.CanMessage() {
		return nil, fmt.Errorf("%w: account is disabled", domain.ErrUnauthenticated)
	}

	token, err := s.tokens.CreateForUser(user.ID)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	}, nil
}

// Resolve turns a bearer token into the user it was issued for. Unknown,
// banned and inactive users are reported as domain.ErrUnauthenticated.
func (s *AuthService) Resolve(ctx context.Context, token string) (*domain.User, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", domain.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !user.CanMessage() {
		return nil, fmt.Errorf("%w: account is disabled", domain.ErrUnauthenticated)
	}
	return user, nil
}
