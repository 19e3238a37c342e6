package security

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"winechat/internal/domain"
)

// TokenService wraps JWT creation and validation. The subject claim carries
// the decimal user id.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
	parser    *jwt.Parser
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

// CreateForUser creates a JWT for the given user using the default TTL.
func (t *TokenService) CreateForUser(userID int64) (string, error) {
	return t.CreateWithTTL(userID, t.expiresIn)
}

// CreateWithTTL creates a JWT for the given user with an explicit TTL.
func (t *TokenService) CreateWithTTL(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies signature and expiry and returns the user id in the subject.
// Every failure is reported as domain.ErrUnauthenticated.
func (t *TokenService) Parse(tokenStr string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := t.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return 0, fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: invalid token subject", domain.ErrUnauthenticated)
	}
	return userID, nil
}
