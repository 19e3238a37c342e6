package httpserver

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"winechat/internal/domain"
)

type contextKey string

const userContextKey contextKey = "currentUser"

// TokenResolver turns a bearer token into an active user.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*domain.User, error)
}

// WithUser returns a new context carrying the current user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// CurrentUser extracts the current user from context, if any.
func CurrentUser(r *http.Request) *domain.User {
	if v := r.Context().Value(userContextKey); v != nil {
		if u, ok := v.(*domain.User); ok {
			return u
		}
	}
	return nil
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < len("Bearer ") || !strings.EqualFold(authHeader[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authHeader[len("Bearer "):])
}

// AuthMiddleware validates the Bearer token and attaches the user to the context.
func AuthMiddleware(auth TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{
					Error: "missing or invalid Authorization header",
					Code:  domain.CodeUnauthenticated,
				})
				return
			}

			user, err := auth.Resolve(r.Context(), tokenStr)
			if err != nil {
				loggerFrom(r).Debug("token rejected", zap.Error(err))
				writeError(w, r, err)
				return
			}

			ctx := WithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
