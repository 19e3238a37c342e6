package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	_ "winechat/docs"
	"winechat/internal/config"
	"winechat/internal/domain"
	"winechat/internal/service"
)

const requestTimeout = 30 * time.Second

// Services groups what the API handlers call into.
type Services struct {
	Auth      *service.AuthService
	Users     *service.UserService
	Messaging *service.Messaging
	// Live serves the websocket endpoint; nil leaves /ws unrouted.
	Live http.Handler
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(cfg *config.Config, svc Services, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": cfg.AppName + " API",
			"version": "1.0.0",
			"docs":    "/docs/index.html",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(svc.Auth))
			r.Post("/login", handleLogin(svc.Auth))
			r.With(AuthMiddleware(svc.Auth)).Get("/me", handleMe())
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(svc.Auth))

			r.Get("/users/{userID}", handleGetUser(svc.Users))

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleCreateConversation(svc.Messaging))
				r.Get("/", handleListConversations(svc.Messaging))
				r.Get("/{conversationID}/messages", handleListMessages(svc.Messaging))
			})

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", handleSendMessage(svc.Messaging))
				r.Get("/unread-count", handleUnreadCount(svc.Messaging))
				r.Post("/{messageID}/read", handleMarkMessageRead(svc.Messaging))
				r.Delete("/{messageID}", handleDeleteMessage(svc.Messaging))
			})
		})
	})

	// Long-lived; kept outside the request timeout.
	if svc.Live != nil {
		r.Get("/ws", svc.Live.ServeHTTP)
	}

	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: domain.CodeInvalidOperation})
}

// writeError maps a service error onto a status code. Internal failures are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodeForbidden:
		status = http.StatusForbidden
	case domain.CodeInvalidOperation:
		status = http.StatusBadRequest
	case domain.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case domain.CodeConflict:
		status = http.StatusConflict
	default:
		loggerFrom(r).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: domain.PublicMessage(err), Code: code})
}
