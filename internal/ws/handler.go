package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"winechat/internal/domain"
	"winechat/internal/service"
)

// Authenticator resolves a bearer token to the user it was issued for.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (*domain.User, error)
}

// Messaging is the façade the live layer dispatches commands to.
type Messaging interface {
	CreateConversation(ctx context.Context, callerID int64, in service.CreateConversationInput) (*service.CreateConversationResult, error)
	SendMessage(ctx context.Context, callerID int64, in service.SendMessageInput) (*domain.Message, error)
	ListConversations(ctx context.Context, callerID int64) ([]*domain.ConversationSummary, error)
	GetConversationMessages(ctx context.Context, callerID, conversationID int64, page, pageSize int) (*service.MessagePage, error)
	MarkMessageRead(ctx context.Context, callerID, messageID int64) (*domain.Message, error)
	GetUnreadCount(ctx context.Context, callerID int64) (int, error)
	PushUnreadCount(ctx context.Context, userID int64) (int, error)
	DeleteMessage(ctx context.Context, callerID, messageID int64) error
	AuthorizeConversation(ctx context.Context, callerID, conversationID int64) error
}

// Options tunes live connections. Zero values select defaults.
type Options struct {
	AllowedOrigins    []string
	SendBuffer        int
	HandshakeTimeout  time.Duration
	CommandTimeout    time.Duration
	CommandsPerSecond int
	MaxFrameBytes     int64
}

func (o *Options) setDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 15 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 << 10
	}
}

// Handler serves the /ws endpoint.
type Handler struct {
	hub       *Hub
	auth      Authenticator
	messaging Messaging
	opts      Options
	log       *zap.Logger

	checkOrigin func(r *http.Request) bool
	upgrader    websocket.Upgrader
}

func NewHandler(hub *Hub, auth Authenticator, messaging Messaging, opts Options, log *zap.Logger) *Handler {
	opts.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		hub:         hub,
		auth:        auth,
		messaging:   messaging,
		opts:        opts,
		log:         log,
		checkOrigin: makeCheckOrigin(opts.AllowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:  h.checkOrigin,
		Subprotocols: []string{"bearer"},
	}
	return h
}

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin allows requests without an Origin header (non-browser
// clients), any origin when "*" is configured, and otherwise only the listed
// scheme://host origins.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, wildcard := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || wildcard {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// extractTokenFromWSRequest looks for the credential in the Authorization
// header, then the "bearer, <token>" subprotocol pair, then the token query
// parameter.
func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// authenticate resolves the caller within the handshake window.
func (h *Handler) authenticate(r *http.Request) (*domain.User, error) {
	tokenStr, err := extractTokenFromWSRequest(r)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.HandshakeTimeout)
	defer cancel()

	user, err := h.auth.Resolve(ctx, tokenStr)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, context.DeadlineExceeded):
		return nil, wsAuthError{status: http.StatusUnauthorized, msg: "invalid credentials"}
	default:
		h.log.Error("ws handshake: resolve identity", zap.Error(err))
		return nil, wsAuthError{status: http.StatusInternalServerError, msg: "internal error"}
	}
}

// ServeHTTP authenticates before upgrading; rejected handshakes never become
// connections. An accepted connection joins its user's notification room and
// immediately receives the current unread count.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	user, err := h.authenticate(r)
	if err != nil {
		var authErr wsAuthError
		if errors.As(err, &authErr) {
			http.Error(w, authErr.msg, authErr.status)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	s := newSession(h, conn, user)
	h.hub.Attach(s)
	s.log.Debug("session opened")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Pushed through the user room, so it is ordered with every other unread
	// push for this user. The user's other sessions get a fresh copy too.
	if _, err := h.messaging.PushUnreadCount(ctx, user.ID); err != nil {
		s.log.Error("initial unread count", zap.Error(err))
	}

	go s.writePump()
	s.readPump(ctx)
	s.log.Debug("session closed")
}
