package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"winechat/internal/domain"
)

const (
	maxContentRunes    = 5000
	defaultPageSize    = 50
	defaultMaxPageSize = 100
	summaryParallelism = 8
	lockStripes        = 64
)

// Messaging is the façade over conversations and messages. The HTTP API and
// the live layer both call it, so validation, persistence and fan-out happen
// in one place.
type Messaging struct {
	users         domain.UserRepository
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository

	broadcaster Broadcaster
	log         *zap.Logger
	now         func() time.Time
	locks       stripedLocks
	unreadLocks stripedLocks

	pageSize    int
	maxPageSize int
}

// MessagingOptions configures a Messaging façade. Zero values select defaults.
type MessagingOptions struct {
	Broadcaster     Broadcaster
	Logger          *zap.Logger
	Now             func() time.Time
	DefaultPageSize int
	MaxPageSize     int
}

func NewMessaging(repos domain.Repositories, opts MessagingOptions) *Messaging {
	s := &Messaging{
		users:         repos.Users,
		conversations: repos.Conversations,
		participants:  repos.Participants,
		messages:      repos.Messages,
		broadcaster:   opts.Broadcaster,
		log:           opts.Logger,
		now:           opts.Now,
		pageSize:      opts.DefaultPageSize,
		maxPageSize:   opts.MaxPageSize,
	}
	if s.broadcaster == nil {
		s.broadcaster = nopBroadcaster{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxPageSize <= 0 {
		s.maxPageSize = defaultMaxPageSize
	}
	if s.pageSize <= 0 || s.pageSize > s.maxPageSize {
		s.pageSize = min(defaultPageSize, s.maxPageSize)
	}
	return s
}

// stripedLocks serializes work per id (a conversation for appends, a user for
// unread pushes). Striping bounds memory; unrelated ids rarely share a stripe.
type stripedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLocks) lock(id int64) func() {
	m := &l.stripes[uint64(id)%lockStripes]
	m.Lock()
	return m.Unlock
}

func validateContent(content string, typ domain.MessageType) (domain.MessageType, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: message content cannot be empty", domain.ErrInvalidOperation)
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return "", fmt.Errorf("%w: message content exceeds %d characters", domain.ErrInvalidOperation, maxContentRunes)
	}
	switch typ {
	case "":
		return domain.MessageTypeText, nil
	case domain.MessageTypeText:
		return typ, nil
	default:
		return "", fmt.Errorf("%w: unsupported message type %q", domain.ErrInvalidOperation, typ)
	}
}

func validateOrderID(orderID *int64) error {
	if orderID != nil && *orderID <= 0 {
		return fmt.Errorf("%w: orderId must be positive", domain.ErrInvalidOperation)
	}
	return nil
}

// activeSender loads the caller and checks they may still send. A ban or
// deactivation takes effect on the next send, including over a connection
// that was authenticated before it.
func (s *Messaging) activeSender(ctx context.Context, callerID int64) (*domain.User, error) {
	sender, err := s.users.GetByID(ctx, callerID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", domain.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}
	if !sender.CanMessage() {
		return nil, fmt.Errorf("%w: account is disabled", domain.ErrUnauthenticated)
	}
	return sender, nil
}

// eligibleRecipient loads the user a caller wants to message and checks they
// may receive messages.
func (s *Messaging) eligibleRecipient(ctx context.Context, callerID, recipientID int64) (*domain.User, error) {
	if recipientID <= 0 {
		return nil, fmt.Errorf("%w: recipientId is required", domain.ErrInvalidOperation)
	}
	if recipientID == callerID {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", domain.ErrInvalidOperation)
	}
	recipient, err := s.users.GetByID(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("get recipient %d: %w", recipientID, err)
	}
	if !recipient.CanMessage() {
		return nil, fmt.Errorf("%w: recipient cannot receive messages", domain.ErrInvalidOperation)
	}
	return recipient, nil
}

// authorizeConversation loads a conversation and its participants and checks
// the caller is one of them.
func (s *Messaging) authorizeConversation(ctx context.Context, callerID, conversationID int64) (*domain.Conversation, []int64, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("get conversation %d: %w", conversationID, err)
	}
	participantIDs, err := s.participants.ListParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("list participants: %w", err)
	}
	if !containsID(participantIDs, callerID) {
		return nil, nil, fmt.Errorf("%w: not a participant in this conversation", domain.ErrForbidden)
	}
	return conv, participantIDs, nil
}

// AuthorizeConversation reports whether callerID may view conversationID.
// The live layer calls it before joining a conversation room.
func (s *Messaging) AuthorizeConversation(ctx context.Context, callerID, conversationID int64) error {
	_, _, err := s.authorizeConversation(ctx, callerID, conversationID)
	return err
}

// pushUnreadCounts recomputes each user's global unread count from the store
// and pushes it to their notification room.
func (s *Messaging) pushUnreadCounts(ctx context.Context, userIDs ...int64) {
	for _, uid := range userIDs {
		if _, err := s.PushUnreadCount(ctx, uid); err != nil {
			s.log.Error("recompute unread count", zap.Int64("user_id", uid), zap.Error(err))
		}
	}
}

// PushUnreadCount recomputes userID's unread count and pushes it to their
// notification room. Counting and pushing happen under a per-user lock, so
// pushes leave in the order they were counted and the last one a session
// receives is never older than another it received.
func (s *Messaging) PushUnreadCount(ctx context.Context, userID int64) (int, error) {
	unlock := s.unreadLocks.lock(userID)
	defer unlock()
	count, err := s.messages.CountUnreadForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	s.broadcaster.ToUser(userID, EventUnreadCount, UnreadCountEvent{Count: count})
	return count, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func othersThan(ids []int64, id int64) []int64 {
	res := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			res = append(res, v)
		}
	}
	return res
}
