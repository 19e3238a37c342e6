package service

import (
	"time"

	"winechat/internal/domain"
)

// Live event names pushed to connections.
const (
	EventUnreadCount    = "unreadCount"
	EventNewMessage     = "newMessage"
	EventNotification   = "notification" // reserved for non-message notices
	EventMessageRead    = "messageRead"
	EventMessagesRead   = "messagesRead"
	EventMessageDeleted = "messageDeleted"
)

// Broadcaster delivers live events to rooms. Implementations must not block
// on slow receivers; an event for a room with no live members is dropped.
type Broadcaster interface {
	ToUser(userID int64, event string, payload any)
	ToConversation(conversationID int64, event string, payload any)
}

type nopBroadcaster struct{}

func (nopBroadcaster) ToUser(int64, string, any)         {}
func (nopBroadcaster) ToConversation(int64, string, any) {}

// UnreadCountEvent carries an absolute count; clients replace, never add.
type UnreadCountEvent struct {
	Count int `json:"count"`
}

// NewMessageEvent is pushed to every participant's user room. Conversation
// rooms receive the same event with Sender filled in.
type NewMessageEvent struct {
	ConversationID int64               `json:"conversationId"`
	Message        *domain.Message     `json:"message"`
	Sender         *domain.UserSummary `json:"sender,omitempty"`
}

type MessageReadEvent struct {
	ConversationID int64     `json:"conversationId"`
	MessageID      int64     `json:"messageId"`
	ReaderID       int64     `json:"readerId"`
	ReadAt         time.Time `json:"readAt"`
}

type MessagesReadEvent struct {
	ConversationID int64 `json:"conversationId"`
	ReaderID       int64 `json:"readerId"`
	Count          int64 `json:"count"`
}

type MessageDeletedEvent struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
}
