package domain

import "time"

// User is the account referenced by conversations. Profile data lives
// outside this service; only what gates messaging is kept here.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsActive       bool      `db:"is_active" json:"isActive"`
	IsBanned       bool      `db:"is_banned" json:"isBanned"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// CanMessage reports whether the user may take part in conversations.
func (u *User) CanMessage() bool {
	return u != nil && u.IsActive && !u.IsBanned
}

// UserSummary is the public identity of a user shown to other participants.
type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Summary returns the public identity of u.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username}
}

// Conversation is a two-party thread. UpdatedAt moves forward with every
// new message.
type Conversation struct {
	ID        int64     `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Participant is the membership of a user in a conversation.
type Participant struct {
	ConversationID int64     `db:"conversation_id" json:"conversationId"`
	UserID         int64     `db:"user_id" json:"userId"`
	JoinedAt       time.Time `db:"joined_at" json:"joinedAt"`
}

// MessageType discriminates message payloads.
type MessageType string

const MessageTypeText MessageType = "text"

// Message is a single chat message. Content is immutable; ReadAt is set once
// by the participant who did not send it.
type Message struct {
	ID             int64       `db:"id" json:"id"`
	ConversationID int64       `db:"conversation_id" json:"conversationId"`
	SenderID       int64       `db:"sender_id" json:"senderId"`
	Content        string      `db:"content" json:"content"`
	MessageType    MessageType `db:"message_type" json:"messageType"`
	OrderID        *int64      `db:"order_id" json:"orderId,omitempty"`
	ReadAt         *time.Time  `db:"read_at" json:"readAt"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
}

// IsRead reports whether the recipient has acknowledged the message.
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	Peer         UserSummary   `json:"peer"`
	LastMessage  *Message      `json:"lastMessage"`
	UnreadCount  int           `json:"unreadCount"`
}

// OrderedPair returns a and b with the smaller id first, the canonical key
// of a direct conversation.
func OrderedPair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}
