package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
// Lookups of absent rows return ErrNotFound.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	SetBanned(ctx context.Context, id int64, banned bool) error
}

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	// FindOrCreateDirect returns the conversation between a and b, creating it
	// together with both participant rows in one transaction when none exists.
	// created reports whether a new conversation was inserted.
	FindOrCreateDirect(ctx context.Context, a, b int64) (conv *Conversation, created bool, err error)
	FindDirect(ctx context.Context, a, b int64) (*Conversation, error)
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	// ListForUser returns the user's conversations, most recently updated first.
	ListForUser(ctx context.Context, userID int64) ([]*Conversation, error)
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	ListParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Append inserts m and moves the conversation's updated_at to m.CreatedAt
	// in one transaction.
	Append(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	// Latest returns the newest message of a conversation, or nil when empty.
	Latest(ctx context.Context, conversationID int64) (*Message, error)
	// ListPage returns messages newest first, skipping offset rows.
	ListPage(ctx context.Context, conversationID int64, offset, limit int) ([]*Message, error)
	// MarkRead sets read_at on a message not sent by readerID whose read_at is
	// still null. It reports whether a row changed.
	MarkRead(ctx context.Context, messageID, readerID int64, at time.Time) (bool, error)
	// MarkAllRead marks every unread message in the conversation not sent by
	// readerID and returns the number of rows changed.
	MarkAllRead(ctx context.Context, conversationID, readerID int64, at time.Time) (int64, error)
	CountUnread(ctx context.Context, conversationID, userID int64) (int, error)
	CountUnreadForUser(ctx context.Context, userID int64) (int, error)
	Delete(ctx context.Context, id int64) error
}

// Repositories bundles the store implementations handed to services.
type Repositories struct {
	Users         UserRepository
	Conversations ConversationRepository
	Participants  ParticipantRepository
	Messages      MessageRepository
}
