package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"winechat/internal/domain"
)

// SendMessageInput addresses a message either to an existing conversation or
// to a recipient, never both.
type SendMessageInput struct {
	ConversationID int64
	RecipientID    int64
	Content        string
	MessageType    domain.MessageType
	OrderID        *int64
}

// SendMessage appends a message and fans it out to both participants. When
// addressed by recipient, the direct conversation is found or created first.
func (s *Messaging) SendMessage(ctx context.Context, callerID int64, in SendMessageInput) (*domain.Message, error) {
	msgType, err := validateContent(in.Content, in.MessageType)
	if err != nil {
		return nil, err
	}
	if err := validateOrderID(in.OrderID); err != nil {
		return nil, err
	}

	hasConv, hasRecipient := in.ConversationID != 0, in.RecipientID != 0
	switch {
	case hasConv && hasRecipient:
		return nil, fmt.Errorf("%w: provide either conversationId or recipientId, not both", domain.ErrInvalidOperation)
	case !hasConv && !hasRecipient:
		return nil, fmt.Errorf("%w: conversationId or recipientId is required", domain.ErrInvalidOperation)
	}
	sender, err := s.activeSender(ctx, callerID)
	if err != nil {
		return nil, err
	}

	var (
		conversationID int64
		participantIDs []int64
	)
	if hasRecipient {
		recipient, err := s.eligibleRecipient(ctx, callerID, in.RecipientID)
		if err != nil {
			return nil, err
		}
		conv, _, err := s.conversations.FindOrCreateDirect(ctx, callerID, recipient.ID)
		if err != nil {
			return nil, fmt.Errorf("find or create conversation: %w", err)
		}
		conversationID, participantIDs = conv.ID, []int64{callerID, recipient.ID}
	} else {
		conv, ids, err := s.authorizeConversation(ctx, callerID, in.ConversationID)
		if err != nil {
			return nil, err
		}
		if err := s.checkPeersReachable(ctx, callerID, ids); err != nil {
			return nil, err
		}
		conversationID, participantIDs = conv.ID, ids
	}

	return s.deliver(ctx, sender, conversationID, participantIDs, in.Content, msgType, in.OrderID)
}

// checkPeersReachable rejects sends into a conversation whose other
// participant has been banned or deactivated since it was opened.
func (s *Messaging) checkPeersReachable(ctx context.Context, callerID int64, participantIDs []int64) error {
	for _, pid := range othersThan(participantIDs, callerID) {
		peer, err := s.users.GetByID(ctx, pid)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get participant %d: %w", pid, err)
		}
		if !peer.CanMessage() {
			return fmt.Errorf("%w: recipient cannot receive messages", domain.ErrInvalidOperation)
		}
	}
	return nil
}

// deliver persists a message and pushes it to the participants. The append
// and the newMessage fan-out run under the conversation's lock, so every
// receiver sees one conversation's messages in creation order.
func (s *Messaging) deliver(
	ctx context.Context,
	sender *domain.User,
	conversationID int64,
	participantIDs []int64,
	content string,
	msgType domain.MessageType,
	orderID *int64,
) (*domain.Message, error) {
	senderID := sender.ID
	summary := sender.Summary()

	msg := &domain.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    msgType,
		OrderID:        orderID,
	}

	unlock := s.locks.lock(conversationID)
	msg.CreatedAt = s.now().UTC()
	if err := s.messages.Append(ctx, msg); err != nil {
		unlock()
		return nil, fmt.Errorf("append message: %w", err)
	}
	for _, pid := range participantIDs {
		s.broadcaster.ToUser(pid, EventNewMessage, NewMessageEvent{ConversationID: conversationID, Message: msg})
	}
	s.broadcaster.ToConversation(conversationID, EventNewMessage, NewMessageEvent{
		ConversationID: conversationID,
		Message:        msg,
		Sender:         &summary,
	})
	unlock()

	s.log.Debug("message delivered",
		zap.Int64("message_id", msg.ID),
		zap.Int64("conversation_id", conversationID),
		zap.Int64("sender_id", senderID),
	)
	s.pushUnreadCounts(ctx, othersThan(participantIDs, senderID)...)
	return msg, nil
}

// MarkMessageRead acknowledges a message on behalf of the participant who did
// not send it. Marking an already read message succeeds without changing it.
func (s *Messaging) MarkMessageRead(ctx context.Context, callerID, messageID int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", messageID, err)
	}
	ok, err := s.participants.IsParticipant(ctx, msg.ConversationID, callerID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: not a participant in this conversation", domain.ErrForbidden)
	}
	if msg.SenderID == callerID {
		return nil, fmt.Errorf("%w: cannot mark your own message as read", domain.ErrInvalidOperation)
	}

	if msg.ReadAt == nil {
		at := s.now().UTC()
		changed, err := s.messages.MarkRead(ctx, messageID, callerID, at)
		if err != nil {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		if changed {
			msg.ReadAt = &at
			evt := MessageReadEvent{
				ConversationID: msg.ConversationID,
				MessageID:      msg.ID,
				ReaderID:       callerID,
				ReadAt:         at,
			}
			s.broadcaster.ToConversation(msg.ConversationID, EventMessageRead, evt)
			s.broadcaster.ToUser(msg.SenderID, EventMessageRead, evt)
		} else if msg, err = s.messages.GetByID(ctx, messageID); err != nil {
			// Another connection of the same reader got there first.
			return nil, fmt.Errorf("reload message: %w", err)
		}
	}

	s.pushUnreadCounts(ctx, callerID)
	return msg, nil
}

// GetUnreadCount returns the number of messages addressed to the caller that
// are still unread, across all of their conversations.
func (s *Messaging) GetUnreadCount(ctx context.Context, callerID int64) (int, error) {
	count, err := s.messages.CountUnreadForUser(ctx, callerID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// DeleteMessage hard-deletes a message. Only its sender may delete it.
func (s *Messaging) DeleteMessage(ctx context.Context, callerID, messageID int64) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("get message %d: %w", messageID, err)
	}
	if msg.SenderID != callerID {
		return fmt.Errorf("%w: only the sender can delete a message", domain.ErrForbidden)
	}
	participantIDs, err := s.participants.ListParticipantIDs(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}

	evt := MessageDeletedEvent{ConversationID: msg.ConversationID, MessageID: msg.ID}
	s.broadcaster.ToConversation(msg.ConversationID, EventMessageDeleted, evt)
	for _, pid := range participantIDs {
		s.broadcaster.ToUser(pid, EventMessageDeleted, evt)
	}
	if !msg.IsRead() {
		s.pushUnreadCounts(ctx, othersThan(participantIDs, callerID)...)
	}
	return nil
}
