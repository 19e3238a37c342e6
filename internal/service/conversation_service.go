package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"winechat/internal/domain"
)

type CreateConversationInput struct {
	RecipientID int64
	Content     string
	MessageType domain.MessageType
	OrderID     *int64
}

// CreateConversationResult is the conversation that now exists between the
// caller and the recipient, and the message that was appended to it.
type CreateConversationResult struct {
	Conversation *domain.Conversation `json:"conversation"`
	Message      *domain.Message      `json:"message"`
	Created      bool                 `json:"created"`
}

// CreateConversation opens (or reuses) the direct conversation with the
// recipient and appends the first message. When a conversation between the
// pair already exists this behaves like SendMessage on it.
func (s *Messaging) CreateConversation(ctx context.Context, callerID int64, in CreateConversationInput) (*CreateConversationResult, error) {
	msgType, err := validateContent(in.Content, in.MessageType)
	if err != nil {
		return nil, err
	}
	if err := validateOrderID(in.OrderID); err != nil {
		return nil, err
	}
	sender, err := s.activeSender(ctx, callerID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.eligibleRecipient(ctx, callerID, in.RecipientID)
	if err != nil {
		return nil, err
	}

	conv, created, err := s.conversations.FindOrCreateDirect(ctx, callerID, recipient.ID)
	if err != nil {
		return nil, fmt.Errorf("find or create conversation: %w", err)
	}
	if created {
		s.log.Info("conversation created",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64("caller_id", callerID),
			zap.Int64("recipient_id", recipient.ID),
		)
	}

	msg, err := s.deliver(ctx, sender, conv.ID, []int64{callerID, recipient.ID}, in.Content, msgType, in.OrderID)
	if err != nil {
		return nil, err
	}
	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
	return &CreateConversationResult{Conversation: conv, Message: msg, Created: created}, nil
}

// ListConversations returns the caller's conversations, most recently active
// first, each with its peer, latest message and the caller's unread count.
func (s *Messaging) ListConversations(ctx context.Context, callerID int64) ([]*domain.ConversationSummary, error) {
	convs, err := s.conversations.ListForUser(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	summaries := make([]*domain.ConversationSummary, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryParallelism)
	for i, conv := range convs {
		g.Go(func() error {
			sum, err := s.summarize(gctx, callerID, conv)
			if err != nil {
				return fmt.Errorf("summarize conversation %d: %w", conv.ID, err)
			}
			summaries[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Messaging) summarize(ctx context.Context, callerID int64, conv *domain.Conversation) (*domain.ConversationSummary, error) {
	participantIDs, err := s.participants.ListParticipantIDs(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	sum := &domain.ConversationSummary{Conversation: conv}

	if peers := othersThan(participantIDs, callerID); len(peers) > 0 {
		sum.Peer.ID = peers[0]
		peer, err := s.users.GetByID(ctx, peers[0])
		switch {
		case err == nil:
			sum.Peer = peer.Summary()
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	if sum.LastMessage, err = s.messages.Latest(ctx, conv.ID); err != nil {
		return nil, err
	}
	if sum.UnreadCount, err = s.messages.CountUnread(ctx, conv.ID, callerID); err != nil {
		return nil, err
	}
	return sum, nil
}

// MessagePage is one page of a conversation's history, oldest first.
type MessagePage struct {
	ConversationID int64             `json:"conversationId"`
	Page           int               `json:"page"`
	PageSize       int               `json:"pageSize"`
	HasMore        bool              `json:"hasMore"`
	Messages       []*domain.Message `json:"messages"`
}

// GetConversationMessages returns a page of history and marks every message
// the caller had not yet read in the conversation as read. Page 1 holds the
// newest messages.
func (s *Messaging) GetConversationMessages(ctx context.Context, callerID, conversationID int64, page, pageSize int) (*MessagePage, error) {
	_, participantIDs, err := s.authorizeConversation(ctx, callerID, conversationID)
	if err != nil {
		return nil, err
	}
	page, pageSize = s.normalizePage(page, pageSize)

	marked, err := s.messages.MarkAllRead(ctx, conversationID, callerID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}

	// One extra row tells whether an older page exists.
	msgs, err := s.messages.ListPage(ctx, conversationID, (page-1)*pageSize, pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	hasMore := len(msgs) > pageSize
	if hasMore {
		msgs = msgs[:pageSize]
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	slices.Reverse(msgs)

	if marked > 0 {
		evt := MessagesReadEvent{ConversationID: conversationID, ReaderID: callerID, Count: marked}
		s.broadcaster.ToConversation(conversationID, EventMessagesRead, evt)
		for _, pid := range othersThan(participantIDs, callerID) {
			s.broadcaster.ToUser(pid, EventMessagesRead, evt)
		}
		s.pushUnreadCounts(ctx, callerID)
	}

	return &MessagePage{
		ConversationID: conversationID,
		Page:           page,
		PageSize:       pageSize,
		HasMore:        hasMore,
		Messages:       msgs,
	}, nil
}

func (s *Messaging) normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}
	return page, pageSize
}
