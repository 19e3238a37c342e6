package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"winechat/internal/domain"
	"winechat/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Session is one live connection of an authenticated user. Commands are read
// and executed one at a time, in arrival order; pushes reach the socket
// through a buffered queue drained by the write pump.
type Session struct {
	id     string
	userID int64
	conn   *websocket.Conn
	h      *Handler
	log    *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   ratelimit.Limiter
}

func newSession(h *Handler, conn *websocket.Conn, user *domain.User) *Session {
	id := uuid.NewString()
	limiter := ratelimit.NewUnlimited()
	if h.opts.CommandsPerSecond > 0 {
		limiter = ratelimit.New(h.opts.CommandsPerSecond)
	}
	return &Session{
		id:      id,
		userID:  user.ID,
		conn:    conn,
		h:       h,
		log:     h.log.With(zap.String("session_id", id), zap.Int64("user_id", user.ID)),
		send:    make(chan []byte, h.opts.SendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

func (s *Session) ID() string    { return s.id }
func (s *Session) UserID() int64 { return s.userID }

// enqueue hands a frame to the write pump without blocking. A session whose
// buffer is full is closed as a slow consumer.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		s.log.Warn("send buffer full, closing slow session")
		s.close()
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Close ends the session. The read pump notices and detaches it.
func (s *Session) Close() {
	s.close()
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump runs on the handshake goroutine until the connection ends.
func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.h.hub.Detach(s)
		s.close()
	}()

	if s.h.opts.MaxFrameBytes > 0 {
		s.conn.SetReadLimit(s.h.opts.MaxFrameBytes)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		s.limiter.Take()
		s.handle(ctx, raw)
	}
}

// handle executes one command and always answers it with one reply.
func (s *Session) handle(ctx context.Context, raw []byte) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		s.reply(replyFrame{
			Command: "",
			Error:   "malformed frame",
			Code:    domain.CodeInvalidOperation,
		})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.h.opts.CommandTimeout)
	defer cancel()

	data, err := s.dispatch(ctx, in)
	out := replyFrame{ID: in.ID, Command: in.Type}
	if err != nil {
		out.Code = domain.ErrorCode(err)
		out.Error = domain.PublicMessage(err)
		if out.Code == domain.CodeInternal {
			s.log.Error("command failed", zap.String("command", in.Type), zap.Error(err))
		} else {
			s.log.Debug("command rejected", zap.String("command", in.Type), zap.Error(err))
		}
	} else {
		out.Data = data
	}
	s.reply(out)
}

func (s *Session) reply(out replyFrame) {
	out.Type = replyType
	frame, err := json.Marshal(out)
	if err != nil {
		s.log.Error("encode reply", zap.Error(err))
		return
	}
	s.enqueue(frame)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed data: %v", domain.ErrInvalidOperation, err)
	}
	return nil
}

var errUnknownCommand = errors.New("unknown command")

func (s *Session) dispatch(ctx context.Context, in inboundFrame) (any, error) {
	m := s.h.messaging
	switch in.Type {
	case CmdSendMessage:
		var d sendMessageData
		if err := decodeData(in.Data, &d); err != nil {
			return nil, err
		}
		return m.SendMessage(ctx, s.userID, service.SendMessageInput{
			ConversationID: d.ConversationID,
			RecipientID:    d.RecipientID,
			Content:        d.Content,
			MessageType:    d.MessageType,
			OrderID:        d.OrderID,
		})

	case CmdCreateConversation:
		var d createConversationData
		if err := decodeData(in.Data, &d); err != nil {
			return nil, err
		}
		return m.CreateConversation(ctx, s.userID, service.CreateConversationInput{
			RecipientID: d.RecipientID,
			Content:     d.Content,
			MessageType: d.MessageType,
			OrderID:     d.OrderID,
		})

	case CmdJoinConversation:
		var d conversationRef
		if err := decodeData(in.Data, &d); err != nil {
			return nil, err
		}
		if err := m.AuthorizeConversation(ctx, s.userID, d.ConversationID); err != nil {
			return nil, err
		}
		s.h.hub.Join(ConversationRoom(d.ConversationID), s)
		return roomMembership{ConversationID: d.ConversationID, Joined: true}, nil

	case CmdLeaveConversation:
		var d conversationRef
		if err := decodeData(in.Data, &d); err != nil {
			return nil, err
		}
		s.h.hub.Leave(ConversationRoom(d.ConversationID), s)
		return roomMembership{ConversationID: d.ConversationID, Joined: false}, nil

	case CmdMarkMessageRead:
		var d messageRef
		if err := decodeData(in.Data, &d); err != nil {
			return nil, err
		}
		return m.MarkMessageRead(ctx, s.userID, d.MessageID)

	case CmdGetUnreadCount:
		count, err := m.GetUnreadCount(ctx, s.userID)
		if err != nil {
			return nil, err
		}
		return service.UnreadCountEvent{Count: count}, nil

	case CmdGetMessages:
		var d getMessagesData
		if err := decodeData(in.Data, &d); err != nil {
			return nil, err
		}
		return m.GetConversationMessages(ctx, s.userID, d.ConversationID, d.Page, d.PageSize)

	case CmdListConversations:
		return m.ListConversations(ctx, s.userID)

	case CmdDeleteMessage:
		var d messageRef
		if err := decodeData(in.Data, &d); err != nil {
			return nil, err
		}
		if err := m.DeleteMessage(ctx, s.userID, d.MessageID); err != nil {
			return nil, err
		}
		return deletedMessage{MessageID: d.MessageID, Deleted: true}, nil

	default:
		return nil, fmt.Errorf("%w: %w %q", domain.ErrInvalidOperation, errUnknownCommand, in.Type)
	}
}
