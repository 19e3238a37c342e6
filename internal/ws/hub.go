package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	relayPublishTimeout = 2 * time.Second
	relayQueueSize      = 4096
)

type outbound struct {
	room  string
	frame []byte
}

// Hub routes events to rooms of live sessions. It implements the service
// layer's Broadcaster, so the messaging façade pushes through it without
// knowing about connections.
type Hub struct {
	presence *Registry
	rooms    *rooms
	relay    Relay
	// pending feeds the single relay publisher; FIFO keeps per-room order.
	pending chan outbound
	log     *zap.Logger
}

// NewHub returns a hub that delivers in-process. relay may be nil.
func NewHub(relay Relay, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		presence: NewRegistry(),
		rooms:    newRooms(),
		relay:    relay,
		log:      log,
	}
	if relay != nil {
		h.pending = make(chan outbound, relayQueueSize)
	}
	return h
}

// Presence exposes the registry of live sessions.
func (h *Hub) Presence() *Registry {
	return h.presence
}

// Run publishes queued events to the relay and consumes it until ctx is
// done. Without a relay it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.publishLoop(ctx)
		return nil
	})
	g.Go(func() error {
		return h.relay.Run(ctx, h.deliverLocal)
	})
	return g.Wait()
}

func (h *Hub) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-h.pending:
			h.publish(ctx, out)
		}
	}
}

func (h *Hub) publish(ctx context.Context, out outbound) {
	ctx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()
	if err := h.relay.Publish(ctx, out.room, out.frame); err != nil {
		h.log.Error("relay publish failed, delivering locally", zap.String("room", out.room), zap.Error(err))
		h.deliverLocal(out.room, out.frame)
	}
}

// Attach registers a session and joins it to its user's notification room.
func (h *Hub) Attach(s *Session) {
	if h.presence.Add(s.UserID(), s) {
		h.log.Debug("user online", zap.Int64("user_id", s.UserID()))
	}
	h.rooms.join(UserRoom(s.UserID()), s)
}

// Detach removes a session from every room and from the registry.
func (h *Hub) Detach(s *Session) {
	h.rooms.leaveAll(s)
	if userID, offline, ok := h.presence.Remove(s.ID()); ok && offline {
		h.log.Debug("user offline", zap.Int64("user_id", userID))
	}
}

func (h *Hub) Join(room string, s *Session) {
	h.rooms.join(room, s)
}

func (h *Hub) Leave(room string, s *Session) {
	h.rooms.leave(room, s)
}

// ToUser pushes an event to every session of a user.
func (h *Hub) ToUser(userID int64, event string, payload any) {
	h.Emit(UserRoom(userID), event, payload)
}

// ToConversation pushes an event to every session viewing a conversation.
func (h *Hub) ToConversation(conversationID int64, event string, payload any) {
	h.Emit(ConversationRoom(conversationID), event, payload)
}

// Emit encodes an event once and routes it to a room.
func (h *Hub) Emit(room, event string, payload any) {
	frame, err := json.Marshal(eventFrame{Type: event, Data: payload})
	if err != nil {
		h.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.route(room, frame)
}

// route never blocks the caller. With a relay the frame is queued for the
// publisher; a full queue degrades to local delivery.
func (h *Hub) route(room string, frame []byte) {
	if h.relay == nil {
		h.deliverLocal(room, frame)
		return
	}
	select {
	case h.pending <- outbound{room: room, frame: frame}:
	default:
		h.log.Warn("relay queue full, delivering locally", zap.String("room", room))
		h.deliverLocal(room, frame)
	}
}

// deliverLocal enqueues frame on every local member of room without
// blocking. A room without members drops the frame.
func (h *Hub) deliverLocal(room string, frame []byte) {
	for _, s := range h.rooms.snapshot(room) {
		s.enqueue(frame)
	}
}
