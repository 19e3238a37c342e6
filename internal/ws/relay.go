package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRelayChannel is the Redis channel carrying room frames between
// instances.
const DefaultRelayChannel = "chat:rooms"

// Relay carries room frames between server instances. Every instance
// publishes, and every instance (the publisher included) receives and
// delivers to its own local members.
type Relay interface {
	Publish(ctx context.Context, room string, frame []byte) error
	// Run consumes frames until ctx is done, calling deliver for each.
	Run(ctx context.Context, deliver func(room string, frame []byte)) error
}

type relayEnvelope struct {
	Room  string          `json:"room"`
	Frame json.RawMessage `json:"frame"`
}

// RedisRelay is a Relay over Redis pub/sub.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string, log *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{rdb: rdb, channel: channel, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, room string, frame []byte) error {
	payload, err := json.Marshal(relayEnvelope{Room: room, Frame: frame})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRelay) Run(ctx context.Context, deliver func(room string, frame []byte)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Room == "" {
				r.log.Warn("dropping malformed relay frame", zap.Error(err))
				continue
			}
			deliver(env.Room, env.Frame)
		}
	}
}
