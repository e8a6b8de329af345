package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/redis/go-redis/v9"
)

// defaultStreamLen caps each mirror stream via XADD MAXLEN ~.
const defaultStreamLen int64 = 1000

// SignalBus implements domain.SignalBus with Redis Pub/Sub. Every published
// payload is also appended to a capped stream named "<channel>:log" so a
// process that joins late can read the recent history.
type SignalBus struct {
	rdb       *redis.Client
	streamLen int64
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb, streamLen: defaultStreamLen}
}

// WithStreamLen sets the approximate length of the history streams. Zero
// disables them.
func (sb *SignalBus) WithStreamLen(n int64) *SignalBus {
	sb.streamLen = n
	return sb
}

// Publish sends payload to channel and mirrors it to the channel's stream.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	pipe := sb.rdb.TxPipeline()
	pipe.Publish(ctx, channel, payload)
	if sb.streamLen > 0 {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey(channel),
			MaxLen: sb.streamLen,
			Approx: true,
			Values: map[string]any{"payload": payload},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription and returns a channel of raw
// payloads. The returned channel is closed when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Recent returns up to n payloads most recently published on channel, oldest
// first.
func (sb *SignalBus) Recent(ctx context.Context, channel string, n int64) ([][]byte, error) {
	msgs, err := sb.rdb.XRevRangeN(ctx, streamKey(channel), "+", "-", n).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: recent %s: %w", channel, err)
	}

	out := make([][]byte, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if p, ok := payloadOf(msgs[i].Values); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func payloadOf(values map[string]any) ([]byte, bool) {
	switch v := values["payload"].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

func streamKey(channel string) string {
	return channel + ":log"
}

// hasPattern returns true when the channel includes glob-style wildcards, in
// which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
