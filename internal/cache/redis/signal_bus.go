package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

const (
	// streamMaxLen caps durable streams via XADD MAXLEN ~ so the bus never
	// grows unbounded when no reader is draining it.
	streamMaxLen int64 = 10000

	// subscribeBuffer is the depth of the channel handed to subscribers. A
	// slow consumer stalls the pump goroutine, not Redis.
	subscribeBuffer = 128
)

// SignalBus carries trade events and action lifecycle updates between
// processes. Pub/Sub covers live fan-out, streams cover replayable history.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus on the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Raw()}
}

// Publish fans a payload out to every live subscriber of the channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription and returns a channel of raw
// payloads. Glob-style channel names ("actions:*") use pattern matching.
// The subscription and the returned channel are torn down when ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscription confirmation so callers never publish into
	// a channel nobody is listening on yet.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
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

// StreamAppend records a payload on a durable stream.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRecent returns up to count of the newest entries, oldest first. An
// empty or missing stream yields a nil slice, not an error.
func (sb *SignalBus) StreamRecent(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	entries, err := sb.rdb.XRevRangeN(ctx, stream, "+", "-", int64(count)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	// XREVRANGE returns newest first; flip to chronological order.
	var messages []domain.StreamMessage
	for i := len(entries) - 1; i >= 0; i-- {
		data, ok := streamPayload(entries[i].Values)
		if !ok {
			continue
		}
		messages = append(messages, domain.StreamMessage{ID: entries[i].ID, Payload: data})
	}
	return messages, nil
}

func streamPayload(values map[string]interface{}) ([]byte, bool) {
	switch v := values["payload"].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
