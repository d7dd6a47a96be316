package domain

import (
	"context"
	"time"
)

// WalletCache holds recently analyzed wallet profiles so repeated trades
// from the same address skip the RPC round trip.
type WalletCache interface {
	Get(address string) (WalletProfile, bool)
	Set(address string, profile WalletProfile)
	Len() int
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. The stream half keeps a
// capped history of fresh alerts so late subscribers can replay what the
// fire-and-forget pub/sub already dropped.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRecent(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}

// Well-known bus channels.
const (
	ChannelEvents  = "polymarket:events"
	ChannelFresh   = "polymarket:fresh"
	ChannelActions = "actions:events"
)
