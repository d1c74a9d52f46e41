package domain

import (
	"context"
	"time"
)

// RelationshipCache caches detector output per market set so repeated cycles
// over an unchanged universe skip re-detection until the entry expires.
// setKey is a digest of the sorted market IDs in the snapshot.
type RelationshipCache interface {
	Get(ctx context.Context, setKey string) ([]Relationship, error)
	Set(ctx context.Context, setKey string, rels []Relationship, ttl time.Duration) error
	Invalidate(ctx context.Context, setKey string) error
}

// MarketCache provides fast market lookups keyed by market and token ID.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	SetBatch(ctx context.Context, markets []Market) error
	Get(ctx context.Context, id string) (Market, error)
	GetByToken(ctx context.Context, tokenID string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
