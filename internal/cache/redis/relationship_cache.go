package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dbontempi/arbot/internal/domain"
)

// RelationshipCache implements domain.RelationshipCache as a JSON blob per
// market set. setKey is a digest of the sorted market IDs in a snapshot, so
// any change to the universe naturally misses and triggers re-detection.
//
// Key schema:
//
//	rels:{setKey} - JSON array of relationships
type RelationshipCache struct {
	rdb *redis.Client
}

// NewRelationshipCache creates a RelationshipCache backed by the given Client.
func NewRelationshipCache(c *Client) *RelationshipCache {
	return &RelationshipCache{rdb: c.Underlying()}
}

func relsKey(setKey string) string { return "rels:" + setKey }

// Get returns the cached relationships for a market set.
// It returns domain.ErrNotFound when no entry exists or it has expired.
func (rc *RelationshipCache) Get(ctx context.Context, setKey string) ([]domain.Relationship, error) {
	data, err := rc.rdb.Get(ctx, relsKey(setKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get relationships %s: %w", setKey, err)
	}

	var rels []domain.Relationship
	if err := json.Unmarshal(data, &rels); err != nil {
		return nil, fmt.Errorf("redis: unmarshal relationships %s: %w", setKey, err)
	}
	return rels, nil
}

// Set stores the detector output for a market set with the given TTL. An
// empty result is cached too so an inference run over a universe with no
// relationships is not repeated every cycle.
func (rc *RelationshipCache) Set(ctx context.Context, setKey string, rels []domain.Relationship, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(rels)
	if err != nil {
		return fmt.Errorf("redis: marshal relationships %s: %w", setKey, err)
	}
	if err := rc.rdb.Set(ctx, relsKey(setKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set relationships %s: %w", setKey, err)
	}
	return nil
}

// Invalidate removes the cached entry for a market set.
func (rc *RelationshipCache) Invalidate(ctx context.Context, setKey string) error {
	if err := rc.rdb.Del(ctx, relsKey(setKey)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate relationships %s: %w", setKey, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RelationshipCache = (*RelationshipCache)(nil)
