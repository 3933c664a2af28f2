package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// claimIndexKey is a sorted set of claimed event ids scored by claim time,
// which gives LoadAll its oldest-first ordering for free.
const claimIndexKey = "mentiond:claims"

// RedisBackend persists claim records in a Redis sorted set.
type RedisBackend struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBackend creates a Redis-backed claim persistence layer.
func NewRedisBackend(client *redis.Client, logger *zap.Logger) (*RedisBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RedisBackend{client: client, logger: logger}, nil
}

// Persist durably records a claim. Uses ZADD NX so a replayed persist can
// never move an existing record's claim time.
func (b *RedisBackend) Persist(ctx context.Context, rec Record) error {
	err := b.client.ZAddNX(ctx, claimIndexKey, redis.Z{
		Score:  float64(rec.FirstClaimedAt.UnixNano()),
		Member: rec.EventID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis zadd failed: %w", err)
	}
	return nil
}

// Remove deletes evicted claim records.
func (b *RedisBackend) Remove(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	members := make([]interface{}, len(eventIDs))
	for i, id := range eventIDs {
		members[i] = id
	}

	if err := b.client.ZRem(ctx, claimIndexKey, members...).Err(); err != nil {
		return fmt.Errorf("redis zrem failed: %w", err)
	}
	return nil
}

// LoadAll returns every retained claim record, oldest first.
func (b *RedisBackend) LoadAll(ctx context.Context) ([]Record, error) {
	entries, err := b.client.ZRangeWithScores(ctx, claimIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		id, ok := entry.Member.(string)
		if !ok {
			continue
		}
		records = append(records, Record{
			EventID:        id,
			FirstClaimedAt: time.Unix(0, int64(entry.Score)).UTC(),
		})
	}

	return records, nil
}

// Close is a no-op; the shared client is owned by the caller.
func (b *RedisBackend) Close() error {
	return nil
}
