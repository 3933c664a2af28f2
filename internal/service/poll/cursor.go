package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CursorStore persists the "seen up to here" marker. The cursor is a fetch
// efficiency hint only; dispatch correctness belongs to the claim store.
type CursorStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, eventID string) error
}

const cursorKey = "mentiond:poll:cursor"

// RedisCursorStore keeps the cursor in a Redis string key.
type RedisCursorStore struct {
	client *redis.Client
}

func NewRedisCursorStore(client *redis.Client) (*RedisCursorStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisCursorStore{client: client}, nil
}

func (s *RedisCursorStore) Get(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, cursorKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis get cursor failed: %w", err)
	}
	return val, nil
}

func (s *RedisCursorStore) Set(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, cursorKey, eventID, 0).Err(); err != nil {
		return fmt.Errorf("redis set cursor failed: %w", err)
	}
	return nil
}

// MemoryCursorStore keeps the cursor in memory, for tests and degraded runs.
type MemoryCursorStore struct {
	mu     sync.Mutex
	cursor string
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{}
}

func (s *MemoryCursorStore) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *MemoryCursorStore) Set(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = eventID
	return nil
}
