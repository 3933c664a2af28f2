package claims

import (
	"context"
	"sync"
)

// MemoryBackend keeps claim records in memory only. Useful for tests and as
// the degraded mode when no durable backend is configured; claims do not
// survive a restart.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryBackend creates an in-memory claim persistence layer.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

func (b *MemoryBackend) Persist(ctx context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.records[rec.EventID]; !exists {
		b.records[rec.EventID] = rec
	}
	return nil
}

func (b *MemoryBackend) Remove(ctx context.Context, eventIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range eventIDs {
		delete(b.records, id)
	}
	return nil
}

func (b *MemoryBackend) LoadAll(ctx context.Context) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	records := make([]Record, 0, len(b.records))
	for _, rec := range b.records {
		records = append(records, rec)
	}
	return records, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
