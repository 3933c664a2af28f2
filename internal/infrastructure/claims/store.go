package claims

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/domain/errors"
)

// Record is one durable claim. At most one record ever exists per event id;
// creating it is the linearization point that decides which source owns the
// event.
type Record struct {
	EventID        string    `json:"event_id"`
	FirstClaimedAt time.Time `json:"first_claimed_at"`
}

// Backend persists claim records. Implementations must make Persist durable
// before returning.
type Backend interface {
	Persist(ctx context.Context, rec Record) error
	Remove(ctx context.Context, eventIDs []string) error
	LoadAll(ctx context.Context) ([]Record, error)
	Close() error
}

// Store is the idempotency store shared by every ingest source. The in-memory
// set is authoritative for the running process; the backend makes claims
// survive restarts. Persistence failures degrade the store to memory-only
// semantics rather than failing the claim.
type Store struct {
	backend Backend
	logger  *zap.Logger
	maxSize int

	mu      sync.Mutex
	claimed map[string]time.Time
	order   []string // event ids in claim order, oldest first
	loaded  bool

	persistFailures int64
}

// NewStore creates a claim store with the given retention cap.
func NewStore(backend Backend, maxSize int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		return nil, errors.NewInternalError("logger is required")
	}
	if backend == nil {
		return nil, errors.NewInternalError("backend is required")
	}
	if maxSize <= 0 {
		return nil, errors.NewValidationError("INVALID_MAX_SIZE", "claim store max size must be positive")
	}

	return &Store{
		backend: backend,
		logger:  logger,
		maxSize: maxSize,
		claimed: make(map[string]time.Time),
	}, nil
}

// Load reloads the retained claim set from the backend. It must complete
// before any source is permitted to claim; skipping it would allow duplicate
// dispatch across a restart.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.backend.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "loading claim records")
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].FirstClaimedAt.Before(records[j].FirstClaimedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.claimed = make(map[string]time.Time, len(records))
	s.order = make([]string, 0, len(records))
	for _, rec := range records {
		if _, exists := s.claimed[rec.EventID]; exists {
			continue
		}
		s.claimed[rec.EventID] = rec.FirstClaimedAt
		s.order = append(s.order, rec.EventID)
	}
	s.loaded = true

	s.logger.Info("claim store loaded",
		zap.Int("records", len(s.claimed)),
		zap.Int("max_size", s.maxSize))

	return nil
}

// Claim atomically checks and claims an event id. Exactly one caller wins
// for any id, under any interleaving of concurrent calls.
func (s *Store) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.NewValidationError("EVENT_ID_REQUIRED", "event id is required")
	}

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return false, errors.ErrStoreNotLoaded
	}

	if _, exists := s.claimed[eventID]; exists {
		s.mu.Unlock()
		return false, nil
	}

	now := time.Now().UTC()
	s.claimed[eventID] = now
	s.order = append(s.order, eventID)
	evicted := s.evictLocked()
	s.mu.Unlock()

	rec := Record{EventID: eventID, FirstClaimedAt: now}
	if err := s.backend.Persist(ctx, rec); err != nil {
		// Memory-only from here on for this id: duplicates become possible
		// across a restart, but the claim itself stands.
		s.mu.Lock()
		s.persistFailures++
		s.mu.Unlock()
		s.logger.Error("claim persistence failed, continuing in-memory",
			zap.String("event_id", eventID),
			zap.Error(err))
	}

	if len(evicted) > 0 {
		if err := s.backend.Remove(ctx, evicted); err != nil {
			s.logger.Warn("failed to remove evicted claims from backend",
				zap.Int("count", len(evicted)),
				zap.Error(err))
		}
	}

	return true, nil
}

// IsClaimed reports whether an id is currently retained as claimed.
func (s *Store) IsClaimed(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.claimed[eventID]
	return exists
}

// Size returns the number of retained claims.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claimed)
}

// Stats returns claim store statistics.
func (s *Store) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"size":             len(s.claimed),
		"max_size":         s.maxSize,
		"loaded":           s.loaded,
		"persist_failures": s.persistFailures,
	}
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// evictLocked drops oldest claims beyond the cap and returns the evicted ids.
// Caller holds s.mu.
func (s *Store) evictLocked() []string {
	if len(s.claimed) <= s.maxSize {
		return nil
	}

	over := len(s.claimed) - s.maxSize
	evicted := make([]string, 0, over)
	for _, id := range s.order[:over] {
		if _, exists := s.claimed[id]; exists {
			delete(s.claimed, id)
			evicted = append(evicted, id)
		}
	}
	s.order = s.order[over:]

	return evicted
}
