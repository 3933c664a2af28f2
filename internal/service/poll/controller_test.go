package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/replyhawk/mentiond/internal/domain/mention"
	"github.com/replyhawk/mentiond/internal/infrastructure/claims"
)

// fakeSearchClient serves a scripted page per since-id.
type fakeSearchClient struct {
	mu       sync.Mutex
	pages    map[string][]mention.Event
	lastSince string
	calls    int
}

func (f *fakeSearchClient) Search(ctx context.Context, sinceID string, pageSize int) ([]mention.Event, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastSince = sinceID

	events := f.pages[sinceID]
	if len(events) > pageSize {
		events = events[:pageSize]
	}
	if len(events) == 0 {
		return nil, "", nil
	}
	return events, events[len(events)-1].EventID, nil
}

// claimingSubmitter runs events through a real claim store so tests cover
// the claimed/duplicate split.
type claimingSubmitter struct {
	store *claims.Store
	mu    sync.Mutex
	won   []string
}

func (s *claimingSubmitter) Submit(ctx context.Context, ev mention.Event, via mention.Source) (bool, error) {
	claimed, err := s.store.Claim(ctx, ev.EventID)
	if err != nil {
		return false, err
	}
	if claimed {
		s.mu.Lock()
		s.won = append(s.won, ev.EventID)
		s.mu.Unlock()
	}
	return claimed, nil
}

func (s *claimingSubmitter) wins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.won...)
}

func pollEvent(id string) mention.Event {
	return mention.Event{
		EventID:       id,
		AuthorID:      "u1",
		IncludedUsers: []mention.UserRef{{ID: "u1", Username: "alice"}},
	}
}

func newClaimStore(t *testing.T) *claims.Store {
	t.Helper()
	store, err := claims.NewStore(claims.NewMemoryBackend(), 1000, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))
	return store
}

func TestCycleClaimsNewAndAdvancesCursor(t *testing.T) {
	// Of 5 fetched events, 2 are already claimed: exactly 3 new jobs, and
	// the cursor lands on the newest of all 5.
	store := newClaimStore(t)
	ctx := context.Background()

	for _, id := range []string{"102", "104"} {
		claimed, err := store.Claim(ctx, id)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	client := &fakeSearchClient{pages: map[string][]mention.Event{
		"": {pollEvent("101"), pollEvent("102"), pollEvent("103"), pollEvent("104"), pollEvent("105")},
	}}
	cursor := NewMemoryCursorStore()
	sub := &claimingSubmitter{store: store}

	c, err := NewController(client, cursor, sub, Config{Interval: time.Minute, PageSize: 10}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, c.Cycle(ctx))

	assert.ElementsMatch(t, []string{"101", "103", "105"}, sub.wins())

	got, err := cursor.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "105", got)
}

func TestCyclePassesCursorAsSinceID(t *testing.T) {
	store := newClaimStore(t)
	cursor := NewMemoryCursorStore()
	require.NoError(t, cursor.Set(context.Background(), "200"))

	client := &fakeSearchClient{pages: map[string][]mention.Event{
		"200": {pollEvent("201")},
	}}
	sub := &claimingSubmitter{store: store}

	c, err := NewController(client, cursor, sub, Config{Interval: time.Minute, PageSize: 10}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, c.Cycle(context.Background()))

	assert.Equal(t, "200", client.lastSince)
	assert.Equal(t, []string{"201"}, sub.wins())

	got, err := cursor.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "201", got)
}

func TestCycleEmptyPageLeavesCursorAlone(t *testing.T) {
	store := newClaimStore(t)
	cursor := NewMemoryCursorStore()
	require.NoError(t, cursor.Set(context.Background(), "300"))

	c, err := NewController(&fakeSearchClient{}, cursor, &claimingSubmitter{store: store},
		Config{Interval: time.Minute, PageSize: 10}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, c.Cycle(context.Background()))

	got, err := cursor.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "300", got)
}

func TestCycleRespectsPageSize(t *testing.T) {
	store := newClaimStore(t)
	client := &fakeSearchClient{pages: map[string][]mention.Event{
		"": {pollEvent("1"), pollEvent("2"), pollEvent("3")},
	}}
	sub := &claimingSubmitter{store: store}

	c, err := NewController(client, NewMemoryCursorStore(), sub, Config{Interval: time.Minute, PageSize: 2}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, c.Cycle(context.Background()))
	assert.Len(t, sub.wins(), 2)
}

func TestRunNudgeTriggersImmediateCycle(t *testing.T) {
	store := newClaimStore(t)
	client := &fakeSearchClient{pages: map[string][]mention.Event{
		"": {pollEvent("401")},
	}}
	sub := &claimingSubmitter{store: store}

	// A long interval so only the nudge can trigger the cycle.
	c, err := NewController(client, NewMemoryCursorStore(), sub, Config{Interval: time.Hour, PageSize: 10}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Nudge()

	require.Eventually(t, func() bool {
		return len(sub.wins()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not stop on cancellation")
	}
}

func TestRedisCursorStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store, err := NewRedisCursorStore(client)
	require.NoError(t, err)

	ctx := context.Background()

	// Missing cursor reads as empty, not an error.
	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.Set(ctx, "12345"))

	got, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "12345", got)
}
