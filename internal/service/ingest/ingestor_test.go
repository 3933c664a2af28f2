package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/replyhawk/mentiond/internal/domain/mention"
	"github.com/replyhawk/mentiond/internal/infrastructure/claims"
	"github.com/replyhawk/mentiond/internal/infrastructure/queue"
	"github.com/replyhawk/mentiond/internal/service/dispatch"
)

// stubQueue records enqueued jobs in memory, optionally failing every call.
type stubQueue struct {
	mu    sync.Mutex
	jobs  []*mention.DispatchJob
	fail  bool
}

func (q *stubQueue) Enqueue(ctx context.Context, job *mention.DispatchJob) error {
	if q.fail {
		return fmt.Errorf("queue backend unavailable")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) Consume(ctx context.Context, fn queue.ConsumerFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func (q *stubQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}

func (q *stubQueue) Close() error { return nil }

func (q *stubQueue) enqueued() []*mention.DispatchJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*mention.DispatchJob(nil), q.jobs...)
}

func newTestStore(t *testing.T) *claims.Store {
	t.Helper()
	store, err := claims.NewStore(claims.NewMemoryBackend(), 1000, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))
	return store
}

func testEvent(id string) mention.Event {
	return mention.Event{
		EventID:       id,
		AuthorID:      "u1",
		Text:          "@bot help",
		IncludedUsers: []mention.UserRef{{ID: "u1", Username: "alice"}},
	}
}

func TestSubmitExactlyOnceAcrossSources(t *testing.T) {
	// The same event raced through stream, poll, and webhook paths in
	// every order must produce exactly one dispatch job.
	store := newTestStore(t)
	q := &stubQueue{}

	ing, err := NewIngestor(store, q, dispatch.NewLoggingDispatcher(zaptest.NewLogger(t)), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	sources := []mention.Source{mention.SourceStream, mention.SourcePoll, mention.SourceWebhook}

	var wg sync.WaitGroup
	var wins int64
	for _, via := range sources {
		for rep := 0; rep < 4; rep++ {
			wg.Add(1)
			go func(via mention.Source) {
				defer wg.Done()
				won, err := ing.Submit(ctx, testEvent("evt-42"), via)
				assert.NoError(t, err)
				if won {
					atomic.AddInt64(&wins, 1)
				}
			}(via)
		}
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)

	jobs := q.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, "evt-42", jobs[0].Event.EventID)
	assert.Equal(t, 1, jobs[0].Attempt)
}

func TestSubmitDistinctEvents(t *testing.T) {
	store := newTestStore(t)
	q := &stubQueue{}
	ing, err := NewIngestor(store, q, dispatch.NewLoggingDispatcher(zaptest.NewLogger(t)), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		won, err := ing.Submit(ctx, testEvent(fmt.Sprintf("evt-%d", i)), mention.SourcePoll)
		require.NoError(t, err)
		assert.True(t, won)
	}

	assert.Len(t, q.enqueued(), 5)
}

func TestSubmitDropsAuthorlessEvents(t *testing.T) {
	store := newTestStore(t)
	q := &stubQueue{}
	ing, err := NewIngestor(store, q, dispatch.NewLoggingDispatcher(zaptest.NewLogger(t)), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	ev := mention.Event{EventID: "evt-1", AuthorID: "ghost", Text: "hello"}
	won, err := ing.Submit(context.Background(), ev, mention.SourceStream)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Empty(t, q.enqueued())

	// The drop happened before claiming, so the id stays claimable.
	assert.False(t, store.IsClaimed("evt-1"))
}

func TestSubmitInlineDispatchWhenQueueUnavailable(t *testing.T) {
	store := newTestStore(t)
	q := &stubQueue{fail: true}

	var dispatched int64
	d := dispatch.Func(func(ctx context.Context, job *mention.DispatchJob) error {
		atomic.AddInt64(&dispatched, 1)
		return nil
	})

	ing, err := NewIngestor(store, q, d, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	won, err := ing.Submit(context.Background(), testEvent("evt-9"), mention.SourceWebhook)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, int64(1), atomic.LoadInt64(&dispatched))

	// The claim stands even though the queue was down, so the event will
	// not be double-dispatched when another source sees it.
	won, err = ing.Submit(context.Background(), testEvent("evt-9"), mention.SourceStream)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, int64(1), atomic.LoadInt64(&dispatched))
}
