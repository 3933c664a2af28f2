package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/domain/errors"
	"github.com/replyhawk/mentiond/internal/domain/mention"
	"github.com/replyhawk/mentiond/internal/infrastructure/claims"
	"github.com/replyhawk/mentiond/internal/infrastructure/queue"
	"github.com/replyhawk/mentiond/internal/metrics"
	"github.com/replyhawk/mentiond/internal/service/dispatch"
)

// Ingestor is the shared claim-then-enqueue path behind all three sources.
// Whichever source wins the claim enqueues the job; everyone else sees a
// duplicate and walks away. If the queue is unavailable the job is handed to
// the dispatcher inline rather than dropped.
type Ingestor struct {
	store      *claims.Store
	queue      queue.Queue
	dispatcher dispatch.Dispatcher
	metrics    *metrics.Registry
	logger     *zap.Logger
}

// NewIngestor creates the shared ingest path.
func NewIngestor(store *claims.Store, q queue.Queue, d dispatch.Dispatcher, m *metrics.Registry, logger *zap.Logger) (*Ingestor, error) {
	if store == nil {
		return nil, errors.NewInternalError("claim store is required")
	}
	if q == nil {
		return nil, errors.NewInternalError("queue is required")
	}
	if d == nil {
		return nil, errors.NewInternalError("dispatcher is required")
	}
	if logger == nil {
		return nil, errors.NewInternalError("logger is required")
	}

	return &Ingestor{
		store:      store,
		queue:      q,
		dispatcher: d,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Submit runs one candidate event through claim and enqueue. It returns
// true when this call won the claim and produced a dispatch job.
func (i *Ingestor) Submit(ctx context.Context, ev mention.Event, via mention.Source) (bool, error) {
	if i.metrics != nil {
		i.metrics.EventsReceived.WithLabelValues(string(via)).Inc()
	}

	if _, err := ev.Author(); err != nil {
		i.logger.Warn("dropping event without author identity",
			zap.String("event_id", ev.EventID),
			zap.String("source", string(via)))
		if i.metrics != nil {
			i.metrics.EventsDropped.WithLabelValues("author_missing").Inc()
		}
		return false, nil
	}

	claimed, err := i.store.Claim(ctx, ev.EventID)
	if err != nil {
		return false, errors.Wrap(err, "claiming event")
	}
	if !claimed {
		i.logger.Debug("event already claimed",
			zap.String("event_id", ev.EventID),
			zap.String("source", string(via)))
		if i.metrics != nil {
			i.metrics.DuplicatesSuppressed.WithLabelValues(string(via)).Inc()
		}
		return false, nil
	}

	if i.metrics != nil {
		i.metrics.ClaimsWon.WithLabelValues(string(via)).Inc()
	}

	job := mention.NewDispatchJob(ev, via)
	if err := i.queue.Enqueue(ctx, job); err != nil {
		// Queue unavailable: degrade to synchronous inline dispatch rather
		// than dropping a claimed event.
		i.logger.Error("enqueue failed, dispatching inline",
			zap.String("job_id", job.JobID.String()),
			zap.String("event_id", ev.EventID),
			zap.Error(err))
		if i.metrics != nil {
			i.metrics.InlineDispatches.Inc()
		}
		if derr := i.dispatcher.Dispatch(ctx, job); derr != nil {
			i.logger.Error("inline dispatch failed",
				zap.String("job_id", job.JobID.String()),
				zap.Error(derr))
			return true, errors.Wrap(derr, "inline dispatch")
		}
		return true, nil
	}

	if i.metrics != nil {
		i.metrics.JobsEnqueued.Inc()
	}

	i.logger.Info("event claimed and enqueued",
		zap.String("event_id", ev.EventID),
		zap.String("job_id", job.JobID.String()),
		zap.String("discovered_via", string(via)))

	return true, nil
}

// RunConsumer drives the queue consumer loop, delivering each job to the
// dispatcher exactly once per attempt. Per-job failures are isolated; the
// loop runs until ctx is cancelled.
func (i *Ingestor) RunConsumer(ctx context.Context) error {
	return i.queue.Consume(ctx, func(ctx context.Context, job *mention.DispatchJob) error {
		if err := i.dispatcher.Dispatch(ctx, job); err != nil {
			if i.metrics != nil {
				i.metrics.JobsFailed.Inc()
			}
			i.logger.Error("dispatcher failed",
				zap.String("job_id", job.JobID.String()),
				zap.String("event_id", job.Event.EventID),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			return err
		}
		if i.metrics != nil {
			i.metrics.JobsDispatched.Inc()
		}
		return nil
	})
}
