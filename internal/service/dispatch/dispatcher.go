package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/domain/mention"
)

// Dispatcher executes the command carried by one dispatch job. It is an
// external collaborator; implementations own command parsing, handler
// execution, and user-facing failure text. Dispatch must be idempotent with
// respect to job retries: the queue may redeliver a job whose previous
// attempt crashed mid-flight.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *mention.DispatchJob) error
}

// Func adapts a plain function to the Dispatcher interface.
type Func func(ctx context.Context, job *mention.DispatchJob) error

func (f Func) Dispatch(ctx context.Context, job *mention.DispatchJob) error {
	return f(ctx, job)
}

// LoggingDispatcher logs each job and does nothing else. Default wiring
// until a real command executor is attached.
type LoggingDispatcher struct {
	logger *zap.Logger
}

func NewLoggingDispatcher(logger *zap.Logger) *LoggingDispatcher {
	return &LoggingDispatcher{logger: logger}
}

func (d *LoggingDispatcher) Dispatch(ctx context.Context, job *mention.DispatchJob) error {
	d.logger.Info("dispatching mention command",
		zap.String("job_id", job.JobID.String()),
		zap.String("event_id", job.Event.EventID),
		zap.String("author_id", job.Event.AuthorID),
		zap.String("discovered_via", string(job.DiscoveredVia)),
		zap.Int("attempt", job.Attempt))
	return nil
}
