package queue

import (
	"context"

	"github.com/replyhawk/mentiond/internal/domain/mention"
)

// ConsumerFunc handles one delivered job. Returning an error makes the job
// eligible for redelivery per the queue's retry policy, so implementations
// must be idempotent with respect to job retries.
type ConsumerFunc func(ctx context.Context, job *mention.DispatchJob) error

// Queue is a durable at-least-once work queue decoupling "event arrived"
// from "command executed".
type Queue interface {
	// Enqueue durably adds a job. Jobs are enqueued exactly once per
	// uniquely-claimed event; the claim store upstream guarantees that.
	Enqueue(ctx context.Context, job *mention.DispatchJob) error

	// Consume blocks, invoking fn once per delivered job until ctx is
	// cancelled. A failed job is retried up to the attempt limit, then
	// dead-lettered.
	Consume(ctx context.Context, fn ConsumerFunc) error

	// Len returns the number of pending jobs.
	Len(ctx context.Context) (int64, error)

	Close() error
}
