package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/domain/mention"
)

// RedisQueue is a durable at-least-once queue on a Redis list pair. Pending
// jobs live in one list; a consumed job is moved to a processing list first
// and removed only after the consumer returns, so a consumer crash leaves
// the job recoverable.
type RedisQueue struct {
	client      *redis.Client
	logger      *zap.Logger
	dlq         *DeadLetterQueue
	name        string
	processing  string
	maxAttempts int
	popTimeout  time.Duration
}

// RedisQueueConfig configures a RedisQueue.
type RedisQueueConfig struct {
	Name        string
	MaxAttempts int
	PopTimeout  time.Duration
}

// NewRedisQueue creates a Redis-backed dispatch queue.
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig, dlq *DeadLetterQueue, logger *zap.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}

	return &RedisQueue{
		client:      client,
		logger:      logger,
		dlq:         dlq,
		name:        cfg.Name,
		processing:  cfg.Name + ":processing",
		maxAttempts: cfg.MaxAttempts,
		popTimeout:  cfg.PopTimeout,
	}, nil
}

// Enqueue durably adds a job to the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, job *mention.DispatchJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling dispatch job: %w", err)
	}

	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush failed: %w", err)
	}

	q.logger.Debug("job enqueued",
		zap.String("job_id", job.JobID.String()),
		zap.String("event_id", job.Event.EventID),
		zap.String("discovered_via", string(job.DiscoveredVia)))

	return nil
}

// Consume blocks delivering jobs to fn until ctx is cancelled.
func (q *RedisQueue) Consume(ctx context.Context, fn ConsumerFunc) error {
	if fn == nil {
		return fmt.Errorf("consumer func is required")
	}

	// Jobs stranded in the processing list by a previous crash are
	// redelivered before anything new.
	if err := q.recover(ctx); err != nil {
		q.logger.Warn("failed to recover in-flight jobs", zap.Error(err))
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := q.client.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", q.popTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			q.logger.Error("queue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		q.handle(ctx, raw, fn)
	}
}

func (q *RedisQueue) handle(ctx context.Context, raw string, fn ConsumerFunc) {
	defer func() {
		// The raw payload is removed from processing whatever happens;
		// retries are re-enqueued with an incremented attempt.
		if err := q.client.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
			q.logger.Warn("failed to remove job from processing list", zap.Error(err))
		}
	}()

	var job mention.DispatchJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.logger.Error("dropping undecodable job payload", zap.Error(err))
		return
	}

	if err := fn(ctx, &job); err != nil {
		q.retry(ctx, &job, err)
		return
	}

	q.logger.Debug("job completed",
		zap.String("job_id", job.JobID.String()),
		zap.Int("attempt", job.Attempt))
}

func (q *RedisQueue) retry(ctx context.Context, job *mention.DispatchJob, cause error) {
	if job.Attempt >= q.maxAttempts {
		q.logger.Error("job exhausted retries, dead-lettering",
			zap.String("job_id", job.JobID.String()),
			zap.String("event_id", job.Event.EventID),
			zap.Int("attempts", job.Attempt),
			zap.Error(cause))
		if q.dlq != nil {
			q.dlq.Add(ctx, job, cause.Error())
		}
		return
	}

	job.Attempt++
	if err := q.Enqueue(ctx, job); err != nil {
		q.logger.Error("failed to requeue job",
			zap.String("job_id", job.JobID.String()),
			zap.Error(err))
		if q.dlq != nil {
			q.dlq.Add(ctx, job, "requeue failed: "+err.Error())
		}
		return
	}

	q.logger.Warn("job failed, requeued",
		zap.String("job_id", job.JobID.String()),
		zap.Int("attempt", job.Attempt),
		zap.Error(cause))
}

// recover moves any jobs left in the processing list back to pending.
func (q *RedisQueue) recover(ctx context.Context) error {
	for {
		raw, err := q.client.LMove(ctx, q.processing, q.name, "RIGHT", "LEFT").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		q.logger.Info("recovered in-flight job", zap.Int("payload_bytes", len(raw)))
	}
}

// Len returns the number of pending jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	return n, nil
}

// Close is a no-op; the shared client is owned by the caller.
func (q *RedisQueue) Close() error {
	return nil
}
