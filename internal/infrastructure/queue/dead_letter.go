package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/domain/errors"
	"github.com/replyhawk/mentiond/internal/domain/mention"
)

// FailedJob is a dispatch job that exhausted its retries.
type FailedJob struct {
	Job       *mention.DispatchJob
	Reason    string
	FirstFail time.Time
	LastFail  time.Time
}

// DeadLetterQueue holds jobs that exhausted their retries, bounded in size
// with oldest-first eviction.
type DeadLetterQueue struct {
	logger  *zap.Logger
	maxSize int

	failedJobs map[uuid.UUID]*FailedJob
	mu         sync.RWMutex

	totalAdded   int64
	totalRetried int64
	totalRemoved int64
}

// NewDeadLetterQueue creates a bounded in-memory dead letter queue.
func NewDeadLetterQueue(maxSize int, logger *zap.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{
		logger:     logger,
		maxSize:    maxSize,
		failedJobs: make(map[uuid.UUID]*FailedJob),
	}
}

// Add records a failed job.
func (q *DeadLetterQueue) Add(ctx context.Context, job *mention.DispatchJob, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.failedJobs) >= q.maxSize {
		q.removeOldest()
	}

	now := time.Now()

	if existing, exists := q.failedJobs[job.JobID]; exists {
		existing.Reason = reason
		existing.LastFail = now
		existing.Job = job

		q.logger.Debug("updated failed job in dead letter queue",
			zap.String("job_id", job.JobID.String()),
			zap.String("reason", reason))
		return
	}

	q.failedJobs[job.JobID] = &FailedJob{
		Job:       job,
		Reason:    reason,
		FirstFail: now,
		LastFail:  now,
	}
	q.totalAdded++

	q.logger.Info("added failed job to dead letter queue",
		zap.String("job_id", job.JobID.String()),
		zap.String("event_id", job.Event.EventID),
		zap.String("reason", reason),
		zap.Int("attempts", job.Attempt))
}

// GetFailed returns up to limit failed jobs, oldest failure first. A limit
// of zero or less returns everything.
func (q *DeadLetterQueue) GetFailed(ctx context.Context, limit int) []FailedJob {
	q.mu.RLock()
	defer q.mu.RUnlock()

	all := make([]*FailedJob, 0, len(q.failedJobs))
	for _, fj := range q.failedJobs {
		all = append(all, fj)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].LastFail.Before(all[j].LastFail)
	})

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	result := make([]FailedJob, len(all))
	for i, fj := range all {
		result[i] = *fj
	}
	return result
}

// Retry removes a job from the dead letter queue and returns it reset for
// re-enqueueing.
func (q *DeadLetterQueue) Retry(ctx context.Context, jobID uuid.UUID) (*mention.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	fj, exists := q.failedJobs[jobID]
	if !exists {
		return nil, errors.NewNotFoundError("failed job")
	}

	delete(q.failedJobs, jobID)
	q.totalRetried++

	job := fj.Job
	job.Attempt = 1

	q.logger.Info("retrying failed job from dead letter queue",
		zap.String("job_id", jobID.String()))

	return job, nil
}

// Remove permanently drops a failed job.
func (q *DeadLetterQueue) Remove(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.failedJobs[jobID]; !exists {
		return errors.NewNotFoundError("failed job")
	}

	delete(q.failedJobs, jobID)
	q.totalRemoved++

	q.logger.Info("removed failed job from dead letter queue",
		zap.String("job_id", jobID.String()))

	return nil
}

// Stats returns dead letter queue statistics.
func (q *DeadLetterQueue) Stats() map[string]interface{} {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return map[string]interface{}{
		"current_size":  len(q.failedJobs),
		"max_size":      q.maxSize,
		"total_added":   q.totalAdded,
		"total_retried": q.totalRetried,
		"total_removed": q.totalRemoved,
	}
}

func (q *DeadLetterQueue) removeOldest() {
	if len(q.failedJobs) == 0 {
		return
	}

	var oldestID uuid.UUID
	var oldestTime time.Time

	for jobID, fj := range q.failedJobs {
		if oldestTime.IsZero() || fj.FirstFail.Before(oldestTime) {
			oldestID = jobID
			oldestTime = fj.FirstFail
		}
	}

	delete(q.failedJobs, oldestID)

	q.logger.Debug("evicted oldest dead letter entry",
		zap.String("job_id", oldestID.String()))
}
