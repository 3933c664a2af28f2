package poll

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/domain/mention"
)

// Submitter is the claim-then-enqueue path events are handed to.
type Submitter interface {
	Submit(ctx context.Context, ev mention.Event, via mention.Source) (bool, error)
}

// Config holds the controller's tunables.
type Config struct {
	Interval time.Duration
	PageSize int
}

// Controller is the interval poll fallback. It is safe to run concurrently
// with the stream manager; coverage overlap is expected and resolved by the
// shared claim store.
type Controller struct {
	client    SearchClient
	cursor    CursorStore
	submitter Submitter
	cfg       Config
	logger    *zap.Logger
	nudge     chan struct{}
}

// NewController creates a poll controller.
func NewController(client SearchClient, cursor CursorStore, submitter Submitter, cfg Config, logger *zap.Logger) (*Controller, error) {
	if client == nil || cursor == nil || submitter == nil {
		return nil, errors.New("search client, cursor store, and submitter are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}

	return &Controller{
		client:    client,
		cursor:    cursor,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger,
		nudge:     make(chan struct{}, 1),
	}, nil
}

// Nudge requests an immediate poll cycle outside the regular interval.
// Wired to the stream manager's fallback signal. Non-blocking; a nudge
// while one is pending is coalesced.
func (c *Controller) Nudge() {
	select {
	case c.nudge <- struct{}{}:
	default:
	}
}

// Run drives the poll loop until ctx is cancelled. Cycle failures are
// logged and retried on the next tick, never fatal.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.nudge:
		}

		if err := c.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("poll cycle failed", zap.Error(err))
		}
	}
}

// Cycle runs one fetch-claim-enqueue pass. The cursor advances to the
// newest event observed regardless of claim outcome; it tracks "seen up to
// here", not dispatch correctness.
func (c *Controller) Cycle(ctx context.Context) error {
	sinceID, err := c.cursor.Get(ctx)
	if err != nil {
		return err
	}

	events, newestID, err := c.client.Search(ctx, sinceID, c.cfg.PageSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	claimed := 0
	for _, ev := range events {
		won, err := c.submitter.Submit(ctx, ev, mention.SourcePoll)
		if err != nil {
			c.logger.Error("failed to submit polled event",
				zap.String("event_id", ev.EventID),
				zap.Error(err))
			continue
		}
		if won {
			claimed++
		}
	}

	if newestID != "" {
		if err := c.cursor.Set(ctx, newestID); err != nil {
			c.logger.Warn("failed to persist poll cursor",
				zap.String("cursor", newestID),
				zap.Error(err))
		}
	}

	c.logger.Debug("poll cycle complete",
		zap.Int("fetched", len(events)),
		zap.Int("claimed", claimed),
		zap.String("cursor", newestID))

	return nil
}
