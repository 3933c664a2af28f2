package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/domain/mention"
	"github.com/replyhawk/mentiond/internal/metrics"
)

// Phase is the connection state machine phase.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseBackoffWait  Phase = "backoff_wait"
)

// Submitter is the claim-then-enqueue path events are handed to.
type Submitter interface {
	Submit(ctx context.Context, ev mention.Event, via mention.Source) (bool, error)
}

// Status is the read-only connection snapshot exposed on the status surface.
type Status struct {
	Phase               Phase      `json:"phase"`
	IsConnected         bool       `json:"is_connected"`
	ReconnectAttempts   int64      `json:"reconnect_attempts"`
	EventsReceived      int64      `json:"events_received"`
	UptimeMs            int64      `json:"uptime_ms"`
	LastHeartbeatAt     *time.Time `json:"last_heartbeat_at,omitempty"`
	LastEventAt         *time.Time `json:"last_event_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// Config holds the manager's tunables.
type Config struct {
	RuleValue         string
	RuleTag           string
	LivenessInterval  time.Duration
	LivenessTimeout   time.Duration
	FallbackThreshold int
}

// Manager owns the long-lived streaming connection: remote rule sync,
// liveness monitoring, tiered reconnect backoff, and the fallback signal.
// All connection state is owned by the single Run goroutine; Status reads
// go through the mutex.
type Manager struct {
	client    Client
	rules     RulesAPI
	submitter Submitter
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Registry

	backoff     *tieredBackoff
	rulesSynced bool

	// OnFallback is invoked once each time the consecutive-failure count
	// crosses the threshold; it re-arms only after an intervening success.
	OnFallback func()

	mu                  sync.RWMutex
	phase               Phase
	reconnectAttempts   int64
	eventsReceived      int64
	consecutiveFailures int
	connectedAt         time.Time
	lastActivity        time.Time
	lastHeartbeatAt     *time.Time
	lastEventAt         *time.Time
	livenessExpired     bool
}

// NewManager creates a stream connection manager.
func NewManager(client Client, rules RulesAPI, submitter Submitter, cfg Config, m *metrics.Registry, logger *zap.Logger) (*Manager, error) {
	if client == nil || rules == nil || submitter == nil {
		return nil, errors.New("client, rules api, and submitter are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = 10 * time.Second
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 30 * time.Second
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = 5
	}

	return &Manager{
		client:    client,
		rules:     rules,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		backoff:   newTieredBackoff(),
		phase:     PhaseDisconnected,
	}, nil
}

// Run drives the connection state machine until ctx is cancelled. Failures
// are never fatal; every disconnection is classified into a backoff tier and
// retried.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			m.setPhase(PhaseDisconnected)
			return err
		}

		m.setPhase(PhaseConnecting)
		err := m.connectOnce(ctx)
		if ctx.Err() != nil {
			m.setPhase(PhaseDisconnected)
			return ctx.Err()
		}

		tier := m.classify(err)
		delay := m.backoff.next(tier)
		m.recordFailure()

		if m.metrics != nil {
			m.metrics.StreamReconnects.WithLabelValues(tier.String()).Inc()
		}
		m.logger.Warn("stream disconnected",
			zap.String("tier", tier.String()),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		m.setPhase(PhaseBackoffWait)
		select {
		case <-ctx.Done():
			m.setPhase(PhaseDisconnected)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// connectOnce syncs rules if needed, establishes one connection, and reads
// it until it dies. A nil return never happens in practice; the stream only
// ends by failing.
func (m *Manager) connectOnce(ctx context.Context) error {
	if !m.rulesSynced {
		if err := SyncRules(ctx, m.rules, m.cfg.RuleValue, m.cfg.RuleTag, m.logger); err != nil {
			return err
		}
		m.rulesSynced = true
	}

	m.mu.Lock()
	m.reconnectAttempts++
	m.livenessExpired = false
	m.mu.Unlock()

	body, err := m.client.Connect(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	m.onConnected()

	// Watchdog: aborts the blocked read by closing the body when the
	// connection goes silent past the liveness timeout.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go m.watchLiveness(ctx, body, watchdogDone)

	readErr := m.readLoop(ctx, body)

	m.mu.Lock()
	expired := m.livenessExpired
	m.mu.Unlock()
	if expired {
		return errLivenessTimeout
	}
	return readErr
}

var errLivenessTimeout = errors.New("stream liveness timeout")

func (m *Manager) watchLiveness(ctx context.Context, body io.Closer, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			body.Close()
			return
		case <-ticker.C:
			m.mu.Lock()
			silent := time.Since(m.lastActivity)
			if silent > m.cfg.LivenessTimeout {
				m.livenessExpired = true
				m.mu.Unlock()
				m.logger.Warn("stream liveness timeout, aborting connection",
					zap.Duration("silent_for", silent))
				body.Close()
				return
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			m.onHeartbeat()
			continue
		}

		m.onEvent()

		ev, err := mention.ParseStreamPayload([]byte(line))
		if err != nil {
			m.logger.Warn("skipping undecodable stream payload", zap.Error(err))
			continue
		}

		if _, err := m.submitter.Submit(ctx, ev, mention.SourceStream); err != nil {
			m.logger.Error("failed to submit stream event",
				zap.String("event_id", ev.EventID),
				zap.Error(err))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (m *Manager) onConnected() {
	now := time.Now()

	m.mu.Lock()
	m.phase = PhaseConnected
	m.connectedAt = now
	m.lastActivity = now
	m.consecutiveFailures = 0
	m.mu.Unlock()

	m.backoff.reset()

	if m.metrics != nil {
		m.metrics.StreamConnected.Set(1)
	}
	m.logger.Info("stream connected")
}

func (m *Manager) onHeartbeat() {
	now := time.Now()
	m.mu.Lock()
	m.lastActivity = now
	m.lastHeartbeatAt = &now
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Heartbeats.Inc()
	}
}

func (m *Manager) onEvent() {
	now := time.Now()
	m.mu.Lock()
	m.lastActivity = now
	m.lastEventAt = &now
	m.eventsReceived++
	m.mu.Unlock()
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	m.consecutiveFailures++
	fire := m.consecutiveFailures == m.cfg.FallbackThreshold
	count := m.consecutiveFailures
	m.mu.Unlock()

	if fire {
		m.logger.Warn("consecutive stream failures crossed threshold, signaling fallback",
			zap.Int("failures", count))
		if m.metrics != nil {
			m.metrics.FallbackSignals.Inc()
		}
		if m.OnFallback != nil {
			m.OnFallback()
		}
	}
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()

	if m.metrics != nil && p != PhaseConnected {
		m.metrics.StreamConnected.Set(0)
	}
}

// classify maps a disconnection cause to its backoff tier.
func (m *Manager) classify(err error) FailureTier {
	if errors.Is(err, errLivenessTimeout) {
		return TierTCP
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == 429 {
			return TierRateLimit
		}
		return TierHTTP
	}

	return TierTCP
}

// Status returns the current connection snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var uptimeMs int64
	if m.phase == PhaseConnected && !m.connectedAt.IsZero() {
		uptimeMs = time.Since(m.connectedAt).Milliseconds()
	}

	return Status{
		Phase:               m.phase,
		IsConnected:         m.phase == PhaseConnected,
		ReconnectAttempts:   m.reconnectAttempts,
		EventsReceived:      m.eventsReceived,
		UptimeMs:            uptimeMs,
		LastHeartbeatAt:     m.lastHeartbeatAt,
		LastEventAt:         m.lastEventAt,
		ConsecutiveFailures: m.consecutiveFailures,
	}
}
