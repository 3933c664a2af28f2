package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/infrastructure/claims"
	"github.com/replyhawk/mentiond/internal/infrastructure/config"
	"github.com/replyhawk/mentiond/internal/infrastructure/queue"
	"github.com/replyhawk/mentiond/internal/metrics"
	"github.com/replyhawk/mentiond/internal/service/ingest"
	"github.com/replyhawk/mentiond/internal/service/stream"
)

// StreamStatuser reports the live state of the stream connection.
type StreamStatuser interface {
	Status() stream.Status
}

// Server is the HTTP surface: webhook delivery, status, health, metrics.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	ingestor   *ingest.Ingestor
	stream     StreamStatuser
	queue      queue.Queue
	store      *claims.Store
	metrics    *metrics.Registry
	gatherer   prometheus.Gatherer
	httpServer *http.Server
}

// ServerOptions carries the dependencies the HTTP layer exposes.
type ServerOptions struct {
	Ingestor *ingest.Ingestor
	Stream   StreamStatuser
	Queue    queue.Queue
	Store    *claims.Store
	Metrics  *metrics.Registry
	Gatherer prometheus.Gatherer
}

func NewServer(cfg *config.Config, logger *zap.Logger, opts ServerOptions) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		ingestor: opts.Ingestor,
		stream:   opts.Stream,
		queue:    opts.Queue,
		store:    opts.Store,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	var handler http.Handler = mux
	middlewares := []Middleware{
		requestIDMiddleware,
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
		timeoutMiddleware(cfg.Server.ReadTimeout),
		tracingMiddleware(otel.Tracer("mentiond.rest")),
	}
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/mentions", s.handleWebhook)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler exposes the fully wrapped handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the server until ctx is cancelled or a signal arrives.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		return s.Shutdown()
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests before closing.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.cfg.Version,
	})
}

type statusResponse struct {
	Stream     stream.Status  `json:"stream"`
	QueueDepth int64          `json:"queue_depth"`
	Claims     map[string]any `json:"claims"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	resp := statusResponse{}
	if s.stream != nil {
		resp.Stream = s.stream.Status()
	}
	if s.queue != nil {
		depth, err := s.queue.Len(r.Context())
		if err != nil {
			s.logger.Warn("queue depth unavailable", zap.Error(err))
		} else {
			resp.QueueDepth = depth
			if s.metrics != nil {
				s.metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
	if s.store != nil {
		resp.Claims = s.store.Stats()
		if s.metrics != nil {
			s.metrics.ClaimStoreSize.Set(float64(s.store.Size()))
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
