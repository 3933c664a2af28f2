package main

import (
	"context"
	"flag"
	"log"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/replyhawk/mentiond/internal/api/rest"
	"github.com/replyhawk/mentiond/internal/infrastructure/cache"
	"github.com/replyhawk/mentiond/internal/infrastructure/claims"
	"github.com/replyhawk/mentiond/internal/infrastructure/config"
	"github.com/replyhawk/mentiond/internal/infrastructure/database"
	"github.com/replyhawk/mentiond/internal/infrastructure/queue"
	"github.com/replyhawk/mentiond/internal/infrastructure/telemetry"
	"github.com/replyhawk/mentiond/internal/metrics"
	"github.com/replyhawk/mentiond/internal/service/dispatch"
	"github.com/replyhawk/mentiond/internal/service/ingest"
	"github.com/replyhawk/mentiond/internal/service/poll"
	"github.com/replyhawk/mentiond/internal/service/stream"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := cache.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Idempotency claim store. The in-memory set is authoritative; the
	// configured backend makes it survive restarts.
	var backend claims.Backend
	switch cfg.Claims.Backend {
	case "redis":
		backend, err = claims.NewRedisBackend(redisClient, logger)
	case "postgres":
		var pool *pgxpool.Pool
		pool, err = database.NewPool(ctx, &cfg.Postgres, logger)
		if err == nil {
			backend, err = claims.NewPostgresBackend(ctx, pool, logger)
		}
	default:
		backend = claims.NewMemoryBackend()
	}
	if err != nil {
		logger.Fatal("failed to initialize claim backend",
			zap.String("backend", cfg.Claims.Backend),
			zap.Error(err))
	}

	store, err := claims.NewStore(backend, cfg.Claims.MaxSize, logger)
	if err != nil {
		logger.Fatal("failed to create claim store", zap.Error(err))
	}
	if err := store.Load(ctx); err != nil {
		logger.Fatal("failed to load claim store", zap.Error(err))
	}
	defer store.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsReg := metrics.NewRegistry(promReg)

	dlq := queue.NewDeadLetterQueue(cfg.Queue.DeadLetter.MaxSize, logger)
	q, err := queue.NewRedisQueue(redisClient, queue.RedisQueueConfig{
		Name:        cfg.Queue.Name,
		MaxAttempts: cfg.Queue.MaxAttempts,
		PopTimeout:  cfg.Queue.PopTimeout,
	}, dlq, logger)
	if err != nil {
		logger.Fatal("failed to create dispatch queue", zap.Error(err))
	}
	defer q.Close()

	dispatcher := dispatch.NewLoggingDispatcher(logger)

	ingestor, err := ingest.NewIngestor(store, q, dispatcher, metricsReg, logger)
	if err != nil {
		logger.Fatal("failed to create ingestor", zap.Error(err))
	}

	cursorStore, err := poll.NewRedisCursorStore(redisClient)
	if err != nil {
		logger.Fatal("failed to create cursor store", zap.Error(err))
	}
	searchClient := poll.NewHTTPSearchClient(cfg.Poll.URL, cfg.Stream.BearerToken, cfg.Poll.Query)
	pollCtrl, err := poll.NewController(searchClient, cursorStore, ingestor, poll.Config{
		Interval: cfg.Poll.Interval,
		PageSize: cfg.Poll.PageSize,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create poll controller", zap.Error(err))
	}

	streamMgr, err := stream.NewManager(
		stream.NewHTTPClient(cfg.Stream.URL, cfg.Stream.BearerToken),
		stream.NewHTTPRulesAPI(cfg.Stream.RulesURL, cfg.Stream.BearerToken),
		ingestor,
		stream.Config{
			RuleValue:         cfg.Stream.RuleValue,
			RuleTag:           cfg.Stream.RuleTag,
			LivenessInterval:  cfg.Stream.LivenessInterval,
			LivenessTimeout:   cfg.Stream.LivenessTimeout,
			FallbackThreshold: cfg.Stream.FallbackThreshold,
		},
		metricsReg, logger)
	if err != nil {
		logger.Fatal("failed to create stream manager", zap.Error(err))
	}
	// When the stream is struggling, ask the poller to cover the gap now
	// instead of waiting out its interval.
	streamMgr.OnFallback = pollCtrl.Nudge

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingestor.RunConsumer(ctx); err != nil && ctx.Err() == nil {
			logger.Error("queue consumer stopped", zap.Error(err))
		}
	}()

	if cfg.Stream.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := streamMgr.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("stream manager stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Poll.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pollCtrl.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("poll controller stopped", zap.Error(err))
			}
		}()
	}

	server := rest.NewServer(cfg, logger, rest.ServerOptions{
		Ingestor: ingestor,
		Stream:   streamMgr,
		Queue:    q,
		Store:    store,
		Metrics:  metricsReg,
		Gatherer: promReg,
	})

	// Blocks until a shutdown signal arrives; the sources drain afterwards.
	if err := server.Start(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	cancel()
	wg.Wait()

	logger.Info("shutdown complete")
}
