package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"wallet-ledger/config"
	"wallet-ledger/internal/adapter/queue"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/bootstrap"
	"wallet-ledger/internal/observability"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load(os.Getenv("WLEDGER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("wallet-ledger-worker", cfg.Log.Level, cfg.Log.Pretty)
	if cfg.Ledger.Storage == config.StorageMemory {
		log.Fatal().Msg("the worker needs shared storage; ledger.storage=memory is API-only")
	}

	ctx := context.Background()

	st, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer st.Close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		go func() {
			log.Info().Str("addr", cfg.Metrics.WorkerAddr).Msg("metrics listening")
			if err := http.ListenAndServe(cfg.Metrics.WorkerAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	webhookSvc := service.NewWebhookService(st.Users, st.Deliveries, http.DefaultClient, cfg.Notifier.WebhookTimeout, metrics, log)
	guard := service.NewIdempotencyGuard(
		redisStorage.NewIdempotencyCache(rdb),
		st.Idempotency,
		cfg.Idempotency.TTL,
		cfg.Idempotency.ClaimTTL,
		metrics,
		log,
	)

	redisOpt := queue.RedisOpt(rdb.Options())
	qlog := queue.NewLogger(log)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    cfg.Notifier.Concurrency,
		Queues:         map[string]int{cfg.Notifier.Queue: 6, "default": 1},
		RetryDelayFunc: queue.RetryDelay(cfg.Notifier.Backoff),
		Logger:         qlog,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			log.Warn().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: qlog})
	entryID, err := scheduler.Register(cfg.Notifier.PurgeSchedule, queue.NewPurgeTask(),
		asynq.Queue(cfg.Notifier.Queue), asynq.Unique(cfg.Idempotency.ClaimTTL))
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Notifier.PurgeSchedule).Msg("Failed to register purge schedule")
	}
	log.Info().Str("entry_id", entryID).Str("schedule", cfg.Notifier.PurgeSchedule).Msg("idempotency purge scheduled")

	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	if err := srv.Start(queue.NewServeMux(webhookSvc, guard, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker")
	}
	log.Info().
		Str("queue", cfg.Notifier.Queue).
		Int("concurrency", cfg.Notifier.Concurrency).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down worker...")

	scheduler.Shutdown()
	srv.Shutdown()
	guard.Drain()

	log.Info().Msg("Worker exited")
}
