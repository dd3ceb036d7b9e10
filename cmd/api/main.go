package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-ledger/config"
	httpHandler "wallet-ledger/internal/adapter/http/handler"
	"wallet-ledger/internal/adapter/queue"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/adapter/stream"
	"wallet-ledger/internal/bootstrap"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/observability"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("WLEDGER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("wallet-ledger-api", cfg.Log.Level, cfg.Log.Pretty)
	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret is required (WLEDGER_JWT_SECRET)")
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Ledger.Storage).
		Str("notifier", cfg.Notifier.Driver).
		Msg("Starting wallet ledger API")

	ctx := context.Background()

	// Storage
	st, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer st.Close()

	// Redis: idempotency cache, rate limits, asynq broker
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	// Notifier
	var notifier ports.Notifier
	switch cfg.Notifier.Driver {
	case config.NotifierAsynq:
		if st.Driver == config.StorageMemory {
			log.Warn().Msg("asynq notifier with in-memory storage: the worker cannot resolve payee webhooks")
		}
		client := asynq.NewClient(queue.RedisOpt(rdb.Options()))
		defer client.Close()
		notifier = queue.NewNotifier(client, queue.NotifierOptions{
			Queue:    cfg.Notifier.Queue,
			MaxRetry: cfg.Notifier.MaxRetry,
			Timeout:  cfg.Notifier.Timeout,
		}, log)
	default:
		notifier = queue.NewLogNotifier(log)
	}

	// Outbound event stream
	var publisher ports.EventPublisher
	if cfg.NATS.Enabled {
		nc, js, err := stream.Connect(cfg.NATS.URL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		if err := stream.EnsureStream(ctx, js, stream.StreamOptions{
			Name:          cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure NATS stream")
		}
		publisher = stream.NewPublisher(js, cfg.NATS.SubjectPrefix, log)
	}

	// Services
	ledger, err := bootstrap.NewLedger(cfg, st, notifier, publisher, metrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ledger")
	}
	guard := service.NewIdempotencyGuard(
		redisStorage.NewIdempotencyCache(rdb),
		st.Idempotency,
		cfg.Idempotency.TTL,
		cfg.Idempotency.ClaimTTL,
		metrics,
		log,
	)
	walletSvc := service.NewWalletService(ledger, guard)
	webhookSvc := service.NewWebhookService(st.Users, st.Deliveries, http.DefaultClient, cfg.Notifier.WebhookTimeout, metrics, log)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		WebhookSvc:     webhookSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: redisStorage.NewRateLimitStore(rdb),
		HealthCheckers: append(st.HealthChecks, redisStorage.NewHealthCheck(rdb)),
		MetricsHandler: metricsHandler,
		MetricsPath:    cfg.Metrics.Path,
		Mode:           cfg.Server.Mode,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	guard.Drain()

	log.Info().Msg("Server exited")
}
