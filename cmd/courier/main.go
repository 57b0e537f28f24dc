package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/coverly/courier/internal/api"
	"github.com/coverly/courier/internal/circuitbreaker"
	"github.com/coverly/courier/internal/config"
	"github.com/coverly/courier/internal/db"
	"github.com/coverly/courier/internal/dispatch"
	"github.com/coverly/courier/internal/events"
	"github.com/coverly/courier/internal/gateway"
	"github.com/coverly/courier/internal/ingest"
	"github.com/coverly/courier/internal/metrics"
	"github.com/coverly/courier/internal/observ"
	"github.com/coverly/courier/internal/queue"
	"github.com/coverly/courier/internal/redisx"
	"github.com/coverly/courier/internal/render"
	"github.com/coverly/courier/internal/retrypolicy"
	"github.com/coverly/courier/internal/subject"
	"github.com/coverly/courier/internal/sweeper"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting courier",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	store := db.NewLogStore(database, retrypolicy.Default(), logger)
	catalog := db.NewCatalog(database, logger)
	resolver := render.NewResolver(catalog, logger)

	// Redis backs idempotency, rate limiting, and the settings cache; the
	// service degrades gracefully without it.
	redisClient, err := redisx.New(ctx, redisx.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var (
		idempotencyService *redisx.IdempotencyService
		rateLimiter        *redisx.RateLimiter
		settingsCache      *redisx.SettingsCache
	)

	// The loader reads branding straight from postgres; the cache sits in
	// front of it when redis is up.
	baseLoader := subject.NewLoader(database, nil, logger)

	var snapshots dispatch.SnapshotSource = baseLoader
	if redisClient != nil {
		idempotencyService = redisx.NewIdempotencyService(redisClient, logger)
		rateLimiter = redisx.NewRateLimiter(redisClient, logger, redisx.RateLimitConfig{
			Limit:  100,
			Window: 1 * time.Minute,
		})
		settingsCache = redisx.NewSettingsCache(redisClient, baseLoader, logger)
		snapshots = subject.NewLoader(database, settingsCache, logger)
		defer redisClient.Close()
	}

	chat, text, email, push := buildGateways(ctx, cfg, logger)

	var publisher dispatch.EventPublisher
	if cfg.EventTopicARN != "" {
		p, err := events.NewPublisher(ctx, cfg.EventTopicARN, cfg.AWSRegion)
		if err != nil {
			logger.Warn("sns publisher unavailable, outcome events disabled", zap.Error(err))
		} else {
			publisher = p
		}
	}

	dispatcher := dispatch.New(
		store,
		catalog,
		snapshots,
		resolver,
		dispatch.NewFallbackRegistry(),
		chat, text, email, push,
		circuitbreaker.NewSet(logger),
		publisher,
		dispatch.Config{},
		logger,
	)

	// SQS decouples the send API from provider latency. Without a queue
	// URL sends are dispatched inline.
	var producer api.Enqueuer
	if cfg.SQSQueueURL != "" {
		sqsCfg := queue.Config{Region: cfg.SQSRegion, QueueURL: cfg.SQSQueueURL}

		p, err := queue.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, dispatching inline", zap.Error(err))
		} else {
			producer = p

			consumer, err := queue.NewConsumer(ctx, sqsCfg, dispatcher, logger)
			if err != nil {
				return fmt.Errorf("failed to create sqs consumer: %w", err)
			}

			consumerCtx, consumerCancel := context.WithCancel(context.Background())
			defer consumerCancel()
			go consumer.Run(consumerCtx)
		}
	}

	sw := sweeper.New(store, dispatcher, sweeper.Config{
		SweepSchedule:   cfg.SweepSchedule,
		SweepBatch:      cfg.SweepBatch,
		ArchiveSchedule: cfg.ArchiveSchedule,
		RetentionDays:   cfg.RetentionDays,
	}, logger)

	scheduler := cron.New()
	if err := sw.Schedule(scheduler); err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info("retry sweeper scheduled",
		zap.String("sweep", cfg.SweepSchedule),
		zap.String("archive", cfg.ArchiveSchedule),
	)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, store, dispatcher, idempotencyService, producer)
	r.Group(func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
		handler.RegisterRoutes(r)
	})

	// Webhooks skip the rate limiter: throttling a provider callback just
	// makes the provider retry it.
	webhookHandler := ingest.NewHandler(ingest.New(store, logger), logger)
	webhookHandler.RegisterRoutes(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildGateways wires the per-channel providers. In development every
// channel falls back to the log gateway so the full pipeline runs
// without external credentials.
func buildGateways(ctx context.Context, cfg *config.Config, logger *zap.Logger) (chat, text gateway.TextGateway, email gateway.EmailGateway, push gateway.PushGateway) {
	dev := gateway.NewLogGateway(logger)
	chat, text, email, push = dev, dev, dev, dev

	if cfg.Env == "development" {
		logger.Info("development mode, all channels use the log gateway")
		return
	}

	if cfg.ChatGatewayURL != "" {
		chat = gateway.NewChatHTTPGateway(gateway.ChatConfig{
			BaseURL: cfg.ChatGatewayURL,
			APIKey:  cfg.ChatGatewayKey,
		}, logger)
	}

	if sms, err := gateway.NewSNSTextGateway(ctx, gateway.SNSConfig{Region: cfg.SNSRegion}, logger); err != nil {
		logger.Warn("SNS gateway unavailable, text channel uses log gateway", zap.Error(err))
	} else {
		text = sms
	}

	if ses, err := gateway.NewSESEmailGateway(ctx, gateway.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger); err != nil {
		logger.Warn("SES gateway unavailable, email channel uses log gateway", zap.Error(err))
	} else {
		email = ses
	}

	if cfg.PushGatewayURL != "" {
		push = gateway.NewPushHTTPGateway(gateway.PushConfig{
			BaseURL: cfg.PushGatewayURL,
			APIKey:  cfg.PushGatewayKey,
		}, logger)
	}

	return
}
