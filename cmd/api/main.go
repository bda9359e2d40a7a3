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

	"leadsync_backend/internal/attribution"
	"leadsync_backend/internal/directions"
	"leadsync_backend/internal/email"
	"leadsync_backend/internal/escalation"
	"leadsync_backend/internal/events"
	apphttp "leadsync_backend/internal/http"
	"leadsync_backend/internal/http/router"
	"leadsync_backend/internal/leads"
	"leadsync_backend/internal/qualification"
	"leadsync_backend/internal/scheduler"
	"leadsync_backend/internal/webhook"
	"leadsync_backend/internal/whatsapp"
	"leadsync_backend/platform/cache"
	"leadsync_backend/platform/config"
	"leadsync_backend/platform/db"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
	"leadsync_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if cfg.MigrationsEnabled {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	redisClient, err := cache.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	} else {
		log.Warn("REDIS_URL not configured; webhook dedupe disabled and jobs run in-process")
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	directionsRepo := directions.NewRepository(pool)
	leadsModule := leads.NewModule(pool, directionsRepo, eventBus, m, val, log)
	qualificationModule := qualification.NewModule(pool, leadsModule.Repository(), directionsRepo, eventBus, cfg, m, val, log)
	escalationModule := escalation.NewModule(pool, eventBus, whatsAppSender(cfg, log), sender, m, val, log)

	processor := webhook.NewProcessor(webhook.ProcessorDeps{
		Resolver:  attribution.NewResolver(attribution.NewRepository(pool), cfg, log),
		Leads:     leadsModule.UpsertEngine(),
		Escalator: escalationModule.Escalator(),
		Bookings:  qualificationModule.Service(),
		Dedupe:    webhook.NewDeduplicator(redisClient, cfg.GetWebhookDedupeTTL()),
		Metrics:   m,
		Log:       log,
	})

	dispatcher, closeDispatcher := initDispatcher(ctx, cfg, processor, qualificationModule.Service(), redisClient, m, log)
	defer closeDispatcher()

	webhookModule := webhook.NewModule(pool, dispatcher, val, m, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Metrics:  registry,
		Modules: []apphttp.Module{
			webhookModule,
			leadsModule,
			qualificationModule,
			escalationModule,
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initDispatcher queues webhook jobs on asynq when Redis is configured (cmd/scheduler
// consumes them). Otherwise jobs, account re-syncs and the periodic CRM sync all run
// inside this process.
func initDispatcher(ctx context.Context, cfg *config.Config, processor *webhook.Processor, svc *qualification.Service, redisClient *redis.Client, m *metrics.Metrics, log *logger.Logger) (webhook.Dispatcher, func()) {
	if redisClient != nil {
		client, err := scheduler.NewClient(cfg)
		if err == nil {
			svc.SetResyncEnqueuer(client)
			return client, func() { _ = client.Close() }
		}
		log.Error("failed to initialize job queue client; falling back to in-process runner", "error", err)
	}

	runner := webhook.NewAsyncRunner(processor, cfg.GetWebhookWorkers(), cfg.GetWebhookQueueSize(), m, log)
	runner.Start(ctx)
	svc.SetResyncEnqueuer(scheduler.NewInProcessResync(svc, log))
	go scheduler.NewSyncLoop(svc.SyncAllAccounts, cfg.GetCRMSyncInterval(), log).Run(ctx)
	return runner, runner.Stop
}

// whatsAppSender returns nil when no gateway is configured so that escalations skip the
// channel instead of failing on every delivery.
func whatsAppSender(cfg config.WhatsAppConfig, log *logger.Logger) escalation.WhatsAppSender {
	client := whatsapp.NewClient(cfg, log)
	if client == nil {
		return nil
	}
	return client
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
