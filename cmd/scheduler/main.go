package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadsync_backend/internal/attribution"
	"leadsync_backend/internal/directions"
	"leadsync_backend/internal/email"
	"leadsync_backend/internal/escalation"
	"leadsync_backend/internal/events"
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
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	redisClient, err := cache.NewRedisClient(ctx, cfg)
	if err != nil || redisClient == nil {
		log.Error("scheduler requires redis", "error", err)
		panic("scheduler requires REDIS_URL")
	}
	defer func() { _ = redisClient.Close() }()

	m := metrics.New(prometheus.DefaultRegisterer)
	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	val := validator.New()

	// Worker-side wiring (no HTTP handlers required).
	directionsRepo := directions.NewRepository(pool)
	leadsModule := leads.NewModule(pool, directionsRepo, eventBus, m, val, log)
	qualificationModule := qualification.NewModule(pool, leadsModule.Repository(), directionsRepo, eventBus, cfg, m, val, log)

	var wa escalation.WhatsAppSender
	if client := whatsapp.NewClient(cfg, log); client != nil {
		wa = client
	}
	escalationModule := escalation.NewModule(pool, eventBus, wa, sender, m, val, log)

	queueClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize job queue client", "error", err)
		panic("failed to initialize job queue client: " + err.Error())
	}
	defer func() { _ = queueClient.Close() }()
	qualificationModule.Service().SetResyncEnqueuer(queueClient)

	processor := webhook.NewProcessor(webhook.ProcessorDeps{
		Resolver:  attribution.NewResolver(attribution.NewRepository(pool), cfg, log),
		Leads:     leadsModule.UpsertEngine(),
		Escalator: escalationModule.Escalator(),
		Bookings:  qualificationModule.Service(),
		Dedupe:    webhook.NewDeduplicator(redisClient, cfg.GetWebhookDedupeTTL()),
		Metrics:   m,
		Log:       log,
	})

	periodic, err := scheduler.NewPeriodicCRMSync(cfg, cfg.GetCRMSyncInterval(), log)
	if err != nil {
		log.Error("failed to initialize periodic crm sync", "error", err)
		panic("failed to initialize periodic crm sync: " + err.Error())
	}
	go periodic.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, processor, qualificationModule.Service(), m, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	eventBus.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
