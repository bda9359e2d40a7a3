// Command crm-sync runs CRM pipeline catalog and lead synchronization once, outside the
// scheduler, for backfills and troubleshooting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"leadsync_backend/internal/directions"
	"leadsync_backend/internal/events"
	"leadsync_backend/internal/leads"
	"leadsync_backend/internal/qualification"
	"leadsync_backend/platform/config"
	"leadsync_backend/platform/db"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
	"leadsync_backend/platform/validator"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withService connects to Postgres and hands a wired synchronizer to fn.
func withService(ctx context.Context, fn func(svc *qualification.Service, log *logger.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Env)

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	bus := events.NewInMemoryBus(log)
	defer bus.Wait()

	m := metrics.New(prometheus.NewRegistry())
	val := validator.New()
	directionsRepo := directions.NewRepository(pool)
	leadsModule := leads.NewModule(pool, directionsRepo, bus, m, val, log)
	qualificationModule := qualification.NewModule(pool, leadsModule.Repository(), directionsRepo, bus, cfg, m, val, log)

	return fn(qualificationModule.Service(), log)
}
