package scheduler

import (
	"context"
	"fmt"

	"leadsync_backend/internal/qualification"
	"leadsync_backend/internal/webhook"
	"leadsync_backend/platform/config"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// CRMSyncer runs CRM lead synchronization.
type CRMSyncer interface {
	SyncAccountLeads(ctx context.Context, accountID uuid.UUID) (qualification.SyncResult, error)
	SyncAllAccounts(ctx context.Context) error
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor webhook.JobProcessor
	syncer    CRMSyncer
	metrics   *metrics.Metrics
	log       *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, processor webhook.JobProcessor, syncer CRMSyncer, m *metrics.Metrics, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	w := &Worker{
		processor: processor,
		syncer:    syncer,
		metrics:   m,
		log:       log,
	}
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(w.handleError),
	})
	w.mux = w.routes()
	return w, nil
}

func (w *Worker) routes() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskInboundMessage, w.handleInboundMessage)
	mux.HandleFunc(TaskBookingEvent, w.handleBookingEvent)
	mux.HandleFunc(TaskAccountResync, w.handleAccountResync)
	mux.HandleFunc(TaskCRMSyncAll, w.handleCRMSyncAll)
	return mux
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleInboundMessage(ctx context.Context, task *asynq.Task) error {
	job, err := ParseInboundMessagePayload(task)
	if err != nil {
		return fmt.Errorf("decode inbound message: %v: %w", err, asynq.SkipRetry)
	}
	return w.processor.ProcessMessage(ctx, job)
}

func (w *Worker) handleBookingEvent(ctx context.Context, task *asynq.Task) error {
	job, err := ParseBookingEventPayload(task)
	if err != nil {
		return fmt.Errorf("decode booking event: %v: %w", err, asynq.SkipRetry)
	}
	return w.processor.ProcessBooking(ctx, job)
}

func (w *Worker) handleAccountResync(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAccountResyncPayload(task)
	if err != nil {
		return fmt.Errorf("decode account resync: %v: %w", err, asynq.SkipRetry)
	}
	if payload.AccountID == uuid.Nil {
		return fmt.Errorf("account resync without account id: %w", asynq.SkipRetry)
	}

	_, err = w.syncer.SyncAccountLeads(ctx, payload.AccountID)
	return err
}

// handleCRMSyncAll never retries; the next periodic run covers failed accounts.
func (w *Worker) handleCRMSyncAll(ctx context.Context, _ *asynq.Task) error {
	if err := w.syncer.SyncAllAccounts(ctx); err != nil {
		return fmt.Errorf("crm sync: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

func (w *Worker) handleError(_ context.Context, task *asynq.Task, err error) {
	w.metrics.IncBackgroundError(task.Type())
	w.log.Error("background task failed", "task", task.Type(), "error", err)
}
