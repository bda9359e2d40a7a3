package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadsync_backend/platform/config"
	"leadsync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const defaultCRMSyncInterval = 15 * time.Minute

// PeriodicCRMSync registers the recurring all-accounts CRM sync with asynq so that
// exactly one enqueue happens per interval across scheduler replicas.
type PeriodicCRMSync struct {
	scheduler *asynq.Scheduler
	interval  time.Duration
	log       *logger.Logger
}

func NewPeriodicCRMSync(cfg config.SchedulerConfig, interval time.Duration, log *logger.Logger) (*PeriodicCRMSync, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	if interval <= 0 {
		interval = defaultCRMSyncInterval
	}

	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Warn("periodic crm sync enqueue failed", "error", err)
			}
		},
	})
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.Register(spec, NewCRMSyncAllTask(), asynq.Queue(queueName(cfg)), asynq.Unique(interval)); err != nil {
		return nil, fmt.Errorf("register periodic crm sync: %w", err)
	}

	return &PeriodicCRMSync{scheduler: s, interval: interval, log: log}, nil
}

// Run blocks until ctx is done.
func (p *PeriodicCRMSync) Run(ctx context.Context) {
	if p == nil || p.scheduler == nil {
		return
	}
	if err := p.scheduler.Start(); err != nil {
		p.log.Error("periodic crm sync failed to start", "error", err)
		return
	}
	p.log.Info("periodic crm sync registered", "interval", p.interval.String())

	<-ctx.Done()
	p.scheduler.Shutdown()
}

// SyncLoop runs the all-accounts CRM sync in-process on a ticker. It serves deployments
// without Redis, where no asynq scheduler is available.
type SyncLoop struct {
	sync     func(ctx context.Context) error
	interval time.Duration
	log      *logger.Logger
}

func NewSyncLoop(sync func(ctx context.Context) error, interval time.Duration, log *logger.Logger) *SyncLoop {
	if interval <= 0 {
		interval = defaultCRMSyncInterval
	}
	return &SyncLoop{sync: sync, interval: interval, log: log}
}

func (l *SyncLoop) Run(ctx context.Context) {
	if l == nil || l.sync == nil {
		return
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

func (l *SyncLoop) runOnce(ctx context.Context) {
	if err := l.sync(ctx); err != nil {
		l.log.Warn("crm sync failed", "error", err)
	}
}

// InProcessResync runs account re-syncs on a goroutine when no job queue is configured.
type InProcessResync struct {
	syncer CRMSyncer
	log    *logger.Logger
}

func NewInProcessResync(syncer CRMSyncer, log *logger.Logger) *InProcessResync {
	return &InProcessResync{syncer: syncer, log: log}
}

func (r *InProcessResync) EnqueueAccountResync(ctx context.Context, accountID uuid.UUID) error {
	detached := context.WithoutCancel(ctx)
	go func() {
		if _, err := r.syncer.SyncAccountLeads(detached, accountID); err != nil {
			r.log.Warn("account resync failed", "accountId", accountID, "error", err)
		}
	}()
	return nil
}
