package webhook

import (
	"context"
	"errors"
	"sync"

	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"
)

// ErrQueueFull is returned when the in-process queue cannot take another job.
var ErrQueueFull = errors.New("webhook job queue is full")

// Dispatcher hands acknowledged deliveries to an independent execution path.
type Dispatcher interface {
	DispatchMessage(ctx context.Context, job MessageJob) error
	DispatchBooking(ctx context.Context, job BookingJob) error
}

// JobProcessor executes dispatched jobs.
type JobProcessor interface {
	ProcessMessage(ctx context.Context, job MessageJob) error
	ProcessBooking(ctx context.Context, job BookingJob) error
}

type runnerJob struct {
	message *MessageJob
	booking *BookingJob
}

// AsyncRunner is the in-process Dispatcher used when no Redis queue is configured. A
// fixed set of workers drains a bounded queue; when the queue is full the job is
// dropped and counted instead of blocking the webhook response.
type AsyncRunner struct {
	processor JobProcessor
	queue     chan runnerJob
	workers   int
	metrics   *metrics.Metrics
	log       *logger.Logger

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	wg        sync.WaitGroup
}

func NewAsyncRunner(processor JobProcessor, workers, queueSize int, m *metrics.Metrics, log *logger.Logger) *AsyncRunner {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &AsyncRunner{
		processor: processor,
		queue:     make(chan runnerJob, queueSize),
		workers:   workers,
		metrics:   m,
		log:       log,
	}
}

// Start launches the workers. Jobs run under ctx with its cancellation removed so that
// in-flight work finishes during shutdown; call Stop to drain.
func (r *AsyncRunner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		detached := context.WithoutCancel(ctx)
		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go r.work(detached)
		}
		r.log.Info("webhook async runner started", "workers", r.workers, "queueSize", cap(r.queue))
	})
}

// Stop closes the queue and waits for queued jobs to finish.
func (r *AsyncRunner) Stop() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *AsyncRunner) DispatchMessage(_ context.Context, job MessageJob) error {
	return r.enqueue(runnerJob{message: &job}, "message")
}

func (r *AsyncRunner) DispatchBooking(_ context.Context, job BookingJob) error {
	return r.enqueue(runnerJob{booking: &job}, "booking")
}

func (r *AsyncRunner) enqueue(job runnerJob, kind string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.IncDispatchDropped(kind)
		return ErrQueueFull
	}
	select {
	case r.queue <- job:
		return nil
	default:
		r.metrics.IncDispatchDropped(kind)
		return ErrQueueFull
	}
}

func (r *AsyncRunner) work(ctx context.Context) {
	defer r.wg.Done()
	for job := range r.queue {
		r.run(ctx, job)
	}
}

func (r *AsyncRunner) run(ctx context.Context, job runnerJob) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.IncBackgroundError("webhook_job")
			r.log.Error("webhook job panicked", "panic", rec)
		}
	}()

	var err error
	switch {
	case job.message != nil:
		err = r.processor.ProcessMessage(ctx, *job.message)
	case job.booking != nil:
		err = r.processor.ProcessBooking(ctx, *job.booking)
	}
	if err != nil {
		r.metrics.IncBackgroundError("webhook_job")
		r.log.Error("webhook job failed", "error", err)
	}
}

var _ Dispatcher = (*AsyncRunner)(nil)
