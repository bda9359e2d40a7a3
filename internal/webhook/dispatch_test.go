package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"

	"leadsync_backend/platform/logger"
)

type recordingProcessor struct {
	mu       sync.Mutex
	messages []MessageJob
	bookings []BookingJob
	block    chan struct{}
}

func (p *recordingProcessor) ProcessMessage(_ context.Context, job MessageJob) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, job)
	if job.Message.EventID == "panic" {
		panic("boom")
	}
	return nil
}

func (p *recordingProcessor) ProcessBooking(_ context.Context, job BookingJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookings = append(p.bookings, job)
	return nil
}

func TestAsyncRunnerProcessesQueuedJobs(t *testing.T) {
	proc := &recordingProcessor{}
	runner := NewAsyncRunner(proc, 2, 8, nil, logger.New("test"))
	runner.Start(context.Background())

	ctx := context.Background()
	for _, id := range []string{"a", "panic", "b"} {
		if err := runner.DispatchMessage(ctx, MessageJob{Message: InboundMessage{EventID: id}}); err != nil {
			t.Fatalf("dispatch %s: %v", id, err)
		}
	}
	if err := runner.DispatchBooking(ctx, BookingJob{Payload: BookingPayload{RecordID: "r-1"}}); err != nil {
		t.Fatalf("dispatch booking: %v", err)
	}
	runner.Stop()

	if len(proc.messages) != 3 || len(proc.bookings) != 1 {
		t.Fatalf("expected 3 messages and 1 booking, got %d and %d", len(proc.messages), len(proc.bookings))
	}
	if err := runner.DispatchMessage(ctx, MessageJob{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("dispatch after stop should fail, got %v", err)
	}
}

func TestAsyncRunnerDropsWhenQueueIsFull(t *testing.T) {
	proc := &recordingProcessor{block: make(chan struct{})}
	runner := NewAsyncRunner(proc, 1, 1, nil, logger.New("test"))

	ctx := context.Background()
	if err := runner.DispatchMessage(ctx, MessageJob{Message: InboundMessage{EventID: "1"}}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := runner.DispatchMessage(ctx, MessageJob{Message: InboundMessage{EventID: "2"}}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	runner.Start(ctx)
	close(proc.block)
	runner.Stop()
	if len(proc.messages) != 1 {
		t.Fatalf("expected the queued job to run, got %d", len(proc.messages))
	}
}
