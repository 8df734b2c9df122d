package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/webdevavi/aureus/constants"
)

// MemoryBus is an in-process Publisher with a worker pool per subscribed stage.
// Used by the single-process dev mode and in tests.
type MemoryBus struct {
	logger    *slog.Logger
	workers   int
	queueSize int
	timeout   time.Duration

	mu        sync.Mutex
	closed    bool
	queues    map[constants.Stage]chan Job
	published []Published
	wg        sync.WaitGroup
}

// Published records a job for inspection.
type Published struct {
	Stage constants.Stage
	Job   Job
}

type Option func(*MemoryBus)

func WithWorkers(n int) Option {
	return func(b *MemoryBus) {
		if n > 0 {
			b.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(b *MemoryBus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(b *MemoryBus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func NewMemoryBus(logger *slog.Logger, opts ...Option) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MemoryBus{
		logger:    logger,
		workers:   1,
		queueSize: 64,
		timeout:   30 * time.Minute,
		queues:    make(map[constants.Stage]chan Job),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe starts workers for stage. Jobs published before any subscriber are only recorded.
func (b *MemoryBus) Subscribe(stage constants.Stage, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[stage]; ok || b.closed {
		return
	}
	ch := make(chan Job, b.queueSize)
	b.queues[stage] = ch

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func(workerID int) {
			defer b.wg.Done()
			b.logger.Info("worker started", "stage", stage, "worker_id", workerID)
			for job := range ch {
				b.run(stage, workerID, job, h)
			}
			b.logger.Info("worker stopped", "stage", stage, "worker_id", workerID)
		}(i + 1)
	}
}

func (b *MemoryBus) run(stage constants.Stage, workerID int, job Job, h Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	ctx, log := jobContext(ctx, b.logger.With("worker_id", workerID), stage, job)
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := h(ctx, job); err != nil {
		log.Error("job failed", "error", err)
		return
	}
	log.Info("job finished")
}

func (b *MemoryBus) Publish(_ context.Context, stage constants.Stage, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("publish %s: bus is shut down", stage)
	}
	b.published = append(b.published, Published{Stage: stage, Job: job})
	ch, ok := b.queues[stage]
	if !ok {
		b.logger.Debug("no subscriber, job recorded only", "stage", stage, "report_id", job.ReportID)
		return nil
	}
	select {
	case ch <- job:
		b.logger.Info("queued job", "stage", stage, "report_id", job.ReportID, "file_id", job.FileID)
	default:
		b.logger.Warn("queue full, dropping job", "stage", stage, "report_id", job.ReportID)
		return fmt.Errorf("publish %s: queue full", stage)
	}
	return nil
}

// Published returns a copy of every job accepted so far.
func (b *MemoryBus) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// Shutdown stops accepting jobs and waits for workers to drain.
func (b *MemoryBus) Shutdown(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.queues {
		close(ch)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); b.wg.Wait() }()

	select {
	case <-ctx.Done():
		b.logger.Warn("shutdown interrupted by context")
	case <-done:
		b.logger.Info("bus drained, shutdown complete")
	}
}
