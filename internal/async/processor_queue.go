package async

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
)

// ProcessorQueue is an in-process worker pool. A batch id is held at most once
// in the queue at a time; enqueueing it again while pending is a no-op.
type ProcessorQueue struct {
	handler     Handler
	logger      *slog.Logger
	workers     int
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// sendMu guards closed and every send on ch; workers never take it.
	sendMu sync.RWMutex
	closed bool

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	timers  map[*time.Timer]struct{}
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithRetry sets the attempt budget per job and the base backoff between attempts.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(q *ProcessorQueue) {
		if maxAttempts > 0 {
			q.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			q.backoff = backoff
		}
	}
}

func NewProcessorQueue(handler Handler, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		handler:     handler,
		logger:      logger,
		workers:     1,
		timeout:     10 * time.Minute,
		maxAttempts: 3,
		backoff:     2 * time.Second,
		ch:          make(chan Job, 256),
		pending:     make(map[uuid.UUID]struct{}),
		timers:      make(map[*time.Timer]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					q.run(workerID, job)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	err := q.handler(ctx, job)
	cancel()

	if err == nil {
		q.logger.Info("processed batch successfully",
			"worker_id", workerID,
			"batch_id", job.BatchID,
			"attempt", job.Attempt,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		q.release(job.BatchID)
		return
	}

	if !Retryable(err) || job.Attempt >= q.maxAttempts {
		q.logger.Error("processing failed, giving up",
			"worker_id", workerID,
			"batch_id", job.BatchID,
			"attempt", job.Attempt,
			"error", err,
		)
		q.release(job.BatchID)
		return
	}

	delay := Backoff(q.backoff, job.Attempt)
	q.logger.Warn("processing failed, will retry",
		"worker_id", workerID,
		"batch_id", job.BatchID,
		"attempt", job.Attempt,
		"retry_in_ms", delay.Milliseconds(),
		"error", err,
	)
	job.Attempt++
	q.scheduleRetry(job, delay)
}

func (q *ProcessorQueue) scheduleRetry(job Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.sendMu.RLock()
		defer q.sendMu.RUnlock()
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		if q.closed {
			q.release(job.BatchID)
			q.logger.Warn("retry dropped: queue is shutting down", "batch_id", job.BatchID)
			return
		}
		q.ch <- job
	})
	q.timers[t] = struct{}{}
}

func (q *ProcessorQueue) release(id uuid.UUID) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "batch_id", job.BatchID)
		return ErrQueueClosed
	}

	q.mu.Lock()
	if _, dup := q.pending[job.BatchID]; dup {
		q.mu.Unlock()
		q.logger.Info("batch already queued", "batch_id", job.BatchID)
		return nil
	}
	q.pending[job.BatchID] = struct{}{}
	q.mu.Unlock()

	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued batch for processing", "batch_id", job.BatchID)
	default:
		q.logger.Warn("queue full, applying backpressure", "batch_id", job.BatchID)
		select {
		case q.ch <- job:
		case <-ctx.Done():
			q.release(job.BatchID)
			return ctx.Err()
		}
	}
	return nil
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.sendMu.Lock()
	if q.closed {
		q.sendMu.Unlock()
		return
	}
	q.closed = true
	q.mu.Lock()
	for t := range q.timers {
		t.Stop()
		delete(q.timers, t)
	}
	q.mu.Unlock()
	close(q.ch)
	q.sendMu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
