package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/internal/common"
)

// Job asks a worker to run a batch through the pipeline. Delivery is
// at least once; handlers must tolerate repeats.
type Job struct {
	BatchID     uuid.UUID `json:"batch_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	TraceID     string    `json:"trace_id,omitempty"`
	Attempt     int       `json:"attempt"`
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Handler processes one job.
type Handler func(ctx context.Context, job Job) error

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("queue is shutting down")

// Retryable reports whether a failed job is worth another attempt. Missing
// batches and bad input never heal on their own.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrInvalidInput),
		errors.Is(err, common.ErrValidation),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Backoff is the delay before attempt+1: base doubled per attempt, capped at a minute.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Minute {
			return time.Minute
		}
	}
	return d
}
