package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/internal/common"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{common.NotFoundError("gone"), false},
		{common.InvalidArgumentError("bad"), false},
		{context.Canceled, false},
		{common.StorageError("db", errors.New("conn reset")), true},
		{context.DeadlineExceeded, true},
		{errors.New("boom"), true},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := Backoff(base, i+1); got != w {
			t.Fatalf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := Backoff(base, 50); got != time.Minute {
		t.Fatalf("Backoff cap = %v", got)
	}
}

func TestProcessorQueueRunsJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	done := make(chan struct{}, 3)
	q := NewProcessorQueue(func(ctx context.Context, job Job) error {
		mu.Lock()
		seen[job.BatchID]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, nil, WithWorkers(2))

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := q.Enqueue(context.Background(), Job{BatchID: id}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	for range ids {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("jobs did not run")
		}
	}
	q.Shutdown(context.Background())
	for _, id := range ids {
		if seen[id] != 1 {
			t.Fatalf("batch %s ran %d times", id, seen[id])
		}
	}
	if err := q.Enqueue(context.Background(), Job{BatchID: uuid.New()}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Enqueue after shutdown err = %v", err)
	}
}

func TestProcessorQueueRetriesThenGivesUp(t *testing.T) {
	var calls atomic.Int32
	attempts := make(chan int, 5)
	q := NewProcessorQueue(func(ctx context.Context, job Job) error {
		calls.Add(1)
		attempts <- job.Attempt
		return errors.New("transient")
	}, nil, WithRetry(3, time.Millisecond))
	defer q.Shutdown(context.Background())

	if err := q.Enqueue(context.Background(), Job{BatchID: uuid.New()}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for want := 1; want <= 3; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("attempt = %d, want %d", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("attempt %d never ran", want)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestProcessorQueuePermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ran := make(chan struct{}, 2)
	q := NewProcessorQueue(func(ctx context.Context, job Job) error {
		calls.Add(1)
		ran <- struct{}{}
		return common.NotFoundError("batch deleted")
	}, nil, WithRetry(5, time.Millisecond))
	defer q.Shutdown(context.Background())

	_ = q.Enqueue(context.Background(), Job{BatchID: uuid.New()})
	<-ran
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}

func TestProcessorQueueDeduplicatesPending(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	q := NewProcessorQueue(func(ctx context.Context, job Job) error {
		calls.Add(1)
		<-release
		return nil
	}, nil)

	id := uuid.New()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(context.Background(), Job{BatchID: id}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	close(release)
	q.Shutdown(context.Background())
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}
