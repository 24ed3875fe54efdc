package worker

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"coherentrecon/internal/config"
	"coherentrecon/internal/queue"
)

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}
}

type recordingRunner struct {
	mu  sync.Mutex
	ran []string
}

func (r *recordingRunner) Run(ctx context.Context, jobID string) error {
	r.mu.Lock()
	r.ran = append(r.ran, jobID)
	r.mu.Unlock()
	return nil
}

func newTestQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return queue.NewRedisQueue(config.Config{
		RedisAddr:         mr.Addr(),
		PriorityQueues:    []string{"default"},
		VisibilityTimeout: time.Minute,
		DLQName:           "queue:dlq",
	})
}

func TestDispatcherRunsLeasedJobAndAcks(t *testing.T) {
	q := newTestQueue(t)
	runner := &recordingRunner{}
	cfg := config.Config{WorkerPollInterval: 5 * time.Millisecond, VisibilityTimeout: time.Minute}
	d := NewDispatcher(cfg, q, runner)

	ctx := context.Background()
	if err := q.Enqueue(ctx, "job-1", "", time.Time{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobID, err := q.DequeueWithLease(ctx)
	if err != nil || jobID != "job-1" {
		t.Fatalf("dequeue: jobID=%q err=%v", jobID, err)
	}
	d.runOne(ctx, jobID)

	runner.mu.Lock()
	ran := append([]string(nil), runner.ran...)
	runner.mu.Unlock()
	if len(ran) != 1 || ran[0] != "job-1" {
		t.Fatalf("expected job-1 to have run, got %v", ran)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected runOne to ack the job, still in-flight: %v", ids)
	}
}
