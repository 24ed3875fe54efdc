package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"coherentrecon/internal/config"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := config.Config{
		RedisAddr:         mr.Addr(),
		PriorityQueues:    []string{"default"},
		VisibilityTimeout: time.Minute,
		DLQName:           "queue:dlq",
	}
	return NewRedisQueue(cfg), mr
}

func TestEnqueueAndDequeueWithLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "job-1", "", time.Time{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	depth, err := q.ReadyDepth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("expected ready depth 1, got %d err=%v", depth, err)
	}

	jobID, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("expected job-1, got %q", jobID)
	}

	depth, _ = q.ReadyDepth(ctx)
	if depth != 0 {
		t.Fatalf("expected ready queue drained, got depth %d", depth)
	}
}

func TestDequeueWithLeaseEmptyReturnsNoError(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	jobID, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue on empty queue: %v", err)
	}
	if jobID != "" {
		t.Fatalf("expected empty job id, got %q", jobID)
	}
}

func TestAckRemovesFromInflight(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_ = q.Enqueue(ctx, "job-2", "", time.Time{})
	jobID, err := q.DequeueWithLease(ctx)
	if err != nil || jobID != "job-2" {
		t.Fatalf("dequeue: jobID=%q err=%v", jobID, err)
	}

	if err := q.Ack(ctx, "job-2"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no leftover inflight entries after ack, got %v", ids)
	}
}

func TestRequeueExpiredReclaimsTimedOutLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_ = q.Enqueue(ctx, "job-3", "", time.Time{})
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != "job-3" {
		t.Fatalf("expected job-3 reclaimed, got %v", ids)
	}

	depth, _ := q.ReadyDepth(ctx)
	if depth != 1 {
		t.Fatalf("expected reclaimed job back on ready queue, got depth %d", depth)
	}
}

func TestCancelRemovesFromAllSets(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_ = q.Enqueue(ctx, "job-4", "", time.Now().Add(time.Hour))
	if err := q.Cancel(ctx, "job-4"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	depth, _ := q.ReadyDepth(ctx)
	if depth != 0 {
		t.Fatalf("expected ready depth 0 after cancel, got %d", depth)
	}
}

func TestDLQPushAndPeek(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.DLQPush(ctx, "job-5"); err != nil {
		t.Fatalf("dlq push: %v", err)
	}
	ids, err := q.DLQPeek(ctx, 10)
	if err != nil {
		t.Fatalf("dlq peek: %v", err)
	}
	if len(ids) != 1 || ids[0] != "job-5" {
		t.Fatalf("expected job-5 in dlq, got %v", ids)
	}
}
