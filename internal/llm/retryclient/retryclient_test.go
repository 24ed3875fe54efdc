package retryclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"coherentrecon/internal/llm"
)

type flakyClient struct {
	failures int
	calls    int
}

func (f *flakyClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return llm.Response{}, llm.ErrRateLimited
	}
	return llm.Response{Text: "ok", StopReason: llm.StopEndTurn}, nil
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	fc := &flakyClient{failures: 2}
	c := New(fc, Policy{Delays: []time.Duration{0, 0, 0}, MaxAttempts: 4})
	resp, err := c.Complete(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if fc.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", fc.calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	fc := &flakyClient{failures: 10}
	c := New(fc, Policy{Delays: []time.Duration{0, 0}, MaxAttempts: 3})
	_, err := c.Complete(context.Background(), llm.Request{})
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("expected rate limited error after exhausting retries, got %v", err)
	}
	if fc.calls != 3 {
		t.Fatalf("expected exactly MaxAttempts calls, got %d", fc.calls)
	}
}

type nonRetryableClient struct{ calls int }

func (n *nonRetryableClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	n.calls++
	return llm.Response{}, errors.New("boom: not retryable")
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	nc := &nonRetryableClient{}
	c := New(nc, FixedDelayPolicy())
	_, err := c.Complete(context.Background(), llm.Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if nc.calls != 1 {
		t.Fatalf("expected single call for non-retryable error, got %d", nc.calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	fc := &flakyClient{failures: 10}
	c := New(fc, Policy{Delays: []time.Duration{50 * time.Millisecond}, MaxAttempts: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, llm.Request{})
	if err == nil {
		t.Fatal("expected context error")
	}
}
