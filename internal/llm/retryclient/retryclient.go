// Package retryclient wraps an llm.Client with a retry policy: either a fixed per-attempt delay
// sequence (used for chunk-level retries, §4.I: 2s/5s/15s) or exponential backoff with a cap
// (used for the Skeleton Extractor, §4.D: base 1s, cap 30s). Grounded on the teacher's
// backoffWithJitter in internal/worker/processor.go, generalized to cover both call sites, and on
// LLM_SPT's "flaky" client's staged failure/success behavior for the accompanying tests.
package retryclient

import (
	"context"
	"math"
	"math/rand"
	"time"

	"coherentrecon/internal/llm"
)

// Policy configures how many attempts to make and how long to wait between them.
type Policy struct {
	// Delays, when non-empty, gives an explicit per-attempt wait sequence; the last entry is
	// reused for any attempt beyond len(Delays).
	Delays []time.Duration

	// Base/Cap configure exponential backoff with jitter when Delays is empty.
	Base time.Duration
	Cap  time.Duration

	MaxAttempts int
}

// FixedDelayPolicy builds the chunk-retry policy named in §4.I: 3 retries at 2s, 5s, 15s.
func FixedDelayPolicy() Policy {
	return Policy{
		Delays:      []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second},
		MaxAttempts: 4, // initial attempt + 3 retries
	}
}

// ExponentialPolicy builds the Skeleton Extractor's retry policy: base 1s, cap 30s, 3 retries.
func ExponentialPolicy() Policy {
	return Policy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 4}
}

// Delay returns how long to wait before the given attempt number (1-based) is retried. Exported
// so callers that need to retry a compound operation (LLM call + response validation, as the
// Skeleton Extractor does) can reuse the same backoff shape without going through Client.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt)
}

func (p Policy) delay(attempt int) time.Duration {
	if len(p.Delays) > 0 {
		idx := attempt - 1
		if idx >= len(p.Delays) {
			idx = len(p.Delays) - 1
		}
		if idx < 0 {
			idx = 0
		}
		return p.Delays[idx]
	}
	if p.Base <= 0 {
		return 0
	}
	exp := float64(p.Base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if p.Cap > 0 && wait > p.Cap {
		wait = p.Cap
	}
	if wait <= 0 {
		return p.Base
	}
	jitter := time.Duration(rand.Int63n(int64(wait)/2 + 1))
	return wait/2 + jitter
}

// Client decorates an llm.Client with retry-on-transport-error behavior.
type Client struct {
	inner  llm.Client
	policy Policy
}

// New wraps inner with policy.
func New(inner llm.Client, policy Policy) *Client {
	return &Client{inner: inner, policy: policy}
}

// Complete attempts the call up to policy.MaxAttempts times, sleeping policy.delay(attempt)
// between attempts, stopping early on a non-retryable error or ctx cancellation.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	var lastErr error
	maxAttempts := c.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !llm.IsRetryable(err) {
			return llm.Response{}, err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		case <-time.After(c.policy.delay(attempt)):
		}
	}
	return llm.Response{}, lastErr
}

var _ llm.Client = (*Client)(nil)
