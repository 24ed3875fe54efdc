package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"coherentrecon/internal/config"
	"coherentrecon/internal/queue"
	"coherentrecon/internal/store"
)

func wordsText(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString("word ")
	}
	return sb.String()
}

func submitBody(t *testing.T, words int) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(submitRequest{SourceText: wordsText(words)})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewReader(body)
}

// TestHandleSubmitRejectsBelowMinWords covers the lower input-size boundary: source_text sits one
// word short of minInputWords. The zero-value Server has no limiter, so the rate-limit check is
// skipped, and the word-count check rejects the request before store or queue are dereferenced.
func TestHandleSubmitRejectsBelowMinWords(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest("POST", "/jobs", submitBody(t, minInputWords-1))
	rec := httptest.NewRecorder()

	s.handleSubmit(rec, req)

	if rec.Code != 400 {
		t.Fatalf("expected 400 for %d words, got %d: %s", minInputWords-1, rec.Code, rec.Body.String())
	}
}

// TestHandleSubmitRejectsAboveMaxWords covers the upper input-size boundary.
func TestHandleSubmitRejectsAboveMaxWords(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest("POST", "/jobs", submitBody(t, maxInputWords+1))
	rec := httptest.NewRecorder()

	s.handleSubmit(rec, req)

	if rec.Code != 400 {
		t.Fatalf("expected 400 for %d words, got %d: %s", maxInputWords+1, rec.Code, rec.Body.String())
	}
}

// newTestQueue stands up a RedisQueue against miniredis, matching internal/queue's own test setup.
func newTestQueue(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return queue.NewRedisQueue(config.Config{
		RedisAddr:      mr.Addr(),
		PriorityQueues: []string{"default"},
		DLQName:        "queue:dlq",
	})
}

// newTestStore connects to a real Postgres instance named by POSTGRES_TEST_DSN, matching
// internal/store's own integration test gating; skipped when unset.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping Postgres-backed boundary acceptance test")
	}
	ctx := context.Background()
	st, err := store.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := st.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

// TestHandleSubmitAcceptsWithinWordBounds exercises both inclusive boundaries (minInputWords and
// maxInputWords) end to end through the real store and queue, confirming the word-count check
// lets them through instead of just checking the rejection path.
func TestHandleSubmitAcceptsWithinWordBounds(t *testing.T) {
	for _, n := range []int{minInputWords, maxInputWords} {
		n := n
		t.Run("", func(t *testing.T) {
			st := newTestStore(t)
			q := newTestQueue(t)
			s := &Server{cfg: config.Config{}, store: st, queue: q}

			req := httptest.NewRequest("POST", "/jobs", submitBody(t, n))
			rec := httptest.NewRecorder()

			s.handleSubmit(rec, req)

			if rec.Code != 202 {
				t.Fatalf("expected 202 for %d words, got %d: %s", n, rec.Code, rec.Body.String())
			}
		})
	}
}
