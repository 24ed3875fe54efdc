package stubclient

import (
	"context"
	"testing"

	"coherentrecon/internal/llm"
	"coherentrecon/internal/wordutil"
)

func TestModeRatioHappyPath(t *testing.T) {
	c := New(Options{Mode: ModeRatio, Ratio: 1.0})
	resp, err := c.Complete(context.Background(), llm.Request{MaxTokens: 3000})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StopReason != llm.StopEndTurn {
		t.Fatalf("expected end_turn, got %s", resp.StopReason)
	}
	words := wordutil.CountWords(resp.Text)
	if words == 0 {
		t.Fatal("expected non-empty output")
	}
}

func TestModeUnderProduce(t *testing.T) {
	c := New(Options{Mode: ModeUnderProduce})
	full, _ := New(Options{Mode: ModeRatio, Ratio: 1.0}).Complete(context.Background(), llm.Request{MaxTokens: 3000})
	under, _ := c.Complete(context.Background(), llm.Request{MaxTokens: 3000})
	if wordutil.CountWords(under.Text) >= wordutil.CountWords(full.Text) {
		t.Fatalf("expected underproduction to yield fewer words: %d vs %d",
			wordutil.CountWords(under.Text), wordutil.CountWords(full.Text))
	}
}

func TestModeTruncateOnce(t *testing.T) {
	c := New(Options{Mode: ModeTruncateOnce})
	req := llm.Request{UserPrompt: "chunk 2 first pass", MaxTokens: 2000}
	first, _ := c.Complete(context.Background(), req)
	if first.StopReason != llm.StopMaxTokens {
		t.Fatalf("expected first call to truncate, got %s", first.StopReason)
	}
	second, _ := c.Complete(context.Background(), req)
	if second.StopReason != llm.StopEndTurn {
		t.Fatalf("expected second call to complete, got %s", second.StopReason)
	}
}

func TestCompleteHonorsCancellation(t *testing.T) {
	c := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, llm.Request{})
	if err == nil {
		t.Fatal("expected context error")
	}
}
