package reconstruct

import (
	"context"
	"testing"

	"coherentrecon/internal/deltastore"
	"coherentrecon/internal/llm/stubclient"
	"coherentrecon/internal/models"
	"coherentrecon/internal/wordutil"
)

func TestRunReturnsDraftWithinBand(t *testing.T) {
	client := stubclient.New(stubclient.Options{Mode: stubclient.ModeRatio, Ratio: 1.0})
	chunk := models.Chunk{
		ChunkIndex: 0,
		InputText:  "A short passage about entropy and disorder in closed systems.",
		TargetWords: 400,
		MinWords:    340,
		MaxWords:    460,
	}
	draft, err := Run(context.Background(), client, models.Skeleton{}, deltastore.CoherenceContext{}, chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if draft.Text == "" {
		t.Fatal("expected non-empty draft text")
	}
	if w := wordutil.CountWords(draft.Text); w < chunk.MinWords || w > chunk.MaxWords {
		t.Fatalf("expected draft within [%d, %d] words, got %d", chunk.MinWords, chunk.MaxWords, w)
	}
}

func TestBuildRequestIncludesCoherenceSummary(t *testing.T) {
	coherence := deltastore.CoherenceContext{Claims: []string{"prior claim about X"}}
	chunk := models.Chunk{ChunkIndex: 1, InputText: "more text", MinWords: 100, MaxWords: 150}
	req := buildRequest(models.Skeleton{}, coherence, chunk)
	if !contains(req.UserPrompt, "prior claim about X") {
		t.Fatalf("expected coherence summary embedded in prompt, got:\n%s", req.UserPrompt)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
