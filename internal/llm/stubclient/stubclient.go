// Package stubclient provides a deterministic, in-memory llm.Client for the recorded-stub test
// harness referenced throughout SPEC_FULL.md §8 ("the test harness uses a recorded stub LLM").
// Grounded on LLM_SPT's plugins/llmclient/mock and plugins/llmclient/flaky: canned, script-driven
// responses with no network I/O.
package stubclient

import (
	"context"
	"strings"
	"sync"

	"coherentrecon/internal/llm"
	"coherentrecon/internal/wordutil"
)

// Mode selects the canned response-generation strategy.
type Mode int

const (
	// ModeRatio returns filler text sized at a fixed ratio of the word count implied by the
	// requested MaxTokens budget, always stopping at end_turn. This is the "happy path" stub used by
	// scenario 1.
	ModeRatio Mode = iota
	// ModeUnderProduce always emits a fixed fraction of the requested length, simulating a model
	// that chronically under-delivers (scenario 4).
	ModeUnderProduce
	// ModeTruncateOnce forces the first call for a given prompt (keyed by prompt length) to end
	// with StopMaxTokens at half the requested length, succeeding on the next call with a prompt of
	// the same length (scenario 3).
	ModeTruncateOnce
)

// Client is a deterministic stub. Safe for concurrent use.
type Client struct {
	mu          sync.Mutex
	mode        Mode
	ratio       float64
	underFrac   float64
	truncated   map[int]bool
	callIndexFn func(req llm.Request) int
}

// Options configures the stub.
type Options struct {
	Mode Mode
	// Ratio is the output/target ratio used in ModeRatio (default 1.0).
	Ratio float64
	// UnderproduceFraction is the output/target ratio used in ModeUnderProduce (default 0.4).
	UnderproduceFraction float64
}

// New builds a stub client from opts.
func New(opts Options) *Client {
	ratio := opts.Ratio
	if ratio == 0 {
		ratio = 1.0
	}
	under := opts.UnderproduceFraction
	if under == 0 {
		under = 0.4
	}
	return &Client{
		mode:      opts.Mode,
		ratio:     ratio,
		underFrac: under,
		truncated: make(map[int]bool),
	}
}

// wordsRequested estimates the target word count implied by MaxTokens (2 tokens/word, matching
// the "generous token cap (~2x target)" convention from §4.F).
func wordsRequested(req llm.Request) int {
	if req.MaxTokens <= 0 {
		return 500
	}
	return req.MaxTokens / 2
}

// stubSkeletonJSON is the minimal valid outline returned to skeleton extraction requests.
const stubSkeletonJSON = `{"sections":[{"title":"Body","claims":[],"target_words":0,"terms_of_art":[]}]}`

func fillerText(words int) string {
	if words <= 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			if i%18 == 0 {
				b.WriteString(". ")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString("word")
	}
	b.WriteByte('.')
	return b.String()
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	select {
	case <-ctx.Done():
		return llm.Response{}, ctx.Err()
	default:
	}

	// Skeleton extraction asks for a JSON outline; every mode answers it with a minimal valid one so
	// a pipeline run against the stub gets past the extractor.
	if strings.Contains(req.SystemPrompt, "Respond with JSON only") {
		return llm.Response{Text: stubSkeletonJSON, StopReason: llm.StopEndTurn}, nil
	}

	target := wordsRequested(req)

	switch c.mode {
	case ModeUnderProduce:
		n := int(float64(target) * c.underFrac)
		text := fillerText(n)
		return llm.Response{Text: text, StopReason: llm.StopEndTurn, Usage: llm.Usage{CompletionTokens: wordutil.CountWords(text)}}, nil

	case ModeTruncateOnce:
		key := len(req.UserPrompt) // crude per-call identity: distinct prompts, distinct keys
		c.mu.Lock()
		already := c.truncated[key]
		c.truncated[key] = true
		c.mu.Unlock()
		if !already {
			n := target / 2
			text := fillerText(n)
			return llm.Response{Text: text, StopReason: llm.StopMaxTokens}, nil
		}
		text := fillerText(target)
		return llm.Response{Text: text, StopReason: llm.StopEndTurn}, nil

	default: // ModeRatio
		n := int(float64(target) * c.ratio)
		text := fillerText(n)
		return llm.Response{Text: text, StopReason: llm.StopEndTurn}, nil
	}
}

var _ llm.Client = (*Client)(nil)
