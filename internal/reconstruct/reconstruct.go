// Package reconstruct implements the Chunk Reconstructor (spec §4.F): the first-pass LLM call
// that turns one input chunk, the global skeleton, and the accumulated coherence context into a
// draft of that chunk's output. Length enforcement on the response lives in internal/lengthenforce
// and delta synthesis in internal/controller; this package owns only prompt construction and the
// first call.
// Grounded on the teacher's worker.Processor.runJob single-attempt dispatch shape, generalized
// from a job-type handler lookup to a fixed reconstruction prompt.
package reconstruct

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coherentrecon/internal/deltastore"
	"coherentrecon/internal/llm"
	"coherentrecon/internal/models"
)

// Timeout bounds a single reconstruction call; the teacher's HTTP handlers use similarly generous
// fixed timeouts for long-running external calls.
const Timeout = 10 * time.Minute

// tokensPerWord approximates an upper bound used to size MaxTokens; kept generous (2 tokens per
// word of the chunk's MaxWords) so legitimate continuations aren't truncated before the Length Enforcer gets a chance to
// react to the stop reason.
const tokensPerWord = 2

// Draft is the first-pass result of reconstructing one chunk.
type Draft struct {
	Text       string
	StopReason llm.StopReason
	Usage      llm.Usage
}

// Run performs the first reconstruction call for chunk, given the job's global skeleton and the
// coherence context accumulated from prior chunks.
func Run(ctx context.Context, client llm.Client, skeleton models.Skeleton, coherence deltastore.CoherenceContext, chunk models.Chunk) (Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req := buildRequest(skeleton, coherence, chunk)
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return Draft{}, fmt.Errorf("reconstruct chunk %d: %w", chunk.ChunkIndex, err)
	}
	return Draft{Text: resp.Text, StopReason: resp.StopReason, Usage: resp.Usage}, nil
}

func buildRequest(skeleton models.Skeleton, coherence deltastore.CoherenceContext, chunk models.Chunk) llm.Request {
	var sb strings.Builder
	sb.WriteString("Rewrite the following source passage as part of a longer coherent document. ")
	sb.WriteString(fmt.Sprintf("Target length for this section is between %d and %d words. ", chunk.MinWords, chunk.MaxWords))
	sb.WriteString("Write prose only; do not restate these instructions.\n\n")

	if len(skeleton.Sections) > 0 {
		sb.WriteString("Overall document outline:\n")
		for _, s := range skeleton.Sections {
			sb.WriteString(fmt.Sprintf("- %s\n", s.Title))
		}
		sb.WriteString("\n")
	}

	if summary := coherence.Summarize(); summary != "" {
		sb.WriteString(summary)
		sb.WriteString("\n\n")
	}

	sb.WriteString("SOURCE PASSAGE:\n")
	sb.WriteString(chunk.InputText)

	return llm.Request{
		SystemPrompt: "You are expanding and rewriting a passage while preserving every claim and staying consistent with prior sections.",
		UserPrompt:   sb.String(),
		MaxTokens:    chunk.MaxWords * tokensPerWord,
	}
}
