// Package lengthenforce implements the Length Enforcer (spec §4.G): the continuation loop that
// keeps asking the LLM to extend a chunk's draft until it lands within its [min, max] word band,
// forcing continuation whenever the provider truncated on max_tokens. Grounded on the teacher's
// retry loop in worker.Processor.Run (attempt counter, sleep-between-attempts, give-up-and-flag
// terminal state), generalized from "retry the whole job" to "continue the same draft".
package lengthenforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coherentrecon/internal/llm"
	"coherentrecon/internal/wordutil"
)

// MaxAttempts bounds the continuation loop (spec §4.G).
const MaxAttempts = 20

// acceptableFraction is how close to the chunk's target word count a draft must land before being
// accepted unflagged despite falling short of minWords (spec §4.G: "acceptable if word count ≥
// 0.95·target"): covers the case where the model stops cleanly just inside the floor.
const acceptableFraction = 0.95

// InterAttemptSleep throttles back-to-back continuation calls to the same chunk.
const InterAttemptSleep = 300 * time.Millisecond

// carryForwardParagraphs is how much of the prior draft is repeated verbatim at the head of a
// continuation prompt, so the model resumes rather than drifts.
const carryForwardParagraphs = 3

// Result is the outcome of enforcing a chunk's length band.
type Result struct {
	Text       string
	Words      int
	Attempts   int
	Flagged    bool
	StopReason llm.StopReason
}

// Enforce drives continuation calls against client, starting from draftText/draftStop (the Chunk
// Reconstructor's first-pass output), until the accumulated text falls within [minWords,
// maxWords] on a clean stop, the model stops cleanly above maxWords (flagged) or at or above
// acceptableFraction of targetWords, or MaxAttempts is reached (flagged). A max_tokens stop
// always triggers another continuation while attempts remain.
func Enforce(ctx context.Context, client llm.Client, sourcePrompt llm.Request, draftText string, draftStop llm.StopReason, targetWords, minWords, maxWords int) (Result, error) {
	text := draftText
	stop := draftStop
	attempts := 1

	for {
		words := wordutil.CountWords(text)
		withinBand := words >= minWords && words <= maxWords
		forcedContinue := stop == llm.StopMaxTokens

		if withinBand && !forcedContinue {
			return Result{Text: text, Words: words, Attempts: attempts, StopReason: stop}, nil
		}
		if !forcedContinue && words > maxWords {
			// Over band but stopped cleanly: nothing more to ask for, flag for review.
			return Result{Text: text, Words: words, Attempts: attempts, Flagged: true, StopReason: stop}, nil
		}
		closeEnough := float64(words) >= acceptableFraction*float64(targetWords)
		if !forcedContinue && closeEnough {
			// Model stopped cleanly near the floor; accept without flagging further.
			return Result{Text: text, Words: words, Attempts: attempts, StopReason: stop}, nil
		}
		if attempts >= MaxAttempts {
			return Result{Text: text, Words: words, Attempts: attempts, Flagged: true, StopReason: stop}, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(InterAttemptSleep):
		}

		req := continuationRequest(sourcePrompt, text, minWords, maxWords)
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return Result{}, fmt.Errorf("length enforcement continuation: %w", err)
		}
		text = mergeContinuation(text, resp.Text)
		stop = resp.StopReason
		attempts++
	}
}

func continuationRequest(base llm.Request, soFar string, minWords, maxWords int) llm.Request {
	carry := lastParagraphs(soFar, carryForwardParagraphs)
	words := wordutil.CountWords(soFar)
	remaining := maxWords - words
	if remaining < 50 {
		remaining = 50
	}

	prompt := fmt.Sprintf(
		"Continue the passage below without repeating it. It currently has %d words and needs to reach "+
			"at least %d words (up to %d). Resume naturally from where it leaves off.\n\n%s",
		words, minWords, maxWords, carry,
	)

	return llm.Request{
		SystemPrompt: base.SystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    remaining * 2,
	}
}

func mergeContinuation(soFar, continuation string) string {
	soFar = strings.TrimRight(soFar, " \t\n")
	continuation = strings.TrimLeft(continuation, " \t\n")
	if soFar == "" {
		return continuation
	}
	if continuation == "" {
		return soFar
	}
	return soFar + "\n\n" + continuation
}

// lastParagraphs returns the trailing n paragraphs of text, joined, for verbatim carry-forward
// into a continuation prompt.
func lastParagraphs(text string, n int) string {
	paras := strings.Split(strings.TrimSpace(text), "\n\n")
	if len(paras) <= n {
		return strings.TrimSpace(text)
	}
	return strings.Join(paras[len(paras)-n:], "\n\n")
}
