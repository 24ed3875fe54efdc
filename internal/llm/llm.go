// Package llm defines the ambient LLM handle used across the pipeline: a text-in/text-out
// completion contract, passed as an explicit dependency rather than resolved from process-global
// configuration (see SPEC_FULL.md §9), so the pipeline stays testable with a stub.
package llm

import (
	"context"
	"errors"
)

// StopReason classifies how a completion ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// Request is one completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Model        string
	Temperature  float64
}

// Usage carries token accounting, when the provider reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a completed LLM call.
type Response struct {
	Text       string
	StopReason StopReason
	Usage      Usage
}

// Client is the minimal contract every provider implements: single request in, single response
// out, respecting ctx cancellation/timeout.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Minimal error taxonomy consulted by callers deciding whether to retry (§7 Transport/Protocol
// errors are both handled via these).
var (
	ErrRateLimited     = errors.New("llm: rate limited")
	ErrResponseInvalid = errors.New("llm: response invalid or empty")
	ErrTransport       = errors.New("llm: transport failure")
)

// IsRetryable reports whether err represents a transport-class failure worth retrying, as
// opposed to a caller error that will not be fixed by retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrResponseInvalid) || errors.Is(err, ErrTransport)
}
