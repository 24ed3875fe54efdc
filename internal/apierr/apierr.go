// Package apierr maps internal error conditions to HTTP status codes and a stable JSON error
// payload shape, so handlers in internal/api don't each hand-roll status selection. Grounded on
// the teacher's internal/api/server.go inline http.Error(w, ..., status) calls, pulled out into a
// single mapping table because the reconstruction pipeline's error surface (duplicate-run,
// not-found, validation, upstream LLM failure) is wider than the teacher's enqueue/cancel pair.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind classifies an error for HTTP status selection.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidInput
	KindConflict
	KindRateLimited
	KindUpstream
)

// Error is a typed API error carrying the HTTP status it should produce.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NotFound, InvalidInput, Conflict, RateLimited, Upstream, and Internal construct an *Error of
// the matching Kind.
func NotFound(msg string) *Error     { return &Error{Kind: KindNotFound, Message: msg} }
func InvalidInput(msg string) *Error { return &Error{Kind: KindInvalidInput, Message: msg} }
func Conflict(msg string) *Error     { return &Error{Kind: KindConflict, Message: msg} }
func RateLimited(msg string) *Error  { return &Error{Kind: KindRateLimited, Message: msg} }
func Upstream(msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Cause: cause}
}
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Cause: cause}
}

func (k Kind) status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type payload struct {
	Error string `json:"error"`
}

// Write renders err as a JSON error body with the status its Kind maps to. A plain (non-*Error)
// error is treated as internal, matching the teacher's http.Error fallback behavior.
func Write(w http.ResponseWriter, err error) {
	var apiErr *Error
	status := http.StatusInternalServerError
	msg := err.Error()
	if errors.As(err, &apiErr) {
		status = apiErr.Kind.status()
		msg = apiErr.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload{Error: msg})
}
