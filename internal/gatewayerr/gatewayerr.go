// Package gatewayerr defines the gateway's stable error taxonomy (§7).
// Components return *Error (or wrap one with fmt.Errorf's %w) instead of
// ad-hoc strings; the transport layer is the only place that turns a
// Code into an HTTP status or wire frame.
package gatewayerr

import "fmt"

// Code is a stable, wire-visible error code.
type Code string

const (
	CodeInvalidRequest        Code = "invalid_request"
	CodeUnauthorized          Code = "unauthorized"
	CodeForbidden             Code = "forbidden"
	CodeNotFound              Code = "not_found"
	CodeConflict              Code = "conflict"
	CodeReplayWindowExceeded  Code = "replay_window_exceeded"
	CodeRateLimited           Code = "rate_limited"
	CodeLimitExceeded         Code = "limit_exceeded"
	CodeBackpressure          Code = "backpressure"
	CodeInternal              Code = "internal"
)

// Error is a typed domain error carrying an optional structured detail
// payload, merged verbatim into the wire error body alongside
// {code, message}.
type Error struct {
	Code    Code
	Message string
	Detail  map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a bare Error with no detail payload.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetail builds an Error carrying a structured detail payload.
func WithDetail(code Code, message string, detail map[string]any) *Error {
	return &Error{Code: code, Message: message, Detail: detail}
}

// Invalid is shorthand for a CodeInvalidRequest error.
func Invalid(message string) *Error { return New(CodeInvalidRequest, message) }

// Unauthorized is shorthand for a CodeUnauthorized error.
func Unauthorized(message string) *Error { return New(CodeUnauthorized, message) }

// Forbidden is shorthand for a CodeForbidden error.
func Forbidden(message string) *Error { return New(CodeForbidden, message) }

// NotFound is shorthand for a CodeNotFound error.
func NotFound(message string) *Error { return New(CodeNotFound, message) }

// Conflict is shorthand for a CodeConflict error.
func Conflict(message string) *Error { return New(CodeConflict, message) }

// Internal is shorthand for a CodeInternal error; never include details
// that might leak internals to the client.
func Internal(message string) *Error { return New(CodeInternal, message) }

// ReplayWindowExceeded builds the structured detail §4.6/§7 requires.
func ReplayWindowExceeded(convID string, requestedFromSeq, earliestSeq, latestSeq int64) *Error {
	return WithDetail(CodeReplayWindowExceeded, "requested sequence has been pruned", map[string]any{
		"conv_id":            convID,
		"requested_from_seq": requestedFromSeq,
		"earliest_seq":       earliestSeq,
		"latest_seq":         latestSeq,
	})
}

// RateLimited builds a rate_limited error carrying retry_after_s.
func RateLimited(retryAfterS int64) *Error {
	return WithDetail(CodeRateLimited, "rate limit exceeded", map[string]any{
		"retry_after_s": retryAfterS,
	})
}

// LimitExceeded builds a limit_exceeded error naming which cap tripped.
func LimitExceeded(message string) *Error { return New(CodeLimitExceeded, message) }

// HTTPStatus maps a Code to the HTTP status §6.1/§7 mandates.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidRequest:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeReplayWindowExceeded:
		return 410
	case CodeRateLimited:
		return 429
	case CodeLimitExceeded:
		return 409
	case CodeBackpressure:
		return 499
	default:
		return 500
	}
}
