// Package apperror defines the error taxonomy shared by the gateway and the session engine.
//
// Every failure that reaches an HTTP boundary is classified into one Kind. The
// kind decides the status code and the machine-readable code in the error
// envelope, so callers can tell "try again later" (Upstream, Unavailable) from
// "your request was wrong" (Validation, Auth, NotFound, Conflict).
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindConflict
	KindUpstream
	KindUnavailable
	KindRateLimited
)

// String returns the machine-readable error code for the kind.
func (k Kind) String() string {
	return Code(k)
}

// Error codes
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeAuth        = "AUTH_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeUpstream    = "UPSTREAM_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeRateLimited = "RATE_LIMITED"
	CodeInternal    = "INTERNAL_ERROR"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	// RetryAfter is set for Unavailable and RateLimited errors.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return Code(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails returns e with the details map set.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a malformed caller request. Never retried.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// Auth reports a missing or bad request signature. Never retried.
func Auth(format string, args ...any) *Error { return newf(KindAuth, format, args...) }

// NotFound reports a missing session or objective.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Conflict reports a state conflict such as completing a session twice.
func Conflict(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

// Upstream wraps a provider failure that survived all retries.
func Upstream(err error, format string, args ...any) *Error {
	e := newf(KindUpstream, format, args...)
	e.Err = err
	return e
}

// Unavailable reports an open circuit; retryAfter is the remaining cooldown.
func Unavailable(retryAfter time.Duration, format string, args ...any) *Error {
	e := newf(KindUnavailable, format, args...)
	e.RetryAfter = retryAfter
	return e
}

// RateLimited reports a caller exceeding its request budget.
func RateLimited(retryAfter time.Duration, format string, args ...any) *Error {
	e := newf(KindRateLimited, format, args...)
	e.RetryAfter = retryAfter
	return e
}

// Internal wraps an unexpected failure such as a store I/O error.
func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// Classifier lets foreign error types declare their kind without importing this package's constructors.
type Classifier interface {
	AppErrorKind() Kind
}

// KindOf returns the kind of err, walking the wrap chain. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.AppErrorKind()
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a caller-side retry could plausibly succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstream, KindUnavailable, KindRateLimited, KindInternal:
		return true
	default:
		return false
	}
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Code maps a kind to its machine-readable code.
func Code(kind Kind) string {
	switch kind {
	case KindValidation:
		return CodeValidation
	case KindAuth:
		return CodeAuth
	case KindNotFound:
		return CodeNotFound
	case KindConflict:
		return CodeConflict
	case KindUpstream:
		return CodeUpstream
	case KindUnavailable:
		return CodeUnavailable
	case KindRateLimited:
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// KindFromCode is the inverse of Code, used when decoding error envelopes from a peer service.
func KindFromCode(code string) Kind {
	switch code {
	case CodeValidation:
		return KindValidation
	case CodeAuth:
		return KindAuth
	case CodeNotFound:
		return KindNotFound
	case CodeConflict:
		return KindConflict
	case CodeUpstream:
		return KindUpstream
	case CodeUnavailable:
		return KindUnavailable
	case CodeRateLimited:
		return KindRateLimited
	default:
		return KindInternal
	}
}
