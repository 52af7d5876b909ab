// Package providers implements the source router and the shared provider
// error taxonomy used by all adapters.
package providers

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures. Callers switch on the kind, never
// on the underlying error text.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"    // retry
	KindRateLimited ErrorKind = "rate-limited" // retry after backoff
	KindPermanent   ErrorKind = "permanent"    // do not retry
	KindUnsupported ErrorKind = "unsupported"  // capability missing
	KindNotFound    ErrorKind = "not-found"    // valid empty result
)

// Error is the uniform failure surfaced by every adapter operation.
type Error struct {
	Kind     ErrorKind
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable transport-class failure.
func Transient(provider, op string, err error) *Error {
	return &Error{Kind: KindTransient, Provider: provider, Op: op, Err: err}
}

// RateLimited wraps err as an upstream throttle response.
func RateLimited(provider, op string, err error) *Error {
	return &Error{Kind: KindRateLimited, Provider: provider, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(provider, op string, err error) *Error {
	return &Error{Kind: KindPermanent, Provider: provider, Op: op, Err: err}
}

// Unsupported reports a capability the adapter does not implement.
func Unsupported(provider, op string) *Error {
	return &Error{Kind: KindUnsupported, Provider: provider, Op: op}
}

// NotFound reports a valid empty result.
func NotFound(provider, op string) *Error {
	return &Error{Kind: KindNotFound, Provider: provider, Op: op}
}

// KindOf extracts the error kind; unclassified errors are transient so the
// fallback chain keeps moving.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsRetryable reports whether err is worth retrying on the same provider.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindRateLimited
}

// IsNotFound reports whether err is a valid empty result.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsUnsupported reports whether err signals a missing capability.
func IsUnsupported(err error) bool {
	return KindOf(err) == KindUnsupported
}
