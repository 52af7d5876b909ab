package common

import (
	"errors"
	"fmt"
)

// AppError codes. The HTTP layer maps these to status codes; everything
// else is reported as internal.
const (
	CodeBadRequest        = "bad-request"
	CodeNotFound          = "not-found"
	CodeConflict          = "conflict"
	CodeQuotaDaily        = "quota-exceeded-daily"
	CodeQuotaConcurrent   = "quota-exceeded-concurrent"
	CodeCancelled         = "cancelled"
	CodeStoreUnavailable  = "store-unavailable"
	CodeProviderExhausted = "provider-exhausted"
	CodeLowConfidence     = "consistency-low-confidence"
	CodeInternal          = "internal"
)

// AppError is a coded error crossing the service boundary.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError builds a coded error.
func NewAppError(code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapAppError attaches a code to an underlying error.
func WrapAppError(code string, err error, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// AppErrorCode extracts the code, defaulting to internal.
func AppErrorCode(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}
