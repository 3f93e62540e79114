package domain

import (
	"errors"
	"fmt"
)

// Code identifies one of the fixed error kinds surfaced by the gateway.
type Code string

const (
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeModelNotFound         Code = "MODEL_NOT_FOUND"
	CodeModelNotConfigured    Code = "LLM_MODEL_NOT_CONFIGURED"
	CodeProviderNotConfigured Code = "PROVIDER_NOT_CONFIGURED"
	CodeRateLimitExceeded     Code = "RATE_LIMIT_EXCEEDED"
	CodeConcurrencyExceeded   Code = "CONCURRENCY_LIMIT_EXCEEDED"
	CodeProviderError         Code = "PROVIDER_ERROR"
	CodeProviderTimeout       Code = "PROVIDER_TIMEOUT"
	CodeProviderRateLimited   Code = "PROVIDER_RATE_LIMITED"
	CodeProviderAuthFailed    Code = "PROVIDER_AUTH_FAILED"
	CodeJSONParseFailed       Code = "JSON_PARSE_FAILED"
	CodeSchemaValidation      Code = "SCHEMA_VALIDATION_FAILED"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// RateLimitDetails is the Details payload carried by RATE_LIMIT_EXCEEDED
// errors; the HTTP layer reads it to emit the Retry-After header.
type RateLimitDetails struct {
	RetryAfterSeconds int `json:"retry_after_seconds"`
}

// Error is the single error shape returned by every fallible operation in the
// gateway. It is created at the point of failure and propagated unchanged; the
// Retryable flag is the only input the retry loop consults.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewError builds an Error with the given kind and message.
func NewError(code Code, retryable bool, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryable,
	}
}

// WithDetails attaches a structured detail payload and returns the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// AsError extracts an *Error from err, if err carries one.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Retryable reports whether err is an Error whose retryable flag is set.
// Unclassified errors are never retried.
func Retryable(err error) bool {
	if se, ok := AsError(err); ok {
		return se.Retryable
	}
	return false
}

// Internalize returns err unchanged when it is already an Error, and wraps
// anything else as INTERNAL_ERROR so unclassified failures never leak their
// raw form past the outermost boundary.
func Internalize(err error) *Error {
	if se, ok := AsError(err); ok {
		return se
	}
	return NewError(CodeInternal, false, "internal error: %v", err)
}
