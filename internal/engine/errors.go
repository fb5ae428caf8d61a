package engine

import (
	"errors"
	"fmt"
)

// OpError represents a classified failure during an operation.
//
// Classification drives control flow: retryable codes are retried by the
// RetryingCaller, quota-fatal codes halt the run behind a checkpoint,
// item-fatal codes mark individual items failed without aborting the batch.
type OpError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ItemID identifies the affected item for per-item errors.
	ItemID string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes operation errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates the operation's parameters are invalid.
	// Fatal before execution; no side effects have occurred.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeQuotaExceeded indicates the service itself signalled budget
	// exhaustion. Non-fatal to the operation: the run halts behind a
	// checkpoint and is resumable after rollover.
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeRateLimited indicates a rate-limit response. Retried locally.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodeNetwork indicates a transient transport failure. Retried locally.
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeAuthExpired indicates the credential expired mid-run. Triggers
	// exactly one token refresh and one retry, else fatal.
	ErrCodeAuthExpired ErrorCode = "AUTH_EXPIRED"

	// ErrCodeNotFound indicates a missing item or container. Fatal per item.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodePermission indicates the caller may not touch the target.
	// Fatal per item.
	ErrCodePermission ErrorCode = "PERMISSION_DENIED"

	// ErrCodeCorruptCheckpoint indicates a stored checkpoint could not be
	// decoded. Fatal for resume only; a fresh run is still possible.
	ErrCodeCorruptCheckpoint ErrorCode = "CORRUPT_CHECKPOINT"

	// ErrCodeRetryExhausted indicates a retryable error survived every
	// attempt. Surfaced on the affected items, never swallowed.
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
)

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s: %s (item=%s)", e.Code, e.Message, e.ItemID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError creates an OpError with the given code and message.
func NewOpError(code ErrorCode, message string) *OpError {
	return &OpError{Code: code, Message: message}
}

// WrapOpError wraps an underlying error with a code and message.
func WrapOpError(code ErrorCode, message string, err error) *OpError {
	return &OpError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from err, or "" if err is not an OpError.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsRetryable reports whether err should be retried locally with backoff.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeRateLimited, ErrCodeNetwork:
		return true
	}
	return false
}

// IsQuotaFatal reports whether err is the service's own budget-exhausted
// signal, which halts the run immediately without retry.
func IsQuotaFatal(err error) bool {
	return CodeOf(err) == ErrCodeQuotaExceeded
}

// IsAuthExpired reports whether err is an expired-credential failure.
func IsAuthExpired(err error) bool {
	return CodeOf(err) == ErrCodeAuthExpired
}

// IsItemFatal reports whether err is fatal for individual items but not for
// the batch or the operation.
func IsItemFatal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotFound, ErrCodePermission:
		return true
	}
	return false
}

// IsCorruptCheckpoint reports whether err is a checkpoint decode failure.
func IsCorruptCheckpoint(err error) bool {
	return CodeOf(err) == ErrCodeCorruptCheckpoint
}
