package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeValidation          ErrorCode = "VALIDATION"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyResolved     ErrorCode = "ALREADY_RESOLVED"
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeUnavailable         ErrorCode = "UNAVAILABLE"
	ErrCodeDecode              ErrorCode = "DECODE"
	ErrCodeSyncFailed          ErrorCode = "SYNC_FAILED"
	ErrCodeExhaustedRetries    ErrorCode = "EXHAUSTED_RETRIES"
	ErrCodeInternal            ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by code and message, so wrapped sentinels compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors.
var (
	ErrTaskNotFound         = NewError(ErrCodeNotFound, "task not found")
	ErrEvidenceNotFound     = NewError(ErrCodeNotFound, "evidence not found")
	ErrNotificationNotFound = NewError(ErrCodeNotFound, "notification not found")
	ErrRecordNotFound       = NewError(ErrCodeNotFound, "record not found")
	ErrAlreadyResolved      = NewError(ErrCodeAlreadyResolved, "evidence already resolved")
	ErrInsufficientBalance  = NewError(ErrCodeInsufficientBalance, "insufficient balance")
	ErrFeedbackRequired     = NewError(ErrCodeInvalidArgument, "rejection requires feedback")
	ErrUnknownOutcome       = NewError(ErrCodeInvalidArgument, "unknown adjudication outcome")
	ErrNotAssignee          = NewError(ErrCodeForbidden, "task is assigned to another performer")
	ErrNotOwner             = NewError(ErrCodeForbidden, "task is owned by another adjudicator")
	ErrUnauthorized         = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrInvalidPayload       = NewError(ErrCodeValidation, "invalid payload")
	ErrStoreUnavailable     = NewError(ErrCodeUnavailable, "record store unavailable")
)

// Validation builds a ValidationError with the given message.
func Validation(format string, args ...any) *Error {
	return NewError(ErrCodeValidation, fmt.Sprintf(format, args...))
}

// IsDomainError reports whether any error in err's chain carries code. The
// typed wrappers answer for their own codes, so an exhausted write of an
// unavailable store is both EXHAUSTED_RETRIES and UNAVAILABLE.
func IsDomainError(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	switch code {
	case ErrCodeExhaustedRetries:
		var ex *ExhaustedRetriesError
		if errors.As(err, &ex) {
			return true
		}
	case ErrCodeSyncFailed:
		var sf *SyncFailedError
		if errors.As(err, &sf) {
			return true
		}
	case ErrCodeDecode:
		var de *DecodeError
		if errors.As(err, &de) {
			return true
		}
	}
	return hasCode(err, code)
}

func hasCode(err error, code ErrorCode) bool {
	for err != nil {
		if dErr, ok := err.(*Error); ok && dErr != nil && dErr.Code == code {
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if hasCode(inner, code) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return false
		}
	}
	return false
}

// IsTransient reports whether err is a connectivity-class failure worth retrying.
// Cancellation is never transient: the caller stopped caring.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return hasCode(err, ErrCodeUnavailable)
}

// ExhaustedRetriesError is returned when a write failed on every allowed attempt.
type ExhaustedRetriesError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("exhausted retries after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Err }

// SyncFailedError reports a local mutation whose remote write gave up.
// The local record is kept and stays queued for the next sync trigger.
type SyncFailedError struct {
	Collection string
	ID         string
	Attempts   int
	Err        error
}

func (e *SyncFailedError) Error() string {
	return fmt.Sprintf("sync of %s/%s failed after %d attempts: %v", e.Collection, e.ID, e.Attempts, e.Err)
}

func (e *SyncFailedError) Unwrap() error { return e.Err }

// DecodeError reports a remote record that did not match its typed schema.
type DecodeError struct {
	Collection string
	ID         string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Operation names attached to user-facing failures.
const (
	OpSubmit     = "submit"
	OpAdjudicate = "adjudicate"
	OpUpsert     = "upsert"
	OpSettle     = "settle"
	OpDeduct     = "deduct"
)

// OpError tags a failure with the operation that produced it so callers can
// tell a failed submission apart from a failed adjudication.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

// WithOp wraps err with the operation name; nil stays nil.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// OpOf returns the operation recorded on err, if any.
func OpOf(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Op
	}
	return ""
}
