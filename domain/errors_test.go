package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDomainError(t *testing.T) {
	exhausted := &ExhaustedRetriesError{Attempts: 3, Err: ErrStoreUnavailable}
	syncFailed := &SyncFailedError{Collection: "tasks", ID: "t1", Attempts: 3, Err: exhausted}
	decode := &DecodeError{Collection: "tasks", ID: "t1", Err: WrapError(ErrCodeValidation, "bad field", nil)}

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"nil", nil, ErrCodeNotFound, false},
		{"plain code", ErrTaskNotFound, ErrCodeNotFound, true},
		{"other code", ErrTaskNotFound, ErrCodeConflict, false},
		{"wrapped by fmt", fmt.Errorf("load: %w", ErrTaskNotFound), ErrCodeNotFound, true},
		{"exhausted over unavailable", exhausted, ErrCodeExhaustedRetries, true},
		{"exhausted keeps inner code", exhausted, ErrCodeUnavailable, true},
		{"exhausted is not sync failed", exhausted, ErrCodeSyncFailed, false},
		{"sync failed over exhausted", syncFailed, ErrCodeSyncFailed, true},
		{"sync failed reaches exhausted", syncFailed, ErrCodeExhaustedRetries, true},
		{"sync failed reaches unavailable", syncFailed, ErrCodeUnavailable, true},
		{"decode over validation", decode, ErrCodeDecode, true},
		{"decode keeps inner code", decode, ErrCodeValidation, true},
		{"op over sync failed", WithOp(OpUpsert, syncFailed), ErrCodeSyncFailed, true},
		{"op over business error", WithOp(OpSubmit, ErrAlreadyResolved), ErrCodeAlreadyResolved, true},
		{"joined", errors.Join(errors.New("first"), ErrInsufficientBalance), ErrCodeInsufficientBalance, true},
		{"foreign error", errors.New("boom"), ErrCodeInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDomainError(tt.err, tt.code))
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", ErrStoreUnavailable, true},
		{"wrapped unavailable", WrapError(ErrCodeUnavailable, "ping", errors.New("dial tcp")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"canceled wrapping unavailable", fmt.Errorf("%w: %w", context.Canceled, ErrStoreUnavailable), false},
		{"validation", ErrInvalidPayload, false},
		{"exhausted over unavailable", &ExhaustedRetriesError{Attempts: 2, Err: ErrStoreUnavailable}, true},
		{"op over unavailable", WithOp(OpSettle, ErrStoreUnavailable), true},
		{"conflict", NewError(ErrCodeConflict, "duplicate"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestOpOf(t *testing.T) {
	assert.Equal(t, OpAdjudicate, OpOf(WithOp(OpAdjudicate, ErrFeedbackRequired)))
	assert.Equal(t, "", OpOf(ErrFeedbackRequired))
	assert.NoError(t, WithOp(OpSubmit, nil))
	assert.ErrorIs(t, WithOp(OpSubmit, ErrTaskNotFound), ErrTaskNotFound)
}
