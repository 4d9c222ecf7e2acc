package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/taskledger/domain"
)

func newController(attempts int) *Controller {
	return New(Config{MaxAttempts: attempts, BaseDelay: time.Millisecond}, nil, nil)
}

func TestDoSucceedsFirstTry(t *testing.T) {
	c := newController(3)

	attempts, err := c.Do(context.Background(), "put", func(context.Context) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoRecoversFromTransientFailure(t *testing.T) {
	c := newController(3)
	calls := 0

	attempts, err := c.Do(context.Background(), "put", func(context.Context) error {
		calls++
		if calls < 2 {
			return domain.ErrStoreUnavailable
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, calls)
}

func TestDoStopsAtCeiling(t *testing.T) {
	for _, max := range []int{1, 3, 5} {
		c := newController(max)
		calls := 0

		attempts, err := c.Do(context.Background(), "put", func(context.Context) error {
			calls++
			return domain.ErrStoreUnavailable
		})

		var exhausted *domain.ExhaustedRetriesError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, max, exhausted.Attempts)
		assert.Equal(t, max, attempts)
		assert.Equal(t, max, calls)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.True(t, domain.IsDomainError(err, domain.ErrCodeExhaustedRetries))
	}
}

func TestDoFailsFastOnValidation(t *testing.T) {
	c := newController(3)
	calls := 0

	attempts, err := c.Do(context.Background(), "put", func(context.Context) error {
		calls++
		return domain.Validation("title is required")
	})

	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeValidation))
	assert.False(t, domain.IsDomainError(err, domain.ErrCodeExhaustedRetries))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	c := New(Config{MaxAttempts: 10, BaseDelay: time.Hour}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, "put", func(context.Context) error { return domain.ErrStoreUnavailable })
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("retry sequence ignored cancellation")
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Config{}, nil, nil)

	assert.Equal(t, DefaultMaxAttempts, c.MaxAttempts())
	assert.Equal(t, DefaultBaseDelay, c.cfg.BaseDelay)
}
