package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	// When: retrying with two retries
	err := Retry(context.Background(), fastRetry(2), fn)

	// Then: succeeds on the third attempt
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_BoundedAttempts(t *testing.T) {
	// Given: a function that always fails
	attempts := 0
	fn := func(context.Context) error {
		attempts++
		return errors.New("persistent error")
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(2), fn)

	// Then: initial attempt + 2 retries, then a wrapped error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts)
}

func TestRetry_ShouldRetryStopsEarly(t *testing.T) {
	permanent := errors.New("bad request")
	attempts := 0

	cfg := fastRetry(5)
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	err := Retry(context.Background(), cfg, func(context.Context) error {
		attempts++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(1), func(context.Context) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("flaky")
		}
		return []float32{1, 2}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestRetry_ContextCancelled(t *testing.T) {
	// Given: an already cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, fastRetry(3), func(context.Context) error {
		attempts++
		return nil
	})

	// Then: nothing runs
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}
