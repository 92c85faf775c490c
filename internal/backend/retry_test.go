package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(retries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetrying_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	inner := Func(func(ctx context.Context, p Prompt) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("status 529: %w", ErrUnavailable)
		}
		return "ok: " + p.User, nil
	})

	out, err := NewRetrying(inner, fastRetry(3), nil).Complete(context.Background(), Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok: hi", out)
	assert.Equal(t, 3, calls)
}

func TestRetrying_GivesUpAfterBudget(t *testing.T) {
	calls := 0
	inner := Func(func(context.Context, Prompt) (string, error) {
		calls++
		return "", fmt.Errorf("connection refused: %w", ErrUnavailable)
	})

	_, err := NewRetrying(inner, fastRetry(2), nil).Complete(context.Background(), Prompt{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetrying_DoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	bad := errors.New("invalid request")
	inner := Func(func(context.Context, Prompt) (string, error) {
		calls++
		return "", bad
	})

	_, err := NewRetrying(inner, fastRetry(5), nil).Complete(context.Background(), Prompt{})
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
}

func TestRetrying_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := Func(func(context.Context, Prompt) (string, error) {
		cancel()
		return "", ErrUnavailable
	})

	_, err := NewRetrying(inner, fastRetry(5), nil).Complete(ctx, Prompt{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrying_RateLimited(t *testing.T) {
	inner := Func(func(context.Context, Prompt) (string, error) { return "x", nil })
	r := NewRetrying(inner, RetryConfig{RequestsPerSecond: 1000}, nil)
	for i := 0; i < 3; i++ {
		out, err := r.Complete(context.Background(), Prompt{})
		require.NoError(t, err)
		assert.Equal(t, "x", out)
	}
}
