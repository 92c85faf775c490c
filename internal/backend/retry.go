package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// RetryConfig configures bounded exponential backoff for a backend.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// Multiplier is the backoff multiplier.
	Multiplier float64
	// Jitter is the randomization factor (0.0-1.0).
	Jitter float64
	// RequestsPerSecond limits calls; 0 disables limiting.
	RequestsPerSecond float64
}

// DefaultRetryConfig returns the retry settings used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retrying wraps a backend with bounded retries of ErrUnavailable failures.
// Other errors are returned immediately.
type Retrying struct {
	inner   Backend
	config  RetryConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRetrying wraps inner with the given retry configuration.
func NewRetrying(inner Backend, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retrying{inner: inner, config: cfg, logger: logger}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return r
}

// Complete calls the wrapped backend, retrying unavailable errors with backoff.
// After the retry budget is spent the last error is returned, still wrapping
// ErrUnavailable.
func (r *Retrying) Complete(ctx context.Context, p Prompt) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialDelay
	b.MaxInterval = r.config.MaxDelay
	b.Multiplier = r.config.Multiplier
	b.RandomizationFactor = r.config.Jitter

	attempt := 0
	op := func() (string, error) {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return "", backoff.Permanent(err)
			}
		}
		out, err := r.inner.Complete(ctx, p)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || !errors.Is(err, ErrUnavailable) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.config.MaxRetries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			r.logger.Warn("backend call failed, retrying", "attempt", attempt, "delay", d, "error", err)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, ErrUnavailable) {
			return "", fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		return "", err
	}
	return out, nil
}
