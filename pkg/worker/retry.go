package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/kairos-watch/capture/pkg/core"
)

// RetryConfig holds configuration for retrying storage calls with backoff.
// It covers short outages of the database, not failed captures, which follow
// the queue's retry ladder.
type RetryConfig struct {
	// MaxAttempts is the maximum number of retry attempts (including initial).
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 5s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier applied to backoff after each attempt.
	// Default: 2.0
	BackoffMultiplier float64

	// JitterFraction is the fraction of backoff to randomize (0.0 to 1.0).
	// Default: 0.1 (10% jitter)
	JitterFraction float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// defaultClaimRetryConfig backs off longer so an outage is not hammered by
// every polling loop.
func defaultClaimRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// WithRetryAttempts sets the storage retry attempts, keeping the other
// defaults.
func WithRetryAttempts(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		cfg := DefaultRetryConfig()
		if n > 0 {
			cfg.MaxAttempts = n
		}
		c.StorageRetry = &cfg
	})
}

// DisableRetry makes every storage call a single attempt.
func DisableRetry() WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		storage := DefaultRetryConfig()
		storage.MaxAttempts = 1
		claim := defaultClaimRetryConfig()
		claim.MaxAttempts = 1
		c.StorageRetry = &storage
		c.ClaimRetry = &claim
	})
}

// retryWithBackoff executes the operation with exponential backoff on failure.
// It respects context cancellation and returns the last error if all attempts
// fail. Errors that IsRetryableError rejects are returned at once.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) {
			return lastErr
		}

		// Check if we've exhausted attempts
		if attempt >= config.MaxAttempts {
			break
		}

		// Calculate backoff with jitter
		jitter := time.Duration(float64(backoff) * config.JitterFraction * (rand.Float64()*2 - 1))
		sleepDuration := backoff + jitter
		if sleepDuration < 0 {
			sleepDuration = backoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepDuration):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return lastErr
}

// IsRetryableError determines if a storage error is worth retrying.
// Context errors and the queue's own verdicts (nothing to claim, lock lost,
// bad input) are final; anything else is assumed to be a transient database
// problem.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch {
	case errors.Is(err, core.ErrNoJobAvailable),
		errors.Is(err, core.ErrJobNotOwned),
		errors.Is(err, core.ErrTargetNotFound),
		errors.Is(err, core.ErrInvalidWorkerID),
		errors.Is(err, core.ErrArtifactTooLarge),
		errors.Is(err, core.ErrInvalidKey):
		return false
	}
	return true
}
