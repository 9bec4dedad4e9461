package queue

import (
	"errors"
	"time"

	"github.com/kairos-watch/capture/pkg/core"
)

// RetryLadder holds the delay applied after the first, second and third
// failed attempt. A failure after the last rung is terminal.
var RetryLadder = []time.Duration{
	5 * time.Minute,
	30 * time.Minute,
	120 * time.Minute,
}

// RetryDelay returns the delay before the retry that follows failed attempt
// number attempt (1-based). ok is false when no retry remains.
func RetryDelay(attempt int) (delay time.Duration, ok bool) {
	if attempt < 1 || attempt > len(RetryLadder) {
		return 0, false
	}
	return RetryLadder[attempt-1], true
}

// NextRetry decides when a failed job runs again. It returns nil when the
// failure is terminal: the error was wrapped with core.NoRetry, the job used
// its attempt budget, or the ladder is exhausted. A core.RetryAfter error
// replaces the ladder delay but never grants an extra attempt.
func NextRetry(job *core.Job, failedAt time.Time, err error) *time.Time {
	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) {
		return nil
	}
	if !job.AttemptsRemaining() {
		return nil
	}
	delay, ok := RetryDelay(job.AttemptCount)
	if !ok {
		return nil
	}

	var retryAfter *core.RetryAfterError
	if errors.As(err, &retryAfter) && retryAfter.Delay > 0 {
		delay = retryAfter.Delay
	}

	at := failedAt.Add(delay)
	return &at
}
