package harvest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// RetryPolicy bounds attempts and jitters the wait between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy builds a policy. Non-positive values fall back to two
// attempts, a 250ms base delay and a 5s ceiling.
func NewRetryPolicy(attempts int, base, ceiling time.Duration) RetryPolicy {
	if attempts <= 0 {
		attempts = 2
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = 5 * time.Second
	}
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: base, MaxDelay: ceiling}
}

// ShouldRetry decides whether the error is retryable after attempt tries.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPermanent) {
		return false
	}
	return true
}

// Backoff returns the wait before attempt+1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Do runs fn until it succeeds, the policy gives up, or the job is halted.
// The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, stop *StopSignal, fn func(attempt int) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if !Pause(ctx, stop, p.Backoff(attempt)) {
			return fmt.Errorf("retry interrupted: %w", err)
		}
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
