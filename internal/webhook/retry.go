package webhook

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy retries a call with exponential backoff. MaxRetries is the total
// attempt budget, not the number of re-tries after the first attempt.
type RetryPolicy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	IsRetryable func(error) bool
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is exhausted. It returns the number of attempts made alongside the
// final error.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	max := p.MaxRetries
	if max <= 0 {
		max = 1
	}
	attempts := 0
	for {
		attempts++
		err := fn()
		if err == nil {
			return attempts, nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return attempts, err
		}
		if attempts >= max {
			return attempts, err
		}
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(p.delay(attempts)):
		}
	}
}

// delay computes base*2^(attempt-1), capped at MaxDelay, with full jitter when
// enabled.
func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	if attempt > 20 {
		attempt = 20
	}
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		d = max
	}
	if p.Jitter {
		d = time.Duration(rand.Int63n(int64(d)) + 1)
	}
	return d
}
