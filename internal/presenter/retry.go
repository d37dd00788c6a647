package presenter

import (
	"context"
	"time"

	"github.com/snapsell/backend/internal/domain"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 500 * time.Millisecond
)

// RetryPolicy retries transient faults with exponential backoff
// (base * 2^(attempt-1)). Permanent faults and policy rejections go through
// on the first attempt: retrying a quota answer without a state change is
// pointless, and an authentication failure must reach the sign-in prompt,
// not burn attempts. The zero value retries 3 times from a 500ms base.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is swapped in tests to skip real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// Do runs fn, retrying while the failure is transient. The context cancels
// the wait between attempts.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = defaultRetryBase
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = waitFor
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if domain.KindOf(err) != domain.KindTransient {
			return err
		}
		if attempt >= attempts {
			break
		}
		if err := sleep(ctx, base*time.Duration(1<<(attempt-1))); err != nil {
			return err
		}
	}
	return lastErr
}

func waitFor(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
