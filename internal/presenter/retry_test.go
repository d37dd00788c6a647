package presenter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapsell/backend/internal/domain"
)

// stubSleep records requested delays without waiting.
func stubSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetryTransientUntilSuccess(t *testing.T) {
	var delays []time.Duration
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, sleep: stubSleep(&delays)}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.Unavailable(nil, "test", "down")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	var delays []time.Duration
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, sleep: stubSleep(&delays)}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.Unavailable(nil, "test", "still down")
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	// No wait after the final attempt.
	assert.Len(t, delays, 2)
}

func TestRetryNeverRepeatsNonTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", domain.Invalid("test", "bad input")},
		{"authentication", domain.Unauthorized("test", "sign in")},
		{"quota policy", domain.QuotaExceeded("test", "creation")},
		{"rate limit policy", domain.RateLimit("test")},
		{"not found", domain.NotFound("test", "listing", "x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration
			p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, sleep: stubSleep(&delays)}

			calls := 0
			err := p.Do(context.Background(), func(ctx context.Context) error {
				calls++
				return tt.err
			})

			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.err, err)
			assert.Empty(t, delays)
		})
	}
}

func TestRetryStopsWhenContextCanceled(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, sleep: func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.Unavailable(nil, "test", "down")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryZeroValueDefaults(t *testing.T) {
	var delays []time.Duration
	p := RetryPolicy{sleep: stubSleep(&delays)}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return domain.Unavailable(nil, "test", "down")
	})

	assert.Equal(t, defaultRetryAttempts, calls)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.Equal(t, []time.Duration{defaultRetryBase, 2 * defaultRetryBase}, delays)
}
