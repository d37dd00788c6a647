package presenter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/models"
)

func paymentIn(status string) *models.Payment {
	p := &models.Payment{
		ID:      "cs_test_123",
		Product: models.ProductCreationCredits,
		Status:  status,
	}
	if status == models.PaymentStatusCompleted {
		at := time.Date(2026, 8, 25, 12, 0, 5, 0, time.UTC)
		p.AppliedAt = &at
	}
	return p
}

// sequencedPayments returns one canned answer per poll, failing loudly when
// polled more often than planned.
func sequencedPayments(t *testing.T, polls *int, answers ...func() (*models.Payment, error)) func(ctx context.Context, id string) (*models.Payment, error) {
	t.Helper()
	return func(ctx context.Context, id string) (*models.Payment, error) {
		require.Less(t, *polls, len(answers), "unexpected extra poll")
		answer := answers[*polls]
		*polls++
		return answer()
	}
}

func pending() (*models.Payment, error) { return paymentIn(models.PaymentStatusPending), nil }
func applied() (*models.Payment, error) { return paymentIn(models.PaymentStatusCompleted), nil }

func TestWatcherAppliedOnFirstPoll(t *testing.T) {
	polls := 0
	var delays []time.Duration
	w := &PaymentWatcher{
		Ledger:      &fakeLedger{paymentStatus: sequencedPayments(t, &polls, applied)},
		MaxAttempts: 5,
		Interval:    time.Second,
		sleep:       stubSleep(&delays),
	}

	p, err := w.Wait(context.Background(), "cs_test_123")
	require.NoError(t, err)
	assert.True(t, p.Applied())
	assert.Equal(t, 1, polls)
	assert.Empty(t, delays)
}

func TestWatcherAppliedAfterPendingPolls(t *testing.T) {
	polls := 0
	var delays []time.Duration
	w := &PaymentWatcher{
		Ledger:      &fakeLedger{paymentStatus: sequencedPayments(t, &polls, pending, pending, applied)},
		MaxAttempts: 5,
		Interval:    time.Second,
		sleep:       stubSleep(&delays),
	}

	p, err := w.Wait(context.Background(), "cs_test_123")
	require.NoError(t, err)
	assert.True(t, p.Applied())
	assert.Equal(t, 3, polls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, delays)
}

// Exhausting the attempts is the "will update shortly" outcome, carried as a
// payment_pending code, never as a failure status.
func TestWatcherBoundedWhenStillPending(t *testing.T) {
	polls := 0
	var delays []time.Duration
	w := &PaymentWatcher{
		Ledger:      &fakeLedger{paymentStatus: sequencedPayments(t, &polls, pending, pending, pending)},
		MaxAttempts: 3,
		Interval:    time.Second,
		sleep:       stubSleep(&delays),
	}

	p, err := w.Wait(context.Background(), "cs_test_123")
	require.Error(t, err)
	assert.Equal(t, domain.EPAYMENTPENDING, domain.ErrorCode(err))
	assert.Equal(t, 3, polls)

	// The last status comes back with the error for the UI to show counts.
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
}

func TestWatcherStopsOnProcessorFailure(t *testing.T) {
	polls := 0
	var delays []time.Duration
	w := &PaymentWatcher{
		Ledger: &fakeLedger{paymentStatus: sequencedPayments(t, &polls, func() (*models.Payment, error) {
			return paymentIn(models.PaymentStatusFailed), nil
		})},
		MaxAttempts: 5,
		Interval:    time.Second,
		sleep:       stubSleep(&delays),
	}

	p, err := w.Wait(context.Background(), "cs_test_123")
	require.NoError(t, err)
	assert.False(t, p.Applied())
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, 1, polls)
}

func TestWatcherRidesOutTransientPollErrors(t *testing.T) {
	polls := 0
	var delays []time.Duration
	w := &PaymentWatcher{
		Ledger: &fakeLedger{paymentStatus: sequencedPayments(t, &polls,
			func() (*models.Payment, error) { return nil, domain.Unavailable(nil, "test", "blip") },
			applied,
		)},
		MaxAttempts: 5,
		Interval:    time.Second,
		sleep:       stubSleep(&delays),
	}

	p, err := w.Wait(context.Background(), "cs_test_123")
	require.NoError(t, err)
	assert.True(t, p.Applied())
	assert.Equal(t, 2, polls)
}

func TestWatcherStopsOnPermanentError(t *testing.T) {
	polls := 0
	var delays []time.Duration
	w := &PaymentWatcher{
		Ledger: &fakeLedger{paymentStatus: sequencedPayments(t, &polls, func() (*models.Payment, error) {
			return nil, domain.NotFound("test", "payment", "cs_test_123")
		})},
		MaxAttempts: 5,
		Interval:    time.Second,
		sleep:       stubSleep(&delays),
	}

	p, err := w.Wait(context.Background(), "cs_test_123")
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	assert.Nil(t, p)
	assert.Equal(t, 1, polls)
}

func TestWatcherStopsWhenContextCanceled(t *testing.T) {
	polls := 0
	w := &PaymentWatcher{
		Ledger:      &fakeLedger{paymentStatus: sequencedPayments(t, &polls, pending)},
		MaxAttempts: 5,
		Interval:    time.Second,
		sleep: func(ctx context.Context, d time.Duration) error {
			return context.Canceled
		},
	}

	_, err := w.Wait(context.Background(), "cs_test_123")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, polls)
}
