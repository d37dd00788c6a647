package presenter

import (
	"context"
	"time"

	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/models"
)

const (
	defaultPaymentAttempts = 10
	defaultPaymentInterval = 2 * time.Second
)

// PaymentWatcher polls a payment after the checkout redirect until the
// webhook-driven ledger application lands. The wait is bounded: a payment
// still pending after the last attempt comes back with a payment_pending
// error, which the shell shows as "your purchase will appear shortly", never
// as a failure.
type PaymentWatcher struct {
	Ledger      Ledger
	MaxAttempts int
	Interval    time.Duration

	// sleep is swapped in tests to skip real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// Wait polls until the payment is applied or reaches a terminal failure
// status. It returns the last status it saw; callers inspect Status when the
// payment failed or was cancelled at the processor.
func (w *PaymentWatcher) Wait(ctx context.Context, paymentID string) (*models.Payment, error) {
	const op = "presenter.PaymentWatcher"

	attempts := w.MaxAttempts
	if attempts <= 0 {
		attempts = defaultPaymentAttempts
	}
	interval := w.Interval
	if interval <= 0 {
		interval = defaultPaymentInterval
	}
	sleep := w.sleep
	if sleep == nil {
		sleep = waitFor
	}

	var last *models.Payment
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, interval); err != nil {
				return last, err
			}
		}

		p, err := w.Ledger.PaymentStatus(ctx, paymentID)
		if err != nil {
			// The next tick is a retry anyway, so a transient error just
			// waits for it. Anything else ends the watch.
			if domain.KindOf(err) == domain.KindTransient {
				continue
			}
			return last, err
		}
		last = p

		if p.Applied() {
			return p, nil
		}
		switch p.Status {
		case models.PaymentStatusFailed, models.PaymentStatusCancelled:
			return p, nil
		}
	}
	return last, domain.PaymentPending(op, paymentID)
}
