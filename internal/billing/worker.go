package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/riverqueue/river"

	"github.com/snapsell/backend/internal/ledger"
	"github.com/snapsell/backend/internal/metrics"
)

// ApplyPaymentArgs carries only the payment id; the worker reloads the row
// so a replayed or delayed job always acts on current state.
type ApplyPaymentArgs struct {
	PaymentID string `json:"payment_id"`
}

func (ApplyPaymentArgs) Kind() string { return "apply_payment" }

// ApplyPaymentWorker credits a completed checkout to the ledger. The apply
// step is idempotent on the payment id, so the worker can run any number of
// times for the same payment.
type ApplyPaymentWorker struct {
	river.WorkerDefaults[ApplyPaymentArgs]
	ledger ledger.Service
	logger *slog.Logger
}

func NewApplyPaymentWorker(ledgerSvc ledger.Service, logger *slog.Logger) *ApplyPaymentWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplyPaymentWorker{ledger: ledgerSvc, logger: logger}
}

func (w *ApplyPaymentWorker) Work(ctx context.Context, job *river.Job[ApplyPaymentArgs]) error {
	payment, err := w.ledger.GetPayment(ctx, job.Args.PaymentID)
	if errors.Is(err, ledger.ErrPaymentNotFound) {
		// A session we never opened. Nothing to credit; retrying won't help.
		w.logger.Warn("apply_payment job for unknown payment", "payment_id", job.Args.PaymentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load payment %s: %w", job.Args.PaymentID, err)
	}

	record, applied, err := w.ledger.ApplyPayment(ctx, *payment)
	if err != nil {
		return fmt.Errorf("apply payment %s: %w", payment.ID, err)
	}

	metrics.PaymentsApplied.WithLabelValues(payment.Product, strconv.FormatBool(!applied)).Inc()
	if !applied {
		w.logger.Info("payment already applied, replay ignored", "payment_id", payment.ID)
		return nil
	}
	w.logger.Info("payment applied",
		"payment_id", payment.ID,
		"user_id", payment.UserID,
		"product", payment.Product,
		"quantity", payment.Quantity,
		"creation_remaining", record.CreationTotal(),
		"save_remaining", record.SaveTotal(),
	)
	return nil
}
