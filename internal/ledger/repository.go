package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapsell/backend/internal/models"
)

var (
	// ErrNoRecord is returned when a user has no entitlement row.
	ErrNoRecord = errors.New("no entitlement record")

	// ErrPaymentNotFound is returned for unknown payment ids.
	ErrPaymentNotFound = errors.New("payment not found")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ProvisionTx runs inside the caller's transaction (signup creates the user
// row and its entitlements atomically). Baseline grants are recorded in the
// ledger so day-one balances have an audit trail too.
func (r *Repository) ProvisionTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, dailyLimit, freeSaveSlots int, now time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO entitlements (user_id, is_pro, daily_limit, free_remaining_today, purchased_remaining,
			save_free_remaining, save_purchased_remaining, resets_at, updated_at)
		VALUES ($1, false, $2, $2, 0, $3, 0, $4, now())
	`, userID, dailyLimit, freeSaveSlots, models.NextResetBoundary(now))
	if err != nil {
		return err
	}
	if err := r.insertEntry(ctx, tx, userID, models.LedgerEntryGrant, models.ActionCreation, models.BucketFree, dailyLimit, nil); err != nil {
		return err
	}
	return r.insertEntry(ctx, tx, userID, models.LedgerEntryGrant, models.ActionSave, models.BucketFree, freeSaveSlots, nil)
}

// GetBalance reads the record, applying the daily reset first when resets_at
// has passed.
func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Entitlements, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := r.resetIfDue(ctx, tx, userID, now); err != nil {
		return nil, err
	}
	rec, err := r.selectRecord(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return rec, tx.Commit(ctx)
}

// DebitCreation atomically consumes one creation unit, free before
// purchased. Insufficient balance is a normal Allowed=false result with the
// record untouched, never an error.
func (r *Repository) DebitCreation(ctx context.Context, userID uuid.UUID, now time.Time) (DebitResult, error) {
	return r.debit(ctx, userID, models.ActionCreation, now)
}

// DebitSave atomically consumes one save slot, free before purchased.
func (r *Repository) DebitSave(ctx context.Context, userID uuid.UUID, now time.Time) (DebitResult, error) {
	return r.debit(ctx, userID, models.ActionSave, now)
}

// The conditional UPDATE is the compare-and-decrement: the predicate is
// evaluated and applied under the row lock, so two concurrent debits against
// one remaining unit produce exactly one winner.
var debitQueries = map[string]struct{ free, purchased string }{
	models.ActionCreation: {
		free: `UPDATE entitlements SET free_remaining_today = free_remaining_today - 1, updated_at = now()
			WHERE user_id = $1 AND free_remaining_today > 0`,
		purchased: `UPDATE entitlements SET purchased_remaining = purchased_remaining - 1, updated_at = now()
			WHERE user_id = $1 AND purchased_remaining > 0`,
	},
	models.ActionSave: {
		free: `UPDATE entitlements SET save_free_remaining = save_free_remaining - 1, updated_at = now()
			WHERE user_id = $1 AND save_free_remaining > 0`,
		purchased: `UPDATE entitlements SET save_purchased_remaining = save_purchased_remaining - 1, updated_at = now()
			WHERE user_id = $1 AND save_purchased_remaining > 0`,
	},
}

func (r *Repository) debit(ctx context.Context, userID uuid.UUID, action string, now time.Time) (DebitResult, error) {
	queries, ok := debitQueries[action]
	if !ok {
		return DebitResult{}, fmt.Errorf("unknown action %q", action)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return DebitResult{}, err
	}
	defer tx.Rollback(ctx)

	if err := r.resetIfDue(ctx, tx, userID, now); err != nil {
		return DebitResult{}, err
	}

	var isPro bool
	if err := tx.QueryRow(ctx, `SELECT is_pro FROM entitlements WHERE user_id = $1`, userID).Scan(&isPro); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DebitResult{}, ErrNoRecord
		}
		return DebitResult{}, err
	}

	// Pro is unlimited: allowed with balances untouched, no ledger entry.
	if isPro {
		rec, err := r.selectRecord(ctx, tx, userID)
		if err != nil {
			return DebitResult{}, err
		}
		return DebitResult{Allowed: true, Record: rec}, tx.Commit(ctx)
	}

	bucket := ""
	result, err := tx.Exec(ctx, queries.free, userID)
	if err != nil {
		return DebitResult{}, err
	}
	if result.RowsAffected() > 0 {
		bucket = models.BucketFree
	} else {
		result, err = tx.Exec(ctx, queries.purchased, userID)
		if err != nil {
			return DebitResult{}, err
		}
		if result.RowsAffected() > 0 {
			bucket = models.BucketPurchased
		}
	}

	if bucket == "" {
		rec, err := r.selectRecord(ctx, tx, userID)
		if err != nil {
			return DebitResult{}, err
		}
		return DebitResult{Allowed: false, Record: rec}, tx.Commit(ctx)
	}

	if err := r.insertEntry(ctx, tx, userID, models.LedgerEntryDebit, action, bucket, -1, nil); err != nil {
		return DebitResult{}, err
	}
	rec, err := r.selectRecord(ctx, tx, userID)
	if err != nil {
		return DebitResult{}, err
	}
	return DebitResult{Allowed: true, Bucket: bucket, Record: rec}, tx.Commit(ctx)
}

// RefundCreation compensates a confirmed creation debit whose downstream
// action failed. The free bucket is clamped at daily_limit: if the reset ran
// between debit and refund the unit is already back.
func (r *Repository) RefundCreation(ctx context.Context, userID uuid.UUID, bucket string, now time.Time) (*models.Entitlements, error) {
	var query string
	switch bucket {
	case models.BucketFree:
		query = `UPDATE entitlements SET free_remaining_today = LEAST(daily_limit, free_remaining_today + 1), updated_at = now()
			WHERE user_id = $1`
	case models.BucketPurchased:
		query = `UPDATE entitlements SET purchased_remaining = purchased_remaining + 1, updated_at = now()
			WHERE user_id = $1`
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	return r.refund(ctx, userID, models.ActionCreation, bucket, query, now)
}

// RefundSave compensates a confirmed save-slot debit whose insert failed.
func (r *Repository) RefundSave(ctx context.Context, userID uuid.UUID, bucket string, now time.Time) (*models.Entitlements, error) {
	var query string
	switch bucket {
	case models.BucketFree:
		query = `UPDATE entitlements SET save_free_remaining = save_free_remaining + 1, updated_at = now()
			WHERE user_id = $1`
	case models.BucketPurchased:
		query = `UPDATE entitlements SET save_purchased_remaining = save_purchased_remaining + 1, updated_at = now()
			WHERE user_id = $1`
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	return r.refund(ctx, userID, models.ActionSave, bucket, query, now)
}

func (r *Repository) refund(ctx context.Context, userID uuid.UUID, action, bucket, query string, now time.Time) (*models.Entitlements, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrNoRecord
	}
	if err := r.insertEntry(ctx, tx, userID, models.LedgerEntryRefund, action, bucket, 1, nil); err != nil {
		return nil, err
	}
	rec, err := r.selectRecord(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return rec, tx.Commit(ctx)
}

// ApplyPayment credits a completed checkout exactly once. The payments
// primary key is the idempotency key: the guarded upsert affects zero rows
// when the payment is already completed, and the replay returns the current
// record unchanged.
func (r *Repository) ApplyPayment(ctx context.Context, p models.Payment, now time.Time) (*models.Entitlements, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if err := r.resetIfDue(ctx, tx, p.UserID, now); err != nil {
		return nil, false, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO payments (id, user_id, product, quantity, amount_cents, currency, status, created_at, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'completed', now(), now())
		ON CONFLICT (id) DO UPDATE SET status = 'completed', applied_at = now()
		WHERE payments.status <> 'completed'
	`, p.ID, p.UserID, p.Product, p.Quantity, p.AmountCents, p.Currency)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		rec, err := r.selectRecord(ctx, tx, p.UserID)
		if err != nil {
			return nil, false, err
		}
		return rec, false, tx.Commit(ctx)
	}

	paymentID := p.ID
	switch p.Product {
	case models.ProductCreationCredits:
		if _, err := tx.Exec(ctx, `UPDATE entitlements SET purchased_remaining = purchased_remaining + $1, updated_at = now()
			WHERE user_id = $2`, p.Quantity, p.UserID); err != nil {
			return nil, false, err
		}
		if err := r.insertEntry(ctx, tx, p.UserID, models.LedgerEntryPayment, models.ActionCreation, models.BucketPurchased, p.Quantity, &paymentID); err != nil {
			return nil, false, err
		}
	case models.ProductSaveSlots:
		if _, err := tx.Exec(ctx, `UPDATE entitlements SET save_purchased_remaining = save_purchased_remaining + $1, updated_at = now()
			WHERE user_id = $2`, p.Quantity, p.UserID); err != nil {
			return nil, false, err
		}
		if err := r.insertEntry(ctx, tx, p.UserID, models.LedgerEntryPayment, models.ActionSave, models.BucketPurchased, p.Quantity, &paymentID); err != nil {
			return nil, false, err
		}
	case models.ProductPro:
		if _, err := tx.Exec(ctx, `UPDATE entitlements SET is_pro = true, updated_at = now()
			WHERE user_id = $1`, p.UserID); err != nil {
			return nil, false, err
		}
		if err := r.insertEntry(ctx, tx, p.UserID, models.LedgerEntryPayment, "", "", 0, &paymentID); err != nil {
			return nil, false, err
		}
	default:
		return nil, false, fmt.Errorf("unknown product %q", p.Product)
	}

	rec, err := r.selectRecord(ctx, tx, p.UserID)
	if err != nil {
		return nil, false, err
	}
	return rec, true, tx.Commit(ctx)
}

// CreatePendingPayment records a checkout session before the user is sent to
// the processor, so the status endpoint has something to poll.
func (r *Repository) CreatePendingPayment(ctx context.Context, p models.Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (id, user_id, product, quantity, amount_cents, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', now())
	`, p.ID, p.UserID, p.Product, p.Quantity, p.AmountCents, p.Currency)
	return err
}

func (r *Repository) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, product, quantity, amount_cents, currency, status, created_at, applied_at
		FROM payments WHERE id = $1
	`, id).Scan(&p.ID, &p.UserID, &p.Product, &p.Quantity, &p.AmountCents, &p.Currency, &p.Status, &p.CreatedAt, &p.AppliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkPaymentFailed records a terminal failed/cancelled outcome. Completed
// payments are never downgraded.
func (r *Repository) MarkPaymentFailed(ctx context.Context, id, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = $2 WHERE id = $1 AND status <> 'completed'
	`, id, status)
	return err
}

func (r *Repository) DismissNudge(ctx context.Context, userID uuid.UUID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE entitlements SET nudge_dismissed_at = $2, updated_at = now() WHERE user_id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNoRecord
	}
	return nil
}

// ResetDueDaily is the bulk sweep form of reset-on-read, run from cron at
// UTC midnight. Reads remain the correctness backstop; the sweep just keeps
// rows fresh for users who never read overnight.
func (r *Repository) ResetDueDaily(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE entitlements
		SET free_remaining_today = daily_limit, resets_at = $1, updated_at = now()
		WHERE resets_at <= $2
	`, models.NextResetBoundary(now), now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ListEntries returns the newest ledger entries for the account view.
func (r *Repository) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, entry_type, action, bucket, amount, payment_id, created_at
		FROM ledger_entries WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntryType, &e.Action, &e.Bucket, &e.Amount, &e.PaymentID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) resetIfDue(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE entitlements
		SET free_remaining_today = daily_limit, resets_at = $1, updated_at = now()
		WHERE user_id = $2 AND resets_at <= $3
	`, models.NextResetBoundary(now), userID, now)
	return err
}

func (r *Repository) selectRecord(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Entitlements, error) {
	var rec models.Entitlements
	err := tx.QueryRow(ctx, `
		SELECT user_id, is_pro, daily_limit, free_remaining_today, purchased_remaining,
			save_free_remaining, save_purchased_remaining, nudge_dismissed_at, resets_at
		FROM entitlements WHERE user_id = $1
	`, userID).Scan(
		&rec.UserID, &rec.IsPro, &rec.Creations.DailyLimit, &rec.Creations.FreeRemainingToday,
		&rec.Creations.PurchasedRemaining, &rec.Saves.FreeSlots, &rec.Saves.PurchasedSlots,
		&rec.NudgeDismissedAt, &rec.ResetsAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, err
	}
	rec.Saves.Remaining = rec.Saves.FreeSlots + rec.Saves.PurchasedSlots
	return &rec, nil
}

func (r *Repository) insertEntry(ctx context.Context, tx pgx.Tx, userID uuid.UUID, entryType, action, bucket string, amount int, paymentID *string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (user_id, entry_type, action, bucket, amount, payment_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, entryType, action, bucket, amount, paymentID)
	return err
}
