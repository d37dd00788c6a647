package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snapsell/backend/internal/models"
)

// Memory is a mutex-guarded in-memory Service with the same semantics as the
// Postgres repository: reset-on-read, free-before-purchased, clamped refunds,
// payment idempotency. It backs tests and local development without a
// database.
type Memory struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*models.Entitlements
	payments map[string]*models.Payment
	entries  []models.LedgerEntry

	dailyLimit    int
	freeSaveSlots int

	// Now is the clock; tests override it to cross reset boundaries.
	Now func() time.Time
}

func NewMemory(dailyLimit, freeSaveSlots int) *Memory {
	return &Memory{
		records:       make(map[uuid.UUID]*models.Entitlements),
		payments:      make(map[string]*models.Payment),
		dailyLimit:    dailyLimit,
		freeSaveSlots: freeSaveSlots,
		Now:           time.Now,
	}
}

var _ Service = (*Memory)(nil)

// Provision creates a fresh free-tier record, like signup does.
func (m *Memory) Provision(userID uuid.UUID) *models.Entitlements {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	rec := &models.Entitlements{
		UserID: userID,
		Creations: models.CreationBalance{
			FreeRemainingToday: m.dailyLimit,
			PurchasedRemaining: 0,
			DailyLimit:         m.dailyLimit,
		},
		Saves: models.SaveBalance{
			FreeSlots: m.freeSaveSlots,
		},
		ResetsAt: models.NextResetBoundary(now),
	}
	m.records[userID] = rec
	m.appendEntry(userID, models.LedgerEntryGrant, models.ActionCreation, models.BucketFree, m.dailyLimit, nil)
	m.appendEntry(userID, models.LedgerEntryGrant, models.ActionSave, models.BucketFree, m.freeSaveSlots, nil)
	return cloneRecord(rec)
}

// SetPro flips the subscription flag directly (tests; real upgrades go
// through ApplyPayment).
func (m *Memory) SetPro(userID uuid.UUID, isPro bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[userID]; ok {
		rec.IsPro = isPro
	}
}

// SetResetsAt rewinds or advances the reset boundary (tests).
func (m *Memory) SetResetsAt(userID uuid.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[userID]; ok {
		rec.ResetsAt = at
	}
}

func (m *Memory) GetBalance(ctx context.Context, userID uuid.UUID) (*models.Entitlements, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	if !ok {
		return nil, ErrNoRecord
	}
	m.resetIfDue(rec)
	return cloneRecord(rec), nil
}

func (m *Memory) TryDebitCreation(ctx context.Context, userID uuid.UUID) (DebitResult, error) {
	return m.debit(userID, models.ActionCreation)
}

func (m *Memory) TryDebitSave(ctx context.Context, userID uuid.UUID) (DebitResult, error) {
	return m.debit(userID, models.ActionSave)
}

func (m *Memory) debit(userID uuid.UUID, action string) (DebitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	if !ok {
		return DebitResult{}, ErrNoRecord
	}
	m.resetIfDue(rec)

	if rec.IsPro {
		return DebitResult{Allowed: true, Record: cloneRecord(rec)}, nil
	}

	free, purchased := &rec.Creations.FreeRemainingToday, &rec.Creations.PurchasedRemaining
	if action == models.ActionSave {
		free, purchased = &rec.Saves.FreeSlots, &rec.Saves.PurchasedSlots
	}

	bucket := ""
	switch {
	case *free > 0:
		*free--
		bucket = models.BucketFree
	case *purchased > 0:
		*purchased--
		bucket = models.BucketPurchased
	default:
		return DebitResult{Allowed: false, Record: cloneRecord(rec)}, nil
	}

	m.appendEntry(userID, models.LedgerEntryDebit, action, bucket, -1, nil)
	return DebitResult{Allowed: true, Bucket: bucket, Record: cloneRecord(rec)}, nil
}

func (m *Memory) RefundCreation(ctx context.Context, userID uuid.UUID, bucket string) (*models.Entitlements, error) {
	return m.refund(userID, models.ActionCreation, bucket)
}

func (m *Memory) RefundSave(ctx context.Context, userID uuid.UUID, bucket string) (*models.Entitlements, error) {
	return m.refund(userID, models.ActionSave, bucket)
}

func (m *Memory) refund(userID uuid.UUID, action, bucket string) (*models.Entitlements, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	if !ok {
		return nil, ErrNoRecord
	}

	switch {
	case action == models.ActionCreation && bucket == models.BucketFree:
		if rec.Creations.FreeRemainingToday < rec.Creations.DailyLimit {
			rec.Creations.FreeRemainingToday++
		}
	case action == models.ActionCreation && bucket == models.BucketPurchased:
		rec.Creations.PurchasedRemaining++
	case action == models.ActionSave && bucket == models.BucketFree:
		rec.Saves.FreeSlots++
	case action == models.ActionSave && bucket == models.BucketPurchased:
		rec.Saves.PurchasedSlots++
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}

	m.appendEntry(userID, models.LedgerEntryRefund, action, bucket, 1, nil)
	return cloneRecord(rec), nil
}

func (m *Memory) ApplyPayment(ctx context.Context, p models.Payment) (*models.Entitlements, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[p.UserID]
	if !ok {
		return nil, false, ErrNoRecord
	}
	m.resetIfDue(rec)

	if existing, ok := m.payments[p.ID]; ok && existing.Status == models.PaymentStatusCompleted {
		return cloneRecord(rec), false, nil
	}

	now := m.Now()
	stored := p
	stored.Status = models.PaymentStatusCompleted
	stored.AppliedAt = &now
	m.payments[p.ID] = &stored

	paymentID := p.ID
	switch p.Product {
	case models.ProductCreationCredits:
		rec.Creations.PurchasedRemaining += p.Quantity
		m.appendEntry(p.UserID, models.LedgerEntryPayment, models.ActionCreation, models.BucketPurchased, p.Quantity, &paymentID)
	case models.ProductSaveSlots:
		rec.Saves.PurchasedSlots += p.Quantity
		m.appendEntry(p.UserID, models.LedgerEntryPayment, models.ActionSave, models.BucketPurchased, p.Quantity, &paymentID)
	case models.ProductPro:
		rec.IsPro = true
		m.appendEntry(p.UserID, models.LedgerEntryPayment, "", "", 0, &paymentID)
	default:
		return nil, false, fmt.Errorf("unknown product %q", p.Product)
	}

	return cloneRecord(rec), true, nil
}

func (m *Memory) CreatePendingPayment(ctx context.Context, p models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[p.ID]; ok {
		return fmt.Errorf("payment %q already exists", p.ID)
	}
	stored := p
	stored.Status = models.PaymentStatusPending
	stored.CreatedAt = m.Now()
	m.payments[p.ID] = &stored
	return nil
}

func (m *Memory) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) MarkPaymentFailed(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.payments[id]; ok && p.Status != models.PaymentStatusCompleted {
		p.Status = status
	}
	return nil
}

func (m *Memory) DismissNudge(ctx context.Context, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	if !ok {
		return ErrNoRecord
	}
	rec.NudgeDismissedAt = &at
	return nil
}

func (m *Memory) ResetDueDaily(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if !rec.ResetsAt.After(now) {
			rec.Creations.FreeRemainingToday = rec.Creations.DailyLimit
			rec.ResetsAt = models.NextResetBoundary(now)
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecentEntries(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) resetIfDue(rec *models.Entitlements) {
	now := m.Now()
	if !rec.ResetsAt.After(now) {
		rec.Creations.FreeRemainingToday = rec.Creations.DailyLimit
		rec.ResetsAt = models.NextResetBoundary(now)
	}
}

func (m *Memory) appendEntry(userID uuid.UUID, entryType, action, bucket string, amount int, paymentID *string) {
	m.entries = append(m.entries, models.LedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		EntryType: entryType,
		Action:    action,
		Bucket:    bucket,
		Amount:    amount,
		PaymentID: paymentID,
		CreatedAt: m.Now(),
	})
}

func cloneRecord(rec *models.Entitlements) *models.Entitlements {
	cp := *rec
	if rec.NudgeDismissedAt != nil {
		t := *rec.NudgeDismissedAt
		cp.NudgeDismissedAt = &t
	}
	cp.Saves.Remaining = cp.Saves.FreeSlots + cp.Saves.PurchasedSlots
	return &cp
}
