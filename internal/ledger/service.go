package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/snapsell/backend/internal/models"
)

// DebitResult is the outcome of a try-debit. Allowed=false is a policy
// result, not an error; Record always carries post-operation balances so
// callers answer with fresh state in the same round trip.
type DebitResult struct {
	Allowed bool
	Bucket  string // free | purchased; empty for pro bypass or rejection
	Record  *models.Entitlements
}

// Service is the authoritative balance store for a user. Errors mean the
// operation's outcome is unknown to the caller: re-read the balance before
// retrying a debit, never retry the debit blind.
type Service interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.Entitlements, error)
	TryDebitCreation(ctx context.Context, userID uuid.UUID) (DebitResult, error)
	TryDebitSave(ctx context.Context, userID uuid.UUID) (DebitResult, error)
	RefundCreation(ctx context.Context, userID uuid.UUID, bucket string) (*models.Entitlements, error)
	RefundSave(ctx context.Context, userID uuid.UUID, bucket string) (*models.Entitlements, error)
	ApplyPayment(ctx context.Context, p models.Payment) (*models.Entitlements, bool, error)
	CreatePendingPayment(ctx context.Context, p models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	MarkPaymentFailed(ctx context.Context, id, status string) error
	DismissNudge(ctx context.Context, userID uuid.UUID, at time.Time) error
	ResetDueDaily(ctx context.Context, now time.Time) (int64, error)
	RecentEntries(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEntry, error)
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (*models.Entitlements, error) {
	return s.repo.GetBalance(ctx, userID, time.Now())
}

func (s *service) TryDebitCreation(ctx context.Context, userID uuid.UUID) (DebitResult, error) {
	return s.repo.DebitCreation(ctx, userID, time.Now())
}

func (s *service) TryDebitSave(ctx context.Context, userID uuid.UUID) (DebitResult, error) {
	return s.repo.DebitSave(ctx, userID, time.Now())
}

func (s *service) RefundCreation(ctx context.Context, userID uuid.UUID, bucket string) (*models.Entitlements, error) {
	return s.repo.RefundCreation(ctx, userID, bucket, time.Now())
}

func (s *service) RefundSave(ctx context.Context, userID uuid.UUID, bucket string) (*models.Entitlements, error) {
	return s.repo.RefundSave(ctx, userID, bucket, time.Now())
}

func (s *service) ApplyPayment(ctx context.Context, p models.Payment) (*models.Entitlements, bool, error) {
	return s.repo.ApplyPayment(ctx, p, time.Now())
}

func (s *service) CreatePendingPayment(ctx context.Context, p models.Payment) error {
	return s.repo.CreatePendingPayment(ctx, p)
}

func (s *service) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

func (s *service) MarkPaymentFailed(ctx context.Context, id, status string) error {
	return s.repo.MarkPaymentFailed(ctx, id, status)
}

func (s *service) DismissNudge(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return s.repo.DismissNudge(ctx, userID, at)
}

func (s *service) ResetDueDaily(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.ResetDueDaily(ctx, now)
}

func (s *service) RecentEntries(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	return s.repo.ListEntries(ctx, userID, limit)
}
