package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment statuses. A completed payment is terminal: it is never downgraded,
// which is what makes replayed webhooks harmless.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// Purchasable products.
const (
	ProductCreationCredits = "creation_credits"
	ProductSaveSlots       = "save_slots"
	ProductPro             = "pro"
)

// Payment mirrors one checkout session. ID is the processor's session id
// and doubles as the idempotency key for ledger application.
type Payment struct {
	ID          string     `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Product     string     `json:"product"`
	Quantity    int        `json:"quantity"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
}

// Applied reports whether the payment has been credited to the ledger.
func (p *Payment) Applied() bool {
	return p.Status == PaymentStatusCompleted
}
