package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry_type enums. Every balance movement leaves a row; the table is
// the audit trail for "where did this credit go".
const (
	LedgerEntryGrant   = "grant"   // signup baseline
	LedgerEntryDebit   = "debit"   // successful consume for a gated action
	LedgerEntryRefund  = "refund"  // compensation after a failed downstream action
	LedgerEntryPayment = "payment" // purchased credits/slots or pro upgrade
)

type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	EntryType string    `json:"entry_type"`
	Action    string    `json:"action,omitempty"` // creation | save
	Bucket    string    `json:"bucket,omitempty"` // free | purchased
	Amount    int       `json:"amount"`
	PaymentID *string   `json:"payment_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
