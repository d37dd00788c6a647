package models

import (
	"time"

	"github.com/google/uuid"
)

// Gated action types. Creations draw on a daily-resetting allowance plus
// purchased credits; saves draw on non-expiring slots.
const (
	ActionCreation = "creation"
	ActionSave     = "save"
)

// Balance buckets. Free is spent before purchased: the free allowance
// resets for nothing, purchased credits cost money and never expire.
const (
	BucketFree      = "free"
	BucketPurchased = "purchased"
)

// CreationBalance is the daily-resetting creation allowance.
type CreationBalance struct {
	FreeRemainingToday int `json:"free_remaining_today"`
	PurchasedRemaining int `json:"purchased_remaining"`
	DailyLimit         int `json:"daily_limit"`
}

// SaveBalance tracks save slots. FreeSlots and PurchasedSlots are remaining
// counters; Remaining is their sum, populated on load. Slots never reset
// daily and only grow via a completed purchase.
type SaveBalance struct {
	FreeSlots      int `json:"free_slots"`
	PurchasedSlots int `json:"purchased_slots"`
	Remaining      int `json:"remaining"`
}

// Entitlements is the authoritative per-user balance record. The server owns
// it; clients cache it read-only and treat mutating responses as the freshest
// truth.
type Entitlements struct {
	UserID           uuid.UUID       `json:"user_id"`
	IsPro            bool            `json:"is_pro"`
	Creations        CreationBalance `json:"creations"`
	Saves            SaveBalance     `json:"saves"`
	ResetsAt         time.Time       `json:"resets_at"`
	NudgeDismissedAt *time.Time      `json:"nudge_dismissed_at,omitempty"`
}

// CreationTotal is the combined creation allowance remaining.
func (e *Entitlements) CreationTotal() int {
	return e.Creations.FreeRemainingToday + e.Creations.PurchasedRemaining
}

// SaveTotal is the combined save slots remaining.
func (e *Entitlements) SaveTotal() int {
	return e.Saves.FreeSlots + e.Saves.PurchasedSlots
}

// TotalFor returns the remaining allowance for the given action.
func (e *Entitlements) TotalFor(action string) int {
	if action == ActionSave {
		return e.SaveTotal()
	}
	return e.CreationTotal()
}

// NextResetBoundary returns the first UTC midnight strictly after now.
func NextResetBoundary(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
