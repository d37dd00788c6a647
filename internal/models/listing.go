package models

import (
	"time"

	"github.com/google/uuid"
)

// Condition values the vision layer is allowed to emit. Anything else is
// cleared to empty rather than stored.
const (
	ConditionNew         = "New"
	ConditionUsedLikeNew = "Used - Like New"
	ConditionUsedGood    = "Used - Good"
	ConditionUsedFair    = "Used - Fair"
	ConditionRefurbished = "Refurbished"
)

var listingConditions = map[string]bool{
	ConditionNew:         true,
	ConditionUsedLikeNew: true,
	ConditionUsedGood:    true,
	ConditionUsedFair:    true,
	ConditionRefurbished: true,
}

// ValidCondition reports whether s is one of the allowed condition values.
func ValidCondition(s string) bool {
	return listingConditions[s]
}

// Listing is a saved resale listing. Plain CRUD record; ownership is the
// only rule it carries.
type Listing struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Title             string    `json:"title"`
	Price             string    `json:"price"`
	Description       string    `json:"description"`
	Condition         string    `json:"condition"`
	Location          string    `json:"location"`
	Brand             string    `json:"brand"`
	PickupAvailable   bool      `json:"pickup_available"`
	ShippingAvailable bool      `json:"shipping_available"`
	PickupNotes       string    `json:"pickup_notes"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ListingDraft is the unsaved listing block produced from a photo. Price is
// a plain numeric string with no currency symbol; unknown fields stay empty.
type ListingDraft struct {
	Title             string `json:"title"`
	Price             string `json:"price"`
	Description       string `json:"description"`
	Condition         string `json:"condition"`
	Location          string `json:"location"`
	Brand             string `json:"brand"`
	PickupAvailable   bool   `json:"pickup_available"`
	ShippingAvailable bool   `json:"shipping_available"`
	PickupNotes       string `json:"pickup_notes"`
}
