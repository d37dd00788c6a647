package vision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/snapsell/backend/internal/models"
)

// DecodePayload digs the JSON object out of raw model output. Models wrap
// answers in markdown fences or chatter around them no matter how firmly the
// prompt forbids it, so this strips fences, slices from the first '{' to the
// last '}', and only then decodes.
func DecodePayload(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		lines = lines[1:]
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[:len(lines)-1]
		}
		text = strings.Join(lines, "\n")
	}

	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end != -1 && end > start {
		text = text[start : end+1]
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return payload, nil
}

// NormalizeDraft coerces a decoded payload into a ListingDraft. It is
// forgiving on purpose: keys may arrive in snake_case or camelCase, price may
// arrive as a bare number, booleans may arrive as "yes". Anything that cannot
// be coerced becomes the zero value, and a condition outside the allowed set
// is cleared rather than stored.
func NormalizeDraft(payload map[string]any) *models.ListingDraft {
	draft := &models.ListingDraft{
		Title:             stringField(payload, "title"),
		Price:             priceField(payload, "price"),
		Description:       stringField(payload, "description"),
		Condition:         stringField(payload, "condition"),
		Location:          stringField(payload, "location"),
		Brand:             stringField(payload, "brand"),
		PickupAvailable:   boolField(payload, "pickup_available", "pickupAvailable"),
		ShippingAvailable: boolField(payload, "shipping_available", "shippingAvailable"),
		PickupNotes:       stringField(payload, "pickup_notes", "pickupNotes"),
	}
	if !models.ValidCondition(draft.Condition) {
		draft.Condition = ""
	}
	return draft
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// priceField additionally accepts a bare JSON number, since models sometimes
// return 120 instead of "120". Zero stays empty, matching the no-placeholder
// rule in the prompt.
func priceField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v != 0 {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
	}
	return ""
}

func boolField(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return toBool(v)
		}
	}
	return false
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y":
			return true
		}
	}
	return false
}
