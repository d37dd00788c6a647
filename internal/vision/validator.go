package vision

import (
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation can be used with errors.Is to detect a draft payload that
// drifted from the prompted schema. Callers treat it as a soft flag: the
// normalized draft is still usable, but the drift is worth a log line.
var ErrValidation = errors.New("validation failed")

// draftSchemaJSON mirrors the contract in listingPrompt. It checks the raw
// payload before normalization, so coercible drift (a numeric price, a
// camelCase key) fails here even though NormalizeDraft absorbs it.
const draftSchemaJSON = `{
  "type": "object",
  "required": ["title", "price", "description", "condition", "location"],
  "properties": {
    "title":       {"type": "string"},
    "price":       {"type": "string"},
    "description": {"type": "string", "maxLength": 400},
    "condition":   {"enum": ["", "New", "Used - Like New", "Used - Good", "Used - Fair", "Refurbished"]},
    "location":    {"type": "string"},
    "brand":       {"type": "string"}
  }
}`

var draftSchema = jsonschema.MustCompileString("https://snapsell.app/schemas/listing-draft.v1.json", draftSchemaJSON)

// ValidateDraft checks a decoded payload against the prompted schema.
func ValidateDraft(payload map[string]any) error {
	if err := draftSchema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
