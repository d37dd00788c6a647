package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/snapsell/backend/internal/models"
)

func testPrices() Prices {
	return Prices{
		CreationPackPriceID: "price_creation",
		SavePackPriceID:     "price_save",
		ProPriceID:          "price_pro",
		CreationPackSize:    10,
		SavePackSize:        5,
	}
}

func TestProductForPriceID(t *testing.T) {
	svc := NewStripeService("sk_test_x", "whsec_x", testPrices())

	tests := []struct {
		priceID string
		want    string
	}{
		{"price_creation", models.ProductCreationCredits},
		{"price_save", models.ProductSaveSlots},
		{"price_pro", models.ProductPro},
		{"price_unknown", ""},
	}
	for _, tt := range tests {
		if got := svc.ProductForPriceID(tt.priceID); got != tt.want {
			t.Errorf("ProductForPriceID(%q) = %q, want %q", tt.priceID, got, tt.want)
		}
	}
}

func TestQuantityForProduct(t *testing.T) {
	svc := NewStripeService("sk_test_x", "whsec_x", testPrices())

	if got := svc.QuantityForProduct(models.ProductCreationCredits); got != 10 {
		t.Errorf("creation pack quantity = %d, want 10", got)
	}
	if got := svc.QuantityForProduct(models.ProductSaveSlots); got != 5 {
		t.Errorf("save pack quantity = %d, want 5", got)
	}
	if got := svc.QuantityForProduct(models.ProductPro); got != 0 {
		t.Errorf("pro quantity = %d, want 0 (flag, not credits)", got)
	}
}

// A product without a price ID fails before any network call.
func TestCheckoutSessionRequiresPrice(t *testing.T) {
	svc := NewStripeService("sk_test_x", "whsec_x", Prices{CreationPackSize: 10, SavePackSize: 5})

	_, err := svc.CreateCheckoutSession(context.Background(), uuid.New(), models.ProductPro, "https://x/s", "https://x/c")
	if !errors.Is(err, ErrPriceNotConfigured) {
		t.Fatalf("err = %v, want ErrPriceNotConfigured", err)
	}
}
