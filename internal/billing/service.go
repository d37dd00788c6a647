// Package billing integrates Stripe Checkout for one-time credit purchases.
// Everything here is a thin shell around the processor; the source of truth
// for what a payment grants is the ledger's apply step.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/snapsell/backend/internal/models"
)

// ErrPriceNotConfigured is returned when a product has no Stripe price ID.
var ErrPriceNotConfigured = errors.New("no price configured for product")

// Prices holds the Stripe price IDs and pack sizes for each product. A
// missing price ID disables that product without disabling billing.
type Prices struct {
	CreationPackPriceID string
	SavePackPriceID     string
	ProPriceID          string
	CreationPackSize    int
	SavePackSize        int
}

// CheckoutSession is the slice of a Stripe session the rest of the app needs.
type CheckoutSession struct {
	ID          string
	URL         string
	AmountCents int64
	Currency    string
}

// Service defines the billing operations. It is nil when Stripe is not
// configured; handlers answer configuration_missing in that case.
type Service interface {
	// CreateCheckoutSession opens a Stripe Checkout session for the product
	// and returns it. The session id doubles as the payment id.
	CreateCheckoutSession(ctx context.Context, userID uuid.UUID, product, successURL, cancelURL string) (*CheckoutSession, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and
	// returns the parsed event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// ProductForPriceID maps a Stripe price ID back to a product name, or "".
	ProductForPriceID(priceID string) string

	// QuantityForProduct returns how many credits one purchase of the
	// product grants. Pro is a flag, so its quantity is zero.
	QuantityForProduct(product string) int
}

type stripeService struct {
	webhookSecret  string
	prices         Prices
	priceToProduct map[string]string
}

// NewStripeService creates a Stripe-backed billing service.
//
// The secretKey authenticates Stripe API calls, the webhookSecret verifies
// incoming webhook signatures, and prices map products to Stripe price IDs.
func NewStripeService(secretKey, webhookSecret string, prices Prices) Service {
	stripe.Key = secretKey

	priceToProduct := make(map[string]string)
	if prices.CreationPackPriceID != "" {
		priceToProduct[prices.CreationPackPriceID] = models.ProductCreationCredits
	}
	if prices.SavePackPriceID != "" {
		priceToProduct[prices.SavePackPriceID] = models.ProductSaveSlots
	}
	if prices.ProPriceID != "" {
		priceToProduct[prices.ProPriceID] = models.ProductPro
	}

	return &stripeService{
		webhookSecret:  webhookSecret,
		prices:         prices,
		priceToProduct: priceToProduct,
	}
}

func (s *stripeService) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, product, successURL, cancelURL string) (*CheckoutSession, error) {
	priceID := s.priceIDForProduct(product)
	if priceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotConfigured, product)
	}

	// Packs are one-time purchases; pro is a recurring price.
	mode := stripe.CheckoutSessionModePayment
	if product == models.ProductPro {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
		Mode:   stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(userID.String()),
		Metadata: map[string]string{
			"product": product,
			"user_id": userID.String(),
		},
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return &CheckoutSession{
		ID:          sess.ID,
		URL:         sess.URL,
		AmountCents: sess.AmountTotal,
		Currency:    string(sess.Currency),
	}, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) ProductForPriceID(priceID string) string {
	return s.priceToProduct[priceID]
}

func (s *stripeService) QuantityForProduct(product string) int {
	switch product {
	case models.ProductCreationCredits:
		return s.prices.CreationPackSize
	case models.ProductSaveSlots:
		return s.prices.SavePackSize
	default:
		return 0
	}
}

func (s *stripeService) priceIDForProduct(product string) string {
	switch product {
	case models.ProductCreationCredits:
		return s.prices.CreationPackPriceID
	case models.ProductSaveSlots:
		return s.prices.SavePackPriceID
	case models.ProductPro:
		return s.prices.ProPriceID
	default:
		return ""
	}
}
