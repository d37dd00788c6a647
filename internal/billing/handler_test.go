package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/snapsell/backend/internal/ledger"
	"github.com/snapsell/backend/internal/middleware"
	"github.com/snapsell/backend/internal/models"
)

var (
	errSigMismatch = errors.New("signature mismatch")
	errQueueDown   = errors.New("queue unavailable")
)

// stubService fakes the Stripe surface so handler behavior is testable
// without network or signing keys.
type stubService struct {
	session   *CheckoutSession
	createErr error
	event     stripe.Event
	verifyErr error
}

func (s *stubService) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, product, successURL, cancelURL string) (*CheckoutSession, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.session, nil
}

func (s *stubService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if s.verifyErr != nil {
		return stripe.Event{}, s.verifyErr
	}
	return s.event, nil
}

func (s *stubService) ProductForPriceID(priceID string) string { return "" }

func (s *stubService) QuantityForProduct(product string) int {
	switch product {
	case models.ProductCreationCredits:
		return 10
	case models.ProductSaveSlots:
		return 5
	}
	return 0
}

func authedRequest(method, target, body string, userID uuid.UUID) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return r.WithContext(middleware.WithUserID(r.Context(), userID))
}

func TestCheckoutCreatesPendingPayment(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	userID := uuid.New()
	mem.Provision(userID)

	stub := &stubService{session: &CheckoutSession{
		ID:          "cs_test_cafe",
		URL:         "https://checkout.stripe.com/c/pay/cs_test_cafe",
		AmountCents: 499,
		Currency:    "usd",
	}}
	h := NewHandler(stub, mem, nil, discardLogger())

	w := httptest.NewRecorder()
	h.Checkout(w, authedRequest(http.MethodPost, "/v1/billing/checkout", `{"product":"creation_credits"}`, userID))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		PaymentID   string `json:"payment_id"`
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PaymentID != "cs_test_cafe" || !strings.Contains(resp.CheckoutURL, "checkout.stripe.com") {
		t.Errorf("unexpected response: %+v", resp)
	}

	p, err := mem.GetPayment(context.Background(), "cs_test_cafe")
	if err != nil {
		t.Fatalf("pending payment not recorded: %v", err)
	}
	if p.Status != models.PaymentStatusPending || p.Quantity != 10 || p.Product != models.ProductCreationCredits {
		t.Errorf("unexpected pending payment: %+v", p)
	}
}

func TestCheckoutRejectsUnknownProduct(t *testing.T) {
	h := NewHandler(&stubService{}, ledger.NewMemory(5, 3), nil, discardLogger())
	w := httptest.NewRecorder()
	h.Checkout(w, authedRequest(http.MethodPost, "/v1/billing/checkout", `{"product":"gold_stars"}`, uuid.New()))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCheckoutWhenBillingUnconfigured(t *testing.T) {
	h := NewHandler(nil, ledger.NewMemory(5, 3), nil, discardLogger())
	w := httptest.NewRecorder()
	h.Checkout(w, authedRequest(http.MethodPost, "/v1/billing/checkout", `{"product":"pro"}`, uuid.New()))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error.Code != "configuration_missing" {
		t.Errorf("code = %q, want configuration_missing", body.Error.Code)
	}
}

func TestCheckoutPriceNotConfigured(t *testing.T) {
	stub := &stubService{createErr: ErrPriceNotConfigured}
	h := NewHandler(stub, ledger.NewMemory(5, 3), nil, discardLogger())
	w := httptest.NewRecorder()
	h.Checkout(w, authedRequest(http.MethodPost, "/v1/billing/checkout", `{"product":"save_slots"}`, uuid.New()))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestPaymentStatusOwnership(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	owner := uuid.New()
	mem.Provision(owner)
	pendingPayment(t, mem, owner, "cs_owned", models.ProductCreationCredits, 10)

	h := NewHandler(&stubService{}, mem, nil, discardLogger())

	w := httptest.NewRecorder()
	r := authedRequest(http.MethodGet, "/v1/billing/payments/cs_owned", "", owner)
	r.SetPathValue("id", "cs_owned")
	h.PaymentStatus(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("owner status = %d", w.Code)
	}
	var p models.Payment
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode payment: %v", err)
	}
	if p.Status != models.PaymentStatusPending {
		t.Errorf("status = %q", p.Status)
	}

	// Another user probing the same id sees a 404, same as a bogus id.
	w = httptest.NewRecorder()
	r = authedRequest(http.MethodGet, "/v1/billing/payments/cs_owned", "", uuid.New())
	r.SetPathValue("id", "cs_owned")
	h.PaymentStatus(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("stranger status = %d, want 404", w.Code)
	}
}

func webhookEvent(eventType, raw string) stripe.Event {
	return stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	stub := &stubService{verifyErr: errSigMismatch}
	h := NewHandler(stub, ledger.NewMemory(5, 3), nil, discardLogger())

	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", strings.NewReader("{}")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebhookCompletedEnqueuesApply(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	userID := uuid.New()
	mem.Provision(userID)
	pendingPayment(t, mem, userID, "cs_hook", models.ProductCreationCredits, 10)

	stub := &stubService{event: webhookEvent("checkout.session.completed", `{"id":"cs_hook","payment_status":"paid"}`)}
	var enqueued []ApplyPaymentArgs
	h := NewHandler(stub, mem, func(ctx context.Context, args ApplyPaymentArgs) error {
		enqueued = append(enqueued, args)
		return nil
	}, discardLogger())

	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", strings.NewReader("{}")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(enqueued) != 1 || enqueued[0].PaymentID != "cs_hook" {
		t.Errorf("enqueued = %+v, want one apply_payment for cs_hook", enqueued)
	}
}

func TestWebhookCompletedButUnpaid(t *testing.T) {
	stub := &stubService{event: webhookEvent("checkout.session.completed", `{"id":"cs_async","payment_status":"unpaid"}`)}
	var enqueued int
	h := NewHandler(stub, ledger.NewMemory(5, 3), func(ctx context.Context, args ApplyPaymentArgs) error {
		enqueued++
		return nil
	}, discardLogger())

	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", strings.NewReader("{}")))
	if w.Code != http.StatusOK || enqueued != 0 {
		t.Errorf("status = %d enqueued = %d; unpaid sessions must wait", w.Code, enqueued)
	}
}

func TestWebhookUnknownSessionAcknowledged(t *testing.T) {
	stub := &stubService{event: webhookEvent("checkout.session.completed", `{"id":"cs_foreign","payment_status":"paid"}`)}
	var enqueued int
	h := NewHandler(stub, ledger.NewMemory(5, 3), func(ctx context.Context, args ApplyPaymentArgs) error {
		enqueued++
		return nil
	}, discardLogger())

	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", strings.NewReader("{}")))
	if w.Code != http.StatusOK || enqueued != 0 {
		t.Errorf("status = %d enqueued = %d; unknown sessions are dropped", w.Code, enqueued)
	}
}

func TestWebhookEnqueueFailureAsksForRedelivery(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	userID := uuid.New()
	mem.Provision(userID)
	pendingPayment(t, mem, userID, "cs_retry", models.ProductSaveSlots, 5)

	stub := &stubService{event: webhookEvent("checkout.session.completed", `{"id":"cs_retry","payment_status":"paid"}`)}
	h := NewHandler(stub, mem, func(ctx context.Context, args ApplyPaymentArgs) error {
		return errQueueDown
	}, discardLogger())

	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", strings.NewReader("{}")))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 so Stripe retries", w.Code)
	}
}

func TestWebhookExpiredMarksCancelled(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	userID := uuid.New()
	mem.Provision(userID)
	pendingPayment(t, mem, userID, "cs_gone", models.ProductCreationCredits, 10)

	stub := &stubService{event: webhookEvent("checkout.session.expired", `{"id":"cs_gone"}`)}
	h := NewHandler(stub, mem, nil, discardLogger())

	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", strings.NewReader("{}")))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	p, _ := mem.GetPayment(context.Background(), "cs_gone")
	if p.Status != models.PaymentStatusCancelled {
		t.Errorf("status = %q, want cancelled", p.Status)
	}
}

func TestWebhookWhenBillingUnconfigured(t *testing.T) {
	h := NewHandler(nil, ledger.NewMemory(5, 3), nil, discardLogger())
	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", strings.NewReader("{}")))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d; unconfigured webhook should still acknowledge", w.Code)
	}
}
