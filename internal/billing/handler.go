package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v79"

	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/ledger"
	"github.com/snapsell/backend/internal/middleware"
	"github.com/snapsell/backend/internal/models"
	"github.com/snapsell/backend/internal/router"
)

// Default deep links back into the app when the client does not supply its
// own. Stripe substitutes the session id placeholder itself.
const (
	defaultSuccessURL = "snapsell://checkout/success?session_id={CHECKOUT_SESSION_ID}"
	defaultCancelURL  = "snapsell://checkout/cancel"
)

// maxWebhookBody caps the Stripe webhook payload read (64KB).
const maxWebhookBody = 65536

// EnqueueApplyPaymentFunc enqueues an apply_payment job. Provided by main as
// a closure over the River client.
type EnqueueApplyPaymentFunc func(ctx context.Context, args ApplyPaymentArgs) error

// Handler serves checkout, webhook, and payment-status endpoints. The
// billing Service is nil when Stripe is unconfigured; checkout then answers
// configuration_missing while the webhook acknowledges and drops events.
type Handler struct {
	billing Service
	ledger  ledger.Service
	enqueue EnqueueApplyPaymentFunc
	log     *slog.Logger
}

func NewHandler(billingSvc Service, ledgerSvc ledger.Service, enqueue EnqueueApplyPaymentFunc, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{billing: billingSvc, ledger: ledgerSvc, enqueue: enqueue, log: log}
}

// --- POST /v1/billing/checkout ---

type checkoutRequest struct {
	Product    string `json:"product"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

type checkoutResponse struct {
	PaymentID   string `json:"payment_id"`
	CheckoutURL string `json:"checkout_url"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	const op = "billing.Checkout"
	userID := middleware.UserIDFromCtx(r.Context())

	if h.billing == nil {
		router.Error(w, r, h.log, domain.ConfigMissing(op, "billing"))
		return
	}

	var req checkoutRequest
	if err := router.Decode(r, &req); err != nil {
		router.Error(w, r, h.log, err)
		return
	}
	switch req.Product {
	case models.ProductCreationCredits, models.ProductSaveSlots, models.ProductPro:
	default:
		router.Error(w, r, h.log, domain.Invalid(op, "Product must be one of creation_credits, save_slots, pro."))
		return
	}
	if req.SuccessURL == "" {
		req.SuccessURL = defaultSuccessURL
	}
	if req.CancelURL == "" {
		req.CancelURL = defaultCancelURL
	}

	sess, err := h.billing.CreateCheckoutSession(r.Context(), userID, req.Product, req.SuccessURL, req.CancelURL)
	if err != nil {
		if errors.Is(err, ErrPriceNotConfigured) {
			router.Error(w, r, h.log, domain.ConfigMissing(op, req.Product))
			return
		}
		router.Error(w, r, h.log, domain.Unavailable(err, op, "Could not start checkout. Please try again."))
		return
	}

	payment := models.Payment{
		ID:          sess.ID,
		UserID:      userID,
		Product:     req.Product,
		Quantity:    h.billing.QuantityForProduct(req.Product),
		AmountCents: sess.AmountCents,
		Currency:    sess.Currency,
		Status:      models.PaymentStatusPending,
	}
	if err := h.ledger.CreatePendingPayment(r.Context(), payment); err != nil {
		router.Error(w, r, h.log, domain.Internal(err, op, "could not record pending payment"))
		return
	}

	h.log.Info("checkout session created", "user_id", userID, "product", req.Product, "payment_id", sess.ID)
	router.JSON(w, http.StatusCreated, checkoutResponse{PaymentID: sess.ID, CheckoutURL: sess.URL})
}

// --- GET /v1/billing/payments/{id} ---

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	const op = "billing.PaymentStatus"
	userID := middleware.UserIDFromCtx(r.Context())
	paymentID := r.PathValue("id")

	payment, err := h.ledger.GetPayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, ledger.ErrPaymentNotFound) {
			router.Error(w, r, h.log, domain.NotFound(op, "payment", paymentID))
			return
		}
		router.Error(w, r, h.log, domain.Internal(err, op, "could not load payment"))
		return
	}
	// Someone else's session id is indistinguishable from a missing one.
	if payment.UserID != userID {
		router.Error(w, r, h.log, domain.NotFound(op, "payment", paymentID))
		return
	}
	router.JSON(w, http.StatusOK, payment)
}

// --- POST /v1/billing/webhook ---

// Webhook processes Stripe events. It is public; authentication is the
// Stripe signature. Completed checkouts are queued for ledger application so
// a crash between acknowledgment and credit cannot lose the purchase.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.log.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.log.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	event, err := h.billing.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.log.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.log.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		h.handleCheckoutCompleted(r.Context(), w, event)
		return
	case "checkout.session.expired":
		h.markFailed(r.Context(), event, models.PaymentStatusCancelled)
	case "checkout.session.async_payment_failed":
		h.markFailed(r.Context(), event, models.PaymentStatusFailed)
	default:
		h.log.Debug("unhandled webhook event type", "type", event.Type)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCheckoutCompleted(ctx context.Context, w http.ResponseWriter, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.log.Error("failed to parse checkout session", "error", err, "event_id", event.ID)
		w.WriteHeader(http.StatusOK)
		return
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Async payment methods complete later; the succeeded event follows.
		h.log.Info("checkout completed but not yet paid", "session_id", session.ID, "payment_status", session.PaymentStatus)
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := h.ledger.GetPayment(ctx, session.ID); err != nil {
		h.log.Warn("webhook for unknown checkout session", "session_id", session.ID, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	// A failed enqueue answers 500 so Stripe redelivers the event.
	if err := h.enqueue(ctx, ApplyPaymentArgs{PaymentID: session.ID}); err != nil {
		h.log.Error("failed to enqueue payment application", "error", err, "session_id", session.ID)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) markFailed(ctx context.Context, event stripe.Event, status string) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.log.Error("failed to parse checkout session", "error", err, "event_id", event.ID)
		return
	}
	if err := h.ledger.MarkPaymentFailed(ctx, session.ID, status); err != nil {
		h.log.Error("failed to mark payment failed", "error", err, "session_id", session.ID)
	}
}
