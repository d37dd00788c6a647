// Package listings serves the photo-to-listing flows. Both gated endpoints
// follow debit-then-compensate: take the unit first, do the fallible work,
// return the unit if that work fails. Blocked is a policy answer carrying
// current balances, never a bare error banner.
package listings

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snapsell/backend/internal/anon"
	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/ledger"
	"github.com/snapsell/backend/internal/metrics"
	"github.com/snapsell/backend/internal/middleware"
	"github.com/snapsell/backend/internal/models"
	"github.com/snapsell/backend/internal/quota"
	"github.com/snapsell/backend/internal/router"
	"github.com/snapsell/backend/internal/vision"
)

// Store is the listing persistence needed by the handler.
type Store interface {
	Create(ctx context.Context, l *models.Listing) error
	GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Listing, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Listing, error)
	Update(ctx context.Context, l *models.Listing) error
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// Handler serves /v1/listings and /v1/anonymous endpoints. The vision
// provider is nil when no analyzer is configured; the analyze endpoints then
// answer configuration_missing without touching any balance.
type Handler struct {
	store   Store
	ledger  ledger.Service
	vision  vision.Provider
	limiter *anon.Limiter
	log     *slog.Logger
}

func NewHandler(store Store, ledgerSvc ledger.Service, provider vision.Provider, limiter *anon.Limiter, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, ledger: ledgerSvc, vision: provider, limiter: limiter, log: log}
}

// --- POST /v1/listings/analyze ---

type analyzeRequest struct {
	ImageBase64 string `json:"image_base64"`
	MediaType   string `json:"media_type"`
}

type analyzeResponse struct {
	Draft            *models.ListingDraft `json:"draft"`
	Entitlements     *models.Entitlements `json:"entitlements"`
	Decision         quota.Decision       `json:"decision"`
	ShowUpgradeNudge bool                 `json:"show_upgrade_nudge"`
}

// Analyze handles POST /v1/listings/analyze, the creation action.
// Debit -> Vision -> (refund on failure) -> draft plus fresh balances.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	const op = "listings.Analyze"
	userID := middleware.UserIDFromCtx(r.Context())

	if h.vision == nil {
		router.Error(w, r, h.log, domain.ConfigMissing(op, "photo analysis"))
		return
	}

	var req analyzeRequest
	if err := router.Decode(r, &req); err != nil {
		router.Error(w, r, h.log, err)
		return
	}
	if req.ImageBase64 == "" {
		router.Error(w, r, h.log, domain.Invalid(op, "image_base64 is required"))
		return
	}
	if req.MediaType == "" {
		// The app sends camera JPEGs and omits the field.
		req.MediaType = "image/jpeg"
	}

	res, err := h.ledger.TryDebitCreation(r.Context(), userID)
	if err != nil {
		router.Error(w, r, h.log, domain.Internal(err, op, "debit creation"))
		return
	}
	metrics.LedgerDebits.WithLabelValues(models.ActionCreation, res.Bucket, strconv.FormatBool(res.Allowed)).Inc()

	if !res.Allowed {
		writeQuotaBlocked(w, op, models.ActionCreation, res.Record)
		return
	}

	draft, err := h.analyzeImage(r.Context(), req.ImageBase64, req.MediaType)
	if err != nil {
		h.refundCreation(r.Context(), userID, res.Bucket)
		router.Error(w, r, h.log, mapVisionError(op, err))
		return
	}

	rec := res.Record
	decision := quota.EvaluateCreation(rec)
	metrics.QuotaDecisions.WithLabelValues(models.ActionCreation, string(decision)).Inc()

	router.JSON(w, http.StatusOK, analyzeResponse{
		Draft:            draft,
		Entitlements:     rec,
		Decision:         decision,
		ShowUpgradeNudge: quota.ShouldShowUpgradeNudge(rec, rec.NudgeDismissedAt),
	})
}

// --- POST /v1/listings ---

type saveListingRequest struct {
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

func (req *saveListingRequest) validate(op string) error {
	if strings.TrimSpace(req.Title) == "" {
		return domain.Invalid(op, "title is required")
	}
	if req.Condition != "" && !models.ValidCondition(req.Condition) {
		return domain.Invalid(op, "condition must be one of: New, Used - Like New, Used - Good, Used - Fair, Refurbished")
	}
	return nil
}

func (req *saveListingRequest) apply(l *models.Listing) {
	l.Title = strings.TrimSpace(req.Title)
	l.Price = strings.TrimSpace(req.Price)
	l.Description = req.Description
	l.Condition = req.Condition
	l.Location = req.Location
	l.Brand = req.Brand
	l.PickupAvailable = req.PickupAvailable
	l.ShippingAvailable = req.ShippingAvailable
	l.PickupNotes = req.PickupNotes
}

type saveListingResponse struct {
	Listing      *models.Listing      `json:"listing"`
	Entitlements *models.Entitlements `json:"entitlements"`
	Decision     quota.Decision       `json:"decision"`
}

// SaveListing handles POST /v1/listings, the save action. One slot per
// stored listing, debited up front and returned if the insert fails.
func (h *Handler) SaveListing(w http.ResponseWriter, r *http.Request) {
	const op = "listings.SaveListing"
	userID := middleware.UserIDFromCtx(r.Context())

	var req saveListingRequest
	if err := router.Decode(r, &req); err != nil {
		router.Error(w, r, h.log, err)
		return
	}
	if err := req.validate(op); err != nil {
		router.Error(w, r, h.log, err)
		return
	}

	res, err := h.ledger.TryDebitSave(r.Context(), userID)
	if err != nil {
		router.Error(w, r, h.log, domain.Internal(err, op, "debit save slot"))
		return
	}
	metrics.LedgerDebits.WithLabelValues(models.ActionSave, res.Bucket, strconv.FormatBool(res.Allowed)).Inc()

	if !res.Allowed {
		writeQuotaBlocked(w, op, models.ActionSave, res.Record)
		return
	}

	listing := &models.Listing{ID: uuid.New(), UserID: userID}
	req.apply(listing)

	if err := h.store.Create(r.Context(), listing); err != nil {
		h.refundSave(r.Context(), userID, res.Bucket)
		router.Error(w, r, h.log, domain.Internal(err, op, "store listing"))
		return
	}

	decision := quota.EvaluateSave(res.Record)
	metrics.QuotaDecisions.WithLabelValues(models.ActionSave, string(decision)).Inc()

	router.JSON(w, http.StatusCreated, saveListingResponse{
		Listing:      listing,
		Entitlements: res.Record,
		Decision:     decision,
	})
}

// --- GET /v1/listings ---

type listResponse struct {
	Listings []models.Listing `json:"listings"`
}

// List handles GET /v1/listings, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	const op = "listings.List"
	userID := middleware.UserIDFromCtx(r.Context())

	items, err := h.store.ListByUser(r.Context(), userID)
	if err != nil {
		router.Error(w, r, h.log, domain.Internal(err, op, "list listings"))
		return
	}
	if items == nil {
		items = []models.Listing{}
	}
	router.JSON(w, http.StatusOK, listResponse{Listings: items})
}

// --- GET /v1/listings/{id} ---

// Get handles GET /v1/listings/{id}. Someone else's listing id is
// indistinguishable from a missing one.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "listings.Get"
	userID := middleware.UserIDFromCtx(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		router.Error(w, r, h.log, domain.Invalid(op, "invalid listing id"))
		return
	}

	listing, err := h.store.GetByID(r.Context(), userID, id)
	if errors.Is(err, ErrListingNotFound) {
		router.Error(w, r, h.log, domain.NotFound(op, "listing", id.String()))
		return
	}
	if err != nil {
		router.Error(w, r, h.log, domain.Internal(err, op, "load listing"))
		return
	}
	router.JSON(w, http.StatusOK, listing)
}

// --- PUT /v1/listings/{id} ---

// Update handles PUT /v1/listings/{id}: full replace of the editable fields.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	const op = "listings.Update"
	userID := middleware.UserIDFromCtx(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		router.Error(w, r, h.log, domain.Invalid(op, "invalid listing id"))
		return
	}

	var req saveListingRequest
	if err := router.Decode(r, &req); err != nil {
		router.Error(w, r, h.log, err)
		return
	}
	if err := req.validate(op); err != nil {
		router.Error(w, r, h.log, err)
		return
	}

	listing, err := h.store.GetByID(r.Context(), userID, id)
	if errors.Is(err, ErrListingNotFound) {
		router.Error(w, r, h.log, domain.NotFound(op, "listing", id.String()))
		return
	}
	if err != nil {
		router.Error(w, r, h.log, domain.Internal(err, op, "load listing"))
		return
	}

	req.apply(listing)
	if err := h.store.Update(r.Context(), listing); err != nil {
		if errors.Is(err, ErrListingNotFound) {
			router.Error(w, r, h.log, domain.NotFound(op, "listing", id.String()))
			return
		}
		router.Error(w, r, h.log, domain.Internal(err, op, "update listing"))
		return
	}
	router.JSON(w, http.StatusOK, listing)
}

// --- DELETE /v1/listings/{id} ---

// Delete handles DELETE /v1/listings/{id}. The save slot the listing
// consumed stays consumed: slots only grow via purchase, so delete-and-save
// loops cannot mint storage.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "listings.Delete"
	userID := middleware.UserIDFromCtx(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		router.Error(w, r, h.log, domain.Invalid(op, "invalid listing id"))
		return
	}

	if err := h.store.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, ErrListingNotFound) {
			router.Error(w, r, h.log, domain.NotFound(op, "listing", id.String()))
			return
		}
		router.Error(w, r, h.log, domain.Internal(err, op, "delete listing"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- POST /v1/anonymous/analyze ---

type anonAnalyzeRequest struct {
	DeviceID    string `json:"device_id"`
	ImageBase64 string `json:"image_base64"`
	MediaType   string `json:"media_type"`
}

type anonAnalyzeResponse struct {
	Draft *models.ListingDraft  `json:"draft"`
	Quota models.AnonymousQuota `json:"quota"`
}

type anonBlockedResponse struct {
	Error router.ErrorDetail    `json:"error"`
	Quota models.AnonymousQuota `json:"quota"`
}

// AnonymousAnalyze handles POST /v1/anonymous/analyze, the pre-signup taste.
// The counter is advisory and in-memory, but it still follows
// debit-then-compensate so a provider failure does not eat the day's try.
func (h *Handler) AnonymousAnalyze(w http.ResponseWriter, r *http.Request) {
	const op = "listings.AnonymousAnalyze"

	if h.vision == nil {
		router.Error(w, r, h.log, domain.ConfigMissing(op, "photo analysis"))
		return
	}

	var req anonAnalyzeRequest
	if err := router.Decode(r, &req); err != nil {
		router.Error(w, r, h.log, err)
		return
	}
	if req.ImageBase64 == "" {
		router.Error(w, r, h.log, domain.Invalid(op, "image_base64 is required"))
		return
	}
	if req.MediaType == "" {
		req.MediaType = "image/jpeg"
	}

	key := req.DeviceID
	if key == "" {
		key = middleware.DeviceKey(r)
	}

	allowed, snap := h.limiter.CheckAndConsume(key)
	metrics.AnonymousChecks.WithLabelValues(strconv.FormatBool(allowed)).Inc()

	if !allowed {
		rlErr := domain.RateLimit(op)
		router.JSON(w, http.StatusTooManyRequests, anonBlockedResponse{
			Error: router.ErrorDetail{Code: rlErr.Code, Message: rlErr.Message},
			Quota: snap,
		})
		return
	}

	draft, err := h.analyzeImage(r.Context(), req.ImageBase64, req.MediaType)
	if err != nil {
		h.limiter.Refund(key)
		router.Error(w, r, h.log, mapVisionError(op, err))
		return
	}

	router.JSON(w, http.StatusOK, anonAnalyzeResponse{Draft: draft, Quota: snap})
}

// --- GET /v1/anonymous/quota ---

// AnonymousQuota handles GET /v1/anonymous/quota: the snapshot without
// consuming, for the pre-signup screen.
func (h *Handler) AnonymousQuota(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("device_id")
	if key == "" {
		key = middleware.DeviceKey(r)
	}
	router.JSON(w, http.StatusOK, h.limiter.Peek(key))
}

// --- helpers ---

type quotaBlockedResponse struct {
	Error        router.ErrorDetail   `json:"error"`
	Entitlements *models.Entitlements `json:"entitlements"`
	Decision     quota.Decision       `json:"decision"`
}

// writeQuotaBlocked answers 402 with the error envelope plus current
// balances, so the paywall renders without a second round trip.
func writeQuotaBlocked(w http.ResponseWriter, op, action string, rec *models.Entitlements) {
	metrics.QuotaDecisions.WithLabelValues(action, string(quota.Blocked)).Inc()
	qErr := domain.QuotaExceeded(op, action)
	router.JSON(w, http.StatusPaymentRequired, quotaBlockedResponse{
		Error:        router.ErrorDetail{Code: qErr.Code, Message: qErr.Message},
		Entitlements: rec,
		Decision:     quota.Blocked,
	})
}

func (h *Handler) analyzeImage(ctx context.Context, imageB64, mediaType string) (*models.ListingDraft, error) {
	start := time.Now()
	draft, err := h.vision.AnalyzeImage(ctx, imageB64, mediaType)
	metrics.VisionRequestDuration.WithLabelValues(h.vision.Name()).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.VisionRequests.WithLabelValues(h.vision.Name(), outcome).Inc()
	return draft, err
}

// refundCreation compensates a debit whose vision call failed. The refund
// must outlive a canceled request, otherwise the unit is lost exactly when
// the client gave up.
func (h *Handler) refundCreation(ctx context.Context, userID uuid.UUID, bucket string) {
	if bucket == "" {
		// Pro bypass debited nothing.
		return
	}
	if _, err := h.ledger.RefundCreation(context.WithoutCancel(ctx), userID, bucket); err != nil {
		h.log.Error("creation refund failed", "user_id", userID, "bucket", bucket, "error", err)
	}
}

func (h *Handler) refundSave(ctx context.Context, userID uuid.UUID, bucket string) {
	if bucket == "" {
		return
	}
	if _, err := h.ledger.RefundSave(context.WithoutCancel(ctx), userID, bucket); err != nil {
		h.log.Error("save refund failed", "user_id", userID, "bucket", bucket, "error", err)
	}
}

// mapVisionError translates provider failures into domain answers. Transient
// upstream trouble stays retryable for the client; a confused model is not
// retryable and reads as an internal fault.
func mapVisionError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, vision.ErrInvalidImage):
		return domain.Invalid(op, "That image cannot be analyzed. Send a JPEG, PNG, GIF, or WebP under 20MB.")
	case errors.Is(err, vision.ErrUnauthorized):
		return domain.ConfigMissing(op, "photo analysis")
	case errors.Is(err, vision.ErrRateLimited),
		errors.Is(err, vision.ErrTimeout),
		errors.Is(err, vision.ErrUnavailable):
		return domain.Unavailable(err, op, "Photo analysis is briefly unavailable. Please try again.")
	case errors.Is(err, vision.ErrInvalidResponse):
		return domain.Internal(err, op, "vision draft unusable")
	default:
		return domain.Internal(err, op, "vision request failed")
	}
}
