// Package account serves the signed-in account view: profile, entitlement
// balances with policy decisions, and the nudge dismissal that scopes the
// upgrade prompt to one reset window.
package account

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/ledger"
	"github.com/snapsell/backend/internal/middleware"
	"github.com/snapsell/backend/internal/models"
	"github.com/snapsell/backend/internal/quota"
	"github.com/snapsell/backend/internal/router"
)

// recentEntryLimit bounds the ledger tail in the account view.
const recentEntryLimit = 20

// UserLoader is the subset of the auth service the account view needs.
type UserLoader interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Handler serves /v1/me and /v1/entitlements.
type Handler struct {
	users  UserLoader
	ledger ledger.Service
	log    *slog.Logger
}

func NewHandler(users UserLoader, ledgerSvc ledger.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{users: users, ledger: ledgerSvc, log: log}
}

// --- GET /v1/me ---

type meResponse struct {
	User          *models.User         `json:"user"`
	Entitlements  *models.Entitlements `json:"entitlements"`
	RecentEntries []models.LedgerEntry `json:"recent_entries"`
}

// Me handles GET /v1/me: profile, balances, and the newest ledger entries in
// one response.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	const op = "account.Me"
	userID := middleware.UserIDFromCtx(r.Context())

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		router.Error(w, r, h.log, err)
		return
	}

	rec, err := h.loadBalance(r.Context(), op, userID)
	if err != nil {
		router.Error(w, r, h.log, err)
		return
	}

	entries, err := h.ledger.RecentEntries(r.Context(), userID, recentEntryLimit)
	if err != nil {
		router.Error(w, r, h.log, domain.Internal(err, op, "load ledger entries"))
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}

	router.JSON(w, http.StatusOK, meResponse{
		User:          user,
		Entitlements:  rec,
		RecentEntries: entries,
	})
}

// --- GET /v1/entitlements ---

type entitlementsResponse struct {
	Entitlements     *models.Entitlements `json:"entitlements"`
	CreationDecision quota.Decision       `json:"creation_decision"`
	SaveDecision     quota.Decision       `json:"save_decision"`
	ShowUpgradeNudge bool                 `json:"show_upgrade_nudge"`
}

// Entitlements handles GET /v1/entitlements. The read applies any due daily
// reset first, so a stale client can never be blocked by yesterday's zeros.
func (h *Handler) Entitlements(w http.ResponseWriter, r *http.Request) {
	const op = "account.Entitlements"
	userID := middleware.UserIDFromCtx(r.Context())

	rec, err := h.loadBalance(r.Context(), op, userID)
	if err != nil {
		router.Error(w, r, h.log, err)
		return
	}
	router.JSON(w, http.StatusOK, entitlementsView(rec))
}

// --- POST /v1/entitlements/nudge-dismissal ---

// DismissNudge handles POST /v1/entitlements/nudge-dismissal. The dismissal
// is stored on the entitlement row and expires with the reset window; the
// response carries the fresh record so the client updates in one round trip.
func (h *Handler) DismissNudge(w http.ResponseWriter, r *http.Request) {
	const op = "account.DismissNudge"
	userID := middleware.UserIDFromCtx(r.Context())

	if err := h.ledger.DismissNudge(r.Context(), userID, time.Now().UTC()); err != nil {
		if errors.Is(err, ledger.ErrNoRecord) {
			router.Error(w, r, h.log, domain.NotFound(op, "entitlements", userID.String()))
			return
		}
		router.Error(w, r, h.log, domain.Internal(err, op, "dismiss nudge"))
		return
	}

	rec, err := h.loadBalance(r.Context(), op, userID)
	if err != nil {
		router.Error(w, r, h.log, err)
		return
	}
	router.JSON(w, http.StatusOK, entitlementsView(rec))
}

// --- helpers ---

func (h *Handler) loadBalance(ctx context.Context, op string, userID uuid.UUID) (*models.Entitlements, error) {
	rec, err := h.ledger.GetBalance(ctx, userID)
	if errors.Is(err, ledger.ErrNoRecord) {
		return nil, domain.NotFound(op, "entitlements", userID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "load balance")
	}
	return rec, nil
}

func entitlementsView(rec *models.Entitlements) entitlementsResponse {
	return entitlementsResponse{
		Entitlements:     rec,
		CreationDecision: quota.EvaluateCreation(rec),
		SaveDecision:     quota.EvaluateSave(rec),
		ShowUpgradeNudge: quota.ShouldShowUpgradeNudge(rec, rec.NudgeDismissedAt),
	}
}
