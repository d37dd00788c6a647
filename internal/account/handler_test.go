package account

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/ledger"
	"github.com/snapsell/backend/internal/middleware"
	"github.com/snapsell/backend/internal/models"
	"github.com/snapsell/backend/internal/quota"
	"github.com/snapsell/backend/internal/router"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubUsers struct {
	user *models.User
	err  error
}

func (s *stubUsers) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.user, nil
}

func authedRequest(method, target string, userID uuid.UUID) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	return r.WithContext(middleware.WithUserID(r.Context(), userID))
}

func TestMeAggregatesAccountView(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	userID := uuid.New()
	mem.Provision(userID)
	if _, err := mem.TryDebitCreation(context.Background(), userID); err != nil {
		t.Fatalf("debit: %v", err)
	}

	users := &stubUsers{user: &models.User{
		ID:          userID,
		Email:       "maya@example.com",
		DisplayName: "Maya",
	}}
	h := NewHandler(users, mem, discardLogger())

	w := httptest.NewRecorder()
	h.Me(w, authedRequest(http.MethodGet, "/v1/me", userID))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp meResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.User.Email != "maya@example.com" {
		t.Errorf("email = %q", resp.User.Email)
	}
	if got := resp.Entitlements.Creations.FreeRemainingToday; got != 4 {
		t.Errorf("free_remaining_today = %d, want 4", got)
	}
	// Two signup grants plus the debit.
	if len(resp.RecentEntries) != 3 {
		t.Fatalf("recent entries = %d, want 3", len(resp.RecentEntries))
	}
	var debits int
	for _, e := range resp.RecentEntries {
		if e.EntryType == models.LedgerEntryDebit {
			debits++
		}
	}
	if debits != 1 {
		t.Errorf("debit entries = %d, want 1", debits)
	}
}

func TestMeUnknownUser(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	userID := uuid.New()
	users := &stubUsers{err: domain.NotFound("auth.GetUser", "user", userID.String())}
	h := NewHandler(users, mem, discardLogger())

	w := httptest.NewRecorder()
	h.Me(w, authedRequest(http.MethodGet, "/v1/me", userID))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestEntitlementsAppliesDueReset(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	userID := uuid.New()
	mem.Provision(userID)
	for i := 0; i < 3; i++ {
		if _, err := mem.TryDebitCreation(context.Background(), userID); err != nil {
			t.Fatalf("debit %d: %v", i, err)
		}
	}
	mem.SetResetsAt(userID, time.Now().Add(-time.Hour))

	h := NewHandler(&stubUsers{}, mem, discardLogger())
	w := httptest.NewRecorder()
	h.Entitlements(w, authedRequest(http.MethodGet, "/v1/entitlements", userID))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp entitlementsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got := resp.Entitlements.Creations.FreeRemainingToday; got != 5 {
		t.Errorf("free after overdue read = %d, want 5 (reset-on-read)", got)
	}
	if !resp.Entitlements.ResetsAt.After(time.Now()) {
		t.Errorf("resets_at = %v, want a future boundary", resp.Entitlements.ResetsAt)
	}
	if resp.CreationDecision != quota.Allowed {
		t.Errorf("creation decision = %q, want %q", resp.CreationDecision, quota.Allowed)
	}
}

func TestEntitlementsDecisionsPerAction(t *testing.T) {
	mem := ledger.NewMemory(5, 2)
	userID := uuid.New()
	mem.Provision(userID)

	h := NewHandler(&stubUsers{}, mem, discardLogger())
	w := httptest.NewRecorder()
	h.Entitlements(w, authedRequest(http.MethodGet, "/v1/entitlements", userID))

	var resp entitlementsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CreationDecision != quota.Allowed {
		t.Errorf("creation decision = %q, want %q", resp.CreationDecision, quota.Allowed)
	}
	if resp.SaveDecision != quota.LowBalance {
		t.Errorf("save decision = %q, want %q (2 slots)", resp.SaveDecision, quota.LowBalance)
	}
	if resp.ShowUpgradeNudge {
		t.Error("nudge shown while creation balance is healthy")
	}
}

func TestEntitlementsNoRecord(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	h := NewHandler(&stubUsers{}, mem, discardLogger())

	w := httptest.NewRecorder()
	h.Entitlements(w, authedRequest(http.MethodGet, "/v1/entitlements", uuid.New()))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body router.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != domain.ENOTFOUND {
		t.Errorf("error code = %q, want %q", body.Error.Code, domain.ENOTFOUND)
	}
}

func TestDismissNudgeSuppressesWithinWindow(t *testing.T) {
	mem := ledger.NewMemory(2, 3)
	userID := uuid.New()
	mem.Provision(userID)

	h := NewHandler(&stubUsers{}, mem, discardLogger())

	// At the threshold the nudge shows.
	w := httptest.NewRecorder()
	h.Entitlements(w, authedRequest(http.MethodGet, "/v1/entitlements", userID))
	var before entitlementsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &before); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !before.ShowUpgradeNudge {
		t.Fatal("nudge not shown at threshold")
	}

	w = httptest.NewRecorder()
	h.DismissNudge(w, authedRequest(http.MethodPost, "/v1/entitlements/nudge-dismissal", userID))
	if w.Code != http.StatusOK {
		t.Fatalf("dismiss status = %d, body %s", w.Code, w.Body.String())
	}
	var after entitlementsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if after.ShowUpgradeNudge {
		t.Error("nudge still shown after dismissal")
	}
	if after.Entitlements.NudgeDismissedAt == nil {
		t.Error("nudge_dismissed_at not recorded")
	}
	if after.CreationDecision != quota.LowBalance {
		t.Errorf("creation decision = %q, want %q: dismissal hides the nudge, not the warning", after.CreationDecision, quota.LowBalance)
	}
}

func TestDismissNudgeWithoutRecord(t *testing.T) {
	mem := ledger.NewMemory(5, 3)
	h := NewHandler(&stubUsers{}, mem, discardLogger())

	w := httptest.NewRecorder()
	h.DismissNudge(w, authedRequest(http.MethodPost, "/v1/entitlements/nudge-dismissal", uuid.New()))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
