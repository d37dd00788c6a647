// Package presenter is the client-side kit the mobile shell embeds: policy
// signals for the UI to bind, a single-flight guard per gated action, balance
// snapshot bookkeeping, transient-fault retry, bounded payment polling, and
// an HTTP client for the ledger API. It renders nothing. Its job is to turn
// server answers into states a view layer can display without re-deriving
// policy.
//
// The server stays authoritative for every balance; everything cached here is
// advisory and is overwritten by whatever a mutating call returns.
package presenter

import (
	"github.com/snapsell/backend/internal/models"
	"github.com/snapsell/backend/internal/quota"
)

// Signals is what a screen binds to for one gated action. ShowPaywall is true
// exactly when the decision is Blocked; the low-balance warning and the
// upgrade nudge are independent of each other, since a dismissal hides only
// the nudge.
type Signals struct {
	Decision              quota.Decision `json:"decision"`
	Remaining             int            `json:"remaining"`
	ShowPaywall           bool           `json:"show_paywall"`
	ShowLowBalanceWarning bool           `json:"show_low_balance_warning"`
	ShowUpgradeNudge      bool           `json:"show_upgrade_nudge"`
}

// SignalsFor derives the UI signals for one action from a balance snapshot.
func SignalsFor(action string, rec *models.Entitlements) Signals {
	decision := quota.EvaluateAction(action, rec)
	return Signals{
		Decision:              decision,
		Remaining:             rec.TotalFor(action),
		ShowPaywall:           decision == quota.Blocked,
		ShowLowBalanceWarning: decision == quota.LowBalance,
		ShowUpgradeNudge:      quota.ShouldShowUpgradeNudge(rec, rec.NudgeDismissedAt),
	}
}
