// Package quota turns a raw entitlement snapshot into policy decisions and
// user-facing thresholds. It is pure: no transport, no storage, no clock
// other than what callers pass in.
//
// Per action type a user moves through Unconstrained (pro) or
// Available -> LowBalance -> Blocked. Debits walk the chain downward;
// purchases move it back up for both actions, the daily reset only for
// creations (save slots never reset).
package quota

import (
	"time"

	"github.com/snapsell/backend/internal/models"
)

// Decision is the policy outcome for a requested action.
type Decision string

const (
	Allowed    Decision = "allowed"
	LowBalance Decision = "allowed_low_balance"
	Blocked    Decision = "blocked"
)

// LowBalanceThreshold is the remaining count at or below which the warning
// fires. Two units leaves headroom for one more attempt before the hard
// block.
const LowBalanceThreshold = 2

// EvaluateCreation decides whether a listing creation is permitted right now.
func EvaluateCreation(rec *models.Entitlements) Decision {
	return evaluate(rec.IsPro, rec.CreationTotal())
}

// EvaluateSave decides whether consuming a save slot is permitted right now.
func EvaluateSave(rec *models.Entitlements) Decision {
	return evaluate(rec.IsPro, rec.SaveTotal())
}

// EvaluateAction dispatches on the action type.
func EvaluateAction(action string, rec *models.Entitlements) Decision {
	if action == models.ActionSave {
		return EvaluateSave(rec)
	}
	return EvaluateCreation(rec)
}

func evaluate(isPro bool, remaining int) Decision {
	if isPro {
		return Allowed
	}
	switch {
	case remaining <= 0:
		return Blocked
	case remaining <= LowBalanceThreshold:
		return LowBalance
	default:
		return Allowed
	}
}

// ShouldShowUpgradeNudge reports whether the upgrade nudge should appear:
// balance at or below threshold and no dismissal within the current reset
// window. A dismissal is scoped to one reset period, so the nudge returns
// after the next allowance reset even if the user is still low.
func ShouldShowUpgradeNudge(rec *models.Entitlements, dismissedAt *time.Time) bool {
	if rec.IsPro {
		return false
	}
	if rec.CreationTotal() > LowBalanceThreshold {
		return false
	}
	if dismissedAt == nil {
		return true
	}
	windowStart := rec.ResetsAt.Add(-24 * time.Hour)
	if dismissedAt.Before(windowStart) || !dismissedAt.Before(rec.ResetsAt) {
		return true
	}
	return false
}
