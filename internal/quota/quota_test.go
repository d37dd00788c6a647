package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/snapsell/backend/internal/models"
)

func rec(isPro bool, free, purchased, saveFree, savePurchased int) *models.Entitlements {
	return &models.Entitlements{
		IsPro: isPro,
		Creations: models.CreationBalance{
			FreeRemainingToday: free,
			PurchasedRemaining: purchased,
			DailyLimit:         5,
		},
		Saves: models.SaveBalance{
			FreeSlots:      saveFree,
			PurchasedSlots: savePurchased,
			Remaining:      saveFree + savePurchased,
		},
		ResetsAt: time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateCreation(t *testing.T) {
	tests := []struct {
		name   string
		record *models.Entitlements
		want   Decision
	}{
		{"fresh free tier", rec(false, 5, 0, 3, 0), Allowed},
		{"plenty of purchased", rec(false, 0, 10, 3, 0), Allowed},
		{"combined above threshold", rec(false, 2, 1, 3, 0), Allowed},
		{"at threshold", rec(false, 2, 0, 3, 0), LowBalance},
		{"one left", rec(false, 0, 1, 3, 0), LowBalance},
		{"exhausted", rec(false, 0, 0, 3, 0), Blocked},
		{"pro with zero balance", rec(true, 0, 0, 0, 0), Allowed},
		{"pro always allowed", rec(true, 5, 5, 5, 5), Allowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateCreation(tt.record))
		})
	}
}

func TestEvaluateSave(t *testing.T) {
	tests := []struct {
		name   string
		record *models.Entitlements
		want   Decision
	}{
		{"three slots", rec(false, 5, 0, 3, 0), Allowed},
		{"two slots warns", rec(false, 5, 0, 2, 0), LowBalance},
		{"one purchased slot warns", rec(false, 5, 0, 0, 1), LowBalance},
		{"no slots", rec(false, 5, 0, 0, 0), Blocked},
		{"pro bypasses slots", rec(true, 0, 0, 0, 0), Allowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateSave(tt.record))
		})
	}
}

// Walks the three-save scenario: 3 -> 2 -> 1 -> 0. The warning must fire on
// the results that leave 2 and then 1 remaining, and the next attempt is
// blocked.
func TestSaveScenarioWarningProgression(t *testing.T) {
	r := rec(false, 5, 0, 3, 0)

	assert.Equal(t, Allowed, EvaluateSave(r))

	r.Saves.FreeSlots = 2
	assert.Equal(t, LowBalance, EvaluateSave(r))

	r.Saves.FreeSlots = 1
	assert.Equal(t, LowBalance, EvaluateSave(r))

	r.Saves.FreeSlots = 0
	assert.Equal(t, Blocked, EvaluateSave(r))
}

func TestShouldShowUpgradeNudge(t *testing.T) {
	resetsAt := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	inWindow := resetsAt.Add(-2 * time.Hour)
	beforeWindow := resetsAt.Add(-30 * time.Hour)

	tests := []struct {
		name        string
		record      *models.Entitlements
		dismissedAt *time.Time
		want        bool
	}{
		{"low and never dismissed", rec(false, 1, 0, 3, 0), nil, true},
		{"low but dismissed this window", rec(false, 1, 0, 3, 0), &inWindow, false},
		{"dismissal from previous window expired", rec(false, 1, 0, 3, 0), &beforeWindow, true},
		{"healthy balance", rec(false, 5, 0, 3, 0), nil, false},
		{"pro never nudged", rec(true, 0, 0, 0, 0), nil, false},
		{"blocked still nudges", rec(false, 0, 0, 3, 0), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldShowUpgradeNudge(tt.record, tt.dismissedAt)
			assert.Equal(t, tt.want, got)
		})
	}
}

// A dismissal recorded in the old window must not suppress the nudge once
// resets_at has advanced past it.
func TestNudgeReappearsAfterReset(t *testing.T) {
	r := rec(false, 1, 0, 3, 0)
	dismissed := r.ResetsAt.Add(-time.Hour)

	assert.False(t, ShouldShowUpgradeNudge(r, &dismissed))

	r.ResetsAt = r.ResetsAt.AddDate(0, 0, 1)
	assert.True(t, ShouldShowUpgradeNudge(r, &dismissed))
}
