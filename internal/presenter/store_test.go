package presenter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapsell/backend/internal/models"
)

func entRec(free, purchased, saveFree, savePurchased int) *models.Entitlements {
	return &models.Entitlements{
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

func TestStoreEmptyBeforeFirstLoad(t *testing.T) {
	s := NewBalanceStore()
	_, ok := s.Snapshot()
	assert.False(t, ok)
}

func TestStoreFetchLandsWhenNothingRaced(t *testing.T) {
	s := NewBalanceStore()

	token := s.BeginFetch()
	assert.True(t, s.CompleteFetch(token, entRec(5, 0, 3, 0)))

	rec, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 5, rec.Creations.FreeRemainingToday)
}

func TestStoreMutationWinsOverStaleFetch(t *testing.T) {
	s := NewBalanceStore()

	// Fetch starts, then a debit's response lands first.
	token := s.BeginFetch()
	s.ApplyMutation(entRec(4, 0, 3, 0))

	// The older read must not roll the balance back to 5.
	assert.False(t, s.CompleteFetch(token, entRec(5, 0, 3, 0)))

	rec, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 4, rec.Creations.FreeRemainingToday)
}

func TestStoreFetchAfterMutationLands(t *testing.T) {
	s := NewBalanceStore()
	s.ApplyMutation(entRec(4, 0, 3, 0))

	token := s.BeginFetch()
	assert.True(t, s.CompleteFetch(token, entRec(4, 2, 3, 0)))

	rec, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 2, rec.Creations.PurchasedRemaining)
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := NewBalanceStore()
	s.ApplyMutation(entRec(5, 0, 3, 0))

	rec, ok := s.Snapshot()
	require.True(t, ok)
	rec.Creations.FreeRemainingToday = 0

	again, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 5, again.Creations.FreeRemainingToday)
}
