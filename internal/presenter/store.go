package presenter

import (
	"sync"

	"github.com/snapsell/backend/internal/models"
)

// BalanceStore holds the latest entitlement snapshot for the UI. Balances
// carried by mutating calls always win over separately fetched reads: each
// mutation bumps the generation, and a fetch that began before the bump is
// discarded when it lands.
type BalanceStore struct {
	mu         sync.Mutex
	rec        *models.Entitlements
	generation uint64
}

func NewBalanceStore() *BalanceStore { return &BalanceStore{} }

// Snapshot returns a copy of the cached record, or ok=false before the first
// load.
func (s *BalanceStore) Snapshot() (*models.Entitlements, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec == nil {
		return nil, false
	}
	cp := *s.rec
	return &cp, true
}

// ApplyMutation installs balances returned by a mutating call and bumps the
// generation so older in-flight fetches cannot overwrite them.
func (s *BalanceStore) ApplyMutation(rec *models.Entitlements) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.set(rec)
}

// BeginFetch marks the start of a read-only refresh and returns the token to
// hand back to CompleteFetch.
func (s *BalanceStore) BeginFetch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// CompleteFetch installs a fetched snapshot unless a mutation landed since
// BeginFetch. Reports whether the snapshot was kept.
func (s *BalanceStore) CompleteFetch(token uint64, rec *models.Entitlements) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.generation {
		return false
	}
	s.set(rec)
	return true
}

func (s *BalanceStore) set(rec *models.Entitlements) {
	cp := *rec
	s.rec = &cp
}
