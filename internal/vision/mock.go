package vision

import (
	"context"
	"sync"

	"github.com/snapsell/backend/internal/models"
)

// Mock is a configurable Provider for tests and local development. Without
// configuration it returns a realistic canned draft.
type Mock struct {
	mu sync.Mutex

	// Configurable responses.
	Draft *models.ListingDraft
	Err   error

	// Call tracking.
	Calls int
}

// NewMock returns a mock provider with the default canned draft.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Name() string { return "mock" }

// AnalyzeImage returns the configured draft or error, defaulting to a
// plausible second-hand listing.
func (m *Mock) AnalyzeImage(ctx context.Context, imageB64, mediaType string) (*models.ListingDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Draft != nil {
		draft := *m.Draft
		return &draft, nil
	}
	return &models.ListingDraft{
		Title:       "Herman Miller Aeron Office Chair, Size B",
		Price:       "425",
		Description: "Classic Aeron in graphite with fully adjustable arms and lumbar support. Mesh is intact with no sagging, all adjustment levers work smoothly. Light wear on the casters only.",
		Condition:   models.ConditionUsedGood,
		Location:    "Capitol Hill",
	}, nil
}

// Reset clears the configured response and call counter.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Draft = nil
	m.Err = nil
	m.Calls = 0
}
