package presenter

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/snapsell/backend/internal/models"
)

// KV is the small local store the kit persists device state into. The mobile
// shell backs it with whatever it has on hand; MemoryKV backs tests and
// previews.
type KV interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// MemoryKV is an in-memory KV, safe for concurrent use.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true
}

func (m *MemoryKV) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
}

func (m *MemoryKV) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// anonSnapshotKey holds the one record the anonymous cache keeps. The day
// string inside the snapshot doubles as the last-reset-check marker.
const anonSnapshotKey = "anon_quota_snapshot"

// AnonCache mirrors the server's anonymous counter on the device. A same-day
// snapshot at zero remaining blocks locally without a network call; a
// snapshot from an earlier day is deleted on read, never trusted. The server
// re-checks every decision anyway, so a cleared cache costs one round trip
// at worst.
type AnonCache struct {
	kv KV

	// Now is the clock; tests override it to cross day boundaries.
	Now func() time.Time
}

func NewAnonCache(kv KV) *AnonCache {
	return &AnonCache{kv: kv, Now: time.Now}
}

// Load returns the cached snapshot if it is from today. Stale or unreadable
// entries are removed on the way out.
func (c *AnonCache) Load() (models.AnonymousQuota, bool) {
	raw, ok := c.kv.Get(anonSnapshotKey)
	if !ok {
		return models.AnonymousQuota{}, false
	}
	var q models.AnonymousQuota
	if err := json.Unmarshal(raw, &q); err != nil || q.Stale(c.Now()) {
		c.kv.Delete(anonSnapshotKey)
		return models.AnonymousQuota{}, false
	}
	return q, true
}

// Store caches the latest server snapshot.
func (c *AnonCache) Store(q models.AnonymousQuota) {
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	c.kv.Set(anonSnapshotKey, raw)
}

// Clear drops the cached snapshot.
func (c *AnonCache) Clear() {
	c.kv.Delete(anonSnapshotKey)
}

// SpentToday reports whether today's allowance is already exhausted, so the
// sign-up prompt can show without a round trip. The returned snapshot backs
// the prompt's counts.
func (c *AnonCache) SpentToday() (models.AnonymousQuota, bool) {
	q, ok := c.Load()
	if !ok || q.Remaining > 0 {
		return q, false
	}
	return q, true
}
