// Package anon bounds unauthenticated usage per device before sign-up. The
// limiter is advisory: it closes the obvious abuse path, not a cryptographic
// one, and a client-local bypass is an accepted risk at this layer.
package anon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/snapsell/backend/internal/models"
)

// Limiter tracks creation counts per device key with a daily reset. Records
// live in memory only: there is no durable identity to attach them to, and
// losing them on restart just hands out one fresh day.
type Limiter struct {
	dailyLimit int
	logger     *slog.Logger

	mu      sync.Mutex
	records map[string]*models.AnonymousQuota

	// Now is the clock; tests override it to cross day boundaries.
	Now func() time.Time
}

func NewLimiter(dailyLimit int, logger *slog.Logger) *Limiter {
	return &Limiter{
		dailyLimit: dailyLimit,
		logger:     logger,
		records:    make(map[string]*models.AnonymousQuota),
		Now:        time.Now,
	}
}

// CheckAndConsume takes one creation unit for the key if any remain today.
// A record from an earlier day is discarded on read, never trusted stale.
func (l *Limiter) CheckAndConsume(key string) (bool, models.AnonymousQuota) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	rec, ok := l.records[key]
	if !ok || rec.Stale(now) {
		rec = l.fresh(now)
		l.records[key] = rec
	}

	if rec.Used >= rec.DailyLimit {
		return false, l.snapshot(rec)
	}
	rec.Used++
	return true, l.snapshot(rec)
}

// Refund returns a unit consumed by a request whose downstream action failed
// before producing anything. Same-day records only; after a day change the
// unit is gone with the old record.
func (l *Limiter) Refund(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok || rec.Stale(l.Now()) {
		return
	}
	if rec.Used > 0 {
		rec.Used--
	}
}

// Peek reports the current snapshot without consuming. Stale records are
// dropped and a fresh-day view is returned.
func (l *Limiter) Peek(key string) models.AnonymousQuota {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	rec, ok := l.records[key]
	if !ok {
		return l.snapshot(l.fresh(now))
	}
	if rec.Stale(now) {
		delete(l.records, key)
		return l.snapshot(l.fresh(now))
	}
	return l.snapshot(rec)
}

// Janitor drops records from previous days. Scheduled from cron; the
// discard-on-read rule keeps correctness even if it never runs.
func (l *Limiter) Janitor() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	removed := 0
	for key, rec := range l.records {
		if rec.Stale(now) {
			delete(l.records, key)
			removed++
		}
	}
	if removed > 0 && l.logger != nil {
		l.logger.Debug("anonymous quota janitor", "removed", removed, "remaining", len(l.records))
	}
}

func (l *Limiter) fresh(now time.Time) *models.AnonymousQuota {
	return &models.AnonymousQuota{
		DailyLimit: l.dailyLimit,
		Day:        models.DayString(now),
		ResetsAt:   models.NextResetBoundary(now),
	}
}

func (l *Limiter) snapshot(rec *models.AnonymousQuota) models.AnonymousQuota {
	cp := *rec
	cp.Remaining = cp.DailyLimit - cp.Used
	if cp.Remaining < 0 {
		cp.Remaining = 0
	}
	return cp
}
