package models

import "time"

// AnonymousQuota is the device-scoped counter used before sign-in. Day is a
// UTC YYYY-MM-DD string; staleness is decided by day equality, not by
// timestamp math, so skewed device clocks shift the boundary by hours at
// worst instead of rejecting valid usage.
type AnonymousQuota struct {
	Used       int       `json:"creations_used_today"`
	Remaining  int       `json:"creations_remaining_today"`
	DailyLimit int       `json:"creations_daily_limit"`
	Day        string    `json:"day"`
	ResetsAt   time.Time `json:"resets_at"`
}

// DayString formats t as the UTC calendar day used for anonymous resets.
func DayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Stale reports whether the record belongs to an earlier day than now.
func (q *AnonymousQuota) Stale(now time.Time) bool {
	return q.Day != DayString(now)
}
