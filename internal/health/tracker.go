package health

import (
	"log"
	"sync/atomic"
	"time"
)

const (
	emaKeep          = 0.8
	emaWeight        = 0.2
	errorRateWindow  = 60 * time.Second
	degradedAbove    = 0.5
	maxErrorLogChars = 200
)

// Tracker owns one backend's health snapshot. Record may be called from any
// number of goroutines; readers always see a complete snapshot.
type Tracker struct {
	backend string
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// NewTracker creates a tracker in the unknown state
func NewTracker(backend string) *Tracker {
	t := &Tracker{backend: backend, now: time.Now}
	t.current.Store(&Snapshot{
		Backend:   backend,
		Status:    StatusUnknown,
		IsHealthy: true,
	})
	return t
}

// Snapshot returns the latest health view
func (t *Tracker) Snapshot() Snapshot {
	return *t.current.Load()
}

// Record folds one call outcome into the rolling averages
func (t *Tracker) Record(latency time.Duration, err error) {
	for {
		prev := t.current.Load()
		next := t.next(prev, latency, err)
		if t.current.CompareAndSwap(prev, next) {
			t.logTransition(prev, next)
			return
		}
	}
}

func (t *Tracker) next(prev *Snapshot, latency time.Duration, err error) *Snapshot {
	now := t.now()
	failed := 0.0
	if err != nil {
		failed = 1
	}

	s := *prev
	s.Requests++

	if prev.LastCheckedAt.IsZero() || now.Sub(prev.LastCheckedAt) > errorRateWindow {
		s.ErrorRate = failed
	} else {
		s.ErrorRate = prev.ErrorRate*emaKeep + failed*emaWeight
	}

	if prev.Requests == 0 {
		s.AvgLatency = latency
	} else {
		s.AvgLatency = time.Duration(float64(prev.AvgLatency)*emaKeep + float64(latency)*emaWeight)
	}

	s.LastLatency = latency
	s.LastCheckedAt = now

	if err != nil {
		s.LastError = err.Error()
		if d, ok := CooldownFor(err); ok {
			s.CooldownUntil = now.Add(d)
		}
	} else {
		s.LastError = ""
		s.CooldownUntil = time.Time{}
	}

	s.Status = StatusHealthy
	if s.ErrorRate > degradedAbove {
		s.Status = StatusDegraded
	}
	s.IsHealthy = s.Status == StatusHealthy && !s.InCooldown(now)
	return &s
}

func (t *Tracker) logTransition(prev, next *Snapshot) {
	switch {
	case prev.Status != StatusDegraded && next.Status == StatusDegraded:
		log.Printf("⚠️  [HEALTH] %s degraded (error rate %.2f): %s",
			t.backend, next.ErrorRate, truncateStr(next.LastError, maxErrorLogChars))
	case prev.Status == StatusDegraded && next.Status == StatusHealthy:
		log.Printf("✅ [HEALTH] %s recovered", t.backend)
	}
	if next.CooldownUntil.After(prev.CooldownUntil) {
		log.Printf("⏸️  [HEALTH] %s in cooldown until %s", t.backend, next.CooldownUntil.Format(time.RFC3339))
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
