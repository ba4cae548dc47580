package services

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"llmrelay/internal/models"
)

const (
	rateWindow = 60 * time.Second

	DefaultRequestsPerMinute = 60
	DefaultMaxConcurrent     = 5

	// floor for the retry pacing of AcquireWait
	minRetryInterval = 25 * time.Millisecond
)

// RateStatus is a point-in-time view of one backend's admission state
type RateStatus struct {
	Backend           string    `json:"backend"`
	RequestsPerMinute int       `json:"requests_per_minute"`
	MaxConcurrent     int       `json:"max_concurrent"`
	RequestsInWindow  int       `json:"requests_in_window"`
	InFlight          int       `json:"in_flight"`
	WindowResetsAt    time.Time `json:"window_resets_at,omitempty"`
}

// backendWindow is one backend's sliding window and concurrency counter.
// Each backend has its own mutex so different backends never contend.
type backendWindow struct {
	mu         sync.Mutex
	limits     models.RateLimit
	timestamps []time.Time // ascending
	inFlight   int
	pacer      *rate.Limiter
}

// RateLimiter is a per-backend admission check: a sliding 60s request window
// plus a concurrency cap. Acquire never blocks.
type RateLimiter struct {
	backends sync.Map // map[string]*backendWindow
	defaults models.RateLimit
	now      func() time.Time
}

// NewRateLimiter creates a limiter; backends that were never registered get defaults
func NewRateLimiter(defaults models.RateLimit) *RateLimiter {
	return &RateLimiter{
		defaults: normalizeLimits(defaults, models.RateLimit{
			RequestsPerMinute: DefaultRequestsPerMinute,
			MaxConcurrent:     DefaultMaxConcurrent,
		}),
		now: time.Now,
	}
}

func normalizeLimits(l, fallback models.RateLimit) models.RateLimit {
	if l.RequestsPerMinute <= 0 {
		l.RequestsPerMinute = fallback.RequestsPerMinute
	}
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = fallback.MaxConcurrent
	}
	return l
}

func newPacer(l models.RateLimit) *rate.Limiter {
	interval := rateWindow / time.Duration(l.RequestsPerMinute)
	if interval < minRetryInterval {
		interval = minRetryInterval
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Register sets a backend's limits. Re-registering keeps the current window and
// in-flight count, so limits can be changed while traffic is flowing.
func (rl *RateLimiter) Register(backend string, limits models.RateLimit) {
	limits = normalizeLimits(limits, rl.defaults)
	w := rl.window(backend)

	w.mu.Lock()
	changed := w.limits != limits
	w.limits = limits
	w.pacer = newPacer(limits)
	w.mu.Unlock()

	if changed {
		log.Printf("🚦 [RATE-LIMIT] %s: %d req/min, %d concurrent", backend, limits.RequestsPerMinute, limits.MaxConcurrent)
	}
}

func (rl *RateLimiter) window(backend string) *backendWindow {
	if w, ok := rl.backends.Load(backend); ok {
		return w.(*backendWindow)
	}
	newWindow := &backendWindow{limits: rl.defaults, pacer: newPacer(rl.defaults)}
	actual, _ := rl.backends.LoadOrStore(backend, newWindow)
	return actual.(*backendWindow)
}

// Acquire admits one request if both the window and the concurrency cap allow it.
// Every true result must be paired with exactly one Release.
func (rl *RateLimiter) Acquire(backend string) bool {
	w := rl.window(backend)
	now := rl.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	if len(w.timestamps) >= w.limits.RequestsPerMinute || w.inFlight >= w.limits.MaxConcurrent {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	w.inFlight++
	return true
}

// AcquireWait retries Acquire until it succeeds, ctx ends, or timeout elapses.
// Retries are paced at the backend's average request interval.
func (rl *RateLimiter) AcquireWait(ctx context.Context, backend string, timeout time.Duration) bool {
	if rl.Acquire(backend) {
		return true
	}
	if timeout <= 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w := rl.window(backend)
	for {
		w.mu.Lock()
		pacer := w.pacer
		w.mu.Unlock()

		if err := pacer.Wait(ctx); err != nil {
			return false
		}
		if rl.Acquire(backend) {
			return true
		}
	}
}

// Release frees a concurrency slot; extra releases are ignored
func (rl *RateLimiter) Release(backend string) {
	w := rl.window(backend)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight > 0 {
		w.inFlight--
	}
}

// InFlight returns the current concurrency count
func (rl *RateLimiter) InFlight(backend string) int {
	w := rl.window(backend)

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

// Status reports a backend's admission state without admitting anything
func (rl *RateLimiter) Status(backend string) RateStatus {
	w := rl.window(backend)
	now := rl.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	status := RateStatus{
		Backend:           backend,
		RequestsPerMinute: w.limits.RequestsPerMinute,
		MaxConcurrent:     w.limits.MaxConcurrent,
		RequestsInWindow:  len(w.timestamps),
		InFlight:          w.inFlight,
	}
	if len(w.timestamps) > 0 {
		status.WindowResetsAt = w.timestamps[0].Add(rateWindow)
	}
	return status
}

// TotalInFlight sums in-flight requests across all backends
func (rl *RateLimiter) TotalInFlight() int {
	total := 0
	rl.backends.Range(func(_, value any) bool {
		w := value.(*backendWindow)
		w.mu.Lock()
		total += w.inFlight
		w.mu.Unlock()
		return true
	})
	return total
}

// prune drops timestamps older than the window; caller holds w.mu
func (w *backendWindow) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}
