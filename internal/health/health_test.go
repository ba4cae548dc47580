package health

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"llmrelay/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker("claude")
	tr.now = clock.now
	return tr, clock
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTracker_InitialSnapshot(t *testing.T) {
	tr := NewTracker("gemini")
	snap := tr.Snapshot()

	if snap.Status != StatusUnknown || !snap.IsHealthy {
		t.Errorf("Expected unknown+healthy, got %+v", snap)
	}
	if snap.Backend != "gemini" {
		t.Errorf("Expected backend gemini, got %q", snap.Backend)
	}
}

func TestTracker_EMA(t *testing.T) {
	tr, clock := newTestTracker()

	tr.Record(100*time.Millisecond, nil)
	snap := tr.Snapshot()
	if snap.AvgLatency != 100*time.Millisecond {
		t.Errorf("Expected first latency to seed the average, got %v", snap.AvgLatency)
	}
	if snap.ErrorRate != 0 || snap.Status != StatusHealthy {
		t.Errorf("Expected healthy with zero error rate, got %+v", snap)
	}

	clock.advance(time.Second)
	tr.Record(200*time.Millisecond, errors.New("boom"))
	snap = tr.Snapshot()
	if snap.AvgLatency != 120*time.Millisecond {
		t.Errorf("Expected 0.8*100ms+0.2*200ms=120ms, got %v", snap.AvgLatency)
	}
	if !approx(snap.ErrorRate, 0.2) {
		t.Errorf("Expected error rate 0.2, got %v", snap.ErrorRate)
	}
	if snap.LastError != "boom" || snap.LastLatency != 200*time.Millisecond {
		t.Errorf("Expected last error/latency to be recorded, got %+v", snap)
	}
	if snap.Requests != 2 {
		t.Errorf("Expected 2 requests, got %d", snap.Requests)
	}
}

func TestTracker_DegradesAboveHalfErrorRate(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(time.Millisecond, nil)

	// 0.2, 0.36, 0.488, 0.5904
	for i := 0; i < 4; i++ {
		clock.advance(time.Second)
		tr.Record(time.Millisecond, errors.New("fail"))
	}
	snap := tr.Snapshot()
	if snap.Status != StatusDegraded || snap.IsHealthy {
		t.Errorf("Expected degraded after repeated failures, got %+v", snap)
	}

	clock.advance(time.Second)
	tr.Record(time.Millisecond, nil)
	if tr.Snapshot().LastError != "" {
		t.Error("Expected success to clear the last error")
	}
}

func TestTracker_ErrorRateResetsAfterQuietPeriod(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Record(time.Millisecond, nil)
	clock.advance(time.Second)
	tr.Record(time.Millisecond, errors.New("fail"))

	clock.advance(61 * time.Second)
	tr.Record(time.Millisecond, errors.New("fail again"))
	if got := tr.Snapshot().ErrorRate; got != 1 {
		t.Errorf("Expected error rate to reset to 1, got %v", got)
	}

	clock.advance(61 * time.Second)
	tr.Record(time.Millisecond, nil)
	if got := tr.Snapshot().ErrorRate; got != 0 {
		t.Errorf("Expected error rate to reset to 0, got %v", got)
	}
}

func TestTracker_QuotaErrorSetsCooldown(t *testing.T) {
	tr, clock := newTestTracker()

	err := models.NewError(models.KindUpstream, "claude", "rate limit exceeded")
	err.StatusCode = 429
	tr.Record(time.Millisecond, err)

	snap := tr.Snapshot()
	if !snap.InCooldown(clock.now()) {
		t.Fatalf("Expected cooldown after 429, got %+v", snap)
	}
	if snap.IsHealthy {
		t.Error("Expected backend in cooldown to be unhealthy")
	}
	if want := clock.now().Add(5 * time.Minute); !snap.CooldownUntil.Equal(want) {
		t.Errorf("Expected cooldown until %v, got %v", want, snap.CooldownUntil)
	}
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	tr := NewTracker("ollama")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = errors.New("fail")
			}
			tr.Record(time.Millisecond, err)
			_ = tr.Snapshot()
		}(i)
	}
	wg.Wait()

	if got := tr.Snapshot().Requests; got != 50 {
		t.Errorf("Expected every record to land exactly once, got %d", got)
	}
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected bool
	}{
		{"429 status", 429, "", true},
		{"rate limit body", 400, "Rate limit reached for requests", true},
		{"gemini exhausted", 400, "RESOURCE_EXHAUSTED: quota", true},
		{"billing", 402, "billing hard limit", true},
		{"auth failure", 401, "invalid x-api-key", false},
		{"server error", 500, "internal error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuotaError(tt.status, tt.body); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestParseCooldownDuration(t *testing.T) {
	if got := ParseCooldownDuration("You exceeded your daily limit"); got != 24*time.Hour {
		t.Errorf("Expected 24h for daily limit, got %v", got)
	}
	if got := ParseCooldownDuration("too many requests"); got != 5*time.Minute {
		t.Errorf("Expected 5m for rate limit, got %v", got)
	}
}

func TestCooldownFor_IgnoresNonUpstream(t *testing.T) {
	if _, ok := CooldownFor(models.NewError(models.KindStream, "claude", "rate limit")); ok {
		t.Error("Expected stream errors never to trigger a cooldown")
	}
	if _, ok := CooldownFor(errors.New("429")); ok {
		t.Error("Expected plain errors never to trigger a cooldown")
	}
}

type stubProber struct {
	name    string
	tracker *Tracker
	err     error
	calls   int
	mu      sync.Mutex
}

func (p *stubProber) Name() string     { return p.name }
func (p *stubProber) Health() Snapshot { return p.tracker.Snapshot() }
func (p *stubProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.tracker.Record(time.Millisecond, p.err)
	return p.err
}

func TestService_CheckAll(t *testing.T) {
	svc := NewService(time.Second)
	ok := &stubProber{name: "claude", tracker: NewTracker("claude")}
	bad := &stubProber{name: "ollama", tracker: NewTracker("ollama"), err: errors.New("connection refused")}
	svc.Register(ok)
	svc.Register(bad)
	svc.Register(&stubProber{name: "claude", tracker: NewTracker("claude")})

	failures := svc.CheckAll(context.Background())
	if len(failures) != 1 || failures["ollama"] == nil {
		t.Errorf("Expected only ollama to fail, got %v", failures)
	}
	if ok.calls != 1 || bad.calls != 1 {
		t.Errorf("Expected one probe each, got %d and %d", ok.calls, bad.calls)
	}

	snaps := svc.Snapshots()
	if len(snaps) != 2 || snaps[0].Backend != "claude" || snaps[1].Backend != "ollama" {
		t.Errorf("Expected sorted snapshots for both backends, got %+v", snaps)
	}
	if !svc.IsHealthy("claude") {
		t.Error("Expected claude healthy")
	}
	if svc.IsHealthy("gemini") {
		t.Error("Expected unregistered backend to be unhealthy")
	}
}

func TestService_CheckAllSkipsCooldown(t *testing.T) {
	svc := NewService(time.Second)
	p := &stubProber{name: "gemini", tracker: NewTracker("gemini")}

	quota := models.NewError(models.KindUpstream, "gemini", "quota exceeded")
	quota.StatusCode = 429
	p.tracker.Record(time.Millisecond, quota)
	svc.Register(p)

	svc.CheckAll(context.Background())
	if p.calls != 0 {
		t.Errorf("Expected no probe during cooldown, got %d", p.calls)
	}

	status := svc.GetStatus()
	if status["status"] != StatusDegraded {
		t.Errorf("Expected overall degraded, got %v", status["status"])
	}
}
