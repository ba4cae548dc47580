package health

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

const defaultProbeTimeout = 10 * time.Second

// Service aggregates the health of every registered backend and runs active probes
type Service struct {
	mu           sync.RWMutex
	probers      map[string]Prober
	probeTimeout time.Duration
}

// NewService creates a new health service
func NewService(probeTimeout time.Duration) *Service {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Service{
		probers:      make(map[string]Prober),
		probeTimeout: probeTimeout,
	}
}

// Register adds a backend. Registering the same name twice keeps the first.
func (s *Service) Register(p Prober) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.probers[p.Name()]; exists {
		return
	}
	s.probers[p.Name()] = p
	log.Printf("[HEALTH] Registered backend %s", p.Name())
}

// Snapshots returns the current health of every backend, sorted by name
func (s *Service) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.probers))
	for _, p := range s.probers {
		out = append(out, p.Health())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// IsHealthy reports a backend's health; unknown backends are reported unhealthy
func (s *Service) IsHealthy(name string) bool {
	s.mu.RLock()
	p, ok := s.probers[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return p.Health().IsHealthy
}

// CheckAll probes every backend concurrently and returns the failures by name.
// Backends in cooldown are skipped.
func (s *Service) CheckAll(ctx context.Context) map[string]error {
	s.mu.RLock()
	probers := make([]Prober, 0, len(s.probers))
	for _, p := range s.probers {
		probers = append(probers, p)
	}
	s.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures = make(map[string]error)
		now      = time.Now()
	)
	for _, p := range probers {
		if p.Health().InCooldown(now) {
			continue
		}
		wg.Add(1)
		go func(p Prober) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
			defer cancel()

			if err := p.Probe(probeCtx); err != nil {
				mu.Lock()
				failures[p.Name()] = err
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return failures
}

// GetStatus returns an overall summary; overall is healthy only when every backend is
func (s *Service) GetStatus() map[string]interface{} {
	snaps := s.Snapshots()

	counts := map[string]int{"healthy": 0, "degraded": 0, "cooldown": 0, "unknown": 0}
	now := time.Now()
	for _, snap := range snaps {
		switch {
		case snap.InCooldown(now):
			counts["cooldown"]++
		case snap.Status == StatusDegraded:
			counts["degraded"]++
		case snap.Status == StatusHealthy:
			counts["healthy"]++
		default:
			counts["unknown"]++
		}
	}

	overall := StatusHealthy
	if counts["degraded"] > 0 || counts["cooldown"] > 0 {
		overall = StatusDegraded
	}

	return map[string]interface{}{
		"status":   overall,
		"total":    len(snaps),
		"counts":   counts,
		"backends": snaps,
	}
}
