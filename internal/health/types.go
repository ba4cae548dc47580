package health

import (
	"context"
	"time"
)

// HealthStatus represents the health state of a backend
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusUnknown  HealthStatus = "unknown"
)

// Snapshot is an immutable view of one backend's rolling health.
// A Tracker replaces it wholesale on every update.
type Snapshot struct {
	Backend       string        `json:"backend"`
	Status        HealthStatus  `json:"status"`
	IsHealthy     bool          `json:"is_healthy"`
	LastCheckedAt time.Time     `json:"last_checked_at"`
	LastError     string        `json:"last_error,omitempty"`
	LastLatency   time.Duration `json:"last_latency_ns"`
	AvgLatency    time.Duration `json:"avg_latency_ns"` // EMA
	ErrorRate     float64       `json:"error_rate"`     // EMA of failures, 0..1
	Requests      int64         `json:"requests"`
	CooldownUntil time.Time     `json:"cooldown_until,omitempty"`
}

// InCooldown reports whether the backend asked us to back off
func (s Snapshot) InCooldown(now time.Time) bool {
	return !s.CooldownUntil.IsZero() && now.Before(s.CooldownUntil)
}

// Prober is a backend that can be actively health-checked
type Prober interface {
	Name() string
	// Probe performs a lightweight upstream request and records the outcome
	Probe(ctx context.Context) error
	Health() Snapshot
}
