package jobs

import (
	"context"
	"log"
	"time"

	"llmrelay/internal/health"
)

// ProviderHealthChecker periodically probes every registered backend
type ProviderHealthChecker struct {
	healthService *health.Service
	interval      time.Duration
}

// NewProviderHealthChecker creates a new provider health checker job
func NewProviderHealthChecker(healthService *health.Service, interval time.Duration) *ProviderHealthChecker {
	return &ProviderHealthChecker{
		healthService: healthService,
		interval:      interval,
	}
}

// Run probes all backends; individual probe failures are recorded in health, not returned
func (p *ProviderHealthChecker) Run(ctx context.Context) error {
	log.Println("[HEALTH-JOB] Starting provider health checks...")

	failures := p.healthService.CheckAll(ctx)
	if err := ctx.Err(); err != nil {
		log.Println("[HEALTH-JOB] Cancelled")
		return err
	}

	for name, err := range failures {
		log.Printf("[HEALTH-JOB] %s: FAILED (%v)", name, err)
	}

	status := p.healthService.GetStatus()
	log.Printf("[HEALTH-JOB] Health checks complete: %v backends, %d failed, overall %v",
		status["total"], len(failures), status["status"])
	return nil
}

func (p *ProviderHealthChecker) Interval() time.Duration {
	return p.interval
}
