package preflight

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"llmrelay/internal/health"
	"llmrelay/internal/models"
	"llmrelay/internal/services"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	providers []models.ProviderConfig
	health    *health.Service
	redis     *services.RedisService // nil unless the tracker uses redis
	timeout   time.Duration
}

// NewChecker creates a new preflight checker
func NewChecker(providers []models.ProviderConfig, healthService *health.Service, redis *services.RedisService) *Checker {
	return &Checker{
		providers: providers,
		health:    healthService,
		redis:     redis,
		timeout:   15 * time.Second,
	}
}

// RunAll runs all preflight checks, including upstream probes, and returns results
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkBackends(),
		c.checkBaseURLs(),
		c.checkRedis(),
		c.checkProviderConnectivity(),
	}
	summarize(results)
	return results
}

// QuickCheck skips the upstream probes
func (c *Checker) QuickCheck() []CheckResult {
	log.Println("⚡ Running quick pre-flight checks...")

	results := []CheckResult{
		c.checkBackends(),
		c.checkBaseURLs(),
		c.checkRedis(),
	}
	summarize(results)
	return results
}

func summarize(results []CheckResult) {
	passed, failed, warnings := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}
	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkBackends warns when nothing is enabled; the server still starts
func (c *Checker) checkBackends() CheckResult {
	if len(c.providers) == 0 {
		return CheckResult{
			Name:    "Backends",
			Status:  "warning",
			Message: "No backends enabled",
		}
	}

	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name
	}
	return CheckResult{
		Name:    "Backends",
		Status:  "pass",
		Message: fmt.Sprintf("%d enabled (%s)", len(names), strings.Join(names, ", ")),
	}
}

// checkBaseURLs verifies every base URL is an absolute http(s) URL
func (c *Checker) checkBaseURLs() CheckResult {
	for _, p := range c.providers {
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return CheckResult{
				Name:    "Base URLs",
				Status:  "fail",
				Message: fmt.Sprintf("%s has an invalid base URL %q", p.Name, p.BaseURL),
				Error:   err,
			}
		}
	}

	return CheckResult{
		Name:    "Base URLs",
		Status:  "pass",
		Message: "All base URLs valid",
	}
}

// checkRedis verifies the tracker's Redis is reachable
func (c *Checker) checkRedis() CheckResult {
	if c.redis == nil {
		return CheckResult{
			Name:    "Redis",
			Status:  "pass",
			Message: "Not used (in-memory request tracker)",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return CheckResult{
			Name:    "Redis",
			Status:  "fail",
			Message: "Cannot reach Redis",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Redis",
		Status:  "pass",
		Message: "Redis connection successful",
	}
}

// checkProviderConnectivity probes each backend. An unreachable backend is a
// warning, not a failure: it may come up after the relay does.
func (c *Checker) checkProviderConnectivity() CheckResult {
	if c.health == nil || len(c.providers) == 0 {
		return CheckResult{
			Name:    "Provider Connectivity",
			Status:  "pass",
			Message: "Skipped (no backends)",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	failures := c.health.CheckAll(ctx)
	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		return CheckResult{
			Name:    "Provider Connectivity",
			Status:  "warning",
			Message: fmt.Sprintf("Unreachable: %s", strings.Join(names, ", ")),
			Error:   failures[names[0]],
		}
	}

	return CheckResult{
		Name:    "Provider Connectivity",
		Status:  "pass",
		Message: fmt.Sprintf("All %d backends reachable", len(c.providers)),
	}
}
