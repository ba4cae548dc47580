package health

import (
	"net/http"
	"strings"
	"time"

	"llmrelay/internal/models"
)

const (
	rateLimitCooldown = 5 * time.Minute
	quotaCooldown     = 24 * time.Hour
)

var quotaPatterns = []string{
	"quota exceeded",
	"rate limit",
	"too many requests",
	"tokens per minute",
	"requests per minute",
	"daily limit",
	"insufficient_quota",
	"billing",
	"rate_limit_exceeded",
	"resource_exhausted",
	"overloaded",
}

// Daily or billing exhaustion won't clear within minutes
var longQuotaPatterns = []string{
	"daily limit",
	"billing",
	"insufficient_quota",
}

// IsQuotaError detects whether an upstream failure is about quota exhaustion or rate limiting
func IsQuotaError(statusCode int, body string) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return containsAny(strings.ToLower(body), quotaPatterns)
}

// ParseCooldownDuration picks how long a backend should be left alone after a quota error
func ParseCooldownDuration(body string) time.Duration {
	if containsAny(strings.ToLower(body), longQuotaPatterns) {
		return quotaCooldown
	}
	return rateLimitCooldown
}

// CooldownFor inspects a failed call. ok is false when the failure is not quota-related.
func CooldownFor(err error) (time.Duration, bool) {
	pe, isProviderErr := models.AsProviderError(err)
	if !isProviderErr || pe.Kind != models.KindUpstream {
		return 0, false
	}
	if !IsQuotaError(pe.StatusCode, pe.Message) {
		return 0, false
	}
	return ParseCooldownDuration(pe.Message), true
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
