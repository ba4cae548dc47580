package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds the inbound per-IP limits.
// Upstream admission is separate and lives in services.RateLimiter.
type RateLimitConfig struct {
	// Global limits (per IP) for every /api route
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Limits on requests that open upstream streams (per IP)
	StreamMax        int
	StreamExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 200/min = ~3.3 req/sec
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		// Streams are expensive: 30/min
		StreamMax:        30,
		StreamExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig applies the configured global limit and RATE_LIMIT_STREAM
func LoadRateLimitConfig(globalAPIMax int, development bool) *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if globalAPIMax > 0 {
		config.GlobalAPIMax = globalAPIMax
	}
	if v := os.Getenv("RATE_LIMIT_STREAM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.StreamMax = n
		}
	}

	if development {
		config.GlobalAPIMax = max(config.GlobalAPIMax, 1000)
		config.StreamMax = max(config.StreamMax, 300)
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"code":        "RateLimited",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// StreamRateLimiter limits how often one IP may open relay streams
func StreamRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.StreamMax,
		Expiration: config.StreamExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "stream:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Stream limit reached for IP: %s on %s", c.IP(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many streams opened. Please wait before trying again.",
				"code":        "RateLimited",
				"retry_after": int(config.StreamExpiration.Seconds()),
			})
		},
	})
}
