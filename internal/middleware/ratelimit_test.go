package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestLoadRateLimitConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_STREAM", "12")

	config := LoadRateLimitConfig(50, false)
	if config.GlobalAPIMax != 50 {
		t.Errorf("Expected global max 50, got %d", config.GlobalAPIMax)
	}
	if config.StreamMax != 12 {
		t.Errorf("Expected stream max 12, got %d", config.StreamMax)
	}

	dev := LoadRateLimitConfig(50, true)
	if dev.GlobalAPIMax != 1000 || dev.StreamMax != 300 {
		t.Errorf("Expected relaxed development limits, got %+v", dev)
	}

	t.Setenv("RATE_LIMIT_STREAM", "zero")
	if got := LoadRateLimitConfig(0, false); got.GlobalAPIMax != 200 || got.StreamMax != 30 {
		t.Errorf("Expected defaults for unusable values, got %+v", got)
	}
}

func TestGlobalAPIRateLimiter(t *testing.T) {
	config := &RateLimitConfig{GlobalAPIMax: 2, GlobalAPIExpiration: time.Minute}

	app := fiber.New()
	app.Use(GlobalAPIRateLimiter(config))
	app.Get("/api/providers", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/providers", nil))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("Expected request %d to pass, got %d", i+1, resp.StatusCode)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/api/providers", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("Expected 429 past the limit, got %d", resp.StatusCode)
	}
}

func TestStreamRateLimiter_SeparateBudget(t *testing.T) {
	config := &RateLimitConfig{
		GlobalAPIMax: 100, GlobalAPIExpiration: time.Minute,
		StreamMax: 1, StreamExpiration: time.Minute,
	}

	app := fiber.New()
	app.Use(GlobalAPIRateLimiter(config))
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Get("/api/chat/stream", StreamRateLimiter(config), ok)
	app.Get("/api/providers", ok)

	first, _ := app.Test(httptest.NewRequest("GET", "/api/chat/stream", nil))
	second, _ := app.Test(httptest.NewRequest("GET", "/api/chat/stream", nil))
	other, _ := app.Test(httptest.NewRequest("GET", "/api/providers", nil))

	if first.StatusCode != fiber.StatusOK || second.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("Expected 200 then 429 on streams, got %d then %d", first.StatusCode, second.StatusCode)
	}
	if other.StatusCode != fiber.StatusOK {
		t.Errorf("Expected non-stream routes unaffected, got %d", other.StatusCode)
	}
}
