package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"llmrelay/internal/health"
	"llmrelay/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	health  *health.Service
	limiter *services.RateLimiter
	redis   *services.RedisService // nil when the tracker runs in memory
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(healthService *health.Service, limiter *services.RateLimiter, redis *services.RedisService) *HealthHandler {
	return &HealthHandler{health: healthService, limiter: limiter, redis: redis}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := h.health.GetStatus()
	status["in_flight"] = h.limiter.TotalInFlight()
	status["timestamp"] = time.Now().Format(time.RFC3339)

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.redis.Ping(ctx); err != nil {
			status["redis"] = "unavailable"
			status["status"] = health.StatusDegraded
		} else {
			status["redis"] = "ok"
		}
	}

	return c.JSON(status)
}
