package handlers

import (
	"github.com/gofiber/fiber/v2"

	"llmrelay/internal/health"
	"llmrelay/internal/providers"
	"llmrelay/internal/services"
)

// ProviderHandler handles provider-related requests
type ProviderHandler struct {
	registry *providers.Registry
	limiter  *services.RateLimiter
}

// NewProviderHandler creates a new provider handler
func NewProviderHandler(registry *providers.Registry, limiter *services.RateLimiter) *ProviderHandler {
	return &ProviderHandler{registry: registry, limiter: limiter}
}

// PublicProvider is what callers may see about a backend; credentials are never included
type PublicProvider struct {
	Name                 string              `json:"name"`
	Model                string              `json:"model"`
	CredentialConfigured bool                `json:"credential_configured"`
	StrictParsing        bool                `json:"strict_parsing"`
	Health               health.Snapshot     `json:"health"`
	RateLimit            services.RateStatus `json:"rate_limit"`
}

// List returns every configured backend
func (h *ProviderHandler) List(c *fiber.Ctx) error {
	clients := h.registry.Clients()

	public := make([]PublicProvider, len(clients))
	for i, client := range clients {
		cfg := client.Config()
		public[i] = PublicProvider{
			Name:                 client.Name(),
			Model:                cfg.Model,
			CredentialConfigured: cfg.HasCredential(),
			StrictParsing:        cfg.StrictParsing,
			Health:               client.Health(),
			RateLimit:            h.limiter.Status(client.Name()),
		}
	}

	return c.JSON(fiber.Map{
		"providers": public,
		"count":     len(public),
	})
}
