package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"llmrelay/internal/models"
)

const defaultAnthropicVersion = "2023-06-01"

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
}

// claudeWire speaks the Anthropic Messages API
type claudeWire struct {
	settings models.ClaudeSettings
}

func (w claudeWire) streamRequest(ctx context.Context, cfg models.ProviderConfig, prompt string, call CallOptions) (*http.Request, error) {
	body := claudeRequest{
		Model:       pick(call.Model, cfg.Model),
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
		MaxTokens:   pickInt(call.MaxTokens, cfg.MaxTokens),
		Stream:      true,
		Temperature: pickFloat(call.Temperature, cfg.Sampling.Temperature),
		TopK:        cfg.Sampling.TopK,
		TopP:        cfg.Sampling.TopP,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	w.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	return req, nil
}

func (w claudeWire) probeRequest(ctx context.Context, cfg models.ProviderConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	w.authorize(req)
	return req, nil
}

func (w claudeWire) authorize(req *http.Request) {
	version := w.settings.APIVersion
	if version == "" {
		version = defaultAnthropicVersion
	}
	req.Header.Set("x-api-key", w.settings.APIKey)
	req.Header.Set("anthropic-version", version)
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func pickInt(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}

func pickFloat(override, fallback *float64) *float64 {
	if override != nil {
		return override
	}
	return fallback
}
