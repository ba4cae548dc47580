package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"llmrelay/internal/models"
)

type ollamaOptions struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	NumPredict    int      `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

// ollamaWire speaks the local Ollama /api/generate NDJSON API; no credentials
type ollamaWire struct{}

func (ollamaWire) streamRequest(ctx context.Context, cfg models.ProviderConfig, prompt string, call CallOptions) (*http.Request, error) {
	body := ollamaRequest{
		Model:  pick(call.Model, cfg.Model),
		Prompt: prompt,
		Stream: true,
		Options: ollamaOptions{
			Temperature:   pickFloat(call.Temperature, cfg.Sampling.Temperature),
			TopK:          cfg.Sampling.TopK,
			TopP:          cfg.Sampling.TopP,
			RepeatPenalty: cfg.Sampling.RepeatPenalty,
			NumPredict:    pickInt(call.MaxTokens, cfg.MaxTokens),
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (ollamaWire) probeRequest(ctx context.Context, cfg models.ProviderConfig) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/api/tags", nil)
}
