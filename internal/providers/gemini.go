package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"llmrelay/internal/models"
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

// geminiWire speaks the Generative Language streamGenerateContent API.
// The response is a single JSON array delivered incrementally.
type geminiWire struct {
	settings models.GeminiSettings
}

func (w geminiWire) streamRequest(ctx context.Context, cfg models.ProviderConfig, prompt string, call CallOptions) (*http.Request, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: pickInt(call.MaxTokens, cfg.MaxTokens),
			Temperature:     pickFloat(call.Temperature, cfg.Sampling.Temperature),
			TopK:            cfg.Sampling.TopK,
			TopP:            cfg.Sampling.TopP,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent",
		cfg.BaseURL, url.PathEscape(pick(call.Model, cfg.Model)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	w.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (w geminiWire) probeRequest(ctx context.Context, cfg models.ProviderConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/v1beta/models", nil)
	if err != nil {
		return nil, err
	}
	w.authorize(req)
	return req, nil
}

func (w geminiWire) authorize(req *http.Request) {
	if w.settings.KeyInHeader {
		req.Header.Set("x-goog-api-key", w.settings.APIKey)
		return
	}
	q := req.URL.Query()
	q.Set("key", w.settings.APIKey)
	req.URL.RawQuery = q.Encode()
}
