package models

import (
	"strings"
	"time"
)

// BackendKind identifies one of the supported upstream APIs
type BackendKind string

const (
	BackendClaude BackendKind = "claude"
	BackendGemini BackendKind = "gemini"
	BackendOllama BackendKind = "ollama"
)

// KnownBackends lists every backend the registry can construct
var KnownBackends = []BackendKind{BackendClaude, BackendGemini, BackendOllama}

// ParseBackendKind normalizes a backend name; ok is false for unknown names
func ParseBackendKind(name string) (BackendKind, bool) {
	kind := BackendKind(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range KnownBackends {
		if k == kind {
			return kind, true
		}
	}
	return "", false
}

// BackendSettings is the per-backend variant of a ProviderConfig.
// Only the types in this package implement it.
type BackendSettings interface {
	Kind() BackendKind
	isBackendSettings()
}

// ClaudeSettings carries the Anthropic Messages API credentials
type ClaudeSettings struct {
	APIKey     string
	APIVersion string // anthropic-version header
}

func (ClaudeSettings) Kind() BackendKind { return BackendClaude }
func (ClaudeSettings) isBackendSettings() {}

// GeminiSettings carries the Generative Language API credentials
type GeminiSettings struct {
	APIKey      string
	KeyInHeader bool // send x-goog-api-key instead of the key query parameter
}

func (GeminiSettings) Kind() BackendKind { return BackendGemini }
func (GeminiSettings) isBackendSettings() {}

// OllamaSettings is empty: the local endpoint is unauthenticated
type OllamaSettings struct{}

func (OllamaSettings) Kind() BackendKind { return BackendOllama }
func (OllamaSettings) isBackendSettings() {}

// Sampling holds optional sampling parameters; nil means "backend default"
type Sampling struct {
	Temperature   *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty" yaml:"repeat_penalty,omitempty"`
}

// RateLimit is the per-backend admission budget
type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	MaxConcurrent     int `json:"max_concurrent" yaml:"max_concurrent"`
}

// ProviderConfig is the immutable configuration of one backend client
type ProviderConfig struct {
	Name          string
	BaseURL       string
	Model         string
	MaxTokens     int
	Sampling      Sampling
	ChunkTimeout  time.Duration // max gap between two body reads
	StrictParsing bool          // escalate per-unit parse failures instead of skipping them
	RateLimit     RateLimit
	Backend       BackendSettings
}

// HasCredential reports whether the backend has a credential configured.
// Backends that need none always report true.
func (c ProviderConfig) HasCredential() bool {
	switch b := c.Backend.(type) {
	case ClaudeSettings:
		return b.APIKey != ""
	case GeminiSettings:
		return b.APIKey != ""
	case OllamaSettings:
		return true
	default:
		return false
	}
}

// ProvidersFile represents the providers YAML/JSON file structure
type ProvidersFile struct {
	Providers []ProviderFileEntry `json:"providers" yaml:"providers"`
}

// ProviderFileEntry is one backend entry in the providers file.
// Secrets are referenced by environment variable name, never inlined.
type ProviderFileEntry struct {
	Name          string    `json:"name" yaml:"name"`
	Enabled       *bool     `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	BaseURL       string    `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv     string    `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	Model         string    `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens     int       `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Sampling      Sampling  `json:"sampling,omitempty" yaml:"sampling,omitempty"`
	ChunkTimeout  string    `json:"chunk_timeout,omitempty" yaml:"chunk_timeout,omitempty"`
	StrictParsing bool      `json:"strict_parsing,omitempty" yaml:"strict_parsing,omitempty"`
	RateLimit     RateLimit `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	APIVersion    string    `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	KeyInHeader   bool      `json:"key_in_header,omitempty" yaml:"key_in_header,omitempty"`
}
