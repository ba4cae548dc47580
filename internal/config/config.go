package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"llmrelay/internal/models"
)

// Config holds all application configuration
type Config struct {
	Port           string
	Environment    string
	AllowedOrigins string
	ProvidersFile  string

	// Streaming
	ChunkTimeout     time.Duration
	RelayAcquireWait time.Duration // 0 = reject immediately when at capacity

	// Request tracking
	TrackerStore    string // "memory" or "redis"
	RedisURL        string
	TrackerCapacity int
	TrackerTTL      time.Duration

	// Background jobs
	TrackerCleanupInterval time.Duration
	HealthProbeInterval    time.Duration

	// Inbound per-IP limit for /api routes (requests per minute)
	GlobalAPIRateLimit int

	// Enabled backends, validated
	Providers []models.ProviderConfig
}

// backendDefaults describes the env surface and defaults of one backend
type backendDefaults struct {
	kind       models.BackendKind
	envPrefix  string
	keyEnv     string // empty when the backend needs no credential
	baseURL    string
	model      string
	enabledDef func() bool
}

var backends = []backendDefaults{
	{
		kind:       models.BackendClaude,
		envPrefix:  "ANTHROPIC",
		keyEnv:     "ANTHROPIC_API_KEY",
		baseURL:    "https://api.anthropic.com",
		model:      "claude-3-5-sonnet-latest",
		enabledDef: func() bool { return os.Getenv("ANTHROPIC_API_KEY") != "" },
	},
	{
		kind:       models.BackendGemini,
		envPrefix:  "GEMINI",
		keyEnv:     "GEMINI_API_KEY",
		baseURL:    "https://generativelanguage.googleapis.com",
		model:      "gemini-1.5-flash",
		enabledDef: func() bool { return os.Getenv("GEMINI_API_KEY") != "" },
	},
	{
		kind:       models.BackendOllama,
		envPrefix:  "OLLAMA",
		baseURL:    "http://localhost:11434",
		model:      "llama3",
		enabledDef: func() bool { return true },
	},
}

// Load loads configuration from environment variables with defaults,
// overlaid on the providers file when PROVIDERS_FILE is set.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "3001"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
		ProvidersFile:  getEnv("PROVIDERS_FILE", ""),

		ChunkTimeout:     getDurationEnv("CHUNK_TIMEOUT", 60*time.Second),
		RelayAcquireWait: getDurationEnv("RELAY_ACQUIRE_WAIT", 0),

		TrackerStore:    strings.ToLower(getEnv("TRACKER_STORE", "memory")),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		TrackerCapacity: getIntEnv("TRACKER_CAPACITY", 1000),
		TrackerTTL:      getDurationEnv("TRACKER_TTL", time.Hour),

		TrackerCleanupInterval: getDurationEnv("TRACKER_CLEANUP_INTERVAL", 5*time.Minute),
		HealthProbeInterval:    getDurationEnv("HEALTH_PROBE_INTERVAL", 5*time.Minute),

		GlobalAPIRateLimit: getIntEnv("RATE_LIMIT_GLOBAL_API", 200),
	}

	if cfg.TrackerStore != "memory" && cfg.TrackerStore != "redis" {
		return nil, models.NewError(models.KindConfiguration, "",
			fmt.Sprintf("TRACKER_STORE must be memory or redis, got %q", cfg.TrackerStore))
	}

	var file *models.ProvidersFile
	if cfg.ProvidersFile != "" {
		loaded, err := LoadProvidersFile(cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		file = loaded
	}

	providers, err := BuildProviders(file, cfg.ChunkTimeout)
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers
	return cfg, nil
}

// LoadProvidersFile reads a providers file; .yaml/.yml is parsed as YAML, anything else as JSON
func LoadProvidersFile(filePath string) (*models.ProvidersFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var file models.ProvidersFile
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse providers YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse providers JSON: %w", err)
		}
	}

	for _, entry := range file.Providers {
		if _, ok := models.ParseBackendKind(entry.Name); !ok {
			return nil, models.NewError(models.KindConfiguration, entry.Name,
				fmt.Sprintf("providers file %s: unknown backend %q", filePath, entry.Name))
		}
	}
	return &file, nil
}

// BuildProviders resolves the enabled backends from defaults, the optional
// providers file and the environment (in increasing precedence).
func BuildProviders(file *models.ProvidersFile, chunkTimeout time.Duration) ([]models.ProviderConfig, error) {
	var out []models.ProviderConfig
	for _, def := range backends {
		entry := findEntry(file, def.kind)

		enabled := def.enabledDef()
		if entry != nil && entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		enabled = getBoolEnv(def.envPrefix+"_ENABLED", enabled)
		if !enabled {
			continue
		}

		cfg, err := buildProvider(def, entry, chunkTimeout)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func findEntry(file *models.ProvidersFile, kind models.BackendKind) *models.ProviderFileEntry {
	if file == nil {
		return nil
	}
	for i := range file.Providers {
		if k, ok := models.ParseBackendKind(file.Providers[i].Name); ok && k == kind {
			return &file.Providers[i]
		}
	}
	return nil
}

func buildProvider(def backendDefaults, entry *models.ProviderFileEntry, chunkTimeout time.Duration) (models.ProviderConfig, error) {
	cfg := models.ProviderConfig{
		Name:         string(def.kind),
		BaseURL:      def.baseURL,
		Model:        def.model,
		ChunkTimeout: chunkTimeout,
	}
	keyEnv := def.keyEnv
	var apiVersion string
	var keyInHeader bool

	if entry != nil {
		if entry.BaseURL != "" {
			cfg.BaseURL = entry.BaseURL
		}
		if entry.Model != "" {
			cfg.Model = entry.Model
		}
		if entry.APIKeyEnv != "" && keyEnv != "" {
			keyEnv = entry.APIKeyEnv
		}
		if entry.ChunkTimeout != "" {
			d, err := time.ParseDuration(entry.ChunkTimeout)
			if err != nil {
				return cfg, models.WrapError(models.KindConfiguration, cfg.Name, "invalid chunk_timeout", err)
			}
			cfg.ChunkTimeout = d
		}
		cfg.MaxTokens = entry.MaxTokens
		cfg.Sampling = entry.Sampling
		cfg.StrictParsing = entry.StrictParsing
		cfg.RateLimit = entry.RateLimit
		apiVersion = entry.APIVersion
		keyInHeader = entry.KeyInHeader
	}

	cfg.BaseURL = getEnv(def.envPrefix+"_BASE_URL", cfg.BaseURL)
	cfg.Model = getEnv(def.envPrefix+"_MODEL", cfg.Model)
	cfg.MaxTokens = getIntEnv(def.envPrefix+"_MAX_TOKENS", cfg.MaxTokens)
	cfg.StrictParsing = getBoolEnv(def.envPrefix+"_STRICT_PARSING", cfg.StrictParsing)
	cfg.RateLimit.RequestsPerMinute = getIntEnv(def.envPrefix+"_REQUESTS_PER_MINUTE", cfg.RateLimit.RequestsPerMinute)
	cfg.RateLimit.MaxConcurrent = getIntEnv(def.envPrefix+"_MAX_CONCURRENT", cfg.RateLimit.MaxConcurrent)

	switch def.kind {
	case models.BackendClaude:
		cfg.Backend = models.ClaudeSettings{
			APIKey:     os.Getenv(keyEnv),
			APIVersion: getEnv("ANTHROPIC_VERSION", apiVersion),
		}
	case models.BackendGemini:
		cfg.Backend = models.GeminiSettings{
			APIKey:      os.Getenv(keyEnv),
			KeyInHeader: getBoolEnv("GEMINI_KEY_IN_HEADER", keyInHeader),
		}
	case models.BackendOllama:
		cfg.Backend = models.OllamaSettings{}
	}

	if err := validate(cfg, def, keyEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate names the missing key so the operator knows what to set
func validate(cfg models.ProviderConfig, def backendDefaults, keyEnv string) error {
	missing := func(key string) error {
		return models.NewError(models.KindConfiguration, cfg.Name,
			fmt.Sprintf("%s is enabled but %s is not set", cfg.Name, key))
	}

	if !cfg.HasCredential() {
		return missing(keyEnv)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return missing(def.envPrefix + "_BASE_URL")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return missing(def.envPrefix + "_MODEL")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return models.NewError(models.KindConfiguration, cfg.Name,
			fmt.Sprintf("%s_REQUESTS_PER_MINUTE must not be negative", def.envPrefix))
	}
	if cfg.RateLimit.MaxConcurrent < 0 {
		return models.NewError(models.KindConfiguration, cfg.Name,
			fmt.Sprintf("%s_MAX_CONCURRENT must not be negative", def.envPrefix))
	}
	return nil
}

// RateLimitsFromFile extracts per-backend rate limits for live re-registration.
// Environment overrides still win over the file.
func RateLimitsFromFile(file *models.ProvidersFile) map[string]models.RateLimit {
	out := make(map[string]models.RateLimit)
	for _, def := range backends {
		var limits models.RateLimit
		if entry := findEntry(file, def.kind); entry != nil {
			limits = entry.RateLimit
		}
		limits.RequestsPerMinute = getIntEnv(def.envPrefix+"_REQUESTS_PER_MINUTE", limits.RequestsPerMinute)
		limits.MaxConcurrent = getIntEnv(def.envPrefix+"_MAX_CONCURRENT", limits.MaxConcurrent)
		out[string(def.kind)] = limits
	}
	return out
}

// IsProduction reports whether ENVIRONMENT=production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s") or bare seconds ("90")
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
