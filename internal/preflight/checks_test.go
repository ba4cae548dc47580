package preflight

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"llmrelay/internal/health"
	"llmrelay/internal/models"
	"llmrelay/internal/services"
)

type stubProber struct {
	name string
	err  error
}

func (p *stubProber) Name() string                    { return p.name }
func (p *stubProber) Probe(ctx context.Context) error { return p.err }
func (p *stubProber) Health() health.Snapshot         { return health.Snapshot{Backend: p.name} }

func ollama(baseURL string) models.ProviderConfig {
	return models.ProviderConfig{Name: "ollama", BaseURL: baseURL, Model: "llama3", Backend: models.OllamaSettings{}}
}

func TestCheckBackends(t *testing.T) {
	if result := NewChecker(nil, nil, nil).checkBackends(); result.Status != "warning" {
		t.Errorf("Expected warning with no backends, got '%s'", result.Status)
	}

	result := NewChecker([]models.ProviderConfig{ollama("http://localhost:11434")}, nil, nil).checkBackends()
	if result.Status != "pass" || !strings.Contains(result.Message, "ollama") {
		t.Errorf("Expected pass naming ollama, got %+v", result)
	}
}

func TestCheckBaseURLs(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"http://localhost:11434", "pass"},
		{"https://api.anthropic.com", "pass"},
		{"localhost:11434", "fail"},
		{"ftp://example.com", "fail"},
		{"http://", "fail"},
	}

	for _, tt := range tests {
		checker := NewChecker([]models.ProviderConfig{ollama(tt.baseURL)}, nil, nil)
		if result := checker.checkBaseURLs(); result.Status != tt.want {
			t.Errorf("checkBaseURLs(%q): expected '%s', got '%s'", tt.baseURL, tt.want, result.Status)
		}
	}
}

func TestCheckRedis(t *testing.T) {
	if result := NewChecker(nil, nil, nil).checkRedis(); result.Status != "pass" {
		t.Errorf("Expected pass without redis, got '%s'", result.Status)
	}

	mr := miniredis.RunT(t)
	svc := services.NewRedisServiceFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer svc.Close()

	checker := NewChecker(nil, nil, svc)
	if result := checker.checkRedis(); result.Status != "pass" {
		t.Errorf("Expected pass with reachable redis, got %+v", result)
	}

	mr.Close()
	if result := checker.checkRedis(); result.Status != "fail" {
		t.Errorf("Expected fail when redis is down, got '%s'", result.Status)
	}
}

func TestCheckProviderConnectivity(t *testing.T) {
	svc := health.NewService(0)
	svc.Register(&stubProber{name: "ollama"})
	svc.Register(&stubProber{name: "claude", err: errors.New("connection refused")})

	providers := []models.ProviderConfig{ollama("http://localhost:11434"), {Name: "claude"}}
	result := NewChecker(providers, svc, nil).checkProviderConnectivity()

	if result.Status != "warning" {
		t.Errorf("Expected warning for an unreachable backend, got '%s'", result.Status)
	}
	if !strings.Contains(result.Message, "claude") || strings.Contains(result.Message, "ollama") {
		t.Errorf("Expected only claude reported, got %q", result.Message)
	}
}

func TestHasFailures(t *testing.T) {
	results := []CheckResult{{Status: "pass"}, {Status: "warning"}}
	if HasFailures(results) {
		t.Error("Expected warnings not to count as failures")
	}
	if !HasFailures(append(results, CheckResult{Status: "fail"})) {
		t.Error("Expected a failure to be detected")
	}
}

func TestQuickCheckSkipsProbes(t *testing.T) {
	svc := health.NewService(0)
	probed := &stubProber{name: "ollama", err: errors.New("down")}
	svc.Register(probed)

	results := NewChecker([]models.ProviderConfig{ollama("http://localhost:11434")}, svc, nil).QuickCheck()
	for _, r := range results {
		if r.Name == "Provider Connectivity" {
			t.Error("Expected QuickCheck not to probe upstreams")
		}
	}
	if HasFailures(results) {
		t.Errorf("Expected no failures, got %+v", results)
	}
}
