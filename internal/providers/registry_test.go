package providers

import (
	"sync"
	"testing"

	"llmrelay/internal/models"
)

func ollamaConfig(model string) models.ProviderConfig {
	return models.ProviderConfig{
		BaseURL: "http://localhost:11434",
		Model:   model,
		Backend: models.OllamaSettings{},
	}
}

func TestRegistry_FirstWriterWins(t *testing.T) {
	r := NewRegistry(nil)

	first, err := r.GetOrCreate("ollama", ollamaConfig("llama3"))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := r.GetOrCreate("OLLAMA", ollamaConfig("mistral"))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if first != second {
		t.Error("Expected the same client instance for repeated calls")
	}
	if second.Config().Model != "llama3" {
		t.Errorf("Expected first configuration to win, got model %q", second.Config().Model)
	}
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	clients := make([]Client, 20)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.GetOrCreate("ollama", ollamaConfig("llama3"))
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(clients); i++ {
		if clients[i] != clients[0] {
			t.Fatal("Expected every caller to get the same client")
		}
	}
}

func TestRegistry_UnknownBackend(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.GetOrCreate("openai", ollamaConfig("gpt"))
	if models.KindOf(err) != models.KindConfiguration {
		t.Errorf("Expected Configuration error, got %v", err)
	}
	_, err = r.Get("openai")
	if models.KindOf(err) != models.KindConfiguration {
		t.Errorf("Expected Configuration error from Get, got %v", err)
	}
}

func TestRegistry_GetBeforeCreate(t *testing.T) {
	r := NewRegistry(nil)

	if _, err := r.Get("claude"); models.KindOf(err) != models.KindConfiguration {
		t.Errorf("Expected Configuration error for an unconfigured backend, got %v", err)
	}

	r.GetOrCreate("ollama", ollamaConfig("llama3"))
	c, err := r.Get(" Ollama ")
	if err != nil || c.Name() != "ollama" {
		t.Errorf("Expected case-insensitive lookup, got %v, %v", c, err)
	}
}

func TestRegistry_MismatchedSettings(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.GetOrCreate("claude", ollamaConfig("llama3"))
	if models.KindOf(err) != models.KindConfiguration {
		t.Errorf("Expected Configuration error, got %v", err)
	}
	if len(r.Names()) != 0 {
		t.Error("Expected nothing registered after a failed create")
	}
}

func TestRegistry_MissingCredentialIsNotMemoized(t *testing.T) {
	r := NewRegistry(nil)
	cfg := models.ProviderConfig{BaseURL: "https://api.anthropic.com", Model: "m", Backend: models.ClaudeSettings{}}

	if _, err := r.GetOrCreate("claude", cfg); models.KindOf(err) != models.KindConfiguration {
		t.Fatalf("Expected Configuration error, got %v", err)
	}

	cfg.Backend = models.ClaudeSettings{APIKey: "sk"}
	if _, err := r.GetOrCreate("claude", cfg); err != nil {
		t.Errorf("Expected a corrected configuration to succeed, got %v", err)
	}
}

func TestRegistry_NamesAndSnapshots(t *testing.T) {
	r := NewRegistry(nil)
	r.GetOrCreate("ollama", ollamaConfig("llama3"))
	r.GetOrCreate("claude", models.ProviderConfig{
		BaseURL: "https://api.anthropic.com",
		Model:   "m",
		Backend: models.ClaudeSettings{APIKey: "sk"},
	})

	names := r.Names()
	if len(names) != 2 || names[0] != "claude" || names[1] != "ollama" {
		t.Errorf("Expected sorted names, got %v", names)
	}

	snaps := r.Snapshots()
	if _, ok := snaps["claude"]; !ok {
		t.Error("Expected a claude snapshot")
	}
	if len(r.Clients()) != 2 {
		t.Errorf("Expected 2 clients, got %d", len(r.Clients()))
	}
}
