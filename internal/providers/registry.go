package providers

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"

	"llmrelay/internal/health"
	"llmrelay/internal/models"
)

// Registry memoizes one client per backend name. The first configuration
// registered for a name wins; later calls return the existing client.
type Registry struct {
	mu      sync.RWMutex
	http    *http.Client
	opts    []ClientOption
	clients map[models.BackendKind]Client
}

// NewRegistry creates an empty registry. A nil httpClient gets a streaming-safe default.
func NewRegistry(httpClient *http.Client, opts ...ClientOption) *Registry {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &Registry{
		http:    httpClient,
		opts:    opts,
		clients: make(map[models.BackendKind]Client),
	}
}

// GetOrCreate returns the client for name, building it from cfg on first use
func (r *Registry) GetOrCreate(name string, cfg models.ProviderConfig) (Client, error) {
	kind, ok := models.ParseBackendKind(name)
	if !ok {
		return nil, unknownBackend(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, exists := r.clients[kind]; exists {
		return c, nil
	}
	if cfg.Backend == nil || cfg.Backend.Kind() != kind {
		return nil, models.NewError(models.KindConfiguration, string(kind),
			fmt.Sprintf("configuration does not describe a %s backend", kind))
	}
	if cfg.Name == "" {
		cfg.Name = string(kind)
	}

	c, err := NewClient(cfg, r.http, r.opts...)
	if err != nil {
		return nil, err
	}
	r.clients[kind] = c
	log.Printf("✅ [PROVIDERS] Registered %s (model=%s, base=%s)", kind, c.Config().Model, c.Config().BaseURL)
	return c, nil
}

// Get returns a client created earlier
func (r *Registry) Get(name string) (Client, error) {
	kind, ok := models.ParseBackendKind(name)
	if !ok {
		return nil, unknownBackend(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[kind]
	if !exists {
		return nil, models.NewError(models.KindConfiguration, string(kind),
			fmt.Sprintf("backend %q is not configured", kind))
	}
	return c, nil
}

// Names lists the registered backends in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for kind := range r.clients {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return names
}

// Clients returns the registered clients sorted by name
func (r *Registry) Clients() []Client {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Client, 0, len(names))
	for _, name := range names {
		out = append(out, r.clients[models.BackendKind(name)])
	}
	return out
}

// Snapshots returns each registered backend's health, keyed by name
func (r *Registry) Snapshots() map[string]health.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]health.Snapshot, len(r.clients))
	for kind, c := range r.clients {
		out[string(kind)] = c.Health()
	}
	return out
}

func unknownBackend(name string) *models.ProviderError {
	return models.NewError(models.KindConfiguration, name,
		fmt.Sprintf("unknown backend %q (expected one of %v)", name, models.KnownBackends))
}
