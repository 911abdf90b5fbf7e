package llm

import (
	"net/http"
	"sort"
	"sync"

	"dev.helix.ensemble/internal/config"
)

// Registry holds the resilient client for every configured model. Clients
// are data-driven instances distinguished by model ID; no per-brand types
// beyond the wire-format adapters.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]ProviderClient
	breakers *BreakerSet
	embedder Embedder
}

// NewRegistry builds clients for every model in the configuration snapshot.
// Chat models are wrapped with breaker+retry; the embedding client shares
// the breaker policy via its own model entry.
func NewRegistry(cfg *config.Config, breakerCfg BreakerConfig, httpClient *http.Client) *Registry {
	r := &Registry{
		clients:  make(map[string]ProviderClient),
		breakers: NewBreakerSet(breakerCfg),
	}

	retryCfg := RetryConfig{
		Attempts:  cfg.Ensemble.RetryAttempts,
		BaseDelay: cfg.Ensemble.RetryDelay,
		MaxDelay:  cfg.Ensemble.RetryDelayCap,
	}
	if retryCfg.BaseDelay <= 0 {
		retryCfg = DefaultRetryConfig()
	}

	for id, mc := range cfg.Models {
		if mc.Embedding {
			r.embedder = NewResilientEmbedder(
				NewEmbeddingClient(id, mc, httpClient),
				mc.Provider, id, r.breakers.Get(id), NewRetryer(retryCfg))
			continue
		}
		var inner ProviderClient
		switch mc.WireFormat {
		case "anthropic":
			inner = NewAnthropicClient(id, mc, httpClient)
		case "gemini":
			inner = NewGeminiClient(id, mc, httpClient)
		default:
			inner = NewChatClient(id, mc, httpClient)
		}
		r.clients[id] = NewResilientClient(inner, r.breakers.Get(id), NewRetryer(retryCfg))
	}
	return r
}

// Register installs or replaces a client. Used by tests and custom wiring.
func (r *Registry) Register(modelID string, client ProviderClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[modelID] = client
}

// Get returns the client for a model ID.
func (r *Registry) Get(modelID string) (ProviderClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[modelID]
	return c, ok
}

// ModelIDs returns all chat model IDs in stable order.
func (r *Registry) ModelIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ByFamily returns the model IDs of a provider family in stable order.
func (r *Registry) ByFamily(family string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, c := range r.clients {
		if c.Family() == family {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Breakers exposes the breaker set for selection and monitoring.
func (r *Registry) Breakers() *BreakerSet { return r.breakers }

// SetEmbedder installs an embedder. Used by tests.
func (r *Registry) SetEmbedder(e Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedder = e
}

// Embedder returns the configured embedding client, if any.
func (r *Registry) Embedder() (Embedder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embedder, r.embedder != nil
}
