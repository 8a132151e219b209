// Package providers resolves client-facing model IDs to streaming providers.
package providers

import (
	"fmt"
	"sync"

	"forkchat/internal/capabilities"
	"forkchat/internal/domain"
	chatService "forkchat/internal/domain/services/chat"
	"forkchat/internal/service/chat/providers/anthropic"
	"forkchat/internal/service/chat/providers/lorem"
	"forkchat/internal/service/chat/providers/openrouter"
)

// Keys holds the upstream API keys. An empty key disables that provider.
type Keys struct {
	Anthropic  string
	OpenRouter string
}

// Registry manages provider instances and routes model requests to them.
// Capabilities come from the static YAML registry; provider clients are
// created lazily and cached per kind.
type Registry struct {
	caps  *capabilities.Registry
	keys  Keys
	cache map[chatService.ProviderKind]chatService.Provider
	mu    sync.RWMutex
}

// NewRegistry creates a provider registry backed by the capability registry.
func NewRegistry(caps *capabilities.Registry, keys Keys) *Registry {
	return &Registry{
		caps:  caps,
		keys:  keys,
		cache: make(map[chatService.ProviderKind]chatService.Provider),
	}
}

// Register installs a provider for a kind, replacing any cached instance.
// Tests use it to inject fake providers.
func (r *Registry) Register(p chatService.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[p.Kind()] = p
}

// Resolve maps a model ID to its provider and capability facts.
// Unknown or disabled models are configuration errors surfaced as validation failures.
func (r *Registry) Resolve(modelID string) (chatService.Provider, *chatService.ResolvedModel, error) {
	caps, providerName, err := r.caps.LookupModel(modelID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if caps.Disabled {
		return nil, nil, fmt.Errorf("%w: model %s is disabled", domain.ErrValidation, modelID)
	}

	kind := chatService.ProviderKind(providerName)
	provider, err := r.provider(kind)
	if err != nil {
		return nil, nil, err
	}

	return provider, &chatService.ResolvedModel{
		ID:                caps.ID,
		UpstreamID:        caps.Upstream(),
		Kind:              kind,
		SupportsReasoning: caps.SupportsReasoning,
		MaxOutput:         caps.MaxOutput,
	}, nil
}

func (r *Registry) provider(kind chatService.ProviderKind) (chatService.Provider, error) {
	// Fast path: cache hit under read lock
	r.mu.RLock()
	if cached, ok := r.cache[kind]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created it while we waited for the lock
	if cached, ok := r.cache[kind]; ok {
		return cached, nil
	}

	p, err := r.create(kind)
	if err != nil {
		return nil, err
	}
	r.cache[kind] = p
	return p, nil
}

func (r *Registry) create(kind chatService.ProviderKind) (chatService.Provider, error) {
	switch kind {
	case chatService.ProviderLorem:
		return lorem.NewProvider(), nil
	case chatService.ProviderAnthropic:
		if r.keys.Anthropic == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not configured", domain.ErrValidation)
		}
		return anthropic.NewProvider(r.keys.Anthropic)
	case chatService.ProviderOpenRouter:
		if r.keys.OpenRouter == "" {
			return nil, fmt.Errorf("%w: OPENROUTER_API_KEY is not configured", domain.ErrValidation)
		}
		return openrouter.NewProvider(r.keys.OpenRouter)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", domain.ErrValidation, kind)
	}
}

// Available reports whether models of the named provider can be served:
// the provider needs no key, has one configured, or was registered directly.
func (r *Registry) Available(providerName string) bool {
	kind := chatService.ProviderKind(providerName)

	r.mu.RLock()
	_, cached := r.cache[kind]
	r.mu.RUnlock()
	if cached {
		return true
	}

	switch kind {
	case chatService.ProviderLorem:
		return true
	case chatService.ProviderAnthropic:
		return r.keys.Anthropic != ""
	case chatService.ProviderOpenRouter:
		return r.keys.OpenRouter != ""
	default:
		return false
	}
}
