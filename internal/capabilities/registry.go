// Package capabilities is the static model catalog. Each provider declares its
// models in an embedded YAML file; the catalog is read once at startup and is
// immutable afterwards.
package capabilities

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// Registry indexes every declared model by its client-facing ID
type Registry struct {
	names     []string // sorted, from the file names
	providers map[string]*ProviderCapabilities
	byModel   map[string]modelRef
}

type modelRef struct {
	provider string
	index    int
}

// NewRegistry loads config/<provider>.yaml for every embedded file.
// A model ID declared by two providers is an error.
func NewRegistry() (*Registry, error) {
	entries, err := configFiles.ReadDir("config")
	if err != nil {
		return nil, fmt.Errorf("read capability files: %w", err)
	}

	r := &Registry{
		providers: make(map[string]*ProviderCapabilities, len(entries)),
		byModel:   make(map[string]modelRef),
	}
	// ReadDir returns entries sorted by file name
	for _, e := range entries {
		provider, ok := strings.CutSuffix(e.Name(), ".yaml")
		if !ok {
			continue
		}
		if err := r.load(provider, path.Join("config", e.Name())); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) load(provider, filename string) error {
	data, err := configFiles.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}
	var caps ProviderCapabilities
	if err := yaml.Unmarshal(data, &caps); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}

	for i, m := range caps.Models {
		if existing, dup := r.byModel[m.ID]; dup {
			return fmt.Errorf("model %s declared by both %s and %s", m.ID, existing.provider, provider)
		}
		r.byModel[m.ID] = modelRef{provider: provider, index: i}
	}
	r.providers[provider] = &caps
	r.names = append(r.names, provider)
	return nil
}

// LookupModel finds a model by its client-facing ID across all providers.
// Returns a copy of the capabilities and the owning provider name.
func (r *Registry) LookupModel(model string) (*ModelCapabilities, string, error) {
	ref, ok := r.byModel[model]
	if !ok {
		return nil, "", fmt.Errorf("unknown model %s", model)
	}
	caps := r.providers[ref.provider].Models[ref.index]
	return &caps, ref.provider, nil
}

// Provider returns one provider's catalog, models in YAML order
func (r *Registry) Provider(name string) (*ProviderCapabilities, error) {
	caps, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %s", name)
	}
	return caps, nil
}

// Providers returns the provider names in sorted order
func (r *Registry) Providers() []string {
	return append([]string(nil), r.names...)
}
