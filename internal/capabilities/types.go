package capabilities

import "gopkg.in/yaml.v3"

// ModelCapabilities represents all metadata for a specific model
type ModelCapabilities struct {
	// Client-facing model identifier (set during YAML unmarshaling)
	ID string `yaml:"-" json:"id"`

	// UpstreamID is the identifier sent to the provider API. Defaults to ID.
	UpstreamID string `yaml:"upstream_id" json:"-"`

	// Display information
	DisplayName string `yaml:"display_name" json:"display_name"`
	Description string `yaml:"description" json:"description"`

	// Features
	SupportsReasoning       bool `yaml:"supports_reasoning" json:"supports_reasoning"`
	SupportsReasoningEffort bool `yaml:"supports_reasoning_effort" json:"supports_reasoning_effort"`
	SupportsSearch          bool `yaml:"supports_search" json:"supports_search"`
	SupportsImages          bool `yaml:"supports_images" json:"supports_images"`
	SupportsPDFs            bool `yaml:"supports_pdfs" json:"supports_pdfs"`
	SupportsParameters      bool `yaml:"supports_parameters" json:"supports_parameters"`

	// Limits
	ContextWindow int `yaml:"context_window" json:"context_window"`
	MaxOutput     int `yaml:"max_output" json:"max_output"`

	// Disabled models stay listed but cannot be selected
	Disabled bool `yaml:"disabled" json:"disabled"`
}

// Upstream returns the provider-side model identifier
func (m *ModelCapabilities) Upstream() string {
	if m.UpstreamID != "" {
		return m.UpstreamID
	}
	return m.ID
}

// ProviderCapabilities represents all models for a provider
type ProviderCapabilities struct {
	Provider    string              `yaml:"provider" json:"provider"`
	DisplayName string              `yaml:"display_name" json:"display_name"`
	Models      []ModelCapabilities `yaml:"-" json:"models"` // Ordered slice, populated by custom unmarshaler
}

// UnmarshalYAML implements custom YAML unmarshaling to preserve model order from YAML file
func (p *ProviderCapabilities) UnmarshalYAML(node *yaml.Node) error {
	type header struct {
		Provider    string                       `yaml:"provider"`
		DisplayName string                       `yaml:"display_name"`
		Models      map[string]ModelCapabilities `yaml:"models"`
	}
	var h header
	if err := node.Decode(&h); err != nil {
		return err
	}
	p.Provider = h.Provider
	p.DisplayName = h.DisplayName

	// Map decoding loses order; walk the node to rebuild it
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value != "models" {
			continue
		}
		modelsNode := node.Content[i+1]
		// modelsNode.Content alternates: key, value, key, value...
		for j := 0; j < len(modelsNode.Content); j += 2 {
			modelID := modelsNode.Content[j].Value
			if model, ok := h.Models[modelID]; ok {
				model.ID = modelID
				p.Models = append(p.Models, model)
			}
		}
		break
	}

	return nil
}
