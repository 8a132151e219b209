package handler

import (
	"log/slog"
	"net/http"

	"forkchat/internal/capabilities"
	"forkchat/internal/httputil"
)

// ProviderAvailability reports whether a provider's models can be served
type ProviderAvailability interface {
	Available(providerName string) bool
}

// ModelsHandler lists the selectable models
type ModelsHandler struct {
	registry  *capabilities.Registry
	available ProviderAvailability
	logger    *slog.Logger
}

func NewModelsHandler(registry *capabilities.Registry, available ProviderAvailability, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{registry: registry, available: available, logger: logger}
}

// ProviderResponse represents a provider with its models
type ProviderResponse struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Models []ModelResponse `json:"models"`
}

// ModelResponse represents a model's capabilities for the API response
type ModelResponse struct {
	ID            string           `json:"id"`
	DisplayName   string           `json:"display_name"`
	Description   string           `json:"description"`
	ContextWindow int              `json:"context_window"`
	MaxOutput     int              `json:"max_output"`
	Disabled      bool             `json:"disabled"`
	Capabilities  CapabilitiesInfo `json:"capabilities"`
}

// CapabilitiesInfo represents model capabilities
type CapabilitiesInfo struct {
	Reasoning       bool `json:"reasoning"`
	ReasoningEffort bool `json:"reasoning_effort"`
	Search          bool `json:"search"`
	ImageInput      bool `json:"image_input"`
	PDFInput        bool `json:"pdf_input"`
	Parameters      bool `json:"parameters"`
}

// ListModels returns the models of every provider this deployment can serve,
// in registry order. Disabled models are listed but flagged.
// GET /api/models
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	providers := []ProviderResponse{}

	for _, name := range h.registry.Providers() {
		if !h.available.Available(name) {
			continue
		}
		caps, err := h.registry.Provider(name)
		if err != nil {
			h.logger.Warn("provider listed without models", "provider", name, "error", err)
			continue
		}
		providers = append(providers, convertProvider(caps))
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
	})
}

func convertProvider(caps *capabilities.ProviderCapabilities) ProviderResponse {
	models := make([]ModelResponse, 0, len(caps.Models))
	for _, m := range caps.Models {
		models = append(models, ModelResponse{
			ID:            m.ID,
			DisplayName:   m.DisplayName,
			Description:   m.Description,
			ContextWindow: m.ContextWindow,
			MaxOutput:     m.MaxOutput,
			Disabled:      m.Disabled,
			Capabilities: CapabilitiesInfo{
				Reasoning:       m.SupportsReasoning,
				ReasoningEffort: m.SupportsReasoningEffort,
				Search:          m.SupportsSearch,
				ImageInput:      m.SupportsImages,
				PDFInput:        m.SupportsPDFs,
				Parameters:      m.SupportsParameters,
			},
		})
	}
	return ProviderResponse{ID: caps.Provider, Name: caps.DisplayName, Models: models}
}
