package capabilities

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryLookupModel(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	tests := []struct {
		name          string
		model         string
		wantProvider  string
		wantUpstream  string
		wantReasoning bool
		wantErr       bool
	}{
		{
			name:         "openrouter model with upstream id",
			model:        "gemini-2.0-flash",
			wantProvider: "openrouter",
			wantUpstream: "google/gemini-2.0-flash-001",
		},
		{
			name:          "anthropic reasoning model",
			model:         "claude-sonnet-4-5",
			wantProvider:  "anthropic",
			wantUpstream:  "claude-sonnet-4-5-20250929",
			wantReasoning: true,
		},
		{
			name:         "lorem model defaults upstream to id",
			model:        "lorem-fast",
			wantProvider: "lorem",
			wantUpstream: "lorem-fast",
		},
		{
			name:    "unknown model",
			model:   "gpt-17",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps, provider, err := r.LookupModel(tt.model)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantProvider, provider)
			require.Equal(t, tt.wantUpstream, caps.Upstream())
			require.Equal(t, tt.wantReasoning, caps.SupportsReasoning)
		})
	}
}

func TestRegistryPreservesYAMLOrder(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	lorem, err := r.Provider("lorem")
	require.NoError(t, err)

	ids := make([]string, 0, len(lorem.Models))
	for _, m := range lorem.Models {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []string{"lorem-fast", "lorem-medium", "lorem-slow", "lorem-thinking", "lorem-refuse", "lorem-fail"}, ids)
}

func TestRegistryProviders(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	require.Equal(t, []string{"anthropic", "lorem", "openrouter"}, r.Providers())

	_, err = r.Provider("ollama")
	require.Error(t, err)

	caps, provider, err := r.LookupModel("llama-4-scout")
	require.NoError(t, err)
	require.Equal(t, "openrouter", provider)
	require.True(t, caps.Disabled)
}
