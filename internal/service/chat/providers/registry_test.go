package providers

import (
	"context"
	"testing"

	"forkchat/internal/capabilities"
	"forkchat/internal/domain"
	chatService "forkchat/internal/domain/services/chat"

	"github.com/stretchr/testify/require"
)

type stubProvider struct{ kind chatService.ProviderKind }

func (s stubProvider) Kind() chatService.ProviderKind { return s.kind }

func (s stubProvider) Stream(context.Context, *chatService.GenerateRequest) (<-chan chatService.StreamEvent, error) {
	ch := make(chan chatService.StreamEvent)
	close(ch)
	return ch, nil
}

func newTestRegistry(t *testing.T, keys Keys) *Registry {
	t.Helper()
	caps, err := capabilities.NewRegistry()
	require.NoError(t, err)
	return NewRegistry(caps, keys)
}

func TestResolve(t *testing.T) {
	r := newTestRegistry(t, Keys{})
	r.Register(stubProvider{kind: chatService.ProviderOpenRouter})

	tests := []struct {
		name     string
		model    string
		wantKind chatService.ProviderKind
		wantErr  error
	}{
		{name: "lorem needs no key", model: "lorem-fast", wantKind: chatService.ProviderLorem},
		{name: "registered provider", model: "gemini-2.0-flash", wantKind: chatService.ProviderOpenRouter},
		{name: "unknown model", model: "gpt-9", wantErr: domain.ErrValidation},
		{name: "disabled model", model: "llama-4-scout", wantErr: domain.ErrValidation},
		{name: "missing api key", model: "claude-haiku-4-5", wantErr: domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, resolved, err := r.Resolve(tt.model)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantKind, p.Kind())
			require.Equal(t, tt.model, resolved.ID)
			require.NotEmpty(t, resolved.UpstreamID)
		})
	}
}

func TestResolveCachesProvider(t *testing.T) {
	r := newTestRegistry(t, Keys{})

	p1, _, err := r.Resolve("lorem-fast")
	require.NoError(t, err)
	p2, _, err := r.Resolve("lorem-slow")
	require.NoError(t, err)
	require.Same(t, p1, p2)
}

func TestAvailable(t *testing.T) {
	r := newTestRegistry(t, Keys{Anthropic: "sk-test"})

	require.True(t, r.Available("lorem"))
	require.True(t, r.Available("anthropic"))
	require.False(t, r.Available("openrouter"))
	require.False(t, r.Available("mistral"))

	r.Register(stubProvider{kind: chatService.ProviderOpenRouter})
	require.True(t, r.Available("openrouter"))
}
