package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		fallback   string
		wantStatus chatModels.MessageStatus
		wantType   string
	}{
		{
			name:       "rejection",
			err:        fmt.Errorf("lorem: %w", chatService.ErrRejected),
			fallback:   chatModels.ErrorTypeProvider,
			wantStatus: chatModels.StatusErrorRejected,
			wantType:   chatModels.ErrorTypeRejected,
		},
		{
			name:       "unknown model",
			err:        fmt.Errorf("%w: unknown model x", domain.ErrValidation),
			fallback:   chatModels.ErrorTypeInternal,
			wantStatus: chatModels.StatusError,
			wantType:   chatModels.ErrorTypeConfiguration,
		},
		{
			name:       "deadline",
			err:        context.DeadlineExceeded,
			fallback:   chatModels.ErrorTypeProvider,
			wantStatus: chatModels.StatusError,
			wantType:   chatModels.ErrorTypeTimeout,
		},
		{
			name:       "rate limit status",
			err:        &chatService.ProviderError{Provider: chatService.ProviderAnthropic, StatusCode: 429, Err: errors.New("slow down")},
			fallback:   chatModels.ErrorTypeProvider,
			wantStatus: chatModels.StatusError,
			wantType:   chatModels.ErrorTypeRateLimit,
		},
		{
			name:       "provider failure",
			err:        &chatService.ProviderError{Provider: chatService.ProviderOpenRouter, StatusCode: 502, Err: errors.New("bad gateway")},
			fallback:   chatModels.ErrorTypeInternal,
			wantStatus: chatModels.StatusError,
			wantType:   chatModels.ErrorTypeProvider,
		},
		{
			name:       "plain error uses fallback",
			err:        errors.New("boom"),
			fallback:   chatModels.ErrorTypeInternal,
			wantStatus: chatModels.StatusError,
			wantType:   chatModels.ErrorTypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, tt.fallback)
			require.Equal(t, tt.wantStatus, got.status)
			require.Equal(t, tt.wantType, got.err.Type)
			require.NotEmpty(t, got.err.Message)
		})
	}
}
