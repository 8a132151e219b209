package generation

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"forkchat/internal/domain"
	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"
)

// rejectionStopReasons are provider stop reasons that mean a policy refusal
var rejectionStopReasons = map[string]bool{
	"refusal":        true,
	"content_filter": true,
}

// failure is a classified attempt failure
type failure struct {
	status chatModels.MessageStatus
	err    chatModels.ServerError
}

// classify maps an attempt error to its terminal status and coarse serverError type.
// fallback is used for errors that carry no recognizable signal.
func classify(err error, fallback string) failure {
	var perr *chatService.ProviderError
	hasProviderErr := errors.As(err, &perr)
	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, chatService.ErrRejected):
		return failure{
			status: chatModels.StatusErrorRejected,
			err:    chatModels.ServerError{Type: chatModels.ErrorTypeRejected, Message: "The model declined to answer this request."},
		}
	case errors.Is(err, domain.ErrValidation):
		return failure{
			status: chatModels.StatusError,
			err:    chatModels.ServerError{Type: chatModels.ErrorTypeConfiguration, Message: err.Error()},
		}
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"):
		return failure{
			status: chatModels.StatusError,
			err:    chatModels.ServerError{Type: chatModels.ErrorTypeTimeout, Message: "The model provider timed out."},
		}
	case hasProviderErr && perr.StatusCode == http.StatusTooManyRequests,
		strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return failure{
			status: chatModels.StatusError,
			err:    chatModels.ServerError{Type: chatModels.ErrorTypeRateLimit, Message: "The model provider is rate limiting requests. Try again shortly."},
		}
	case hasProviderErr:
		return failure{
			status: chatModels.StatusError,
			err:    chatModels.ServerError{Type: chatModels.ErrorTypeProvider, Message: "The model provider returned an error."},
		}
	}

	message := "Generation failed unexpectedly."
	if fallback == chatModels.ErrorTypeProvider {
		message = "The model provider returned an error."
	}
	return failure{
		status: chatModels.StatusError,
		err:    chatModels.ServerError{Type: fallback, Message: message},
	}
}
