package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"forkchat/internal/domain"
	"forkchat/internal/httputil"
)

// handleError converts domain errors to RFC 7807 responses.
// A generation conflict carries the ID of the message holding the thread.
func handleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := domain.StatusCode(err)

	var conflictErr *domain.ConflictError
	switch {
	case errors.As(err, &conflictErr):
		httputil.RespondErrorWithExtras(w, status, conflictErr.Error(), map[string]interface{}{
			"resource_type": conflictErr.ResourceType,
			"resource_id":   conflictErr.ResourceID,
		})
	case status == http.StatusInternalServerError:
		logger.Error("request failed", "error", err)
		httputil.RespondError(w, status, "internal server error")
	default:
		httputil.RespondError(w, status, err.Error())
	}
}

// handleStreamError answers the streaming endpoints with their plain {error}
// body. Anything unexpected is hidden behind a generic message.
func handleStreamError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := domain.StatusCode(err)
	if status == http.StatusInternalServerError {
		logger.Error("chat request failed", "error", err)
		httputil.RespondErrorMessage(w, status, "Internal server error")
		return
	}
	httputil.RespondErrorMessage(w, status, err.Error())
}
