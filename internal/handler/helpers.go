package handler

import (
	"log/slog"
	"net/http"

	"forkchat/internal/httputil"
)

// pathID extracts a UUID path value, answering 400 itself when it is malformed
func pathID(w http.ResponseWriter, r *http.Request, logger *slog.Logger, name string) (string, bool) {
	id, err := httputil.PathUUID(r, name)
	if err != nil {
		handleError(w, logger, err)
		return "", false
	}
	return id, true
}
