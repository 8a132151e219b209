package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"forkchat/internal/httputil"
)

// Recovery middleware recovers from panics and returns a 500 error.
// Streaming routes under /chat answer with their plain {error} body, the
// rest with problem details.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				// Let net/http handle deliberate aborts of a streamed response
				if e, ok := err.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(err)
				}

				logger.Error("panic recovered",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method,
					"stack", string(debug.Stack()),
				)

				if r.URL.Path == "/chat" || strings.HasPrefix(r.URL.Path, "/chat/") {
					httputil.RespondErrorMessage(w, http.StatusInternalServerError, "Internal server error")
					return
				}
				httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
