package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"forkchat/internal/auth"
	"forkchat/internal/httputil"
)

// RequireAuth resolves the caller from the Authorization bearer token and stores
// the user ID in the request context. Requests without a valid caller get 401.
func RequireAuth(verifier auth.Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.VerifyToken(r.Context(), bearerToken(r))
			if err != nil {
				logger.Debug("request unauthenticated", "path", r.URL.Path, "error", err)
				httputil.RespondError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			next.ServeHTTP(w, httputil.WithUserID(r, claims.GetUserID()))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
