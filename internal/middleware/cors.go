package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// CORS answers pre-flight requests and sets the CORS response headers.
// origins is a comma-separated list; "*" allows any origin.
// It must wrap every other middleware so OPTIONS never reaches auth.
func CORS(origins string) func(http.Handler) http.Handler {
	allowed := strings.Split(origins, ",")
	for i := range allowed {
		allowed[i] = strings.TrimSpace(allowed[i])
	}
	c := cors.New(cors.Options{
		AllowedOrigins:       allowed,
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:       []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposedHeaders:       []string{"X-Thread-Id", "X-Message-Id"},
		OptionsSuccessStatus: http.StatusOK,
	})
	return c.Handler
}
