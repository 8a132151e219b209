package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"forkchat/internal/domain"
	"forkchat/internal/domain/models"
	"forkchat/internal/httputil"

	"github.com/stretchr/testify/require"
)

type tokenVerifier map[string]string

func (v tokenVerifier) VerifyToken(ctx context.Context, token string) (*models.Claims, error) {
	sub, ok := v[token]
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	c := &models.Claims{Role: "authenticated"}
	c.Subject = sub
	return c, nil
}

func (v tokenVerifier) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireAuth(t *testing.T) {
	verifier := tokenVerifier{"good": "user-1"}
	var seen string
	h := RequireAuth(verifier, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httputil.GetUserID(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "valid bearer", header: "Bearer good", wantStatus: http.StatusNoContent, wantUser: "user-1"},
		{name: "lowercase scheme", header: "bearer good", wantStatus: http.StatusNoContent, wantUser: "user-1"},
		{name: "unknown token", header: "Bearer bad", wantStatus: http.StatusUnauthorized},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic good", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.wantStatus, rec.Code)
			require.Equal(t, tt.wantUser, seen)
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	t.Run("chat routes use plain error body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	})

	t.Run("api routes use problem details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})
}

func TestCORS(t *testing.T) {
	verifier := tokenVerifier{"good": "user-1"}
	protected := RequireAuth(verifier, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Message-Id", "m1")
		w.WriteHeader(http.StatusOK)
	}))
	h := CORS("*")(protected)

	t.Run("preflight is answered before auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type, Authorization")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Body.String())
		require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("actual request exposes stream headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Message-Id")
	})

	t.Run("listed origins only", func(t *testing.T) {
		h := CORS("https://a.example.com, https://b.example.com")(protected)
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", "https://b.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		require.Equal(t, "https://b.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
