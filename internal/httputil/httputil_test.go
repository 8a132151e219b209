package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"forkchat/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid object", body: `{"title":"x"}`},
		{name: "unknown fields allowed", body: `{"title":"x","extra":1}`},
		{name: "empty body", body: ``, wantErr: true},
		{name: "malformed", body: `{"title":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dest struct {
				Title string `json:"title"`
			}
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			err := ParseJSON(httptest.NewRecorder(), req, &dest)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "x", dest.Title)
		})
	}
}

func TestPathUUID(t *testing.T) {
	mux := http.NewServeMux()
	var got string
	var gotErr error
	mux.HandleFunc("GET /threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = PathUUID(r, "id")
	})

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/threads/0b8f3c55-3f5e-4d6a-9a64-0f7f6cf2b0c1", nil))
	require.NoError(t, gotErr)
	require.Equal(t, "0b8f3c55-3f5e-4d6a-9a64-0f7f6cf2b0c1", got)

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/threads/nope", nil))
	require.ErrorIs(t, gotErr, domain.ErrValidation)
}

func TestRespondErrorMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondErrorMessage(rec, http.StatusNotFound, "Stream data not found or expired")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"Stream data not found or expired"}`, rec.Body.String())
}

func TestOptional(t *testing.T) {
	type patch struct {
		FolderID Optional[string] `json:"folder_id"`
	}

	tests := []struct {
		name      string
		body      string
		wantSet   bool
		wantValue *string
	}{
		{name: "absent", body: `{}`},
		{name: "null clears", body: `{"folder_id":null}`, wantSet: true},
		{name: "value", body: `{"folder_id":"f1"}`, wantSet: true, wantValue: strPtr("f1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p patch
			req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(tt.body))
			require.NoError(t, ParseJSON(httptest.NewRecorder(), req, &p))
			require.Equal(t, tt.wantSet, p.FolderID.Set)
			require.Equal(t, tt.wantValue, p.FolderID.Value)
		})
	}
}

func strPtr(s string) *string { return &s }

func TestUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, GetUserID(req))

	req = WithUserID(req, "user-1")
	require.Equal(t, "user-1", GetUserID(req))
}
