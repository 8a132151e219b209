package httputil

import (
	"context"
	"net/http"
)

type userIDKey struct{}

// WithUserID returns r carrying the authenticated caller
func WithUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(contextWithUserID(r.Context(), userID))
}

// GetUserID returns the authenticated caller, or "" on public routes
func GetUserID(r *http.Request) string {
	return userIDFromContext(r.Context())
}

func contextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}
