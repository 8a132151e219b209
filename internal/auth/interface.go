package auth

import (
	"context"

	"forkchat/internal/domain/models"
)

// Verifier answers "who is the caller" for a bearer token.
// The middleware stays agnostic to how tokens are checked.
type Verifier interface {
	// VerifyToken returns the caller's claims, or domain.ErrUnauthorized.
	VerifyToken(ctx context.Context, tokenString string) (*models.Claims, error)

	// Close releases any resources held by the verifier
	Close() error
}
