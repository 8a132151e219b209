package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"forkchat/internal/domain"

	"github.com/google/uuid"
)

// maxBodyBytes bounds request bodies; chat history is resent on every /chat call
const maxBodyBytes = 10 << 20

// ParseJSON decodes JSON from the request body into the given destination.
// Decoding failures wrap domain.ErrValidation so handlers map them to 400.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	// Unknown fields are allowed: clients send extra UI state alongside messages
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body: %w", domain.ErrValidation)
		}
		return fmt.Errorf("invalid JSON: %v: %w", err, domain.ErrValidation)
	}

	return nil
}

// PathUUID returns the named path value, requiring it to be a UUID
func PathUUID(r *http.Request, name string) (string, error) {
	value := r.PathValue(name)
	if _, err := uuid.Parse(value); err != nil {
		return "", fmt.Errorf("%s must be a UUID: %w", name, domain.ErrValidation)
	}
	return value, nil
}
