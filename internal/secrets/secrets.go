// Package secrets resolves credential references to credential material.
// References are path-like strings stored in project configuration, e.g.
// "whatsapp-credentials/acme/onboarding/meta" or "openai-api-key/whatsapp".
package secrets

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the reference does not resolve to a stored secret.
	// Callers treat this as a configuration problem, not a transient failure.
	ErrNotFound = errors.New("secret not found")
	// ErrMalformed means the stored secret lacks the expected fields.
	ErrMalformed = errors.New("secret malformed")
)

// Secret is resolved credential material. Channel credentials carry provider
// fields (api_key plus provider-specific extras); AI credentials carry the
// api_key only.
type Secret struct {
	APIKey string            `json:"api_key"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// Store resolves references to secrets.
type Store interface {
	Resolve(ctx context.Context, ref string) (Secret, error)
}
