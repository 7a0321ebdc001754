package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidCredential is returned when a token is missing, malformed,
// expired or unknown.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the caller a bearer credential resolves to.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

// Provider resolves a bearer token to an identity.
type Provider interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
