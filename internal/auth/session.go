package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionKeyPrefix is the Redis key prefix for sessions
	SessionKeyPrefix = "session:"
	// SessionDuration is 7 days
	SessionDuration = 7 * 24 * time.Hour
)

// SessionProvider resolves opaque session tokens stored in Redis as
// session:<token> -> user id.
type SessionProvider struct {
	client *redis.Client
}

func NewSessionProvider(client *redis.Client) *SessionProvider {
	return &SessionProvider{client: client}
}

func (p *SessionProvider) Resolve(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidCredential
	}

	userIDStr, err := p.client.Get(ctx, SessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt session", ErrInvalidCredential)
	}
	return &Identity{UserID: userID}, nil
}

// CreateSession stores a new session for userID and returns its token.
func (p *SessionProvider) CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	sessionToken := base64.URLEncoding.EncodeToString(tokenBytes)

	if err := p.client.Set(ctx, SessionKeyPrefix+sessionToken, userID.String(), SessionDuration).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return sessionToken, nil
}
