package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 access tokens whose subject is the user id.
type JWTProvider struct {
	secret   []byte
	audience string
	now      func() time.Time
}

func NewJWTProvider(secret, audience string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), audience: audience, now: time.Now}
}

func (p *JWTProvider) Resolve(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidCredential
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidCredential)
	}
	return &Identity{UserID: userID, Email: claims.Email}, nil
}
