package sealer

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Prefix marks a column value as sealed.
const Prefix = "sealed:v1:"

var (
	// ErrNoKey is returned when a sealed value is opened without a key.
	ErrNoKey = errors.New("no key encryption key configured")
	// ErrCorrupt is returned when a sealed value does not decrypt.
	ErrCorrupt = errors.New("sealed value is corrupt or was sealed with another key")
)

// Sealer encrypts device key material at rest with XChaCha20-Poly1305.
// A nil *Sealer passes plain values through and refuses sealed ones.
type Sealer struct {
	key []byte
}

// New expects a base64-encoded 32-byte key. An empty string yields a nil
// Sealer and no error.
func New(keyBase64 string) (*Sealer, error) {
	keyBase64 = strings.TrimSpace(keyBase64)
	if keyBase64 == "" {
		return nil, nil
	}

	keyBytes, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, errors.New("KEY_ENCRYPTION_KEY must be base64-encoded")
	}

	if len(keyBytes) != chacha20poly1305.KeySize {
		return nil, errors.New("KEY_ENCRYPTION_KEY must decode to exactly 32 bytes (256 bits)")
	}

	return &Sealer{key: keyBytes}, nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Seal encrypts plaintext and returns the prefixed form.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil {
		return "", ErrNoKey
	}
	if plaintext == "" {
		return "", nil
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open returns plain values unchanged and decrypts sealed ones.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if s == nil {
		return "", ErrNoKey
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", ErrCorrupt
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}

	nonceSize := aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCorrupt
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrCorrupt
	}

	return string(plaintext), nil
}
