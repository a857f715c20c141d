// Package auth guards the MCP endpoint with a bearer API key whose bcrypt
// hash is configured at startup.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix marks keys issued by GenerateAPIKey.
const APIKeyPrefix = "rs_"

// apiKeyBytes is the number of random bytes in a generated key.
const apiKeyBytes = 32

// ErrInvalidHash is returned when the configured hash is not a bcrypt hash.
var ErrInvalidHash = errors.New("invalid bcrypt hash")

// RandomHex generates a cryptographically random hex string of the given
// byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}

// GenerateAPIKey returns a new random key and its bcrypt hash.
func GenerateAPIKey() (key, hash string, err error) {
	key = APIKeyPrefix + RandomHex(apiKeyBytes)

	h, err := HashKey(key)
	if err != nil {
		return "", "", err
	}

	return key, h, nil
}

// HashKey returns the bcrypt hash of key.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing key: %w", err)
	}

	return string(h), nil
}

// KeyVerifier checks presented keys against one bcrypt hash. A key that
// verified once is remembered by its SHA-256 digest so later requests skip
// the bcrypt cost.
type KeyVerifier struct {
	hash []byte

	mu       sync.Mutex
	verified map[[sha256.Size]byte]struct{}
}

// NewKeyVerifier creates a verifier for a bcrypt hash.
func NewKeyVerifier(hash string) (*KeyVerifier, error) {
	hash = strings.TrimSpace(hash)
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}

	return &KeyVerifier{
		hash:     []byte(hash),
		verified: make(map[[sha256.Size]byte]struct{}),
	}, nil
}

// Verify reports whether key matches the configured hash.
func (v *KeyVerifier) Verify(key string) bool {
	if key == "" {
		return false
	}

	digest := sha256.Sum256([]byte(key))

	v.mu.Lock()
	_, ok := v.verified[digest]
	v.mu.Unlock()

	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword(v.hash, []byte(key)) != nil {
		return false
	}

	v.mu.Lock()
	v.verified[digest] = struct{}{}
	v.mu.Unlock()

	return true
}
