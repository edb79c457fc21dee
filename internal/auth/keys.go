package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks docsync API keys so they are recognizable in
	// config files and logs.
	APIKeyPrefix = "ds_"

	// apiKeyBytes is the random part of a generated key.
	apiKeyBytes = 32

	// APIKeyMinLen is the shortest key accepted: the prefix plus 16
	// random bytes, hex encoded.
	APIKeyMinLen = len(APIKeyPrefix) + 32
)

// APIKey is a configured key: the owning user and the bcrypt hash of the
// key. Plain keys are never stored.
type APIKey struct {
	UserID string
	Hash   []byte
}

// KeyStore validates presented API keys against configured hashes.
// bcrypt is deliberately slow, so keys that verified once are remembered
// by their SHA-256 digest.
type KeyStore struct {
	keys []APIKey

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// NewKeyStore creates a store for the given keys.
func NewKeyStore(keys []APIKey) *KeyStore {
	return &KeyStore{
		keys:     keys,
		verified: make(map[[sha256.Size]byte]string),
	}
}

// Len returns the number of configured keys.
func (s *KeyStore) Len() int {
	return len(s.keys)
}

// Validate returns the user owning key, or false when no configured hash
// matches.
func (s *KeyStore) Validate(key string) (string, bool) {
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) < APIKeyMinLen {
		return "", false
	}

	digest := sha256.Sum256([]byte(key))

	s.mu.RLock()
	user, ok := s.verified[digest]
	s.mu.RUnlock()

	if ok {
		return user, true
	}

	for _, k := range s.keys {
		if bcrypt.CompareHashAndPassword(k.Hash, []byte(key)) == nil {
			s.mu.Lock()
			s.verified[digest] = k.UserID
			s.mu.Unlock()

			return k.UserID, true
		}
	}

	return "", false
}

// GenerateAPIKey returns a new random key and its bcrypt hash.
func GenerateAPIKey() (key, hash string, err error) {
	key = APIKeyPrefix + RandomHex(apiKeyBytes)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing key: %w", err)
	}

	return key, string(h), nil
}

// ValidateHash reports whether s is a usable bcrypt hash.
func ValidateHash(s string) error {
	if _, err := bcrypt.Cost([]byte(s)); err != nil {
		return fmt.Errorf("invalid bcrypt hash: %w", err)
	}

	return nil
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
