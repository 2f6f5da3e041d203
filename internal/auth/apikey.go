package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// API key format: <prefix>_<secret> where prefix is pr_live_XXXXXX or
// pr_test_XXXXXX. The prefix is stored in clear for lookup; the full key is
// stored only as a bcrypt digest.

const (
	keyPrefixLive = "pr_live_"
	keyPrefixTest = "pr_test_"

	prefixRandLen = 6  // hex chars in the lookup prefix
	secretRandLen = 24 // hex chars in the secret part
)

// ErrMalformedKey is returned for keys that don't match the expected format.
var ErrMalformedKey = errors.New("malformed API key")

// GenerateAPIKey mints a new API key. live selects the pr_live_ prefix,
// otherwise pr_test_. Returns the plaintext key, its lookup prefix and the
// bcrypt digest to store.
func GenerateAPIKey(live bool) (plaintext, prefix, digest string, err error) {
	head := keyPrefixTest
	if live {
		head = keyPrefixLive
	}

	prefix = head + randomHex(prefixRandLen)
	plaintext = prefix + randomHex(secretRandLen)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hashing API key: %w", err)
	}
	return plaintext, prefix, string(hash), nil
}

// KeyPrefix extracts the lookup prefix from a presented key.
func KeyPrefix(key string) (string, error) {
	if !strings.HasPrefix(key, keyPrefixLive) && !strings.HasPrefix(key, keyPrefixTest) {
		return "", ErrMalformedKey
	}
	// pr_live_ or pr_test_ plus the prefix random part
	want := len(keyPrefixLive) + prefixRandLen
	if len(key) <= want {
		return "", ErrMalformedKey
	}
	return key[:want], nil
}

// VerifyAPIKey checks a presented key against a stored digest.
func VerifyAPIKey(digest, presented string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(presented)) == nil
}

// HashPassword hashes an admin password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies an admin password against its stored digest.
func CheckPassword(digest, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the host is broken beyond key minting
		panic(err)
	}
	return hex.EncodeToString(buf)[:n]
}
