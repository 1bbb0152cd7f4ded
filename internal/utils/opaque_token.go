package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// OpaqueToken is a random bearer value shown to its owner once. Only Digest is stored.
type OpaqueToken struct {
	Raw    string
	Digest string
}

func NewOpaqueToken(size int) (OpaqueToken, error) {
	raw, err := RandomString(size)
	if err != nil {
		return OpaqueToken{}, err
	}
	return OpaqueToken{Raw: raw, Digest: DigestToken(raw)}, nil
}

// RandomString returns size random bytes, base64url encoded without padding.
func RandomString(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("random string size must be positive, got %d", size)
	}
	buffer := make([]byte, size)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// DigestToken is the lookup key kept in place of a raw token. Surrounding whitespace from
// a pasted value does not change it.
func DigestToken(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
