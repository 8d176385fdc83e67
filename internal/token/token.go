// Package token issues and verifies the bearer secrets used to claim escrow
// roles. Raw tokens are returned to the caller exactly once; only their SHA-256
// hash is ever persisted.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"
)

const rawBytes = 18

// New generates a URL-safe bearer token and its storable hash.
func New() (raw, hash string, err error) {
	buf := make([]byte, rawBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, Hash(raw), nil
}

// NewPublicID generates the short URL-safe identifier escrows are shared by.
// It is not secret, just unguessable enough to keep share links unenumerable.
func NewPublicID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Matches compares a presented raw token against a stored hash in constant
// time.
func Matches(raw, storedHash string) bool {
	if raw == "" || storedHash == "" {
		return false
	}
	presented := Hash(raw)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(storedHash)) == 1
}

// Expired reports whether an absolute expiry has passed. A nil expiry never
// expires.
func Expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && now.After(*expiresAt)
}
