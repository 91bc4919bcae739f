package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Length is the fixed size of an invitation token in characters.
// 48 random bytes encode to exactly 64 URL-safe base64 characters.
const Length = 64

const rawBytes = 48

// New generates a cryptographically random, URL-safe invitation token.
// Tokens act as bearer capabilities for invitation acceptance, so they come
// straight from crypto/rand and are never derived from entity attributes.
func New() (string, error) {
	b := make([]byte, rawBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Valid reports whether s has the shape of a token produced by New.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}
