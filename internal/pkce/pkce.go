// Package pkce implements the Proof Key for Code Exchange primitives
// (RFC 7636) used by the authorization code flow: random unreserved
// strings for the state and code verifier, and the S256 code challenge.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Unreserved is the RFC 3986 unreserved character set, which RFC 7636
// mandates for code verifiers.
const Unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

const (
	// StateLength is the length of generated state values.
	StateLength = 32
	// VerifierLength is the length of generated code verifiers
	// (RFC 7636 allows 43-128).
	VerifierLength = 64
)

// RandomString returns a string of n characters drawn uniformly from the
// unreserved alphabet, sourced from crypto/rand. Rejection sampling keeps
// the distribution uniform; len(Unreserved) is 66, so a straight modulo
// would skew toward the low end of the alphabet.
func RandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("pkce: length must be positive, got %d", n)
	}
	// Largest multiple of len(Unreserved) below 256.
	limit := byte(256 / len(Unreserved) * len(Unreserved))

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("pkce: read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, Unreserved[int(b)%len(Unreserved)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// State returns a random state value for one authorization request.
func State() (string, error) {
	return RandomString(StateLength)
}

// Verifier returns a random PKCE code verifier.
func Verifier() (string, error) {
	return RandomString(VerifierLength)
}

// CodeChallenge derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)) without padding. It is a pure function of
// its input.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
