package auth

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is an authorization entry: identity Subject approves the
// invocation whose digest is Invocation, once, until ExpiresAt.
type Claims struct {
	Invocation string `json:"inv"`
	jwt.RegisteredClaims
}

// Sign issues an authorization entry for digest signed with key.
func Sign(identity string, key ed25519.PrivateKey, digest string, ttl time.Duration, now time.Time) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("identity is required")
	}
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid ed25519 private key length %d", len(key))
	}

	claims := &Claims{
		Invocation: digest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign entry: %w", err)
	}
	return signed, nil
}
