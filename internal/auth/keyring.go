package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/goodtune/accesstime/internal/config"
)

// Keyring maps identities to the Ed25519 keys that sign for them.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewKeyring builds a keyring from configured identities.
func NewKeyring(identities []config.IdentityConfig) (*Keyring, error) {
	k := &Keyring{keys: make(map[string]ed25519.PublicKey, len(identities))}
	for _, id := range identities {
		key, err := DecodePublicKey(id.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("identity %s: %w", id.ID, err)
		}
		k.keys[id.ID] = key
	}
	return k, nil
}

// Add registers or replaces the key of identity.
func (k *Keyring) Add(identity string, key ed25519.PublicKey) {
	k.mu.Lock()
	k.keys[identity] = key
	k.mu.Unlock()
}

// Lookup returns the key of identity.
func (k *Keyring) Lookup(identity string) (ed25519.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[identity]
	return key, ok
}

// Len returns the number of known identities.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// DecodePublicKey parses a standard base64 Ed25519 public key.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// DecodePrivateKey parses a standard base64 Ed25519 seed or full private key.
func DecodePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}
