package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/accesstime/internal/clock"
	"github.com/goodtune/accesstime/internal/config"
)

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestSetRequireAuth(t *testing.T) {
	set := NewSet("alice", "admin")

	if err := set.RequireAuth("alice"); err != nil {
		t.Errorf("expected alice authorized, got %v", err)
	}
	if err := set.RequireAuth("bob"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized for bob, got %v", err)
	}

	got := set.Identities()
	if len(got) != 2 || got[0] != "admin" || got[1] != "alice" {
		t.Errorf("unexpected identities: %v", got)
	}

	var empty *Set
	if empty.Has("alice") {
		t.Error("nil set should hold nobody")
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	for _, id := range []string{"owner", "admin", "owner"} {
		if err := r.RequireAuth(id); err != nil {
			t.Fatalf("recorder should never fail: %v", err)
		}
	}
	got := r.Required()
	if len(got) != 2 || got[0] != "owner" || got[1] != "admin" {
		t.Errorf("unexpected required identities: %v", got)
	}
}

func TestNewKeyring(t *testing.T) {
	pub, _ := newKey(t)

	keys, err := NewKeyring([]config.IdentityConfig{
		{ID: "alice", PublicKey: base64.StdEncoding.EncodeToString(pub)},
	})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	if got, ok := keys.Lookup("alice"); !ok || !got.Equal(pub) {
		t.Error("alice key not found")
	}

	_, err = NewKeyring([]config.IdentityConfig{{ID: "bad", PublicKey: "c2hvcnQ="}})
	if err == nil {
		t.Error("expected error for short public key")
	}
}

func TestDecodePrivateKey(t *testing.T) {
	_, priv := newKey(t)

	fromSeed, err := DecodePrivateKey(base64.StdEncoding.EncodeToString(priv.Seed()))
	if err != nil {
		t.Fatalf("decode seed: %v", err)
	}
	if !fromSeed.Equal(priv) {
		t.Error("seed decoded to a different key")
	}

	full, err := DecodePrivateKey(base64.StdEncoding.EncodeToString(priv))
	if err != nil {
		t.Fatalf("decode full key: %v", err)
	}
	if !full.Equal(priv) {
		t.Error("full key decoded to a different key")
	}
}

func TestVerifier(t *testing.T) {
	alicePub, alicePriv := newKey(t)
	adminPub, adminPriv := newKey(t)
	_, strangerPriv := newKey(t)

	keys, err := NewKeyring(nil)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	keys.Add("alice", alicePub)
	keys.Add("admin", adminPub)

	clk := clock.NewTestClock(1_700_000_000)
	ttl := 5 * time.Minute
	sign := func(id string, key ed25519.PrivateKey, digest string, ttl time.Duration) string {
		entry, err := Sign(id, key, digest, ttl, clk.Now())
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return entry
	}

	tests := []struct {
		name    string
		entries func() []string
		wantErr error
		wantIDs []string
	}{
		{
			name:    "single signer",
			entries: func() []string { return []string{sign("alice", alicePriv, "d1", ttl)} },
			wantIDs: []string{"alice"},
		},
		{
			name: "two signers",
			entries: func() []string {
				return []string{sign("alice", alicePriv, "d1", ttl), sign("admin", adminPriv, "d1", ttl)}
			},
			wantIDs: []string{"admin", "alice"},
		},
		{
			name:    "digest mismatch",
			entries: func() []string { return []string{sign("alice", alicePriv, "other", ttl)} },
			wantErr: ErrDigestMismatch,
		},
		{
			name:    "wrong key",
			entries: func() []string { return []string{sign("alice", strangerPriv, "d1", ttl)} },
			wantErr: ErrInvalidEntry,
		},
		{
			name:    "unknown identity",
			entries: func() []string { return []string{sign("mallory", strangerPriv, "d1", ttl)} },
			wantErr: ErrUnknownIdentity,
		},
		{
			name:    "lifetime too long",
			entries: func() []string { return []string{sign("alice", alicePriv, "d1", time.Hour)} },
			wantErr: ErrInvalidEntry,
		},
		{
			name:    "garbage",
			entries: func() []string { return []string{"not-a-jwt"} },
			wantErr: ErrInvalidEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(keys, clk, ttl, 100)
			set, _, err := v.Verify("d1", tt.entries())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			got := set.Identities()
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("expected %v, got %v", tt.wantIDs, got)
			}
			for i := range got {
				if got[i] != tt.wantIDs[i] {
					t.Errorf("expected %v, got %v", tt.wantIDs, got)
				}
			}
		})
	}
}

func TestVerifierExpiry(t *testing.T) {
	pub, priv := newKey(t)
	keys, _ := NewKeyring(nil)
	keys.Add("alice", pub)

	clk := clock.NewTestClock(1_700_000_000)
	v := NewVerifier(keys, clk, time.Minute, 10)

	entry, err := Sign("alice", priv, "d1", 30*time.Second, clk.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	clk.Advance(31 * time.Second)
	if _, _, err := v.Verify("d1", []string{entry}); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected expired entry to be rejected, got %v", err)
	}
}

func TestVerifierReplay(t *testing.T) {
	pub, priv := newKey(t)
	keys, _ := NewKeyring(nil)
	keys.Add("alice", pub)

	clk := clock.NewTestClock(1_700_000_000)
	v := NewVerifier(keys, clk, time.Minute, 10)

	entry, err := Sign("alice", priv, "d1", 30*time.Second, clk.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, consumed, err := v.Verify("d1", []string{entry})
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if len(consumed) != 1 || consumed[0].Subject != "alice" || consumed[0].ID == "" {
		t.Fatalf("unexpected consumed entries: %+v", consumed)
	}
	if want := clk.Now().Add(30 * time.Second); !consumed[0].ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %s, got %s", want, consumed[0].ExpiresAt)
	}

	// Verification alone consumes nothing.
	if _, _, err := v.Verify("d1", []string{entry}); err != nil {
		t.Fatalf("expected unconsumed entry to verify again, got %v", err)
	}

	v.Remember(consumed)
	if _, _, err := v.Verify("d1", []string{entry}); !errors.Is(err, ErrReplayed) {
		t.Fatalf("expected ErrReplayed after Remember, got %v", err)
	}

	other, err := Sign("alice", priv, "d2", 30*time.Second, clk.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := v.Verify("d2", []string{other, other}); !errors.Is(err, ErrReplayed) {
		t.Fatalf("expected duplicate entry in one batch to be rejected, got %v", err)
	}
}
