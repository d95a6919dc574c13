package access

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/goodtune/accesstime/internal/storage"
)

func TestRemainingAt(t *testing.T) {
	tests := []struct {
		name    string
		session storage.Session
		now     uint64
		want    uint32
		wantErr bool
	}{
		{"paused", storage.Session{RemainingSecs: 60}, 5000, 60, false},
		{"running", storage.Session{StartedAt: 100, RemainingSecs: 60}, 130, 30, false},
		{"at start", storage.Session{StartedAt: 100, RemainingSecs: 60}, 100, 60, false},
		{"drained", storage.Session{StartedAt: 100, RemainingSecs: 60}, 160, 0, false},
		{"overdrawn", storage.Session{StartedAt: 100, RemainingSecs: 60}, math.MaxUint64, 0, false},
		{"before start", storage.Session{StartedAt: 100, RemainingSecs: 60}, 99, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := remainingAt(tt.session, tt.now)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTimestamp) {
					t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestSaturatingArithmetic(t *testing.T) {
	if got := addSaturating(math.MaxUint32-1, 10); got != math.MaxUint32 {
		t.Errorf("addSaturating overflow: got %d", got)
	}
	if got := addSaturating(1, 2); got != 3 {
		t.Errorf("addSaturating: got %d", got)
	}
	if got := subSaturating(5, 10); got != 0 {
		t.Errorf("subSaturating underflow: got %d", got)
	}
	if got := elapsedSince(100, 50); got != 0 {
		t.Errorf("elapsedSince regression: got %d", got)
	}
}

func TestAccessOf(t *testing.T) {
	if a := accessOf("o", nil); a.ExpiresAt != 0 || a.Owner != "o" {
		t.Errorf("missing session: %+v", a)
	}
	if a := accessOf("o", &storage.Session{RemainingSecs: 60}); a.ExpiresAt != 0 {
		t.Errorf("paused session should not expire: %+v", a)
	}
	if a := accessOf("o", &storage.Session{StartedAt: 100, RemainingSecs: 60}); a.ExpiresAt != 160 {
		t.Errorf("running session: %+v", a)
	}
	if a := accessOf("o", &storage.Session{StartedAt: math.MaxUint64 - 1, RemainingSecs: 60}); a.ExpiresAt != math.MaxUint64 {
		t.Errorf("expected saturated expiry, got %d", a.ExpiresAt)
	}
}

func TestInvocationDigest(t *testing.T) {
	base := Invocation{Op: OpBuyOrder, Owner: "alice", PackageID: 1}
	noisy := base
	noisy.Caller = "bob"
	noisy.OrderID = 7

	d1, err := base.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	d2, _ := noisy.Digest()
	if d1 != d2 {
		t.Error("arguments the operation ignores must not change the digest")
	}

	other := base
	other.PackageID = 2
	d3, _ := other.Digest()
	if d1 == d3 {
		t.Error("different packages must have different digests")
	}
	if len(d1) != 64 {
		t.Errorf("expected hex sha256, got %q", d1)
	}
}

func TestInvocationValidate(t *testing.T) {
	tests := []struct {
		name  string
		inv   Invocation
		valid bool
	}{
		{"init", Invocation{Op: OpInit, Admin: "a", TokenAsset: "XLM"}, true},
		{"init without token", Invocation{Op: OpInit, Admin: "a"}, false},
		{"set package", Invocation{Op: OpSetPackage, PackageID: 1}, true},
		{"grant without caller", Invocation{Op: OpGrant, Owner: "o"}, false},
		{"pause", Invocation{Op: OpPause, Owner: "o"}, true},
		{"empty", Invocation{}, false},
		{"unknown", Invocation{Op: "withdraw"}, false},
		{"owner with NUL", Invocation{Op: OpBuyOrder, Owner: "GALICE\x00x", PackageID: 1}, false},
		{"owner with newline", Invocation{Op: OpStart, Owner: "GALICE\nGBOB"}, false},
		{"caller with space", Invocation{Op: OpGrant, Caller: "G ADMIN", Owner: "o"}, false},
		{"asset not utf8", Invocation{Op: OpInit, Admin: "a", TokenAsset: "\xff"}, false},
		{"owner too long", Invocation{Op: OpPause, Owner: strings.Repeat("G", MaxIdentityLen+1)}, false},
		{"owner with colon and slash", Invocation{Op: OpPause, Owner: "acct:GALICE/1"}, true},
		{"unicode owner", Invocation{Op: OpPause, Owner: "Gälice"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.inv.Validate()
			if tt.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidInvocation) {
				t.Fatalf("expected ErrInvalidInvocation, got %v", err)
			}
		})
	}
}

func TestErrorKind(t *testing.T) {
	kind, ok := Kind(errors.Join(errors.New("context"), ErrNoBalance))
	if !ok || kind.Code != 11 || kind.Name != "NoBalance" {
		t.Errorf("unexpected kind %+v (%v)", kind, ok)
	}
	if _, ok := Kind(errors.New("plain")); ok {
		t.Error("plain errors have no kind")
	}
}
