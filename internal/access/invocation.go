package access

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIdentityLen bounds identities and asset names in bytes.
const MaxIdentityLen = 256

// Mutating operations.
const (
	OpInit       = "init"
	OpSetPackage = "set_package"
	OpBuyOrder   = "buy_order"
	OpGrant      = "grant"
	OpStart      = "start"
	OpPause      = "pause"
)

// Invocation is a self-describing request for one mutating operation. It is
// what a client prepares, a signer approves and anyone may submit.
type Invocation struct {
	Op           string `json:"op"`
	Admin        string `json:"admin"`
	TokenAsset   string `json:"token_asset"`
	Caller       string `json:"caller"`
	Owner        string `json:"owner"`
	PackageID    uint32 `json:"package_id"`
	Price        int64  `json:"price"`
	DurationSecs uint32 `json:"duration_secs"`
	OrderID      uint64 `json:"order_id"`
}

// Validate checks that the operation is known and its identities are set.
func (inv Invocation) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidInvocation, inv.Op, field)
	}

	switch inv.Op {
	case OpInit:
		if inv.Admin == "" {
			return missing("admin")
		}
		if inv.TokenAsset == "" {
			return missing("token_asset")
		}
	case OpSetPackage:
	case OpBuyOrder, OpStart, OpPause:
		if inv.Owner == "" {
			return missing("owner")
		}
	case OpGrant:
		if inv.Caller == "" {
			return missing("caller")
		}
		if inv.Owner == "" {
			return missing("owner")
		}
	case "":
		return fmt.Errorf("%w: op is required", ErrInvalidInvocation)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidInvocation, inv.Op)
	}

	for _, f := range []struct{ name, value string }{
		{"admin", inv.Admin},
		{"token_asset", inv.TokenAsset},
		{"caller", inv.Caller},
		{"owner", inv.Owner},
	} {
		if f.value == "" {
			continue
		}
		if err := ValidateIdentity(f.value); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidInvocation, f.name, err)
		}
	}
	return nil
}

// ValidateIdentity rejects names that storage keys cannot carry safely:
// invalid UTF-8, control or space characters, and overlong names.
func ValidateIdentity(id string) error {
	if len(id) > MaxIdentityLen {
		return fmt.Errorf("identity longer than %d bytes", MaxIdentityLen)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("identity %q is not valid UTF-8", id)
	}
	if i := strings.IndexFunc(id, func(r rune) bool {
		return unicode.IsControl(r) || unicode.IsSpace(r)
	}); i >= 0 {
		return fmt.Errorf("identity %q contains a control or space character at byte %d", id, i)
	}
	return nil
}

// canonical keeps only the arguments op consumes, so that two invocations
// with the same effect share a digest.
func (inv Invocation) canonical() Invocation {
	c := Invocation{Op: inv.Op}
	switch inv.Op {
	case OpInit:
		c.Admin, c.TokenAsset = inv.Admin, inv.TokenAsset
	case OpSetPackage:
		c.PackageID, c.Price, c.DurationSecs = inv.PackageID, inv.Price, inv.DurationSecs
	case OpBuyOrder:
		c.Owner, c.PackageID = inv.Owner, inv.PackageID
	case OpGrant:
		c.Caller, c.Owner, c.OrderID = inv.Caller, inv.Owner, inv.OrderID
	case OpStart, OpPause:
		c.Owner = inv.Owner
	}
	return c
}

// Digest is the hex SHA-256 of the canonical JSON encoding. Authorization
// entries approve exactly one digest.
func (inv Invocation) Digest() (string, error) {
	data, err := json.Marshal(inv.canonical())
	if err != nil {
		return "", fmt.Errorf("encode invocation: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
