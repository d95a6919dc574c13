package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goodtune/accesstime/internal/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrInvalidEntry is returned when an authorization entry fails verification.
	ErrInvalidEntry = errors.New("auth: invalid authorization entry")

	// ErrUnknownIdentity is returned when no key is configured for the signer.
	ErrUnknownIdentity = errors.New("auth: unknown identity")

	// ErrDigestMismatch is returned when an entry approves a different invocation.
	ErrDigestMismatch = errors.New("auth: entry does not match invocation")

	// ErrReplayed is returned when an entry was already consumed.
	ErrReplayed = errors.New("auth: authorization entry already used")
)

// Verifier checks authorization entries. The record of consumed entries
// lives in storage with the operation they authorized; the verifier only
// keeps a local cache of recently consumed ids to refuse obvious replays
// early.
type Verifier struct {
	keys   *Keyring
	clock  clock.Clock
	maxTTL time.Duration
	seen   *expirable.LRU[string, struct{}]
}

// Consumed identifies one verified entry, to be recorded as used when the
// operation it authorizes commits.
type Consumed struct {
	Subject   string
	ID        string
	Digest    string
	ExpiresAt time.Time
}

func (c Consumed) cacheKey() string {
	return c.Subject + "\x00" + c.ID
}

// NewVerifier creates a verifier. Entries must expire within maxTTL of
// verification. cacheSize bounds the local cache of consumed ids.
func NewVerifier(keys *Keyring, c clock.Clock, maxTTL time.Duration, cacheSize int) *Verifier {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Verifier{
		keys:   keys,
		clock:  c,
		maxTTL: maxTTL,
		seen:   expirable.NewLRU[string, struct{}](cacheSize, nil, maxTTL),
	}
}

// SetClock overrides the time source used for expiry checks.
func (v *Verifier) SetClock(c clock.Clock) {
	v.clock = c
}

// Parse verifies one entry's signature and lifetime and returns its claims.
func (v *Verifier) Parse(entry string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(entry, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
		}
		key, ok := v.keys.Lookup(claims.Subject)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIdentity, claims.Subject)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, ErrUnknownIdentity) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidEntry
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidEntry)
	}
	if claims.ExpiresAt.Time.After(v.clock.Now().Add(v.maxTTL)) {
		return nil, fmt.Errorf("%w: expiry beyond %s", ErrInvalidEntry, v.maxTTL)
	}
	return claims, nil
}

// Verify checks every entry against digest and returns the signers with
// the entries to record as consumed. It does not consume anything itself.
func (v *Verifier) Verify(digest string, entries []string) (*Set, []Consumed, error) {
	consumed := make([]Consumed, 0, len(entries))
	subjects := make([]string, 0, len(entries))
	batch := make(map[string]bool, len(entries))
	for i, entry := range entries {
		claims, err := v.Parse(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if claims.Invocation != digest {
			return nil, nil, fmt.Errorf("entry %d (%s): %w", i, claims.Subject, ErrDigestMismatch)
		}

		c := Consumed{
			Subject:   claims.Subject,
			ID:        claims.ID,
			Digest:    claims.Invocation,
			ExpiresAt: claims.ExpiresAt.Time,
		}
		if batch[c.cacheKey()] || v.seen.Contains(c.cacheKey()) {
			return nil, nil, fmt.Errorf("entry %d (%s): %w", i, claims.Subject, ErrReplayed)
		}
		batch[c.cacheKey()] = true
		consumed = append(consumed, c)
		subjects = append(subjects, claims.Subject)
	}
	return NewSet(subjects...), consumed, nil
}

// Remember caches entries whose operation committed.
func (v *Verifier) Remember(consumed []Consumed) {
	for _, c := range consumed {
		v.seen.Add(c.cacheKey(), struct{}{})
	}
}
