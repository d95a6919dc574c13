package auth

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotAuthorized is returned when an identity did not authorize the call.
var ErrNotAuthorized = errors.New("auth: identity did not authorize this call")

// Authorizer answers whether an identity authorized the current call.
type Authorizer interface {
	RequireAuth(identity string) error
}

// Set is the capability handed to one call: the identities whose
// authorization was verified for it.
type Set struct {
	ids map[string]struct{}
}

// NewSet creates a Set holding ids.
func NewSet(ids ...string) *Set {
	s := &Set{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// RequireAuth fails unless identity is in the set.
func (s *Set) RequireAuth(identity string) error {
	if !s.Has(identity) {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, identity)
	}
	return nil
}

// Has reports whether identity is in the set.
func (s *Set) Has(identity string) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[identity]
	return ok
}

// Identities returns the members in sorted order.
func (s *Set) Identities() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Recorder grants every request and remembers which identities were asked
// for. Simulation uses it to discover the signers an invocation needs.
type Recorder struct {
	required []string
	seen     map[string]bool
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]bool)}
}

// RequireAuth records identity and always succeeds.
func (r *Recorder) RequireAuth(identity string) error {
	if !r.seen[identity] {
		r.seen[identity] = true
		r.required = append(r.required, identity)
	}
	return nil
}

// Required returns the recorded identities in the order first requested.
func (r *Recorder) Required() []string {
	out := make([]string, len(r.required))
	copy(out, r.required)
	return out
}
