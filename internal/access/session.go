package access

import (
	"fmt"
	"math"

	"github.com/goodtune/accesstime/internal/storage"
)

// Access is the virtual expiry of an owner's session: the instant the
// balance runs out if the session keeps running, or zero while paused.
type Access struct {
	Owner     string `json:"owner"`
	ExpiresAt uint64 `json:"expires_at"`
}

// remainingAt projects the balance of s at now without materializing it.
func remainingAt(s storage.Session, now uint64) (uint32, error) {
	if !s.Running() {
		return s.RemainingSecs, nil
	}
	if now < s.StartedAt {
		return 0, fmt.Errorf("%w: now %d precedes started_at %d", ErrInvalidTimestamp, now, s.StartedAt)
	}
	return subSaturating(s.RemainingSecs, now-s.StartedAt), nil
}

// elapsedSince clamps to zero when the clock reads earlier than startedAt.
func elapsedSince(startedAt, now uint64) uint64 {
	if now <= startedAt {
		return 0
	}
	return now - startedAt
}

func subSaturating(a uint32, b uint64) uint32 {
	if b >= uint64(a) {
		return 0
	}
	return a - uint32(b)
}

func addSaturating(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}

func accessOf(owner string, s *storage.Session) Access {
	a := Access{Owner: owner}
	if s != nil && s.Running() {
		a.ExpiresAt = s.StartedAt + uint64(s.RemainingSecs)
		if a.ExpiresAt < s.StartedAt {
			a.ExpiresAt = math.MaxUint64
		}
	}
	return a
}
