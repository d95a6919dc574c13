package clock

import (
	"sync"
	"time"
)

// Clock provides the current time to the access engine.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock provides a settable time for testing.
type TestClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// NewTestClock returns a TestClock positioned at the given Unix second.
func NewTestClock(unix int64) *TestClock {
	return &TestClock{CurrentTime: time.Unix(unix, 0)}
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CurrentTime
}

// Set moves the clock to the given Unix second.
func (t *TestClock) Set(unix int64) {
	t.mu.Lock()
	t.CurrentTime = time.Unix(unix, 0)
	t.mu.Unlock()
}

// Advance moves the clock forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.mu.Lock()
	t.CurrentTime = t.CurrentTime.Add(d)
	t.mu.Unlock()
}

// Unix returns the clock reading as non-negative Unix seconds.
func Unix(c Clock) uint64 {
	sec := c.Now().Unix()
	if sec < 0 {
		return 0
	}
	return uint64(sec)
}
