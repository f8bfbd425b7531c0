package auction

import "sync"

// BlockHeight counts blocks on the host chain. Phase boundaries and grant
// expiries are expressed as heights, never wall-clock time.
type BlockHeight uint64

// Clock reports the current block height. Implementations must be safe for
// concurrent use.
type Clock interface {
	Now() BlockHeight
}

// ManualClock is a Clock advanced by hand, for tests and deterministic
// local runs.
type ManualClock struct {
	mu     sync.Mutex
	height BlockHeight
}

// NewManualClock starts a manual clock at the given height.
func NewManualClock(start BlockHeight) *ManualClock {
	return &ManualClock{height: start}
}

// Now returns the current height.
func (c *ManualClock) Now() BlockHeight {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Advance moves the clock forward by delta blocks.
func (c *ManualClock) Advance(delta BlockHeight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += delta
}

// Set jumps the clock to an absolute height.
func (c *ManualClock) Set(height BlockHeight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = height
}
