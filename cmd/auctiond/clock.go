package main

import (
	"time"

	"github.com/cloudx-io/blindauction/auction"
)

// TickerClock derives block heights from wall time: one block per interval
// since the clock started. Now is a pure computation, so the clock needs no
// goroutine and is safe for concurrent use.
type TickerClock struct {
	base     auction.BlockHeight
	start    time.Time
	interval time.Duration
}

// NewTickerClock starts counting blocks from base.
func NewTickerClock(base auction.BlockHeight, interval time.Duration) *TickerClock {
	return &TickerClock{
		base:     base,
		start:    time.Now(),
		interval: interval,
	}
}

// Now returns the current derived height.
func (c *TickerClock) Now() auction.BlockHeight {
	elapsed := time.Since(c.start)
	if elapsed < 0 {
		return c.base
	}
	return c.base + auction.BlockHeight(elapsed/c.interval)
}
