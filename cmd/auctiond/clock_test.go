package main

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/blindauction/auction"
)

func TestTickerClock_StartsAtBase(t *testing.T) {
	t.Parallel()

	clock := NewTickerClock(100, time.Hour)
	check.Equal(t, auction.BlockHeight(100), clock.Now())
}

func TestTickerClock_AdvancesWithElapsedTime(t *testing.T) {
	t.Parallel()

	clock := NewTickerClock(100, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	now := clock.Now()
	check.GreaterThanOrEqual(t, now, auction.BlockHeight(110))

	later := clock.Now()
	check.GreaterThanOrEqual(t, later, now)
}
