package auction

import (
	"fmt"
	"math"

	"github.com/cloudx-io/blindauction/oblivious"
)

// noWinnerIndex is the sentinel folded as the encrypted winner index when
// no bid meets the reserve. Real indices are ledger positions, so the
// maximum 64-bit value cannot collide with one.
const noWinnerIndex = math.MaxUint64

// Settlement is the outcome of a settled auction. The winner's identity
// and ledger position are disclosed; the winning amount stays behind its
// handle until someone with permission decrypts it.
type Settlement struct {
	Winner        oblivious.Principal
	WinnerIndex   BidIndex
	WinningHandle oblivious.Handle
	BidCount      int
	SettledAt     BlockHeight
}

// runSettlement determines the winner obliviously. It folds every bid in
// ledger order against a reserve-seeded maximum, carrying the winner's
// index as an encrypted value alongside, then decrypts that single index
// as self. No comparison result and no intermediate winner is ever
// revealed; ties go to the latest bid.
func runSettlement(provider oblivious.Provider, w oblivious.Width, reserve uint64, bids []Bid, self oblivious.Principal) (BidIndex, oblivious.Handle, error) {
	max, err := provider.Encrypt(reserve, w)
	if err != nil {
		return 0, oblivious.Handle{}, fmt.Errorf("seed settlement maximum: %w", err)
	}
	winIdx, err := provider.Encrypt(noWinnerIndex, oblivious.Width64)
	if err != nil {
		return 0, oblivious.Handle{}, fmt.Errorf("seed winner index: %w", err)
	}

	for i, bid := range bids {
		isGE, err := provider.CompareGE(bid.Handle, max)
		if err != nil {
			return 0, oblivious.Handle{}, fmt.Errorf("compare bid %d: %w", i, err)
		}
		max, err = provider.Select(isGE, bid.Handle, max)
		if err != nil {
			return 0, oblivious.Handle{}, fmt.Errorf("select maximum at bid %d: %w", i, err)
		}
		idx, err := provider.Encrypt(uint64(i), oblivious.Width64)
		if err != nil {
			return 0, oblivious.Handle{}, fmt.Errorf("encrypt index %d: %w", i, err)
		}
		winIdx, err = provider.Select(isGE, idx, winIdx)
		if err != nil {
			return 0, oblivious.Handle{}, fmt.Errorf("select winner index at bid %d: %w", i, err)
		}
	}

	// The fold's only decryption: the final winner index.
	if err := provider.Grant(winIdx, self); err != nil {
		return 0, oblivious.Handle{}, fmt.Errorf("grant winner index: %w", err)
	}
	raw, err := provider.Decrypt(winIdx, self)
	if err != nil {
		return 0, oblivious.Handle{}, fmt.Errorf("decrypt winner index: %w", err)
	}
	if raw == noWinnerIndex {
		return 0, oblivious.Handle{}, ErrNoValidBids
	}
	if raw >= uint64(len(bids)) {
		return 0, oblivious.Handle{}, fmt.Errorf("winner index %d out of range", raw)
	}
	return BidIndex(raw), max, nil
}
