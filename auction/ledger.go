package auction

import (
	"fmt"

	"github.com/cloudx-io/blindauction/oblivious"
)

// BidIndex is a bid's position in submission order.
type BidIndex int

// Bid is one ledger entry: who bid, the opaque handle of the amount, and
// when it arrived. The amount itself never appears in the ledger.
type Bid struct {
	Principal   oblivious.Principal
	Handle      oblivious.Handle
	SubmittedAt BlockHeight
	Revealed    bool
}

// Ledger is the append-only bid record. A principal may appear any number
// of times; each submission is its own entry. The ledger is not safe for
// concurrent use on its own; the engine serializes access.
type Ledger struct {
	bids []Bid
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append records a bid and returns its index.
func (l *Ledger) Append(principal oblivious.Principal, handle oblivious.Handle, at BlockHeight) BidIndex {
	l.bids = append(l.bids, Bid{
		Principal:   principal,
		Handle:      handle,
		SubmittedAt: at,
	})
	return BidIndex(len(l.bids) - 1)
}

// NextUnrevealed finds the principal's most recent unrevealed bid without
// changing it. ErrNotFound when the principal never bid, ErrAlreadyRevealed
// when every bid of theirs is already revealed.
func (l *Ledger) NextUnrevealed(principal oblivious.Principal) (BidIndex, error) {
	found := false
	for i := len(l.bids) - 1; i >= 0; i-- {
		if l.bids[i].Principal != principal {
			continue
		}
		found = true
		if !l.bids[i].Revealed {
			return BidIndex(i), nil
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: no bid from %s", ErrNotFound, principal)
	}
	return 0, fmt.Errorf("%w: %s", ErrAlreadyRevealed, principal)
}

// MarkRevealed flags the bid at index as revealed.
func (l *Ledger) MarkRevealed(index BidIndex) {
	if index >= 0 && int(index) < len(l.bids) {
		l.bids[index].Revealed = true
	}
}

// Reveal marks the principal's most recent unrevealed bid as revealed and
// returns its index.
func (l *Ledger) Reveal(principal oblivious.Principal) (BidIndex, error) {
	index, err := l.NextUnrevealed(principal)
	if err != nil {
		return 0, err
	}
	l.MarkRevealed(index)
	return index, nil
}

// Count reports the number of bids.
func (l *Ledger) Count() int {
	return len(l.bids)
}

// At returns the bid at index.
func (l *Ledger) At(index BidIndex) (Bid, bool) {
	if index < 0 || int(index) >= len(l.bids) {
		return Bid{}, false
	}
	return l.bids[index], true
}

// ByPrincipal returns copies of the principal's bids in submission order.
func (l *Ledger) ByPrincipal(principal oblivious.Principal) []Bid {
	var out []Bid
	for _, b := range l.bids {
		if b.Principal == principal {
			out = append(out, b)
		}
	}
	return out
}

// Snapshot returns a copy of the full ledger in submission order.
func (l *Ledger) Snapshot() []Bid {
	out := make([]Bid, len(l.bids))
	copy(out, l.bids)
	return out
}
