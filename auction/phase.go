package auction

// Phase is the auction lifecycle position. It is never stored: every
// operation derives it from the clock at call time, so an auction moves
// through its phases without anyone driving a transition.
type Phase int

const (
	// PhaseBidding accepts sealed bids, through the bid deadline inclusive.
	PhaseBidding Phase = iota
	// PhaseReveal accepts reveals, through the reveal deadline inclusive.
	PhaseReveal
	// PhaseSettled accepts settlement; bids and reveals are over.
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseBidding:
		return "bidding"
	case PhaseReveal:
		return "reveal"
	case PhaseSettled:
		return "settled"
	}
	return "unknown"
}

// PhaseAt computes the phase at the given height. Deadlines are inclusive:
// a bid at exactly bidDeadline is in time, a reveal at exactly
// revealDeadline is in time.
func PhaseAt(now, bidDeadline, revealDeadline BlockHeight) Phase {
	switch {
	case now <= bidDeadline:
		return PhaseBidding
	case now <= revealDeadline:
		return PhaseReveal
	}
	return PhaseSettled
}
