package auction

import "errors"

// Engine errors. Every failed operation leaves ledger, tracker, and registry
// state untouched; callers discriminate with errors.Is. Provider errors pass
// through unchanged and are not re-declared here.
var (
	// ErrInvalidPrincipal means an operation named an empty or reserved
	// principal.
	ErrInvalidPrincipal = errors.New("auction: invalid principal")

	// ErrBiddingClosed means a bid arrived after the bid deadline.
	ErrBiddingClosed = errors.New("auction: bidding is closed")

	// ErrNotReady means the operation belongs to a later phase.
	ErrNotReady = errors.New("auction: not available in current phase")

	// ErrRevealClosed means a reveal arrived after the reveal deadline.
	ErrRevealClosed = errors.New("auction: reveal is closed")

	// ErrUnauthorized means the caller may not perform the operation.
	ErrUnauthorized = errors.New("auction: caller not authorized")

	// ErrAlreadyRevealed means every bid of the principal is already
	// revealed.
	ErrAlreadyRevealed = errors.New("auction: bid already revealed")

	// ErrAlreadyDecrypted means the handle's plaintext was already
	// delivered. Completed decryptions are final.
	ErrAlreadyDecrypted = errors.New("auction: handle already decrypted")

	// ErrDecryptPending means a decrypt request for the handle is still in
	// flight. At most one request per handle is outstanding.
	ErrDecryptPending = errors.New("auction: decrypt already pending")

	// ErrNoValidBids means settlement ran with no bid meeting the reserve.
	ErrNoValidBids = errors.New("auction: no valid bids")

	// ErrNotFound means the named bid, handle, or request does not exist.
	ErrNotFound = errors.New("auction: not found")

	// ErrNoRelayer means decrypt requests cannot be issued because the
	// engine was built without a relayer.
	ErrNoRelayer = errors.New("auction: no decrypt relayer configured")
)
