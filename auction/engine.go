// Package auction implements a confidential sealed-bid auction over opaque
// value handles. Bid amounts live behind an oblivious.Provider; the engine
// tracks the running maximum and determines the winner without ever
// branching on a plaintext. Phases are derived from a block-height clock,
// decryption rights flow through an explicit capability registry, and the
// winning amount is disclosed only to whoever earns a grant on it.
package auction

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudx-io/blindauction/oblivious"
)

// Config assembles an Engine for a single auction.
type Config struct {
	AuctionID string
	Seller    oblivious.Principal
	// Width is the bit width of bid values.
	Width oblivious.Width
	// Reserve is the minimum winning value in minor units. The fold starts
	// from it, so a winner always meets or exceeds it.
	Reserve uint64
	// BidDeadline is the last height at which bids are accepted.
	BidDeadline BlockHeight
	// RevealDeadline is the last height at which reveals are accepted.
	// Settlement opens beyond it.
	RevealDeadline BlockHeight

	Provider oblivious.Provider
	Clock    Clock
	// Relayer is optional; decrypt requests fail with ErrNoRelayer when
	// absent.
	Relayer Relayer
	// Recorder is optional; when set, every state change is journaled
	// before it commits.
	Recorder Recorder
	// Logger is optional; a nop logger is used when nil.
	Logger *zap.Logger
}

// Engine runs one auction. All operations are synchronous state
// transitions guarded by a single lock; a failed operation leaves every
// piece of engine state untouched.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	log *zap.Logger

	self     oblivious.Principal
	registry *Registry
	ledger   *Ledger
	tracker  *MaxTracker
	decrypts *decryptTable

	// granted mirrors the provider-level decrypt permissions this engine
	// has issued, keyed by handle. The provider cannot be queried for its
	// ACLs, so the engine keeps its own record for authorization checks.
	granted map[oblivious.Handle]map[oblivious.Principal]struct{}

	settlement *Settlement
}

// NewEngine validates the configuration, seeds the running maximum with
// the reserve price, and grants the seed to the engine and the seller.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.AuctionID == "" {
		return nil, fmt.Errorf("auction id is required")
	}
	if cfg.Seller == "" {
		return nil, fmt.Errorf("%w: seller is required", ErrInvalidPrincipal)
	}
	if !cfg.Width.Valid() {
		return nil, fmt.Errorf("unsupported width %d", cfg.Width)
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.BidDeadline >= cfg.RevealDeadline {
		return nil, fmt.Errorf("bid deadline %d must precede reveal deadline %d", cfg.BidDeadline, cfg.RevealDeadline)
	}
	if cfg.Reserve > cfg.Width.Mask() {
		return nil, fmt.Errorf("reserve %d exceeds %s range", cfg.Reserve, cfg.Width)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		cfg:      cfg,
		log:      log,
		self:     oblivious.Principal("engine:" + cfg.AuctionID),
		registry: NewRegistry(),
		ledger:   NewLedger(),
		decrypts: newDecryptTable(),
		granted:  make(map[oblivious.Handle]map[oblivious.Principal]struct{}),
	}

	tracker, err := NewMaxTracker(cfg.Provider, cfg.Width, cfg.Reserve)
	if err != nil {
		return nil, err
	}
	e.tracker = tracker

	if err := e.grantAt(tracker.Current(), e.self, cfg.Seller); err != nil {
		return nil, err
	}

	log.Info("auction engine initialized",
		zap.String("auction_id", cfg.AuctionID),
		zap.String("seller", string(cfg.Seller)),
		zap.Uint64("bid_deadline", uint64(cfg.BidDeadline)),
		zap.Uint64("reveal_deadline", uint64(cfg.RevealDeadline)),
		zap.String("width", cfg.Width.String()))
	return e, nil
}

// Self returns the engine's own principal, the identity it decrypts the
// settlement index under.
func (e *Engine) Self() oblivious.Principal {
	return e.self
}

// AuctionID returns the auction identifier.
func (e *Engine) AuctionID() string {
	return e.cfg.AuctionID
}

// SubmitBid ingests a sealed bid during the bidding phase, appends it to
// the ledger, and folds it into the encrypted running maximum. The bid
// handle is granted to the submitter and the engine; the new maximum to
// the engine and the seller. Provider failures, including ErrInvalidProof,
// surface unchanged and leave the ledger untouched.
func (e *Engine) SubmitBid(principal oblivious.Principal, ciphertext, proof []byte) (BidIndex, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if principal == "" || principal == e.self {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrincipal, principal)
	}
	now := e.cfg.Clock.Now()
	if phase := e.phaseAt(now); phase != PhaseBidding {
		return 0, fmt.Errorf("%w: height %d is in %s phase", ErrBiddingClosed, now, phase)
	}

	handle, err := e.cfg.Provider.Ingest(ciphertext, proof, e.cfg.Width)
	if err != nil {
		return 0, err
	}
	if err := e.grantAt(handle, principal, e.self); err != nil {
		return 0, err
	}

	newMax, err := e.tracker.Fold(handle)
	if err != nil {
		return 0, err
	}
	if err := e.grantAt(newMax, e.self, e.cfg.Seller); err != nil {
		return 0, err
	}

	index := BidIndex(e.ledger.Count())
	if err := e.emit(&Event{
		Kind:      EventBidSubmitted,
		Height:    now,
		Principal: principal,
		BidIndex:  int(index),
		Handle:    handle.Token(),
	}); err != nil {
		return 0, err
	}

	e.ledger.Append(principal, handle, now)
	e.tracker.Commit(newMax)

	e.log.Info("bid submitted",
		zap.String("principal", string(principal)),
		zap.Int("bid_index", int(index)),
		zap.String("handle", handle.Token()),
		zap.Uint64("height", uint64(now)))
	return index, nil
}

// RevealBid marks the principal's most recent unrevealed bid as revealed.
// Reveals are only accepted during the reveal phase: ErrNotReady while
// bidding is open, ErrRevealClosed after the reveal deadline.
func (e *Engine) RevealBid(principal oblivious.Principal) (BidIndex, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if principal == "" {
		return 0, fmt.Errorf("%w: empty principal", ErrInvalidPrincipal)
	}
	now := e.cfg.Clock.Now()
	switch e.phaseAt(now) {
	case PhaseBidding:
		return 0, fmt.Errorf("%w: reveal opens after height %d", ErrNotReady, e.cfg.BidDeadline)
	case PhaseSettled:
		return 0, fmt.Errorf("%w: reveal ended at height %d", ErrRevealClosed, e.cfg.RevealDeadline)
	}

	index, err := e.ledger.NextUnrevealed(principal)
	if err != nil {
		return 0, err
	}
	if err := e.emit(&Event{
		Kind:      EventBidRevealed,
		Height:    now,
		Principal: principal,
		BidIndex:  int(index),
	}); err != nil {
		return 0, err
	}

	e.ledger.MarkRevealed(index)

	e.log.Info("bid revealed",
		zap.String("principal", string(principal)),
		zap.Int("bid_index", int(index)),
		zap.Uint64("height", uint64(now)))
	return index, nil
}

// Settle determines the winner once the reveal deadline has passed. Only
// the seller may settle. The fold walks every ledger entry obliviously and
// decrypts exactly one value, the encrypted winner index; the winning
// amount handle is granted to the seller but never decrypted here.
// Settlement is idempotent: repeat calls return the memoized result.
func (e *Engine) Settle(caller oblivious.Principal) (Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.Seller {
		return Settlement{}, fmt.Errorf("%w: only the seller settles", ErrUnauthorized)
	}
	now := e.cfg.Clock.Now()
	if phase := e.phaseAt(now); phase != PhaseSettled {
		return Settlement{}, fmt.Errorf("%w: settlement opens after height %d", ErrNotReady, e.cfg.RevealDeadline)
	}
	if e.settlement != nil {
		return *e.settlement, nil
	}

	bids := e.ledger.Snapshot()
	index, winning, err := runSettlement(e.cfg.Provider, e.cfg.Width, e.cfg.Reserve, bids, e.self)
	if err != nil {
		return Settlement{}, err
	}
	if err := e.grantAt(winning, e.self, e.cfg.Seller); err != nil {
		return Settlement{}, err
	}

	winner := bids[index].Principal
	if err := e.emit(&Event{
		Kind:      EventSettled,
		Height:    now,
		Principal: winner,
		BidIndex:  int(index),
		Handle:    winning.Token(),
	}); err != nil {
		return Settlement{}, err
	}

	e.settlement = &Settlement{
		Winner:        winner,
		WinnerIndex:   index,
		WinningHandle: winning,
		BidCount:      len(bids),
		SettledAt:     now,
	}

	e.log.Info("auction settled",
		zap.String("winner", string(winner)),
		zap.Int("winner_index", int(index)),
		zap.Int("bid_count", len(bids)),
		zap.String("winning_handle", winning.Token()),
		zap.Uint64("height", uint64(now)))
	return *e.settlement, nil
}

// GrantDecrypt grants the grantee decrypt permission on a handle the owner
// can already decrypt, and records the capability. A nil expiresAt makes
// the capability permanent; re-granting for the same (owner, grantee) pair
// replaces the previous capability entirely.
func (e *Engine) GrantDecrypt(owner, grantee oblivious.Principal, handle oblivious.Handle, expiresAt *BlockHeight) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if owner == "" || grantee == "" {
		return fmt.Errorf("%w: owner and grantee are required", ErrInvalidPrincipal)
	}
	if !e.mayDecrypt(owner, handle) {
		return fmt.Errorf("%w: %s holds no decrypt permission on %s", ErrUnauthorized, owner, handle.Token())
	}

	if err := e.cfg.Provider.Grant(handle, grantee); err != nil {
		return err
	}

	now := e.cfg.Clock.Now()
	if err := e.emit(&Event{
		Kind:      EventDecryptGranted,
		Height:    now,
		Principal: owner,
		Grantee:   grantee,
		BidIndex:  -1,
		Handle:    handle.Token(),
	}); err != nil {
		return err
	}

	e.recordGrant(handle, grantee)
	e.registry.Grant(CapabilityGrant{
		Owner:     owner,
		Grantee:   grantee,
		Handle:    handle,
		GrantedAt: now,
		ExpiresAt: expiresAt,
	})

	e.log.Info("decrypt granted",
		zap.String("owner", string(owner)),
		zap.String("grantee", string(grantee)),
		zap.String("handle", handle.Token()),
		zap.Uint64p("expires_at", (*uint64)(expiresAt)))
	return nil
}

// IsAuthorized reports whether an unexpired capability from owner to
// grantee exists at the current height. Unknown pairs are false, never an
// error.
func (e *Engine) IsAuthorized(owner, grantee oblivious.Principal) bool {
	return e.registry.IsAuthorized(owner, grantee, e.cfg.Clock.Now())
}

// GrantOf returns the live capability record for the pair.
func (e *Engine) GrantOf(owner, grantee oblivious.Principal) (CapabilityGrant, bool) {
	return e.registry.Lookup(owner, grantee)
}

// DecryptRequest starts an asynchronous decrypt of the handle on behalf of
// the requester. The requester must hold provider-level decrypt permission
// issued through this engine. At most one request per handle may be
// outstanding, and a handle decrypts at most once, ever.
func (e *Engine) DecryptRequest(handle oblivious.Handle, requester oblivious.Principal) (DecryptRequestID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if requester == "" {
		return "", fmt.Errorf("%w: empty requester", ErrInvalidPrincipal)
	}
	if e.cfg.Relayer == nil {
		return "", ErrNoRelayer
	}
	if !e.mayDecrypt(requester, handle) {
		return "", fmt.Errorf("%w: %s on %s", oblivious.ErrPermissionDenied, requester, handle.Token())
	}
	if err := e.decrypts.check(handle); err != nil {
		return "", err
	}

	req := DecryptRequest{
		ID:        DecryptRequestID(uuid.NewString()),
		Handle:    handle,
		Requester: requester,
	}
	if err := e.cfg.Relayer.RequestDecrypt(req); err != nil {
		return "", fmt.Errorf("relayer rejected decrypt request: %w", err)
	}
	if err := e.emit(&Event{
		Kind:      EventDecryptRequested,
		Height:    e.cfg.Clock.Now(),
		Principal: requester,
		BidIndex:  -1,
		Handle:    handle.Token(),
		RequestID: string(req.ID),
	}); err != nil {
		return "", err
	}

	e.decrypts.begin(req)

	e.log.Info("decrypt requested",
		zap.String("request_id", string(req.ID)),
		zap.String("handle", handle.Token()),
		zap.String("requester", string(requester)))
	return req.ID, nil
}

// DecryptCallback delivers a relayer decrypt result. Exactly one callback
// per handle succeeds: ErrNotFound without a pending request,
// ErrAlreadyDecrypted once a plaintext has been delivered.
func (e *Engine) DecryptCallback(handle oblivious.Handle, plaintext uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := e.decrypts.lookup(handle)
	if err != nil {
		return err
	}
	if err := e.emit(&Event{
		Kind:      EventDecryptCompleted,
		Height:    e.cfg.Clock.Now(),
		Principal: req.Requester,
		BidIndex:  -1,
		Handle:    handle.Token(),
		RequestID: string(req.ID),
	}); err != nil {
		return err
	}

	e.decrypts.complete(handle, plaintext)

	e.log.Info("decrypt completed",
		zap.String("request_id", string(req.ID)),
		zap.String("handle", handle.Token()),
		zap.String("requester", string(req.Requester)))
	return nil
}

// DecryptedPlaintext returns the plaintext delivered for the handle, if
// its decryption has completed.
func (e *Engine) DecryptedPlaintext(handle oblivious.Handle) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decrypts.plaintext(handle)
}

// Phase returns the phase at the current height.
func (e *Engine) Phase() Phase {
	return e.phaseAt(e.cfg.Clock.Now())
}

// Height returns the current height.
func (e *Engine) Height() BlockHeight {
	return e.cfg.Clock.Now()
}

// CurrentMax returns the handle of the encrypted running maximum.
func (e *Engine) CurrentMax() oblivious.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Current()
}

// BidCount reports the number of ledger entries.
func (e *Engine) BidCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Count()
}

// Bids returns a copy of the ledger in submission order.
func (e *Engine) Bids() []Bid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot()
}

// BidsOf returns copies of the principal's bids in submission order.
func (e *Engine) BidsOf(principal oblivious.Principal) []Bid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.ByPrincipal(principal)
}

// BidAt returns the ledger entry at index.
func (e *Engine) BidAt(index BidIndex) (Bid, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.At(index)
}

// SettlementResult returns the memoized settlement, if the auction has
// settled.
func (e *Engine) SettlementResult() (Settlement, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settlement == nil {
		return Settlement{}, false
	}
	return *e.settlement, true
}

func (e *Engine) phaseAt(now BlockHeight) Phase {
	return PhaseAt(now, e.cfg.BidDeadline, e.cfg.RevealDeadline)
}

// mayDecrypt reports whether the engine has issued provider-level decrypt
// permission on the handle to the principal. The engine itself may always
// decrypt what it granted itself.
func (e *Engine) mayDecrypt(principal oblivious.Principal, handle oblivious.Handle) bool {
	_, ok := e.granted[handle][principal]
	return ok
}

// grantAt issues provider grants for each principal and mirrors them in
// the engine's record.
func (e *Engine) grantAt(handle oblivious.Handle, principals ...oblivious.Principal) error {
	for _, p := range principals {
		if err := e.cfg.Provider.Grant(handle, p); err != nil {
			return fmt.Errorf("grant %s on %s: %w", p, handle.Token(), err)
		}
	}
	for _, p := range principals {
		e.recordGrant(handle, p)
	}
	return nil
}

func (e *Engine) recordGrant(handle oblivious.Handle, principal oblivious.Principal) {
	acl, ok := e.granted[handle]
	if !ok {
		acl = make(map[oblivious.Principal]struct{})
		e.granted[handle] = acl
	}
	acl[principal] = struct{}{}
}

// emit journals an event ahead of the state change it describes. A nil
// recorder journals nothing.
func (e *Engine) emit(ev *Event) error {
	if e.cfg.Recorder == nil {
		return nil
	}
	ev.AuctionID = e.cfg.AuctionID
	if err := e.cfg.Recorder.Record(ev); err != nil {
		return fmt.Errorf("journal %s event: %w", ev.Kind, err)
	}
	return nil
}
