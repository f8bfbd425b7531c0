package auction

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/blindauction/localprovider"
	"github.com/cloudx-io/blindauction/oblivious"
)

const (
	testAuctionID = "auction-1"
	testSeller    = oblivious.Principal("seller")
)

// mockRelayer accepts decrypt requests without delivering callbacks, so
// tests control when and whether a plaintext arrives.
type mockRelayer struct {
	RequestDecryptFunc func(req DecryptRequest) error
	requests           []DecryptRequest
}

func (m *mockRelayer) RequestDecrypt(req DecryptRequest) error {
	if m.RequestDecryptFunc != nil {
		if err := m.RequestDecryptFunc(req); err != nil {
			return err
		}
	}
	m.requests = append(m.requests, req)
	return nil
}

// mockRecorder keeps journaled events in memory.
type mockRecorder struct {
	RecordFunc func(ev *Event) error
	events     []Event
}

func (m *mockRecorder) Record(ev *Event) error {
	if m.RecordFunc != nil {
		if err := m.RecordFunc(ev); err != nil {
			return err
		}
	}
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockRecorder) kinds() []EventKind {
	out := make([]EventKind, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Kind
	}
	return out
}

// testEngine wires an engine over a fresh local provider and a loopback
// relayer, with bids open through height 10 and reveals through height 20.
func testEngine(t *testing.T, mutate func(*Config)) (*Engine, *localprovider.Provider, *ManualClock) {
	t.Helper()

	provider, err := localprovider.NewProvider()
	assert.NoError(t, err)

	clock := NewManualClock(1)
	relayer := NewLoopbackRelayer(provider, nil)
	cfg := Config{
		AuctionID:      testAuctionID,
		Seller:         testSeller,
		Width:          oblivious.Width32,
		BidDeadline:    10,
		RevealDeadline: 20,
		Provider:       provider,
		Clock:          clock,
		Relayer:        relayer,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := NewEngine(cfg)
	assert.NoError(t, err)
	relayer.Bind(engine)
	return engine, provider, clock
}

// submitValue seals a raw bid value to the provider's key and submits it.
func submitValue(t *testing.T, e *Engine, p *localprovider.Provider, principal oblivious.Principal, value uint64) BidIndex {
	t.Helper()
	sealed, err := localprovider.SealValue(p.PublicKey(), value)
	assert.NoError(t, err)
	index, err := e.SubmitBid(principal, sealed, []byte(p.IssueBidToken()))
	assert.NoError(t, err)
	return index
}

// waitDecrypted polls until the relayer delivers the handle's plaintext.
func waitDecrypted(t *testing.T, e *Engine, h oblivious.Handle) uint64 {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if v, ok := e.DecryptedPlaintext(h); ok {
			return v
		}
		select {
		case <-deadline:
			t.Fatalf("decrypt of %s never completed", h.Token())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNewEngine_ValidatesConfig(t *testing.T) {
	provider, err := localprovider.NewProvider()
	assert.NoError(t, err)
	clock := NewManualClock(0)

	valid := Config{
		AuctionID:      testAuctionID,
		Seller:         testSeller,
		Width:          oblivious.Width32,
		BidDeadline:    10,
		RevealDeadline: 20,
		Provider:       provider,
		Clock:          clock,
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing auction id", mutate: func(c *Config) { c.AuctionID = "" }},
		{name: "missing seller", mutate: func(c *Config) { c.Seller = "" }},
		{name: "unsupported width", mutate: func(c *Config) { c.Width = 24 }},
		{name: "missing provider", mutate: func(c *Config) { c.Provider = nil }},
		{name: "missing clock", mutate: func(c *Config) { c.Clock = nil }},
		{name: "deadlines inverted", mutate: func(c *Config) { c.BidDeadline = 20; c.RevealDeadline = 10 }},
		{name: "deadlines equal", mutate: func(c *Config) { c.BidDeadline = 20; c.RevealDeadline = 20 }},
		{name: "reserve beyond width", mutate: func(c *Config) { c.Width = oblivious.Width8; c.Reserve = 256 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := NewEngine(cfg)
			check.Error(t, err)
		})
	}

	engine, err := NewEngine(valid)
	assert.NoError(t, err)
	check.Equal(t, oblivious.Principal("engine:"+testAuctionID), engine.Self())
	check.Equal(t, testAuctionID, engine.AuctionID())
}

func TestEngine_LifecycleScenario(t *testing.T) {
	recorder := &mockRecorder{}
	engine, provider, clock := testEngine(t, func(cfg *Config) {
		cfg.Recorder = recorder
	})

	// Bidding: three sealed bids at increasing heights.
	submitValue(t, engine, provider, "bidder-a", 100)
	clock.Advance(1)
	winnerIndex := submitValue(t, engine, provider, "bidder-b", 150)
	clock.Advance(1)
	submitValue(t, engine, provider, "bidder-c", 120)
	check.Equal(t, 3, engine.BidCount())
	check.Equal(t, PhaseBidding, engine.Phase())

	// Reveal.
	clock.Set(11)
	check.Equal(t, PhaseReveal, engine.Phase())
	for _, principal := range []oblivious.Principal{"bidder-a", "bidder-b", "bidder-c"} {
		_, err := engine.RevealBid(principal)
		assert.NoError(t, err)
	}

	// Settle.
	clock.Set(21)
	check.Equal(t, PhaseSettled, engine.Phase())
	settlement, err := engine.Settle(testSeller)
	assert.NoError(t, err)
	check.Equal(t, oblivious.Principal("bidder-b"), settlement.Winner)
	check.Equal(t, winnerIndex, settlement.WinnerIndex)
	check.Equal(t, 3, settlement.BidCount)
	check.Equal(t, BlockHeight(21), settlement.SettledAt)

	// The winning handle is fresh from the fold: the winner holds no
	// permission on it until the seller grants one.
	_, err = engine.DecryptRequest(settlement.WinningHandle, "bidder-b")
	check.True(t, errors.Is(err, oblivious.ErrPermissionDenied))

	err = engine.GrantDecrypt(testSeller, "bidder-b", settlement.WinningHandle, nil)
	assert.NoError(t, err)
	check.True(t, engine.IsAuthorized(testSeller, "bidder-b"))

	_, err = engine.DecryptRequest(settlement.WinningHandle, "bidder-b")
	assert.NoError(t, err)
	check.Equal(t, uint64(150), waitDecrypted(t, engine, settlement.WinningHandle))

	check.Equal(t, []EventKind{
		EventBidSubmitted,
		EventBidSubmitted,
		EventBidSubmitted,
		EventBidRevealed,
		EventBidRevealed,
		EventBidRevealed,
		EventSettled,
		EventDecryptGranted,
		EventDecryptRequested,
		EventDecryptCompleted,
	}, recorder.kinds())
}

func TestEngine_SubmitBid_InvalidProofLeavesStateUntouched(t *testing.T) {
	engine, provider, _ := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)
	maxBefore := engine.CurrentMax()

	sealed, err := localprovider.SealValue(provider.PublicKey(), 900)
	assert.NoError(t, err)
	_, err = engine.SubmitBid("mallory", sealed, []byte("not-a-token"))
	check.True(t, errors.Is(err, oblivious.ErrInvalidProof))

	check.Equal(t, 1, engine.BidCount())
	check.Equal(t, maxBefore, engine.CurrentMax())
}

func TestEngine_SubmitBid_PhaseBoundaries(t *testing.T) {
	engine, provider, clock := testEngine(t, nil)

	// The bid deadline itself is still open.
	clock.Set(10)
	submitValue(t, engine, provider, "bidder-a", 100)

	clock.Set(11)
	sealed, err := localprovider.SealValue(provider.PublicKey(), 100)
	assert.NoError(t, err)
	_, err = engine.SubmitBid("bidder-b", sealed, []byte(provider.IssueBidToken()))
	check.True(t, errors.Is(err, ErrBiddingClosed))

	clock.Set(21)
	_, err = engine.SubmitBid("bidder-b", sealed, []byte(provider.IssueBidToken()))
	check.True(t, errors.Is(err, ErrBiddingClosed))
}

func TestEngine_SubmitBid_RejectsInvalidPrincipal(t *testing.T) {
	engine, provider, _ := testEngine(t, nil)
	sealed, err := localprovider.SealValue(provider.PublicKey(), 100)
	assert.NoError(t, err)

	_, err = engine.SubmitBid("", sealed, []byte(provider.IssueBidToken()))
	check.True(t, errors.Is(err, ErrInvalidPrincipal))

	_, err = engine.SubmitBid(engine.Self(), sealed, []byte(provider.IssueBidToken()))
	check.True(t, errors.Is(err, ErrInvalidPrincipal))
}

func TestEngine_SubmitBid_RecorderFailureAbortsCommit(t *testing.T) {
	recorder := &mockRecorder{
		RecordFunc: func(*Event) error { return fmt.Errorf("journal unavailable") },
	}
	engine, provider, _ := testEngine(t, func(cfg *Config) {
		cfg.Recorder = recorder
	})
	maxBefore := engine.CurrentMax()

	sealed, err := localprovider.SealValue(provider.PublicKey(), 100)
	assert.NoError(t, err)
	_, err = engine.SubmitBid("bidder-a", sealed, []byte(provider.IssueBidToken()))
	check.Error(t, err)

	check.Equal(t, 0, engine.BidCount())
	check.Equal(t, maxBefore, engine.CurrentMax())
}

func TestEngine_RevealBid_PhaseGuards(t *testing.T) {
	engine, provider, clock := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)

	_, err := engine.RevealBid("bidder-a")
	check.True(t, errors.Is(err, ErrNotReady))

	clock.Set(21)
	_, err = engine.RevealBid("bidder-a")
	check.True(t, errors.Is(err, ErrRevealClosed))
}

func TestEngine_RevealBid_MostRecentFirstThenExhausted(t *testing.T) {
	engine, provider, clock := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)
	submitValue(t, engine, provider, "bidder-a", 120)

	clock.Set(11)
	first, err := engine.RevealBid("bidder-a")
	assert.NoError(t, err)
	check.Equal(t, BidIndex(1), first)

	second, err := engine.RevealBid("bidder-a")
	assert.NoError(t, err)
	check.Equal(t, BidIndex(0), second)

	_, err = engine.RevealBid("bidder-a")
	check.True(t, errors.Is(err, ErrAlreadyRevealed))

	_, err = engine.RevealBid("bidder-x")
	check.True(t, errors.Is(err, ErrNotFound))

	_, err = engine.RevealBid("")
	check.True(t, errors.Is(err, ErrInvalidPrincipal))
}

func TestEngine_Settle_Guards(t *testing.T) {
	engine, provider, clock := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)

	_, err := engine.Settle("bidder-a")
	check.True(t, errors.Is(err, ErrUnauthorized))

	_, err = engine.Settle(testSeller)
	check.True(t, errors.Is(err, ErrNotReady))

	// The reveal deadline itself still belongs to the reveal phase.
	clock.Set(20)
	_, err = engine.Settle(testSeller)
	check.True(t, errors.Is(err, ErrNotReady))
}

func TestEngine_Settle_IsIdempotent(t *testing.T) {
	engine, provider, clock := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)
	clock.Set(21)

	first, err := engine.Settle(testSeller)
	assert.NoError(t, err)
	second, err := engine.Settle(testSeller)
	assert.NoError(t, err)
	check.Equal(t, first, second)

	got, ok := engine.SettlementResult()
	assert.True(t, ok)
	check.Equal(t, first, got)
}

func TestEngine_Settle_TieGoesToLatestBid(t *testing.T) {
	engine, provider, clock := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 150)
	submitValue(t, engine, provider, "bidder-b", 150)
	clock.Set(21)

	settlement, err := engine.Settle(testSeller)
	assert.NoError(t, err)
	check.Equal(t, oblivious.Principal("bidder-b"), settlement.Winner)
	check.Equal(t, BidIndex(1), settlement.WinnerIndex)
}

func TestEngine_Settle_ReserveNotMet(t *testing.T) {
	engine, provider, clock := testEngine(t, func(cfg *Config) {
		cfg.Reserve = 200
	})
	submitValue(t, engine, provider, "bidder-a", 100)
	submitValue(t, engine, provider, "bidder-b", 150)
	clock.Set(21)

	_, err := engine.Settle(testSeller)
	check.True(t, errors.Is(err, ErrNoValidBids))

	_, ok := engine.SettlementResult()
	check.False(t, ok)
}

func TestEngine_Settle_BidEqualToReserveWins(t *testing.T) {
	engine, provider, clock := testEngine(t, func(cfg *Config) {
		cfg.Reserve = 150
	})
	submitValue(t, engine, provider, "bidder-a", 150)
	clock.Set(21)

	settlement, err := engine.Settle(testSeller)
	assert.NoError(t, err)
	check.Equal(t, oblivious.Principal("bidder-a"), settlement.Winner)
	check.Equal(t, uint64(150), waitWinningValue(t, engine, settlement))
}

// waitWinningValue grants the seller's winning handle to an auditor and
// decrypts it through the relayer loop.
func waitWinningValue(t *testing.T, e *Engine, s Settlement) uint64 {
	t.Helper()
	err := e.GrantDecrypt(testSeller, "auditor", s.WinningHandle, nil)
	assert.NoError(t, err)
	_, err = e.DecryptRequest(s.WinningHandle, "auditor")
	assert.NoError(t, err)
	return waitDecrypted(t, e, s.WinningHandle)
}

func TestEngine_Settle_NoBids(t *testing.T) {
	engine, _, clock := testEngine(t, nil)
	clock.Set(21)

	_, err := engine.Settle(testSeller)
	check.True(t, errors.Is(err, ErrNoValidBids))
}

func TestEngine_GrantDecrypt_RequiresOwnerPermission(t *testing.T) {
	engine, provider, _ := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)
	handle := engine.Bids()[0].Handle

	err := engine.GrantDecrypt("mallory", "accomplice", handle, nil)
	check.True(t, errors.Is(err, ErrUnauthorized))
	check.False(t, engine.IsAuthorized("mallory", "accomplice"))

	// The submitter holds a permission on their own bid handle and may
	// delegate it.
	err = engine.GrantDecrypt("bidder-a", "auditor", handle, nil)
	assert.NoError(t, err)
	check.True(t, engine.IsAuthorized("bidder-a", "auditor"))
}

func TestEngine_GrantDecrypt_RejectsEmptyPrincipals(t *testing.T) {
	engine, _, _ := testEngine(t, nil)
	handle := engine.CurrentMax()

	err := engine.GrantDecrypt("", "auditor", handle, nil)
	check.True(t, errors.Is(err, ErrInvalidPrincipal))
	err = engine.GrantDecrypt(testSeller, "", handle, nil)
	check.True(t, errors.Is(err, ErrInvalidPrincipal))
}

func TestEngine_GrantDecrypt_ExpiryBoundary(t *testing.T) {
	engine, provider, clock := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)
	handle := engine.Bids()[0].Handle

	expiresAt := clock.Now() + 5
	err := engine.GrantDecrypt("bidder-a", "auditor", handle, &expiresAt)
	assert.NoError(t, err)

	check.True(t, engine.IsAuthorized("bidder-a", "auditor"))
	clock.Set(expiresAt)
	check.True(t, engine.IsAuthorized("bidder-a", "auditor"))
	clock.Set(expiresAt + 1)
	check.False(t, engine.IsAuthorized("bidder-a", "auditor"))

	// Expiry retires the capability record, not the provider permission
	// already issued under it.
	_, err = engine.DecryptRequest(handle, "auditor")
	assert.NoError(t, err)
	check.Equal(t, uint64(100), waitDecrypted(t, engine, handle))
}

func TestEngine_GrantDecrypt_RegrantReplacesCapability(t *testing.T) {
	engine, provider, clock := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)
	handle := engine.Bids()[0].Handle

	expiresAt := clock.Now() + 5
	assert.NoError(t, engine.GrantDecrypt("bidder-a", "auditor", handle, &expiresAt))
	assert.NoError(t, engine.GrantDecrypt("bidder-a", "auditor", handle, nil))

	clock.Set(expiresAt + 100)
	check.True(t, engine.IsAuthorized("bidder-a", "auditor"))

	grant, ok := engine.GrantOf("bidder-a", "auditor")
	assert.True(t, ok)
	check.Nil(t, grant.ExpiresAt)
}

func TestEngine_IsAuthorized_UnknownPairIsFalse(t *testing.T) {
	engine, _, _ := testEngine(t, nil)
	check.False(t, engine.IsAuthorized("nobody", "noone"))
}

func TestEngine_DecryptRequest_Lifecycle(t *testing.T) {
	relayer := &mockRelayer{}
	engine, provider, _ := testEngine(t, func(cfg *Config) {
		cfg.Relayer = relayer
	})
	submitValue(t, engine, provider, "bidder-a", 100)
	handle := engine.Bids()[0].Handle

	_, err := engine.DecryptRequest(handle, "")
	check.True(t, errors.Is(err, ErrInvalidPrincipal))

	_, err = engine.DecryptRequest(handle, "mallory")
	check.True(t, errors.Is(err, oblivious.ErrPermissionDenied))

	id, err := engine.DecryptRequest(handle, "bidder-a")
	assert.NoError(t, err)
	check.NotEqual(t, DecryptRequestID(""), id)
	assert.Equal(t, 1, len(relayer.requests))
	check.Equal(t, handle, relayer.requests[0].Handle)
	check.Equal(t, oblivious.Principal("bidder-a"), relayer.requests[0].Requester)

	// One outstanding request per handle.
	_, err = engine.DecryptRequest(handle, "bidder-a")
	check.True(t, errors.Is(err, ErrDecryptPending))

	// Deliver, then the handle stays decrypted forever.
	assert.NoError(t, engine.DecryptCallback(handle, 100))
	v, ok := engine.DecryptedPlaintext(handle)
	assert.True(t, ok)
	check.Equal(t, uint64(100), v)

	_, err = engine.DecryptRequest(handle, "bidder-a")
	check.True(t, errors.Is(err, ErrAlreadyDecrypted))
	err = engine.DecryptCallback(handle, 100)
	check.True(t, errors.Is(err, ErrAlreadyDecrypted))
}

func TestEngine_DecryptRequest_NoRelayer(t *testing.T) {
	engine, provider, _ := testEngine(t, func(cfg *Config) {
		cfg.Relayer = nil
	})
	submitValue(t, engine, provider, "bidder-a", 100)

	_, err := engine.DecryptRequest(engine.Bids()[0].Handle, "bidder-a")
	check.True(t, errors.Is(err, ErrNoRelayer))
}

func TestEngine_DecryptRequest_RelayerFailureLeavesNothingPending(t *testing.T) {
	relayer := &mockRelayer{
		RequestDecryptFunc: func(DecryptRequest) error { return fmt.Errorf("relayer offline") },
	}
	engine, provider, _ := testEngine(t, func(cfg *Config) {
		cfg.Relayer = relayer
	})
	submitValue(t, engine, provider, "bidder-a", 100)
	handle := engine.Bids()[0].Handle

	_, err := engine.DecryptRequest(handle, "bidder-a")
	check.Error(t, err)

	// The failed attempt left no pending request behind.
	relayer.RequestDecryptFunc = nil
	_, err = engine.DecryptRequest(handle, "bidder-a")
	assert.NoError(t, err)
}

func TestEngine_DecryptCallback_WithoutRequest(t *testing.T) {
	engine, provider, _ := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)

	err := engine.DecryptCallback(engine.Bids()[0].Handle, 100)
	check.True(t, errors.Is(err, ErrNotFound))
}

func TestEngine_RunningMaxNotDecryptableByBidders(t *testing.T) {
	engine, provider, _ := testEngine(t, nil)
	submitValue(t, engine, provider, "bidder-a", 100)

	_, err := engine.DecryptRequest(engine.CurrentMax(), "bidder-a")
	check.True(t, errors.Is(err, oblivious.ErrPermissionDenied))
}
