// Package localprovider implements the oblivious.Provider contract with an
// in-process value arena. Bid envelopes are sealed to the provider's RSA
// key and opened only inside the provider; everything outside sees handles.
//
// The arena keeps plaintexts in memory, which is acceptable for a provider
// that runs inside an isolated enclave. The permission model is enforced
// the same way a remote coprocessor would enforce it: decryption is
// checked against per-handle grants and fails closed.
package localprovider

import (
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/cloudx-io/blindauction/oblivious"
)

// storedValue is one arena slot.
type storedValue struct {
	value uint64
	width oblivious.Width
}

// Provider is an in-process oblivious value arena.
type Provider struct {
	mu      sync.Mutex
	keys    *KeyManager
	tokens  *TokenStore
	nextRef uint64
	values  map[uint64]storedValue
	bools   map[uint64]bool
	acls    map[uint64]map[oblivious.Principal]struct{}
}

var _ oblivious.Provider = (*Provider)(nil)

// NewProvider creates a provider with a fresh RSA key pair and an empty
// token store.
func NewProvider() (*Provider, error) {
	keys, err := NewKeyManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}
	return &Provider{
		keys:    keys,
		tokens:  NewTokenStore(),
		nextRef: 1,
		values:  make(map[uint64]storedValue),
		bools:   make(map[uint64]bool),
		acls:    make(map[uint64]map[oblivious.Principal]struct{}),
	}, nil
}

// PublicKeyPEM returns the sealing key clients encrypt bid envelopes to.
func (p *Provider) PublicKeyPEM() (string, error) {
	return p.keys.PublicKeyPEM()
}

// PublicKey returns the sealing key for in-process clients.
func (p *Provider) PublicKey() *rsa.PublicKey {
	return p.keys.PublicKey
}

// IssueBidToken issues a single-use ingestion token. The token doubles as
// the proof presented with a sealed bid.
func (p *Provider) IssueBidToken() string {
	return p.tokens.GenerateToken()
}

// Tokens exposes the token store, for expiration cleanup wiring.
func (p *Provider) Tokens() *TokenStore {
	return p.tokens
}

// Encrypt trivially encrypts a plaintext. The value is reduced modulo
// 2^width. The fresh handle carries no permissions.
func (p *Provider) Encrypt(value uint64, w oblivious.Width) (oblivious.Handle, error) {
	if !w.Valid() {
		return oblivious.Handle{}, fmt.Errorf("unsupported width %d", w)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store(value&w.Mask(), w), nil
}

// Ingest verifies the single-use token, opens the sealed envelope, and
// stores the bid value. Unknown, tampered, or replayed tokens return
// ErrInvalidProof before the envelope is touched.
func (p *Provider) Ingest(ciphertext, proof []byte, w oblivious.Width) (oblivious.Handle, error) {
	if !w.Valid() {
		return oblivious.Handle{}, fmt.Errorf("unsupported width %d", w)
	}
	if !p.tokens.Valid(string(proof)) {
		return oblivious.Handle{}, fmt.Errorf("%w: bid token rejected", oblivious.ErrInvalidProof)
	}

	value, err := openEnvelope(p.keys.privateKey, ciphertext)
	if err != nil {
		return oblivious.Handle{}, fmt.Errorf("failed to open bid envelope: %w", err)
	}
	if value > w.Mask() {
		return oblivious.Handle{}, fmt.Errorf("bid value exceeds %s range", w)
	}

	// Consume only after the envelope opened, so a malformed envelope does
	// not burn the caller's token.
	if !p.tokens.ValidateAndConsume(string(proof)) {
		return oblivious.Handle{}, fmt.Errorf("%w: bid token rejected", oblivious.ErrInvalidProof)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store(value, w), nil
}

// Combine applies modular arithmetic at the operand width.
func (p *Provider) Combine(op oblivious.ArithOp, a, b oblivious.Handle) (oblivious.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	av, bv, w, err := p.pair(a, b)
	if err != nil {
		return oblivious.Handle{}, err
	}

	var out uint64
	switch op {
	case oblivious.OpAdd:
		out = (av + bv) & w.Mask()
	case oblivious.OpSub:
		out = (av - bv) & w.Mask()
	default:
		return oblivious.Handle{}, fmt.Errorf("unsupported arithmetic op %d", op)
	}
	return p.store(out, w), nil
}

// CompareGE evaluates a >= b into an encrypted boolean.
func (p *Provider) CompareGE(a, b oblivious.Handle) (oblivious.BoolHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	av, bv, _, err := p.pair(a, b)
	if err != nil {
		return oblivious.BoolHandle{}, err
	}

	ref := p.nextRef
	p.nextRef++
	p.bools[ref] = av >= bv
	return oblivious.MintBool(ref), nil
}

// Select returns ifTrue or ifFalse per cond, as a fresh handle with no
// permissions regardless of what the arms carried.
func (p *Provider) Select(cond oblivious.BoolHandle, ifTrue, ifFalse oblivious.Handle) (oblivious.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	condValue, ok := p.bools[cond.Ref()]
	if !ok {
		return oblivious.Handle{}, fmt.Errorf("%w: boolean ref %d", oblivious.ErrUnknownHandle, cond.Ref())
	}

	tv, fv, w, err := p.pair(ifTrue, ifFalse)
	if err != nil {
		return oblivious.Handle{}, err
	}

	out := fv
	if condValue {
		out = tv
	}
	return p.store(out, w), nil
}

// Grant adds a decrypt permission for principal on h. Idempotent.
func (p *Provider) Grant(h oblivious.Handle, principal oblivious.Principal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.lookup(h); err != nil {
		return err
	}
	acl, ok := p.acls[h.Ref()]
	if !ok {
		acl = make(map[oblivious.Principal]struct{})
		p.acls[h.Ref()] = acl
	}
	acl[principal] = struct{}{}
	return nil
}

// Decrypt reveals the plaintext to an authorized requester and fails closed
// for everyone else.
func (p *Provider) Decrypt(h oblivious.Handle, requester oblivious.Principal) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sv, err := p.lookup(h)
	if err != nil {
		return 0, err
	}
	if _, ok := p.acls[h.Ref()][requester]; !ok {
		return 0, fmt.Errorf("%w: %s on %s", oblivious.ErrPermissionDenied, requester, h.Token())
	}
	return sv.value, nil
}

// store allocates a fresh arena slot. Callers hold p.mu.
func (p *Provider) store(value uint64, w oblivious.Width) oblivious.Handle {
	ref := p.nextRef
	p.nextRef++
	p.values[ref] = storedValue{value: value, width: w}
	return oblivious.MintHandle(ref, w)
}

// lookup resolves a handle to its slot. Callers hold p.mu.
func (p *Provider) lookup(h oblivious.Handle) (storedValue, error) {
	sv, ok := p.values[h.Ref()]
	if !ok || sv.width != h.Width() {
		return storedValue{}, fmt.Errorf("%w: %s", oblivious.ErrUnknownHandle, h.Token())
	}
	return sv, nil
}

// pair resolves two operands and enforces equal widths. Callers hold p.mu.
func (p *Provider) pair(a, b oblivious.Handle) (uint64, uint64, oblivious.Width, error) {
	as, err := p.lookup(a)
	if err != nil {
		return 0, 0, 0, err
	}
	bs, err := p.lookup(b)
	if err != nil {
		return 0, 0, 0, err
	}
	if as.width != bs.width {
		return 0, 0, 0, fmt.Errorf("%w: %s vs %s", oblivious.ErrWidthMismatch, as.width, bs.width)
	}
	return as.value, bs.value, as.width, nil
}
