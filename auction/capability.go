package auction

import (
	"sync"

	"github.com/cloudx-io/blindauction/oblivious"
)

// CapabilityGrant records decrypt permission from an owner to a grantee on
// one handle, with an optional expiry height.
type CapabilityGrant struct {
	Owner     oblivious.Principal
	Grantee   oblivious.Principal
	Handle    oblivious.Handle
	GrantedAt BlockHeight
	// ExpiresAt is the last height at which the grant is live; nil makes
	// the grant permanent.
	ExpiresAt *BlockHeight
}

// Expired reports whether the grant has lapsed at the given height. The
// expiry height itself is still authorized.
func (g CapabilityGrant) Expired(now BlockHeight) bool {
	return g.ExpiresAt != nil && now > *g.ExpiresAt
}

type pairKey struct {
	owner, grantee oblivious.Principal
}

// Registry tracks capability grants between principals. It keeps exactly
// one grant per (owner, grantee) pair: re-granting replaces the previous
// record entirely, including its handle and expiry.
type Registry struct {
	mu     sync.Mutex
	grants map[pairKey]CapabilityGrant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		grants: make(map[pairKey]CapabilityGrant),
	}
}

// Grant records g, replacing any prior grant for the same pair. Granting
// never fails: overwriting is the defined behavior, not a conflict.
func (r *Registry) Grant(g CapabilityGrant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[pairKey{owner: g.Owner, grantee: g.Grantee}] = g
}

// Revoke removes the grant for the pair, if any.
func (r *Registry) Revoke(owner, grantee oblivious.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants, pairKey{owner: owner, grantee: grantee})
}

// IsAuthorized reports whether an unexpired grant from owner to grantee
// exists at the given height. Unknown pairs are simply false, never an
// error.
func (r *Registry) IsAuthorized(owner, grantee oblivious.Principal, now BlockHeight) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[pairKey{owner: owner, grantee: grantee}]
	return ok && !g.Expired(now)
}

// Lookup returns the live record for the pair.
func (r *Registry) Lookup(owner, grantee oblivious.Principal) (CapabilityGrant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[pairKey{owner: owner, grantee: grantee}]
	return g, ok
}

// Len reports the number of live pairs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.grants)
}
