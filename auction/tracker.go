package auction

import (
	"fmt"

	"github.com/cloudx-io/blindauction/oblivious"
)

// MaxTracker folds submitted bids into an encrypted running maximum using
// only compare_ge and select. No comparison result is ever decrypted, so
// observing the tracker reveals nothing about bid order or values.
type MaxTracker struct {
	provider oblivious.Provider
	width    oblivious.Width
	max      oblivious.Handle
}

// NewMaxTracker seeds the maximum with a trivial encryption of the reserve
// price. A bid equal to the reserve displaces it; a bid below never does.
func NewMaxTracker(provider oblivious.Provider, w oblivious.Width, reserve uint64) (*MaxTracker, error) {
	seed, err := provider.Encrypt(reserve, w)
	if err != nil {
		return nil, fmt.Errorf("seed running maximum: %w", err)
	}
	return &MaxTracker{
		provider: provider,
		width:    w,
		max:      seed,
	}, nil
}

// Fold computes the would-be new maximum for h without committing it. Ties
// select the newer handle, so the latest of equal bids holds the maximum.
func (mt *MaxTracker) Fold(h oblivious.Handle) (oblivious.Handle, error) {
	isGE, err := mt.provider.CompareGE(h, mt.max)
	if err != nil {
		return oblivious.Handle{}, fmt.Errorf("compare against running maximum: %w", err)
	}
	newMax, err := mt.provider.Select(isGE, h, mt.max)
	if err != nil {
		return oblivious.Handle{}, fmt.Errorf("select running maximum: %w", err)
	}
	return newMax, nil
}

// Commit installs a handle previously produced by Fold.
func (mt *MaxTracker) Commit(newMax oblivious.Handle) {
	mt.max = newMax
}

// Observe folds and commits in one step.
func (mt *MaxTracker) Observe(h oblivious.Handle) (oblivious.Handle, error) {
	newMax, err := mt.Fold(h)
	if err != nil {
		return oblivious.Handle{}, err
	}
	mt.Commit(newMax)
	return newMax, nil
}

// Current returns the handle of the running maximum.
func (mt *MaxTracker) Current() oblivious.Handle {
	return mt.max
}
