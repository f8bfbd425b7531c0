package auction

import (
	"fmt"

	"github.com/cloudx-io/blindauction/oblivious"
)

// DecryptRequestID identifies one relayer decrypt round trip.
type DecryptRequestID string

// DecryptRequest is the payload handed to the relayer: which handle to
// decrypt and on whose behalf.
type DecryptRequest struct {
	ID        DecryptRequestID
	Handle    oblivious.Handle
	Requester oblivious.Principal
}

// decryptTable tracks at most one outstanding request per handle and the
// plaintexts delivered so far. Completed decryptions are final; there is
// no cancellation.
type decryptTable struct {
	pending map[oblivious.Handle]DecryptRequest
	done    map[oblivious.Handle]uint64
}

func newDecryptTable() *decryptTable {
	return &decryptTable{
		pending: make(map[oblivious.Handle]DecryptRequest),
		done:    make(map[oblivious.Handle]uint64),
	}
}

// check reports whether a new request may start for h.
func (dt *decryptTable) check(h oblivious.Handle) error {
	if _, ok := dt.done[h]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyDecrypted, h.Token())
	}
	if req, ok := dt.pending[h]; ok {
		return fmt.Errorf("%w: %s (request %s)", ErrDecryptPending, h.Token(), req.ID)
	}
	return nil
}

// begin records an outstanding request. Callers must have passed check.
func (dt *decryptTable) begin(req DecryptRequest) {
	dt.pending[req.Handle] = req
}

// lookup resolves the callback target for h: the pending request if one
// exists, ErrAlreadyDecrypted for finished handles, ErrNotFound otherwise.
func (dt *decryptTable) lookup(h oblivious.Handle) (DecryptRequest, error) {
	if _, ok := dt.done[h]; ok {
		return DecryptRequest{}, fmt.Errorf("%w: %s", ErrAlreadyDecrypted, h.Token())
	}
	req, ok := dt.pending[h]
	if !ok {
		return DecryptRequest{}, fmt.Errorf("%w: no decrypt pending for %s", ErrNotFound, h.Token())
	}
	return req, nil
}

// complete moves h from pending to done with its plaintext.
func (dt *decryptTable) complete(h oblivious.Handle, plaintext uint64) {
	delete(dt.pending, h)
	dt.done[h] = plaintext
}

// plaintext returns the delivered plaintext for h, if any.
func (dt *decryptTable) plaintext(h oblivious.Handle) (uint64, bool) {
	value, ok := dt.done[h]
	return value, ok
}
