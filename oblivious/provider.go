package oblivious

// ArithOp selects the arithmetic performed by Provider.Combine.
type ArithOp int

const (
	// OpAdd is modular addition at the operand width.
	OpAdd ArithOp = iota
	// OpSub is modular subtraction at the operand width.
	OpSub
)

func (op ArithOp) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	}
	return "unknown"
}

// Provider is the confidential compute backend. All operations work on
// handles; plaintext crosses the boundary only at Encrypt and Decrypt.
//
// Every operation that produces a handle produces a fresh one with an empty
// permission set, including operations derived from permissioned inputs.
// Callers that need a result readable must Grant it explicitly.
type Provider interface {
	// Encrypt trivially encrypts a plaintext at the given width and returns
	// a fresh handle. The value is reduced modulo 2^width.
	Encrypt(value uint64, w Width) (Handle, error)

	// Ingest verifies proof, decrypts the externally produced ciphertext,
	// and stores the value at the given width. A failed proof returns
	// ErrInvalidProof and stores nothing.
	Ingest(ciphertext, proof []byte, w Width) (Handle, error)

	// Combine applies op to two handles of equal width. Arithmetic wraps at
	// the width; mixed widths return ErrWidthMismatch.
	Combine(op ArithOp, a, b Handle) (Handle, error)

	// CompareGE returns an encrypted boolean for a >= b. The comparison
	// result is itself opaque; nothing about the operands is revealed.
	CompareGE(a, b Handle) (BoolHandle, error)

	// Select returns ifTrue when cond holds and ifFalse otherwise, without
	// revealing which branch was taken. Both arms must share a width.
	Select(cond BoolHandle, ifTrue, ifFalse Handle) (Handle, error)

	// Grant adds a decrypt permission for p on h. Granting is idempotent.
	Grant(h Handle, p Principal) error

	// Decrypt reveals the plaintext behind h to an authorized requester.
	// Requesters without a grant get ErrPermissionDenied and no plaintext.
	Decrypt(h Handle, requester Principal) (uint64, error)
}
