package oblivious

import "errors"

// Provider errors. Callers discriminate with errors.Is; providers may wrap
// these with detail but must preserve the sentinel.
var (
	// ErrInvalidProof means a ciphertext's ingestion proof failed
	// verification: unknown, tampered, or already consumed.
	ErrInvalidProof = errors.New("oblivious: invalid ingestion proof")

	// ErrPermissionDenied means the requesting principal holds no decrypt
	// permission on the handle. Decryption fails closed.
	ErrPermissionDenied = errors.New("oblivious: permission denied")

	// ErrUnknownHandle means the handle references no ciphertext at this
	// provider.
	ErrUnknownHandle = errors.New("oblivious: unknown handle")

	// ErrWidthMismatch means an operation combined operands of different
	// bit widths.
	ErrWidthMismatch = errors.New("oblivious: operand width mismatch")

	// ErrMalformedToken means a handle token failed to parse.
	ErrMalformedToken = errors.New("oblivious: malformed handle token")
)
