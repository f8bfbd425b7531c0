// Package oblivious defines the opaque-value model shared by the auction
// engine and its confidential compute providers. Encrypted integers are
// referenced through handles; holding a handle never implies the right to
// read the value behind it.
package oblivious

import (
	"fmt"
	"strconv"
	"strings"
)

// Principal identifies a party in the permission model: a bidder, a seller,
// or the engine itself. Principals are compared as opaque strings.
type Principal string

// Width is the bit width of an encrypted integer. The numeric value of the
// constant is the width in bits.
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

// Valid reports whether w is one of the supported widths.
func (w Width) Valid() bool {
	switch w {
	case Width8, Width16, Width32, Width64:
		return true
	}
	return false
}

// Mask returns the value mask for the width, e.g. 0xFF for Width8.
func (w Width) Mask() uint64 {
	if w == Width64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(w)) - 1
}

func (w Width) String() string {
	return fmt.Sprintf("uint%d", uint8(w))
}

// ParseWidth converts a bit count (8, 16, 32, 64) into a Width.
func ParseWidth(bits uint8) (Width, error) {
	w := Width(bits)
	if !w.Valid() {
		return 0, fmt.Errorf("oblivious: unsupported width %d bits", bits)
	}
	return w, nil
}

// Handle references an encrypted integer held by a provider. The zero Handle
// references nothing. Handles are value types and safe to copy; equality of
// handles means identity of the referenced ciphertext.
type Handle struct {
	ref   uint64
	width Width
}

// MintHandle builds a handle from a provider reference. Only Provider
// implementations should mint handles; refs start at 1 so the zero Handle
// stays distinguishable.
func MintHandle(ref uint64, w Width) Handle {
	return Handle{ref: ref, width: w}
}

// IsZero reports whether h references nothing.
func (h Handle) IsZero() bool {
	return h.ref == 0
}

// Width returns the bit width of the referenced integer.
func (h Handle) Width() Width {
	return h.width
}

// Equal reports whether two handles reference the same ciphertext.
func (h Handle) Equal(o Handle) bool {
	return h == o
}

// Ref exposes the provider-side reference, for providers and persistence.
func (h Handle) Ref() uint64 {
	return h.ref
}

// Token renders the handle as a wire-safe string, e.g. "32:17". The token
// identifies the ciphertext but reveals nothing about the value.
func (h Handle) Token() string {
	return fmt.Sprintf("%d:%d", uint8(h.width), h.ref)
}

func (h Handle) String() string {
	return h.Token()
}

// ParseHandle reverses Token.
func ParseHandle(token string) (Handle, error) {
	widthPart, refPart, ok := strings.Cut(token, ":")
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrMalformedToken, token)
	}
	bits, err := strconv.ParseUint(widthPart, 10, 8)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: bad width in %q", ErrMalformedToken, token)
	}
	w, err := ParseWidth(uint8(bits))
	if err != nil {
		return Handle{}, fmt.Errorf("%w: bad width in %q", ErrMalformedToken, token)
	}
	ref, err := strconv.ParseUint(refPart, 10, 64)
	if err != nil || ref == 0 {
		return Handle{}, fmt.Errorf("%w: bad ref in %q", ErrMalformedToken, token)
	}
	return Handle{ref: ref, width: w}, nil
}

// BoolHandle references an encrypted boolean, the result of an oblivious
// comparison. Booleans only feed Select; they cannot be granted or decrypted.
type BoolHandle struct {
	ref uint64
}

// MintBool builds a boolean handle from a provider reference.
func MintBool(ref uint64) BoolHandle {
	return BoolHandle{ref: ref}
}

// IsZero reports whether b references nothing.
func (b BoolHandle) IsZero() bool {
	return b.ref == 0
}

// Equal reports whether two boolean handles reference the same ciphertext.
func (b BoolHandle) Equal(o BoolHandle) bool {
	return b == o
}

// Ref exposes the provider-side reference.
func (b BoolHandle) Ref() uint64 {
	return b.ref
}
