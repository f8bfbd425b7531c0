package auctionapi

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountPrecision is the number of decimal places carried through the
// system. Plaintext bid values are integers in minor units: the decimal
// amount shifted by this precision.
const AmountPrecision int32 = 4

// ParseAmount converts a decimal amount string ("150", "2.5031") into minor
// units. Amounts must be non-negative and must not carry more than
// AmountPrecision decimal places.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	minor := d.Shift(AmountPrecision)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, AmountPrecision)
	}
	big := minor.BigInt()
	if !big.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows minor units", s)
	}
	return big.Uint64(), nil
}

// FormatAmount renders minor units back into a decimal amount string.
// Trailing zeros are trimmed, so FormatAmount(ParseAmount("150")) == "150".
func FormatAmount(minor uint64) string {
	return decimal.NewFromUint64(minor).Shift(-AmountPrecision).String()
}
