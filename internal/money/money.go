// Package money handles rupee amounts and crop quantities as exact decimals.
//
// Rules:
//   - Amounts travel as strings with exactly two places ("5000.00")
//   - Quantities allow up to three places ("12.5", "100.125")
//   - Negative values, exponents and excess precision are rejected
//   - Values must fit NUMERIC(14,2) and NUMERIC(14,3) columns
//   - Arithmetic uses shopspring/decimal, never float64
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Places is the number of decimal places carried by every amount.
	Places = 2
	// QuantityPlaces is the precision allowed for contract quantities.
	QuantityPlaces = 3
	// Digits is the total precision of every stored amount and quantity.
	Digits = 14
)

var (
	ErrInvalidAmount   = errors.New("money: invalid amount")
	ErrInvalidQuantity = errors.New("money: invalid quantity")
)

// Zero is the canonical zero amount.
var Zero = decimal.Zero

// MaxAmount is the largest amount a NUMERIC(14,2) column holds.
var MaxAmount = decimal.New(1, Digits-Places).Sub(decimal.New(1, -Places))

// InRange reports whether an amount fits storage. Totals and balances are
// computed, so they are checked separately from parsing.
func InRange(d decimal.Decimal) bool {
	return !d.GreaterThan(MaxAmount)
}

// Parse converts an amount string into a decimal. Values with more than two
// decimal places are rejected rather than rounded.
func Parse(s string) (decimal.Decimal, error) {
	d, ok := parse(s, Places)
	if !ok {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParsePositive is Parse plus a > 0 check.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseQuantity converts a quantity string with up to three decimal places.
func ParseQuantity(s string) (decimal.Decimal, error) {
	d, ok := parse(s, QuantityPlaces)
	if !ok {
		return decimal.Zero, ErrInvalidQuantity
	}
	return d, nil
}

func parse(s string, places int32) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eE+-") {
		return decimal.Zero, false
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if !d.Equal(d.Truncate(places)) {
		return decimal.Zero, false
	}
	if d.GreaterThanOrEqual(decimal.New(1, Digits-places)) {
		return decimal.Zero, false
	}
	return d, true
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// FormatQuantity renders a quantity in its shortest exact form ("100", "12.5").
func FormatQuantity(d decimal.Decimal) string {
	return d.Truncate(QuantityPlaces).String()
}

// Normalize parses and re-formats an amount string ("50" -> "50.00").
func Normalize(s string) (string, error) {
	d, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(d), nil
}

// NormalizeQuantity parses and re-formats a quantity string ("100.000" -> "100").
func NormalizeQuantity(s string) (string, error) {
	d, err := ParseQuantity(s)
	if err != nil {
		return "", err
	}
	return FormatQuantity(d), nil
}

// Total computes quantity x price rounded half away from zero to two places.
func Total(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Round(Places)
}

// MustParse parses a stored canonical amount. Stored amounts are written by
// Format, so a failure means corrupted data.
func MustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("money: corrupt stored amount " + s)
	}
	return d
}
