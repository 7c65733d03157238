/**
 * @description
 * Saturating fixed-point arithmetic for kobo-denominated amounts. Balance
 * updates clamp at the int64 bounds instead of wrapping, so a corrupted or
 * adversarial amount can never flip a balance's sign through overflow.
 *
 * Parsing and formatting of whole-currency values (configuration inputs,
 * customer-facing notification text) go through shopspring/decimal so no
 * float arithmetic ever touches money.
 */

package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var kobosPerUnit = decimal.NewFromInt(100)

// SaturatingAdd returns a+b, clamped to the int64 range.
func SaturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

// SaturatingSub returns a-b, clamped to the int64 range.
func SaturatingSub(a, b int64) int64 {
	if b < 0 && a > math.MaxInt64+b {
		return math.MaxInt64
	}
	if b > 0 && a < math.MinInt64+b {
		return math.MinInt64
	}
	return a - b
}

// ParseAmount converts a whole-currency decimal string (e.g. "50000" or
// "1500.50") into kobo. Fractions finer than one kobo are rejected.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	kobo := d.Mul(kobosPerUnit)
	if !kobo.IsInteger() {
		return 0, fmt.Errorf("amount %q is finer than one kobo", s)
	}
	if !kobo.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return kobo.IntPart(), nil
}

// FormatAmount renders kobo as a whole-currency string with two decimal
// places, e.g. 150050 -> "1500.50".
func FormatAmount(kobo int64) string {
	return decimal.NewFromInt(kobo).Div(kobosPerUnit).StringFixed(2)
}
