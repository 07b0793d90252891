package maintenance

import (
	"github.com/holiman/uint256"
)

// Rounding selects how mulDiv resolves a non-exact division.
type Rounding int

const (
	// RoundDown truncates toward zero (floor, since all operands are
	// non-negative here).
	RoundDown Rounding = iota
	// RoundUp rounds away from zero (ceiling).
	RoundUp
)

// mulDiv computes floor(a*b/d) or ceil(a*b/d) using a 256-bit intermediate so
// that a*b never loses precision, the way BitShares-style fixed-point helpers
// do it in 128 bits. It fails with *OverflowError when the exact quotient
// exceeds math.MaxUint64.
func mulDiv(a, b, d uint64, rounding Rounding) (uint64, error) {
	if d == 0 {
		return 0, &OverflowError{Op: "mulDiv", A: a, B: b, D: d}
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	divisor := uint256.NewInt(d)

	quotient, remainder := new(uint256.Int), new(uint256.Int)
	quotient.DivMod(product, divisor, remainder)

	if rounding == RoundUp && !remainder.IsZero() {
		quotient.AddUint64(quotient, 1)
	}
	if !quotient.IsUint64() {
		return 0, &OverflowError{Op: "mulDiv", A: a, B: b, D: d}
	}
	return quotient.Uint64(), nil
}

// mulDivFloor computes floor(a*b/d).
func mulDivFloor(a, b, d uint64) (uint64, error) {
	return mulDiv(a, b, d, RoundDown)
}

// mulDivCeil computes ceil(a*b/d).
func mulDivCeil(a, b, d uint64) (uint64, error) {
	return mulDiv(a, b, d, RoundUp)
}

// percentOf applies a basis-of-100 percentage (e.g. 35 means 35%) to amount,
// rounding down. Percentages throughout this package are expressed as plain
// integers in [0, 100], matching spec.md's "subtract_percent" table.
func percentOf(amount, percent uint64) (uint64, error) {
	return mulDivFloor(amount, percent, 100)
}
