// Package fixedpoint provides the integer fixed-point arithmetic shared by the
// ledger and the debt accrual calculator. All ratio and rate math is performed
// on *big.Int values scaled by Wad (1e18 == 1.0), with wide multiplication
// before division so intermediates never truncate.
package fixedpoint

import (
	"errors"
	"math/big"
)

// Wad is the fixed-point scale: the integer representing 1.0.
var Wad = mustBigInt("1000000000000000000")

var (
	// ErrDivisionByZero is returned whenever a conversion would divide by a
	// zero denominator. Callers treat this as a fatal arithmetic fault for
	// the operation; it is never clamped to zero here.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrNegativeValue is returned when an input that must be non-negative
	// carries a negative sign.
	ErrNegativeValue = errors.New("fixedpoint: negative value")
)

var one = big.NewInt(1)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Clone returns a defensive copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Sign reports the sign of v with nil treated as zero.
func Sign(v *big.Int) int {
	if v == nil {
		return 0
	}
	return v.Sign()
}

// MulDiv computes floor(a * b / den).
func MulDiv(a, b, den *big.Int) (*big.Int, error) {
	if Sign(a) < 0 || Sign(b) < 0 || Sign(den) < 0 {
		return nil, ErrNegativeValue
	}
	if Sign(den) == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(Clone(a), Clone(b))
	return product.Quo(product, den), nil
}

// MulDivCeil computes ceil(a * b / den).
func MulDivCeil(a, b, den *big.Int) (*big.Int, error) {
	if Sign(a) < 0 || Sign(b) < 0 || Sign(den) < 0 {
		return nil, ErrNegativeValue
	}
	if Sign(den) == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(Clone(a), Clone(b))
	product.Add(product, new(big.Int).Sub(den, one))
	return product.Quo(product, den), nil
}

// WadMul computes floor(a * b / Wad), the product of two wad-scaled values.
func WadMul(a, b *big.Int) (*big.Int, error) {
	return MulDiv(a, b, Wad)
}

// WadDiv computes floor(a * Wad / b), the wad-scaled quotient of two values.
func WadDiv(a, b *big.Int) (*big.Int, error) {
	return MulDiv(a, Wad, b)
}

// SubFloor returns a - b, floored at zero. The truncation is intentional and
// reserved for quantities such as available yield where a deficit simply
// means "nothing left"; owed-amount math must not use it.
func SubFloor(a, b *big.Int) *big.Int {
	diff := new(big.Int).Sub(Clone(a), Clone(b))
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if Clone(a).Cmp(Clone(b)) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}
