package fixedpoint

import (
	"errors"
	"math/big"
	"testing"
)

func TestMulDivRoundsDown(t *testing.T) {
	got, err := MulDiv(big.NewInt(10), big.NewInt(10), big.NewInt(3))
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	if got.Cmp(big.NewInt(33)) != 0 {
		t.Fatalf("expected 33, got %s", got)
	}
}

func TestMulDivCeilRoundsUp(t *testing.T) {
	cases := []struct {
		a, b, den, want int64
	}{
		{10, 10, 3, 34},
		{10, 10, 4, 25},
		{0, 5, 3, 0},
		{7, 1, 7, 1},
	}
	for _, tc := range cases {
		got, err := MulDivCeil(big.NewInt(tc.a), big.NewInt(tc.b), big.NewInt(tc.den))
		if err != nil {
			t.Fatalf("MulDivCeil(%d,%d,%d): %v", tc.a, tc.b, tc.den, err)
		}
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("MulDivCeil(%d,%d,%d) = %s, want %d", tc.a, tc.b, tc.den, got, tc.want)
		}
	}
}

func TestDivisionByZeroIsAnError(t *testing.T) {
	if _, err := MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := MulDivCeil(big.NewInt(1), big.NewInt(1), nil); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero for nil denominator, got %v", err)
	}
	if _, err := WadDiv(big.NewInt(1), big.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestNegativeInputsRejected(t *testing.T) {
	if _, err := MulDiv(big.NewInt(-1), big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrNegativeValue) {
		t.Fatalf("expected ErrNegativeValue, got %v", err)
	}
	if _, err := MulDivCeil(big.NewInt(1), big.NewInt(-2), big.NewInt(1)); !errors.Is(err, ErrNegativeValue) {
		t.Fatalf("expected ErrNegativeValue, got %v", err)
	}
}

func TestWadMul(t *testing.T) {
	half := new(big.Int).Rsh(Wad, 1)
	got, err := WadMul(big.NewInt(1000), half)
	if err != nil {
		t.Fatalf("WadMul: %v", err)
	}
	if got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("1000 * 0.5 = %s, want 500", got)
	}
}

func TestSubFloor(t *testing.T) {
	if got := SubFloor(big.NewInt(3), big.NewInt(5)); got.Sign() != 0 {
		t.Fatalf("3-5 should floor to 0, got %s", got)
	}
	if got := SubFloor(big.NewInt(5), big.NewInt(3)); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("5-3 = %s, want 2", got)
	}
	if got := SubFloor(nil, nil); got.Sign() != 0 {
		t.Fatalf("nil inputs should floor to 0, got %s", got)
	}
}

func TestMin(t *testing.T) {
	if got := Min(big.NewInt(7), big.NewInt(4)); got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("min(7,4) = %s", got)
	}
	if got := Min(nil, big.NewInt(4)); got.Sign() != 0 {
		t.Fatalf("min(nil,4) should treat nil as 0, got %s", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := big.NewInt(42)
	copied := Clone(orig)
	copied.SetInt64(0)
	if orig.Cmp(big.NewInt(42)) != 0 {
		t.Fatal("Clone must not alias the original")
	}
}
