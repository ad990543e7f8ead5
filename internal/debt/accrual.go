package debt

import (
	"fmt"
	"math/big"
	"time"

	"yieldvault/internal/fixedpoint"
)

var (
	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// Accrue returns what the holder of userShares borrow-shares owes at now,
// compounding the snapshot's aggregate borrow assets forward from its last
// update with a three-term Taylor expansion of e^(rate*elapsed) - 1.
//
// Zero user shares or zero aggregate borrow shares means no debt exists and
// yields an all-zero result. Owed amounts round up: lenders must never be
// owed less than their true share.
func Accrue(snap MarketSnapshot, userShares *big.Int, now time.Time) (Owed, error) {
	zeroOwed := Owed{Total: big.NewInt(0), Principal: big.NewInt(0), Interest: big.NewInt(0)}

	if fixedpoint.Sign(userShares) == 0 || fixedpoint.Sign(snap.TotalBorrowShares) == 0 {
		return zeroOwed, nil
	}
	if fixedpoint.Sign(userShares) < 0 {
		return Owed{}, fmt.Errorf("debt: negative user borrow shares: %w", fixedpoint.ErrNegativeValue)
	}

	current, err := aggregateWithInterest(snap, now)
	if err != nil {
		return Owed{}, err
	}

	principal, err := fixedpoint.MulDivCeil(userShares, snap.TotalBorrowAssets, snap.TotalBorrowShares)
	if err != nil {
		return Owed{}, fmt.Errorf("debt: principal: %w", err)
	}
	total, err := fixedpoint.MulDivCeil(userShares, current, snap.TotalBorrowShares)
	if err != nil {
		return Owed{}, fmt.Errorf("debt: total owed: %w", err)
	}

	interest := new(big.Int).Sub(total, principal)
	if interest.Sign() < 0 {
		interest.SetInt64(0)
	}
	return Owed{Total: total, Principal: principal, Interest: interest}, nil
}

// aggregateWithInterest rolls the snapshot's aggregate borrow assets forward
// to now. The snapshot itself is left untouched.
func aggregateWithInterest(snap MarketSnapshot, now time.Time) (*big.Int, error) {
	assets := fixedpoint.Clone(snap.TotalBorrowAssets)
	if assets.Sign() <= 0 || fixedpoint.Sign(snap.RatePerSecond) <= 0 {
		return assets, nil
	}

	nowUnix := now.Unix()
	if nowUnix < 0 || uint64(nowUnix) <= snap.LastUpdate {
		return assets, nil
	}
	elapsed := new(big.Int).SetUint64(uint64(nowUnix) - snap.LastUpdate)

	growth, err := taylorGrowth(snap.RatePerSecond, elapsed)
	if err != nil {
		return nil, err
	}
	accrued, err := fixedpoint.WadMul(assets, growth)
	if err != nil {
		return nil, fmt.Errorf("debt: accrued interest pool: %w", err)
	}
	return assets.Add(assets, accrued), nil
}

// taylorGrowth approximates e^(rate*elapsed) - 1 in wad scale:
// x + x^2/2 + x^3/6 with x = rate*elapsed.
func taylorGrowth(rate, elapsed *big.Int) (*big.Int, error) {
	x := new(big.Int).Mul(rate, elapsed)

	term2, err := fixedpoint.MulDiv(x, x, new(big.Int).Mul(two, fixedpoint.Wad))
	if err != nil {
		return nil, fmt.Errorf("debt: growth term 2: %w", err)
	}
	term3, err := fixedpoint.MulDiv(term2, x, new(big.Int).Mul(three, fixedpoint.Wad))
	if err != nil {
		return nil, fmt.Errorf("debt: growth term 3: %w", err)
	}

	growth := new(big.Int).Add(x, term2)
	return growth.Add(growth, term3), nil
}
