package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/internal/fixedpoint"
)

// TotalAssets reports the vault's current underlying balance. Not stored:
// queried from the growing balance on every call.
func (l *Ledger) TotalAssets(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance.BalanceOf(ctx)
}

// TotalShares reports the outstanding share supply.
func (l *Ledger) TotalShares() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fixedpoint.Clone(l.totalShares)
}

// TotalPrincipal reports the summed depositor principal.
func (l *Ledger) TotalPrincipal() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fixedpoint.Clone(l.totalPrincipal)
}

// TotalAllocatedSubsidy reports the sum of outstanding reservations.
func (l *Ledger) TotalAllocatedSubsidy() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fixedpoint.Clone(l.totalAllocatedSubsidy)
}

// AvailableYield reports the balance slice not attributable to principal or
// to an outstanding reservation, floored at zero.
func (l *Ledger) AvailableYield(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, err
	}
	return l.availableYieldGiven(balance), nil
}

// PositionOf reports a depositor's position; a user who never deposited gets
// an all-zero snapshot.
func (l *Ledger) PositionOf(user common.Address) PositionSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionOrZero(user).snapshot(user)
}

// State reports the current vault-wide totals.
func (l *Ledger) State() StateSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateSnapshot()
}

// PreviewDeposit prices a deposit without side effects.
func (l *Ledger) PreviewDeposit(ctx context.Context, assets *big.Int) (*big.Int, error) {
	if err := validAmount(assets); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, err
	}
	return l.sharesForDeposit(assets, balance)
}

// PreviewMint prices a mint without side effects.
func (l *Ledger) PreviewMint(ctx context.Context, shares *big.Int) (*big.Int, error) {
	if err := validAmount(shares); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, err
	}
	return l.assetsForMint(shares, balance)
}

// PreviewWithdraw prices a withdrawal without side effects.
func (l *Ledger) PreviewWithdraw(ctx context.Context, assets *big.Int) (*big.Int, error) {
	if err := validAmount(assets); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.totalShares.Sign() == 0 {
		return nil, ErrEmptyVault
	}
	balance, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, err
	}
	shares, err := fixedpoint.MulDivCeil(assets, l.totalShares, balance)
	if err != nil {
		return nil, wrapOp("preview withdraw", err)
	}
	return shares, nil
}

// PreviewRedeem prices a redemption without side effects.
func (l *Ledger) PreviewRedeem(ctx context.Context, shares *big.Int) (*big.Int, error) {
	if err := validAmount(shares); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.totalShares.Sign() == 0 {
		return nil, ErrEmptyVault
	}
	balance, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, err
	}
	assets, err := fixedpoint.MulDiv(shares, balance, l.totalShares)
	if err != nil {
		return nil, wrapOp("preview redeem", err)
	}
	return assets, nil
}
