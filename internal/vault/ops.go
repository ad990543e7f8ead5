package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"yieldvault/internal/fixedpoint"
)

// Deposit pulls assets from the caller into vault custody and mints shares to
// the receiver. Shares are priced off the custody balance before the transfer
// and round down.
func (l *Ledger) Deposit(ctx context.Context, caller common.Address, assets *big.Int, receiver common.Address) (*big.Int, error) {
	if err := validAmount(assets); err != nil {
		return nil, err
	}
	if err := validParties(caller, receiver); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balanceBefore, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, wrapOp("deposit", err)
	}

	shares, err := l.sharesForDeposit(assets, balanceBefore)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		// Depositing less than one share's worth would donate the assets.
		return nil, ErrInvalidAmount
	}

	if err := l.balance.TransferIn(ctx, caller, assets); err != nil {
		return nil, wrapOp("deposit transfer", err)
	}

	pos, ok := l.positions[receiver]
	if !ok {
		pos = newPosition()
		l.positions[receiver] = pos
	}
	pos.principal.Add(pos.principal, assets)
	pos.shares.Add(pos.shares, shares)
	l.totalPrincipal.Add(l.totalPrincipal, assets)
	l.totalShares.Add(l.totalShares, shares)

	event := Event{
		ID:       uuid.New(),
		Kind:     EventDeposit,
		Caller:   caller,
		Receiver: receiver,
		Assets:   fixedpoint.Clone(assets),
		Shares:   fixedpoint.Clone(shares),
		At:       l.now().UTC(),
	}
	if err := l.record(ctx, event, []PositionSnapshot{pos.snapshot(receiver)}); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("receiver", receiver.Hex()).
		Str("assets", assets.String()).
		Str("shares", shares.String()).
		Msg("deposit")
	return shares, nil
}

// Mint issues exactly shares to the receiver, charging the caller the asset
// cost rounded up.
func (l *Ledger) Mint(ctx context.Context, caller common.Address, shares *big.Int, receiver common.Address) (*big.Int, error) {
	if err := validAmount(shares); err != nil {
		return nil, err
	}
	if err := validParties(caller, receiver); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balanceBefore, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, wrapOp("mint", err)
	}

	assets, err := l.assetsForMint(shares, balanceBefore)
	if err != nil {
		return nil, err
	}

	if err := l.balance.TransferIn(ctx, caller, assets); err != nil {
		return nil, wrapOp("mint transfer", err)
	}

	pos, ok := l.positions[receiver]
	if !ok {
		pos = newPosition()
		l.positions[receiver] = pos
	}
	pos.principal.Add(pos.principal, assets)
	pos.shares.Add(pos.shares, shares)
	l.totalPrincipal.Add(l.totalPrincipal, assets)
	l.totalShares.Add(l.totalShares, shares)

	event := Event{
		ID:       uuid.New(),
		Kind:     EventDeposit,
		Caller:   caller,
		Receiver: receiver,
		Assets:   fixedpoint.Clone(assets),
		Shares:   fixedpoint.Clone(shares),
		Note:     "mint",
		At:       l.now().UTC(),
	}
	if err := l.record(ctx, event, []PositionSnapshot{pos.snapshot(receiver)}); err != nil {
		return nil, err
	}
	return assets, nil
}

// Withdraw pays exactly assets to the receiver, burning owner's shares
// rounded up.
func (l *Ledger) Withdraw(ctx context.Context, caller common.Address, assets *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if err := validAmount(assets); err != nil {
		return nil, err
	}
	if err := validParties(caller, receiver, owner); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, wrapOp("withdraw", err)
	}
	if l.totalShares.Sign() == 0 {
		return nil, ErrEmptyVault
	}

	shares, err := fixedpoint.MulDivCeil(assets, l.totalShares, balance)
	if err != nil {
		return nil, wrapOp("withdraw shares", err)
	}

	if err := l.payOut(ctx, EventWithdraw, caller, receiver, owner, shares, assets, balance); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns exactly shares from owner and pays the receiver the asset
// value rounded down. The payout prices off the live balance, so it carries
// the owner's proportional slice of any yield.
func (l *Ledger) Redeem(ctx context.Context, caller common.Address, shares *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if err := validAmount(shares); err != nil {
		return nil, err
	}
	if err := validParties(caller, receiver, owner); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, wrapOp("redeem", err)
	}
	if l.totalShares.Sign() == 0 {
		return nil, ErrEmptyVault
	}

	assets, err := fixedpoint.MulDiv(shares, balance, l.totalShares)
	if err != nil {
		return nil, wrapOp("redeem assets", err)
	}

	if err := l.payOut(ctx, EventRedeem, caller, receiver, owner, shares, assets, balance); err != nil {
		return nil, err
	}
	return assets, nil
}

// payOut performs the shared burn-and-transfer tail of withdraw/redeem:
// allowance check, proportional principal reduction, share burn, transfer,
// journal. Caller holds the lock and has fetched balance once.
func (l *Ledger) payOut(ctx context.Context, kind EventKind, caller, receiver, owner common.Address, shares, assets, balance *big.Int) error {
	pos, ok := l.positions[owner]
	if !ok || pos.shares.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	spendAllowance, err := l.checkAllowance(caller, owner, shares)
	if err != nil {
		return err
	}
	if balance.Cmp(assets) < 0 {
		return ErrInsufficientBalance
	}

	principalCut, err := fixedpoint.MulDiv(pos.principal, shares, pos.shares)
	if err != nil {
		return wrapOp("principal reduction", err)
	}

	if err := l.balance.TransferOut(ctx, receiver, assets); err != nil {
		return wrapOp("payout transfer", err)
	}

	spendAllowance()
	pos.shares.Sub(pos.shares, shares)
	pos.principal.Sub(pos.principal, principalCut)
	l.totalShares.Sub(l.totalShares, shares)
	l.totalPrincipal.Sub(l.totalPrincipal, principalCut)

	snapshot := pos.snapshot(owner)
	l.dropIfEmpty(owner)

	event := Event{
		ID:            uuid.New(),
		Kind:          kind,
		Caller:        caller,
		Receiver:      receiver,
		Owner:         owner,
		Assets:        fixedpoint.Clone(assets),
		Shares:        fixedpoint.Clone(shares),
		PrincipalPaid: principalCut,
		YieldPaid:     fixedpoint.SubFloor(assets, principalCut),
		SubsidyPaid:   big.NewInt(0),
		At:            l.now().UTC(),
	}
	if err := l.record(ctx, event, []PositionSnapshot{snapshot}); err != nil {
		return err
	}

	l.logger.Info().
		Str("kind", string(kind)).
		Str("owner", owner.Hex()).
		Str("assets", assets.String()).
		Str("shares", shares.String()).
		Msg("payout")
	return nil
}

// sharesForDeposit prices a deposit: 1:1 on an empty supply, floor otherwise.
func (l *Ledger) sharesForDeposit(assets, balance *big.Int) (*big.Int, error) {
	if l.totalShares.Sign() == 0 {
		return fixedpoint.Clone(assets), nil
	}
	shares, err := fixedpoint.MulDiv(assets, l.totalShares, balance)
	if err != nil {
		return nil, wrapOp("deposit shares", err)
	}
	return shares, nil
}

// assetsForMint prices a mint: 1:1 on an empty supply, ceiling otherwise.
func (l *Ledger) assetsForMint(shares, balance *big.Int) (*big.Int, error) {
	if l.totalShares.Sign() == 0 {
		return fixedpoint.Clone(shares), nil
	}
	assets, err := fixedpoint.MulDivCeil(shares, balance, l.totalShares)
	if err != nil {
		return nil, wrapOp("mint assets", err)
	}
	return assets, nil
}
