package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"yieldvault/internal/debt"
	"yieldvault/internal/fixedpoint"
)

// RequestInterestSubsidy sizes a reservation from the user's currently owed
// debt interest and sets it aside from available yield. A fresh request
// replaces any prior unconsumed reservation; the allocation total moves by
// the delta between the two, never by the sum.
func (l *Ledger) RequestInterestSubsidy(ctx context.Context, user common.Address) (*big.Int, error) {
	if err := validParties(user); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.debtSource == nil || l.oracle == nil || l.market == (common.Hash{}) {
		return nil, ErrNotConfigured
	}
	pos, ok := l.positions[user]
	if !ok {
		return nil, ErrNoPosition
	}

	// Fetch the external world once; every figure below reuses this view.
	userShares, err := l.debtSource.UserBorrowShares(ctx, l.market, user)
	if err != nil {
		return nil, wrapOp("subsidy borrow shares", err)
	}
	snap, err := l.debtSource.MarketAggregate(ctx, l.market)
	if err != nil {
		return nil, wrapOp("subsidy market aggregate", err)
	}
	owed, err := debt.Accrue(snap, userShares, l.now())
	if err != nil {
		return nil, wrapOp("subsidy accrual", err)
	}

	if owed.Interest.Sign() == 0 {
		return l.clearReservation(ctx, user, pos)
	}

	price, err := l.oracle.Price(ctx)
	if err != nil {
		return nil, wrapOp("subsidy price", err)
	}
	if fixedpoint.Sign(price) <= 0 {
		return nil, ErrInvalidPrice
	}

	// Interest is in debt-asset units; divide through the price to express
	// the subsidy in vault-asset units. Rounds down in the pool's favour.
	subsidy, err := fixedpoint.WadDiv(owed.Interest, price)
	if err != nil {
		return nil, wrapOp("subsidy conversion", err)
	}
	if subsidy.Sign() == 0 {
		return l.clearReservation(ctx, user, pos)
	}

	balance, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, wrapOp("subsidy balance", err)
	}

	// The prior reservation returns to the pool before the new one is
	// checked, so re-requesting an unchanged figure always succeeds.
	previous := fixedpoint.Clone(pos.reservedSubsidy)
	releasedAllocation := new(big.Int).Sub(l.totalAllocatedSubsidy, previous)
	available := fixedpoint.SubFloor(balance, new(big.Int).Add(l.totalPrincipal, releasedAllocation))
	if subsidy.Cmp(available) > 0 {
		return nil, ErrInsufficientYield
	}

	pos.reservedSubsidy = fixedpoint.Clone(subsidy)
	pos.lastRecordedDebtInterest = fixedpoint.Clone(owed.Interest)
	l.totalAllocatedSubsidy = releasedAllocation.Add(releasedAllocation, subsidy)

	event := Event{
		ID:          uuid.New(),
		Kind:        EventSubsidyRequest,
		Caller:      user,
		Owner:       user,
		Interest:    fixedpoint.Clone(owed.Interest),
		Price:       fixedpoint.Clone(price),
		Reservation: fixedpoint.Clone(subsidy),
		At:          l.now().UTC(),
	}
	if err := l.record(ctx, event, []PositionSnapshot{pos.snapshot(user)}); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("user", user.Hex()).
		Str("interest", owed.Interest.String()).
		Str("price", price.String()).
		Str("reserved", subsidy.String()).
		Msg("interest subsidy reserved")
	return fixedpoint.Clone(subsidy), nil
}

// clearReservation handles a request whose interest figure resolves to zero:
// any standing reservation is invalidated and returned to the pool.
func (l *Ledger) clearReservation(ctx context.Context, user common.Address, pos *Position) (*big.Int, error) {
	previous := fixedpoint.Clone(pos.reservedSubsidy)
	pos.reservedSubsidy = big.NewInt(0)
	pos.lastRecordedDebtInterest = big.NewInt(0)
	l.totalAllocatedSubsidy.Sub(l.totalAllocatedSubsidy, previous)
	if l.totalAllocatedSubsidy.Sign() < 0 {
		l.totalAllocatedSubsidy.SetInt64(0)
	}

	event := Event{
		ID:          uuid.New(),
		Kind:        EventSubsidyRequest,
		Caller:      user,
		Owner:       user,
		Interest:    big.NewInt(0),
		Reservation: big.NewInt(0),
		At:          l.now().UTC(),
	}
	if err := l.record(ctx, event, []PositionSnapshot{pos.snapshot(user)}); err != nil {
		return nil, err
	}
	return big.NewInt(0), nil
}

// RedeemWithInterestSubsidy burns owner's shares, pays out the proportional
// principal, and settles the standing reservation on top, capped by the yield
// actually available. The reservation never survives past this redemption:
// whatever part yield could not cover is invalidated.
func (l *Ledger) RedeemWithInterestSubsidy(ctx context.Context, caller common.Address, shares *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if err := validAmount(shares); err != nil {
		return nil, err
	}
	if err := validParties(caller, receiver, owner); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.totalShares.Sign() == 0 {
		return nil, ErrEmptyVault
	}
	pos, ok := l.positions[owner]
	if !ok || pos.shares.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	spendAllowance, err := l.checkAllowance(caller, owner, shares)
	if err != nil {
		return nil, err
	}

	balance, err := l.balance.BalanceOf(ctx)
	if err != nil {
		return nil, wrapOp("subsidy redeem", err)
	}

	principalCut, err := fixedpoint.MulDiv(pos.principal, shares, pos.shares)
	if err != nil {
		return nil, wrapOp("principal reduction", err)
	}

	reserved := fixedpoint.Clone(pos.reservedSubsidy)
	consumed := fixedpoint.Min(reserved, l.availableYieldGiven(balance))

	assets := new(big.Int).Add(principalCut, consumed)
	if balance.Cmp(assets) < 0 {
		return nil, ErrInsufficientBalance
	}

	if err := l.balance.TransferOut(ctx, receiver, assets); err != nil {
		return nil, wrapOp("subsidy payout transfer", err)
	}

	spendAllowance()
	pos.shares.Sub(pos.shares, shares)
	pos.principal.Sub(pos.principal, principalCut)
	pos.reservedSubsidy = big.NewInt(0)
	l.totalShares.Sub(l.totalShares, shares)
	l.totalPrincipal.Sub(l.totalPrincipal, principalCut)
	l.totalAllocatedSubsidy.Sub(l.totalAllocatedSubsidy, reserved)
	if l.totalAllocatedSubsidy.Sign() < 0 {
		l.totalAllocatedSubsidy.SetInt64(0)
	}

	snapshot := pos.snapshot(owner)
	l.dropIfEmpty(owner)

	event := Event{
		ID:            uuid.New(),
		Kind:          EventSubsidyRedeem,
		Caller:        caller,
		Receiver:      receiver,
		Owner:         owner,
		Assets:        fixedpoint.Clone(assets),
		Shares:        fixedpoint.Clone(shares),
		PrincipalPaid: principalCut,
		YieldPaid:     big.NewInt(0),
		SubsidyPaid:   consumed,
		At:            l.now().UTC(),
	}
	if err := l.record(ctx, event, []PositionSnapshot{snapshot}); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("owner", owner.Hex()).
		Str("principal", principalCut.String()).
		Str("subsidy", consumed.String()).
		Msg("redeemed with interest subsidy")
	return assets, nil
}
