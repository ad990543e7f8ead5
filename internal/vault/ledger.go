// Package vault implements the share/principal/yield ledger. The ledger wraps
// an externally growing balance into a fixed-supply share ledger, keeps
// per-depositor principal isolated from pooled yield, and reserves slices of
// unclaimed yield against externally accrued debt interest.
//
// Every public operation is a single critical section: external reads happen
// once per operation under the lock and the fetched values are reused for all
// downstream math within that operation.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"yieldvault/internal/debt"
	"yieldvault/internal/fixedpoint"
)

// Position is the ledger's per-depositor state.
type Position struct {
	principal                *big.Int
	shares                   *big.Int
	reservedSubsidy          *big.Int
	lastRecordedDebtInterest *big.Int
}

func newPosition() *Position {
	return &Position{
		principal:                big.NewInt(0),
		shares:                   big.NewInt(0),
		reservedSubsidy:          big.NewInt(0),
		lastRecordedDebtInterest: big.NewInt(0),
	}
}

func (p *Position) snapshot(user common.Address) PositionSnapshot {
	return PositionSnapshot{
		User:                     user,
		Principal:                fixedpoint.Clone(p.principal),
		Shares:                   fixedpoint.Clone(p.shares),
		ReservedSubsidy:          fixedpoint.Clone(p.reservedSubsidy),
		LastRecordedDebtInterest: fixedpoint.Clone(p.lastRecordedDebtInterest),
	}
}

// Options wire the ledger's collaborators at construction. Balance is
// required; the debt source, oracle, and market may also be configured later
// through the owner-gated setters.
type Options struct {
	Owner      common.Address
	Balance    BalanceProvider
	DebtSource debt.SnapshotSource
	Oracle     PriceOracle
	Market     common.Hash
	Journal    Journal
	Now        func() time.Time
}

// Ledger owns the share supply, per-user principal, and subsidy reservations.
type Ledger struct {
	mu     sync.Mutex
	logger zerolog.Logger

	owner      common.Address
	balance    BalanceProvider
	debtSource debt.SnapshotSource
	oracle     PriceOracle
	market     common.Hash
	journal    Journal
	now        func() time.Time

	totalShares           *big.Int
	totalPrincipal        *big.Int
	totalAllocatedSubsidy *big.Int
	positions             map[common.Address]*Position
	allowances            map[common.Address]map[common.Address]*big.Int
}

// New constructs a ledger.
func New(opts Options, logger zerolog.Logger) (*Ledger, error) {
	if opts.Balance == nil {
		return nil, fmt.Errorf("%w: balance provider", ErrNotConfigured)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		logger:                logger.With().Str("component", "vault").Logger(),
		owner:                 opts.Owner,
		balance:               opts.Balance,
		debtSource:            opts.DebtSource,
		oracle:                opts.Oracle,
		market:                opts.Market,
		journal:               opts.Journal,
		now:                   now,
		totalShares:           big.NewInt(0),
		totalPrincipal:        big.NewInt(0),
		totalAllocatedSubsidy: big.NewInt(0),
		positions:             make(map[common.Address]*Position),
		allowances:            make(map[common.Address]map[common.Address]*big.Int),
	}, nil
}

// Restore rehydrates the ledger from a persisted snapshot. Meant to run once
// at startup before any operation is served.
func (l *Ledger) Restore(state StateSnapshot, positions []PositionSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalShares = fixedpoint.Clone(state.TotalShares)
	l.totalPrincipal = fixedpoint.Clone(state.TotalPrincipal)
	l.totalAllocatedSubsidy = fixedpoint.Clone(state.TotalAllocatedSubsidy)
	l.positions = make(map[common.Address]*Position, len(positions))
	for _, snap := range positions {
		l.positions[snap.User] = &Position{
			principal:                fixedpoint.Clone(snap.Principal),
			shares:                   fixedpoint.Clone(snap.Shares),
			reservedSubsidy:          fixedpoint.Clone(snap.ReservedSubsidy),
			lastRecordedDebtInterest: fixedpoint.Clone(snap.LastRecordedDebtInterest),
		}
	}
}

// SetMarket switches the active debt-market identifier. Owner only.
func (l *Ledger) SetMarket(ctx context.Context, caller common.Address, market common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return ErrNotOwner
	}
	l.market = market
	return l.record(ctx, l.configEvent(caller, fmt.Sprintf("market set to %s", market.Hex())), nil)
}

// SetOracle swaps the price oracle implementation. Owner only.
func (l *Ledger) SetOracle(ctx context.Context, caller common.Address, oracle PriceOracle, label string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return ErrNotOwner
	}
	l.oracle = oracle
	return l.record(ctx, l.configEvent(caller, "oracle set to "+label), nil)
}

// SetDebtSource swaps the debt market snapshot source. Owner only.
func (l *Ledger) SetDebtSource(ctx context.Context, caller common.Address, source debt.SnapshotSource, label string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return ErrNotOwner
	}
	l.debtSource = source
	return l.record(ctx, l.configEvent(caller, "debt source set to "+label), nil)
}

// Approve grants spender the right to burn up to shares of owner's balance.
func (l *Ledger) Approve(_ context.Context, owner, spender common.Address, shares *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrInvalidAddress
	}
	if fixedpoint.Sign(shares) < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.allowances[owner]; !ok {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = fixedpoint.Clone(shares)
	return nil
}

// Allowance reports the remaining delegated shares.
func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if granted, ok := l.allowances[owner][spender]; ok {
		return fixedpoint.Clone(granted)
	}
	return big.NewInt(0)
}

func (l *Ledger) configEvent(caller common.Address, note string) Event {
	return Event{
		ID:     uuid.New(),
		Kind:   EventConfigChange,
		Caller: caller,
		Note:   note,
		At:     l.now().UTC(),
	}
}

// checkAllowance verifies the caller may burn shares of owner's balance and
// returns a commit func that spends the allowance. Callers invoke the commit
// only after every other check has passed.
func (l *Ledger) checkAllowance(caller, owner common.Address, shares *big.Int) (func(), error) {
	if caller == owner {
		return func() {}, nil
	}
	granted, ok := l.allowances[owner][caller]
	if !ok || granted.Cmp(shares) < 0 {
		return nil, ErrInsufficientAllowance
	}
	return func() {
		granted.Sub(granted, shares)
	}, nil
}

func (l *Ledger) stateSnapshot() StateSnapshot {
	return StateSnapshot{
		TotalShares:           fixedpoint.Clone(l.totalShares),
		TotalPrincipal:        fixedpoint.Clone(l.totalPrincipal),
		TotalAllocatedSubsidy: fixedpoint.Clone(l.totalAllocatedSubsidy),
	}
}

// record journals the entry built from event and the touched positions. A
// journal failure is surfaced to the caller; on restart the ledger rehydrates
// from the last entry that did land, so an unrecorded operation is not
// considered durable.
func (l *Ledger) record(ctx context.Context, event Event, touched []PositionSnapshot) error {
	if l.journal == nil {
		return nil
	}
	entry := JournalEntry{Event: event, State: l.stateSnapshot(), Positions: touched}
	if err := l.journal.Record(ctx, entry); err != nil {
		l.logger.Error().Err(err).Str("kind", string(event.Kind)).Msg("journal write failed")
		return fmt.Errorf("vault: journal: %w", err)
	}
	return nil
}

// positionOrZero returns the stored position or an empty placeholder without
// creating map state.
func (l *Ledger) positionOrZero(user common.Address) *Position {
	if pos, ok := l.positions[user]; ok {
		return pos
	}
	return newPosition()
}

// dropIfEmpty destroys a position once principal and shares both hit zero.
// Any unconsumed reservation is invalidated so the allocation total cannot
// reference a dead position.
func (l *Ledger) dropIfEmpty(user common.Address) {
	pos, ok := l.positions[user]
	if !ok {
		return
	}
	if pos.principal.Sign() != 0 || pos.shares.Sign() != 0 {
		return
	}
	if pos.reservedSubsidy.Sign() > 0 {
		l.totalAllocatedSubsidy.Sub(l.totalAllocatedSubsidy, pos.reservedSubsidy)
		if l.totalAllocatedSubsidy.Sign() < 0 {
			l.totalAllocatedSubsidy.SetInt64(0)
		}
	}
	delete(l.positions, user)
}

// availableYieldGiven computes the only pool subsidies may draw from, using a
// balance fetched once by the calling operation.
func (l *Ledger) availableYieldGiven(balance *big.Int) *big.Int {
	committed := new(big.Int).Add(l.totalPrincipal, l.totalAllocatedSubsidy)
	return fixedpoint.SubFloor(balance, committed)
}

func validParties(parties ...common.Address) error {
	for _, p := range parties {
		if p == (common.Address{}) {
			return ErrInvalidAddress
		}
	}
	return nil
}

func validAmount(amount *big.Int) error {
	if fixedpoint.Sign(amount) <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// wrapOp tags fixed-point failures as arithmetic faults so callers can tell
// fatal arithmetic conditions apart from the recoverable taxonomy.
func wrapOp(op string, err error) error {
	if errors.Is(err, fixedpoint.ErrDivisionByZero) || errors.Is(err, fixedpoint.ErrNegativeValue) {
		return fmt.Errorf("vault: %s: arithmetic fault: %w", op, err)
	}
	return fmt.Errorf("vault: %s: %w", op, err)
}
