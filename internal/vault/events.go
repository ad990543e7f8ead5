package vault

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind labels a ledger event.
type EventKind string

const (
	EventDeposit        EventKind = "deposit"
	EventWithdraw       EventKind = "withdraw"
	EventRedeem         EventKind = "redeem"
	EventSubsidyRequest EventKind = "subsidy_request"
	EventSubsidyRedeem  EventKind = "subsidy_redeem"
	EventConfigChange   EventKind = "config_change"
)

// Event records one completed ledger operation. Unused amount fields stay nil
// depending on the kind.
type Event struct {
	ID       uuid.UUID
	Kind     EventKind
	Caller   common.Address
	Receiver common.Address
	Owner    common.Address

	Assets *big.Int
	Shares *big.Int

	// Subsidy figures: the debt interest used for sizing, the oracle price
	// applied, and the resulting reservation.
	Interest    *big.Int
	Price       *big.Int
	Reservation *big.Int

	// Payout decomposition for redemption events.
	PrincipalPaid *big.Int
	YieldPaid     *big.Int
	SubsidyPaid   *big.Int

	Note string
	At   time.Time
}

// StateSnapshot captures the vault-wide totals after an operation.
type StateSnapshot struct {
	TotalShares           *big.Int
	TotalPrincipal        *big.Int
	TotalAllocatedSubsidy *big.Int
}

// PositionSnapshot captures one depositor's position after an operation.
type PositionSnapshot struct {
	User                     common.Address
	Principal                *big.Int
	Shares                   *big.Int
	ReservedSubsidy          *big.Int
	LastRecordedDebtInterest *big.Int
}

// JournalEntry bundles the event with the state it produced so a backing
// store can persist both in one transaction.
type JournalEntry struct {
	Event     Event
	State     StateSnapshot
	Positions []PositionSnapshot
}

// Journal persists completed operations. Implementations must write each
// entry atomically.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}
