package storage

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// YieldSample is one persisted observation of the vault's accounting totals.
type YieldSample struct {
	Bucket           time.Time
	TotalAssets      *big.Int
	TotalPrincipal   *big.Int
	TotalShares      *big.Int
	AvailableYield   *big.Int
	AllocatedSubsidy *big.Int
	Status           string
	Error            *string
	CreatedAt        time.Time
}

// EventRow is the persisted form of a ledger event.
type EventRow struct {
	ID       uuid.UUID
	Kind     string
	Caller   string
	Receiver string
	Owner    string

	Assets      *big.Int
	Shares      *big.Int
	Interest    *big.Int
	Price       *big.Int
	Reservation *big.Int

	PrincipalPaid *big.Int
	YieldPaid     *big.Int
	SubsidyPaid   *big.Int

	Note      string
	At        time.Time
	CreatedAt time.Time
}
