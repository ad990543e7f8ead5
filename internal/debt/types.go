// Package debt reconstructs a borrower's current owed amount from a possibly
// stale debt-market snapshot. The calculator is pure: it never mutates the
// snapshot and all time-dependent math runs off the caller-supplied clock.
package debt

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MarketSnapshot is a point-in-time view of a debt market's aggregate state.
// Amounts are *big.Int in the market's base units; RatePerSecond is a
// wad-scaled per-second borrow rate.
type MarketSnapshot struct {
	Market            common.Hash
	TotalBorrowShares *big.Int
	TotalBorrowAssets *big.Int
	LastUpdate        uint64
	RatePerSecond     *big.Int
}

// Owed decomposes a borrower's current obligation.
type Owed struct {
	// Total is the full amount owed right now, interest included.
	Total *big.Int
	// Principal is the part backed by the snapshot's pre-accrual aggregates.
	Principal *big.Int
	// Interest is the accrued-since-snapshot portion, never negative.
	Interest *big.Int
}

// SnapshotSource exposes the external debt market the calculator reads from.
type SnapshotSource interface {
	UserBorrowShares(ctx context.Context, market common.Hash, user common.Address) (*big.Int, error)
	MarketAggregate(ctx context.Context, market common.Hash) (MarketSnapshot, error)
}
