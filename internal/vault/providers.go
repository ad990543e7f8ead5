package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceProvider abstracts the externally managed, continuously appreciating
// balance the vault holds in custody. The reported balance can grow between
// reads without any vault operation.
type BalanceProvider interface {
	// BalanceOf reports the vault's current underlying balance.
	BalanceOf(ctx context.Context) (*big.Int, error)
	// TransferIn moves amount from the depositor into vault custody.
	TransferIn(ctx context.Context, from common.Address, amount *big.Int) error
	// TransferOut moves amount from vault custody to the receiver.
	TransferOut(ctx context.Context, to common.Address, amount *big.Int) error
}

// PriceOracle reports the exchange rate between the debt-market asset and the
// vault asset: debt-asset units per one vault-asset unit, wad scaled.
type PriceOracle interface {
	Price(ctx context.Context) (*big.Int, error)
}
