package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"yieldvault/internal/vault"
)

const erc20ABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// ErrTransfersNotSupported marks the on-chain provider as read-only.
// Transaction submission is outside this service's scope.
var ErrTransfersNotSupported = errors.New("chain: transfers are settled out of band")

// BalanceOptions parameterise the on-chain balance reader.
type BalanceOptions struct {
	RPCURL       string
	AssetAddress string
	VaultAddress string
	Timeout      time.Duration
}

// Balance reads the vault's holding of the interest-accruing token. The
// token's reported balance grows on its own, which is exactly the external
// growth the ledger prices yield from.
type Balance struct {
	opts   BalanceOptions
	logger zerolog.Logger
	dial   *dialer
}

// NewBalance builds an on-chain balance provider.
func NewBalance(opts BalanceOptions, logger zerolog.Logger) *Balance {
	return &Balance{
		opts:   opts,
		logger: logger.With().Str("component", "chain_balance").Logger(),
		dial:   &dialer{rpcURL: opts.RPCURL, timeout: opts.Timeout},
	}
}

// BalanceOf reports the custody balance via balanceOf(vault).
func (b *Balance) BalanceOf(ctx context.Context) (*big.Int, error) {
	if b.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	if b.opts.AssetAddress == "" || b.opts.VaultAddress == "" {
		return nil, errors.New("asset or vault address not configured")
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, b.dial.callTimeout())
	defer cancel()

	client, err := b.dial.get(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := erc20ABI.Pack("balanceOf", common.HexToAddress(b.opts.VaultAddress))
	if err != nil {
		return nil, err
	}

	asset := common.HexToAddress(b.opts.AssetAddress)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &asset, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := erc20ABI.Unpack("balanceOf", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected balanceOf response")
	}
	amount, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode balanceOf output")
	}
	return amount, nil
}

func (b *Balance) TransferIn(context.Context, common.Address, *big.Int) error {
	return ErrTransfersNotSupported
}

func (b *Balance) TransferOut(context.Context, common.Address, *big.Int) error {
	return ErrTransfersNotSupported
}

var _ vault.BalanceProvider = (*Balance)(nil)
