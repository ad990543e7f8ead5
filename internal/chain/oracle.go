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

const aggregatorABIJSON = `[{"inputs":[],"name":"latestAnswer","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// OracleOptions parameterise the on-chain price feed.
type OracleOptions struct {
	RPCURL       string
	FeedAddress  string
	FeedDecimals uint8
	Timeout      time.Duration
}

// Oracle reads a Chainlink-style aggregator and rescales the answer to wad.
type Oracle struct {
	opts   OracleOptions
	logger zerolog.Logger
	dial   *dialer
}

// NewOracle builds an on-chain price oracle.
func NewOracle(opts OracleOptions, logger zerolog.Logger) *Oracle {
	return &Oracle{
		opts:   opts,
		logger: logger.With().Str("component", "chain_oracle").Logger(),
		dial:   &dialer{rpcURL: opts.RPCURL, timeout: opts.Timeout},
	}
}

// Price returns the feed's latest answer scaled to wad.
func (o *Oracle) Price(ctx context.Context) (*big.Int, error) {
	if o.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	if o.opts.FeedAddress == "" {
		return nil, errors.New("price feed address not configured")
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, o.dial.callTimeout())
	defer cancel()

	client, err := o.dial.get(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := aggregatorABI.Pack("latestAnswer")
	if err != nil {
		return nil, err
	}

	feed := common.HexToAddress(o.opts.FeedAddress)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := aggregatorABI.Unpack("latestAnswer", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected latestAnswer response")
	}
	answer, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode latestAnswer output")
	}
	if answer.Sign() <= 0 {
		return nil, errors.New("price feed returned a non-positive answer")
	}

	return rescale(answer, o.opts.FeedDecimals), nil
}

// rescale converts a feed answer from its native decimals to wad (18).
func rescale(answer *big.Int, decimals uint8) *big.Int {
	if decimals == 18 {
		return new(big.Int).Set(answer)
	}
	if decimals < 18 {
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
		return new(big.Int).Mul(answer, factor)
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-18)), nil)
	return new(big.Int).Quo(new(big.Int).Set(answer), factor)
}

var _ vault.PriceOracle = (*Oracle)(nil)
