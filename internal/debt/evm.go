package debt

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const debtMarketABIJSON = `[
{"inputs":[{"internalType":"bytes32","name":"market","type":"bytes32"},{"internalType":"address","name":"user","type":"address"}],"name":"getUserBorrowShares","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"bytes32","name":"market","type":"bytes32"}],"name":"getMarketAggregate","outputs":[{"internalType":"uint256","name":"borrowShares","type":"uint256"},{"internalType":"uint256","name":"borrowAssets","type":"uint256"},{"internalType":"uint256","name":"lastUpdate","type":"uint256"},{"internalType":"uint256","name":"ratePerSecond","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var debtMarketABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(debtMarketABIJSON))
	if err != nil {
		panic("failed to parse debt market ABI: " + err.Error())
	}
	debtMarketABI = parsed
}

// EVMSourceOptions parameterise the on-chain snapshot source.
type EVMSourceOptions struct {
	RPCURL          string
	ContractAddress string
	Timeout         time.Duration
}

// EVMSource reads debt market snapshots over Ethereum RPC.
type EVMSource struct {
	opts      EVMSourceOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewEVMSource builds an on-chain snapshot source.
func NewEVMSource(opts EVMSourceOptions, logger zerolog.Logger) *EVMSource {
	return &EVMSource{opts: opts, logger: logger.With().Str("component", "debt_source").Logger()}
}

// UserBorrowShares returns the borrow-shares the user holds in the market.
func (s *EVMSource) UserBorrowShares(ctx context.Context, market common.Hash, user common.Address) (*big.Int, error) {
	outputs, err := s.call(ctx, "getUserBorrowShares", market, user)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected getUserBorrowShares response")
	}
	shares, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode user borrow shares")
	}
	return shares, nil
}

// MarketAggregate fetches the market's aggregate borrow state.
func (s *EVMSource) MarketAggregate(ctx context.Context, market common.Hash) (MarketSnapshot, error) {
	outputs, err := s.call(ctx, "getMarketAggregate", market)
	if err != nil {
		return MarketSnapshot{}, err
	}
	if len(outputs) != 4 {
		return MarketSnapshot{}, errors.New("unexpected getMarketAggregate response")
	}

	borrowShares, ok1 := outputs[0].(*big.Int)
	borrowAssets, ok2 := outputs[1].(*big.Int)
	lastUpdate, ok3 := outputs[2].(*big.Int)
	rate, ok4 := outputs[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return MarketSnapshot{}, errors.New("failed to decode market aggregate")
	}

	return MarketSnapshot{
		Market:            market,
		TotalBorrowShares: borrowShares,
		TotalBorrowAssets: borrowAssets,
		LastUpdate:        lastUpdate.Uint64(),
		RatePerSecond:     rate,
	}, nil
}

func (s *EVMSource) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if s.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	if s.opts.ContractAddress == "" {
		return nil, errors.New("debt market contract address not configured")
	}

	timeout := s.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := debtMarketABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(s.opts.ContractAddress)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, err
	}
	return debtMarketABI.Unpack(method, res)
}

func (s *EVMSource) getClient(ctx context.Context) (*ethclient.Client, error) {
	s.clientMux.Lock()
	defer s.clientMux.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	client, err := ethclient.DialContext(ctx, s.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

var _ SnapshotSource = (*EVMSource)(nil)
