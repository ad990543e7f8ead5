package debt

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/internal/fixedpoint"
)

// StaticSource is an in-memory snapshot source for tests and simulation runs.
type StaticSource struct {
	mu       sync.Mutex
	snapshot MarketSnapshot
	shares   map[common.Address]*big.Int
}

// NewStaticSource seeds a source with one market snapshot.
func NewStaticSource(snapshot MarketSnapshot) *StaticSource {
	return &StaticSource{snapshot: snapshot, shares: make(map[common.Address]*big.Int)}
}

// SetUserBorrowShares fixes the borrow-shares reported for user.
func (s *StaticSource) SetUserBorrowShares(user common.Address, shares *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares[user] = fixedpoint.Clone(shares)
}

// SetSnapshot replaces the market snapshot.
func (s *StaticSource) SetSnapshot(snapshot MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

func (s *StaticSource) UserBorrowShares(_ context.Context, _ common.Hash, user common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if shares, ok := s.shares[user]; ok {
		return fixedpoint.Clone(shares), nil
	}
	return big.NewInt(0), nil
}

func (s *StaticSource) MarketAggregate(_ context.Context, _ common.Hash) (MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MarketSnapshot{
		Market:            s.snapshot.Market,
		TotalBorrowShares: fixedpoint.Clone(s.snapshot.TotalBorrowShares),
		TotalBorrowAssets: fixedpoint.Clone(s.snapshot.TotalBorrowAssets),
		LastUpdate:        s.snapshot.LastUpdate,
		RatePerSecond:     fixedpoint.Clone(s.snapshot.RatePerSecond),
	}, nil
}

var _ SnapshotSource = (*StaticSource)(nil)
