package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/internal/fixedpoint"
)

// MemoryBalance is an in-memory BalanceProvider for tests and simulation. It
// tracks the vault custody balance plus per-party wallet balances, and lets
// the caller grow the custody balance to mimic rebasing appreciation.
type MemoryBalance struct {
	mu      sync.Mutex
	custody *big.Int
	wallets map[common.Address]*big.Int
}

// NewMemoryBalance builds an empty in-memory balance provider.
func NewMemoryBalance() *MemoryBalance {
	return &MemoryBalance{custody: big.NewInt(0), wallets: make(map[common.Address]*big.Int)}
}

// Fund credits a party's wallet so it can deposit.
func (m *MemoryBalance) Fund(party common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletLocked(party).Add(m.walletLocked(party), amount)
}

// Grow increases the custody balance without a transfer, the way an
// interest-accruing token's reported balance drifts upward.
func (m *MemoryBalance) Grow(amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custody.Add(m.custody, amount)
}

// WalletOf reports a party's wallet balance.
func (m *MemoryBalance) WalletOf(party common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fixedpoint.Clone(m.walletLocked(party))
}

func (m *MemoryBalance) walletLocked(party common.Address) *big.Int {
	if _, ok := m.wallets[party]; !ok {
		m.wallets[party] = big.NewInt(0)
	}
	return m.wallets[party]
}

func (m *MemoryBalance) BalanceOf(context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fixedpoint.Clone(m.custody), nil
}

func (m *MemoryBalance) TransferIn(_ context.Context, from common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet := m.walletLocked(from)
	if wallet.Cmp(amount) < 0 {
		return fmt.Errorf("memory balance: %s holds %s, needs %s", from.Hex(), wallet, amount)
	}
	wallet.Sub(wallet, amount)
	m.custody.Add(m.custody, amount)
	return nil
}

func (m *MemoryBalance) TransferOut(_ context.Context, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.custody.Cmp(amount) < 0 {
		return fmt.Errorf("memory balance: custody holds %s, needs %s", m.custody, amount)
	}
	m.custody.Sub(m.custody, amount)
	m.walletLocked(to).Add(m.walletLocked(to), amount)
	return nil
}

var _ BalanceProvider = (*MemoryBalance)(nil)

// StaticOracle reports a fixed wad-scaled price.
type StaticOracle struct {
	mu    sync.Mutex
	price *big.Int
}

// NewStaticOracle builds an oracle pinned at price.
func NewStaticOracle(price *big.Int) *StaticOracle {
	return &StaticOracle{price: fixedpoint.Clone(price)}
}

// SetPrice repins the oracle.
func (o *StaticOracle) SetPrice(price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = fixedpoint.Clone(price)
}

func (o *StaticOracle) Price(context.Context) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fixedpoint.Clone(o.price), nil
}

var _ PriceOracle = (*StaticOracle)(nil)
