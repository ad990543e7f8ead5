package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"yieldvault/internal/debt"
	"yieldvault/internal/fixedpoint"
)

var (
	admin  = common.HexToAddress("0xaa")
	alice  = common.HexToAddress("0xa1")
	bob    = common.HexToAddress("0xb0")
	market = common.HexToHash("0x01")
)

type fixture struct {
	ledger  *Ledger
	balance *MemoryBalance
	oracle  *StaticOracle
	debts   *debt.StaticSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	balance := NewMemoryBalance()
	oracle := NewStaticOracle(fixedpoint.Wad) // 1:1
	debts := debt.NewStaticSource(debt.MarketSnapshot{
		Market:            market,
		TotalBorrowShares: big.NewInt(0),
		TotalBorrowAssets: big.NewInt(0),
	})
	ledger, err := New(Options{
		Owner:      admin,
		Balance:    balance,
		DebtSource: debts,
		Oracle:     oracle,
		Market:     market,
		Now:        func() time.Time { return time.Unix(1_000_000, 0) },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{ledger: ledger, balance: balance, oracle: oracle, debts: debts}
}

func (f *fixture) deposit(t *testing.T, user common.Address, amount int64) *big.Int {
	t.Helper()
	f.balance.Fund(user, big.NewInt(amount))
	shares, err := f.ledger.Deposit(context.Background(), user, big.NewInt(amount), user)
	if err != nil {
		t.Fatalf("Deposit(%d): %v", amount, err)
	}
	return shares
}

func TestDepositFirstDepositorGetsParShares(t *testing.T) {
	f := newFixture(t)
	shares := f.deposit(t, alice, 100)
	if shares.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("first deposit of 100 should mint 100 shares, got %s", shares)
	}
	pos := f.ledger.PositionOf(alice)
	if pos.Principal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("principal = %s, want 100", pos.Principal)
	}
	if f.ledger.TotalPrincipal().Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("total principal = %s", f.ledger.TotalPrincipal())
	}
}

func TestDepositRejectsBadArguments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Deposit(ctx, alice, big.NewInt(0), alice); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := f.ledger.Deposit(ctx, alice, big.NewInt(10), common.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("zero receiver: got %v", err)
	}
	if f.ledger.TotalShares().Sign() != 0 {
		t.Fatal("rejected deposits must not mutate state")
	}
}

func TestDepositSharePriceAfterGrowth(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 100)
	f.balance.Grow(big.NewInt(100)) // price doubles

	shares := f.deposit(t, bob, 100)
	// floor(100 * 100 / 200) = 50
	if shares.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("post-growth deposit should mint 50 shares, got %s", shares)
	}
}

func TestRoundTripDepositRedeem(t *testing.T) {
	f := newFixture(t)
	shares := f.deposit(t, alice, 100)

	assets, err := f.ledger.Redeem(context.Background(), alice, shares, alice, alice)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if assets.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("round trip should return exactly 100, got %s", assets)
	}
	if f.balance.WalletOf(alice).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("wallet = %s, want 100", f.balance.WalletOf(alice))
	}
	if f.ledger.TotalShares().Sign() != 0 || f.ledger.TotalPrincipal().Sign() != 0 {
		t.Fatal("vault should be empty after full redemption")
	}
	if pos := f.ledger.PositionOf(alice); pos.Shares.Sign() != 0 || pos.Principal.Sign() != 0 {
		t.Fatal("position should be zeroed")
	}
}

func TestRedeemDistributesUnreservedYield(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 100)
	f.balance.Grow(big.NewInt(10))

	assets, err := f.ledger.Redeem(context.Background(), alice, big.NewInt(100), alice, alice)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if assets.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("redeem is priced off the live balance: got %s, want 110", assets)
	}
}

func TestWithdrawRoundsSharesUp(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 100)
	f.balance.Grow(big.NewInt(50)) // balance 150, shares 100

	shares, err := f.ledger.Withdraw(context.Background(), alice, big.NewInt(100), alice, alice)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	// ceil(100 * 100 / 150) = 67
	if shares.Cmp(big.NewInt(67)) != 0 {
		t.Fatalf("withdraw burned %s shares, want 67", shares)
	}
}

func TestWithdrawFromEmptyVault(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ledger.Withdraw(context.Background(), alice, big.NewInt(1), alice, alice); !errors.Is(err, ErrEmptyVault) {
		t.Fatalf("expected ErrEmptyVault, got %v", err)
	}
}

func TestRedeemMoreThanOwned(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 100)
	if _, err := f.ledger.Redeem(context.Background(), alice, big.NewInt(101), alice, alice); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if f.ledger.TotalShares().Cmp(big.NewInt(100)) != 0 {
		t.Fatal("failed redeem must not mutate state")
	}
}

func TestAllowanceGatedRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, alice, 100)

	if _, err := f.ledger.Redeem(ctx, bob, big.NewInt(10), bob, alice); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("undelegated caller should fail: %v", err)
	}

	if err := f.ledger.Approve(ctx, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := f.ledger.Redeem(ctx, bob, big.NewInt(30), bob, alice); err != nil {
		t.Fatalf("delegated redeem: %v", err)
	}
	if got := f.ledger.Allowance(alice, bob); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("allowance should be spent down to 10, got %s", got)
	}
	if _, err := f.ledger.Redeem(ctx, bob, big.NewInt(20), bob, alice); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("over-spending allowance should fail: %v", err)
	}
}

func TestConservationAcrossDepositsAndWithdrawals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, alice, 100)
	f.deposit(t, bob, 250)

	if _, err := f.ledger.Redeem(ctx, bob, big.NewInt(100), bob, bob); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if _, err := f.ledger.Withdraw(ctx, alice, big.NewInt(40), alice, alice); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	sum := new(big.Int)
	for _, user := range []common.Address{alice, bob} {
		sum.Add(sum, f.ledger.PositionOf(user).Principal)
	}
	if sum.Cmp(f.ledger.TotalPrincipal()) != 0 {
		t.Fatalf("principal conservation violated: positions sum %s, total %s", sum, f.ledger.TotalPrincipal())
	}
	if f.ledger.TotalPrincipal().Cmp(big.NewInt(350)) > 0 {
		t.Fatalf("total principal %s exceeds cumulative net deposits", f.ledger.TotalPrincipal())
	}
}

func TestExternalGrowthOnlyMovesYield(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, alice, 100)

	beforeYield, err := f.ledger.AvailableYield(ctx)
	if err != nil {
		t.Fatalf("AvailableYield: %v", err)
	}
	sharesBefore := f.ledger.TotalShares()
	principalBefore := f.ledger.TotalPrincipal()

	f.balance.Grow(big.NewInt(37))

	afterYield, err := f.ledger.AvailableYield(ctx)
	if err != nil {
		t.Fatalf("AvailableYield: %v", err)
	}
	delta := new(big.Int).Sub(afterYield, beforeYield)
	if delta.Cmp(big.NewInt(37)) != 0 {
		t.Fatalf("yield should grow by exactly 37, grew by %s", delta)
	}
	if f.ledger.TotalShares().Cmp(sharesBefore) != 0 || f.ledger.TotalPrincipal().Cmp(principalBefore) != 0 {
		t.Fatal("external growth must not touch shares or principal")
	}
}

func TestMintChargesCeiledAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, alice, 100)
	f.balance.Grow(big.NewInt(50)) // 150 assets / 100 shares

	f.balance.Fund(bob, big.NewInt(100))
	assets, err := f.ledger.Mint(ctx, bob, big.NewInt(10), bob)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	// ceil(10 * 150 / 100) = 15
	if assets.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("mint cost %s, want 15", assets)
	}
	if f.ledger.PositionOf(bob).Shares.Cmp(big.NewInt(10)) != 0 {
		t.Fatal("mint should credit exactly the requested shares")
	}
}

func TestPreviewsMatchOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, alice, 100)
	f.balance.Grow(big.NewInt(23))

	previewShares, err := f.ledger.PreviewDeposit(ctx, big.NewInt(77))
	if err != nil {
		t.Fatalf("PreviewDeposit: %v", err)
	}
	f.balance.Fund(bob, big.NewInt(77))
	shares, err := f.ledger.Deposit(ctx, bob, big.NewInt(77), bob)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if previewShares.Cmp(shares) != 0 {
		t.Fatalf("preview %s != minted %s", previewShares, shares)
	}

	previewAssets, err := f.ledger.PreviewRedeem(ctx, shares)
	if err != nil {
		t.Fatalf("PreviewRedeem: %v", err)
	}
	assets, err := f.ledger.Redeem(ctx, bob, shares, bob, bob)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if previewAssets.Cmp(assets) != 0 {
		t.Fatalf("preview %s != redeemed %s", previewAssets, assets)
	}
}

func TestConfigChangesAreOwnerGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := common.HexToHash("0x02")
	if err := f.ledger.SetMarket(ctx, alice, other); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner config change should fail: %v", err)
	}
	if err := f.ledger.SetMarket(ctx, admin, other); err != nil {
		t.Fatalf("owner config change: %v", err)
	}
	if err := f.ledger.SetOracle(ctx, admin, NewStaticOracle(fixedpoint.Wad), "static"); err != nil {
		t.Fatalf("SetOracle: %v", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 100)
	f.balance.Grow(big.NewInt(10))

	state := f.ledger.State()
	positions := []PositionSnapshot{f.ledger.PositionOf(alice)}

	rebuilt, err := New(Options{Owner: admin, Balance: f.balance}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rebuilt.Restore(state, positions)

	if rebuilt.TotalShares().Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("restored shares = %s", rebuilt.TotalShares())
	}
	if rebuilt.PositionOf(alice).Principal.Cmp(big.NewInt(100)) != 0 {
		t.Fatal("restored position mismatch")
	}
}
