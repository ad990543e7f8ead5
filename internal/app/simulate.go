package app

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/internal/debt"
	"yieldvault/internal/fixedpoint"
	"yieldvault/internal/vault"
)

// SimulateOptions 配置模拟场景的金额参数。
type SimulateOptions struct {
	Principal int64
	Growth    int64
	Interest  int64
}

// Simulate 在内存账本上走一遍完整的补贴周期并打印轨迹。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Principal <= 0 {
		return fmt.Errorf("principal must be positive")
	}
	if opts.Interest < 0 || opts.Growth < 0 {
		return fmt.Errorf("growth and interest cannot be negative")
	}

	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	market := common.HexToHash("0x01")

	balance := vault.NewMemoryBalance()
	balance.Fund(user, big.NewInt(opts.Principal))
	oracle := vault.NewStaticOracle(new(big.Int).Set(fixedpoint.Wad))

	now := time.Now().UTC()
	source := debt.NewStaticSource(debt.MarketSnapshot{
		Market:            market,
		TotalBorrowShares: big.NewInt(0),
		TotalBorrowAssets: big.NewInt(0),
		LastUpdate:        uint64(now.Unix()),
		RatePerSecond:     big.NewInt(0),
	})

	ledger, err := vault.New(vault.Options{
		Balance:    balance,
		DebtSource: source,
		Oracle:     oracle,
		Market:     market,
		Now:        func() time.Time { return now.Add(time.Second) },
	}, a.Logger)
	if err != nil {
		return err
	}

	principal := big.NewInt(opts.Principal)
	shares, err := ledger.Deposit(ctx, user, principal, user)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	fmt.Fprintf(os.Stdout, "deposit: %s assets -> %s shares\n", principal, shares)

	if opts.Growth > 0 {
		balance.Grow(big.NewInt(opts.Growth))
		fmt.Fprintf(os.Stdout, "growth: +%d external yield\n", opts.Growth)
	}

	if opts.Interest > 0 {
		// One-second window sized so the accrued interest lands exactly on
		// the requested amount.
		rate := new(big.Int).Mul(big.NewInt(opts.Interest), fixedpoint.Wad)
		rate.Quo(rate, principal)
		source.SetSnapshot(debt.MarketSnapshot{
			Market:            market,
			TotalBorrowShares: new(big.Int).Set(principal),
			TotalBorrowAssets: new(big.Int).Set(principal),
			LastUpdate:        uint64(now.Unix()),
			RatePerSecond:     rate,
		})
		source.SetUserBorrowShares(user, new(big.Int).Set(principal))
	}

	reservation, err := ledger.RequestInterestSubsidy(ctx, user)
	if err != nil {
		return fmt.Errorf("request subsidy: %w", err)
	}
	fmt.Fprintf(os.Stdout, "subsidy requested: %s reserved\n", reservation)

	available, err := ledger.AvailableYield(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "available yield after reservation: %s\n", available)

	assets, err := ledger.RedeemWithInterestSubsidy(ctx, user, shares, user, user)
	if err != nil {
		return fmt.Errorf("redeem with subsidy: %w", err)
	}
	fmt.Fprintf(os.Stdout, "redeemed: %s assets (wallet %s)\n", assets, balance.WalletOf(user))

	state := ledger.State()
	fmt.Fprintf(os.Stdout, "final totals: shares=%s principal=%s allocated=%s\n",
		state.TotalShares, state.TotalPrincipal, state.TotalAllocatedSubsidy)
	return nil
}
