package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"yieldvault/internal/alerting"
	"yieldvault/internal/chain"
	"yieldvault/internal/config"
	"yieldvault/internal/debt"
	"yieldvault/internal/logging"
	"yieldvault/internal/monitor"
	"yieldvault/internal/scheduler"
	"yieldvault/internal/server"
	"yieldvault/internal/storage"
	"yieldvault/internal/vault"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// newLedger wires the ledger with on-chain collaborators when the ethereum
// section is configured, falling back to in-memory custody for development.
func (a *App) newLedger(store *storage.Store) (*vault.Ledger, error) {
	eth := a.Config.Ethereum

	var balance vault.BalanceProvider
	if eth.RPCURL != "" && eth.AssetAddress != "" && eth.VaultAddress != "" {
		balance = chain.NewBalance(chain.BalanceOptions{
			RPCURL:       eth.RPCURL,
			AssetAddress: eth.AssetAddress,
			VaultAddress: eth.VaultAddress,
			Timeout:      eth.RequestTimeout,
		}, a.Logger)
	} else {
		a.Logger.Warn().Msg("ethereum custody not configured; using in-memory balances")
		balance = vault.NewMemoryBalance()
	}

	var oracle vault.PriceOracle
	if eth.RPCURL != "" && eth.OracleAddress != "" {
		oracle = chain.NewOracle(chain.OracleOptions{
			RPCURL:       eth.RPCURL,
			FeedAddress:  eth.OracleAddress,
			FeedDecimals: eth.OracleDecimals,
			Timeout:      eth.RequestTimeout,
		}, a.Logger)
	}

	var debtSource debt.SnapshotSource
	if eth.RPCURL != "" && eth.DebtMarket != "" {
		debtSource = debt.NewEVMSource(debt.EVMSourceOptions{
			RPCURL:          eth.RPCURL,
			ContractAddress: eth.DebtMarket,
			Timeout:         eth.RequestTimeout,
		}, a.Logger)
	}

	opts := vault.Options{
		Owner:      common.HexToAddress(a.Config.Vault.Owner),
		Balance:    balance,
		DebtSource: debtSource,
		Oracle:     oracle,
		Market:     common.HexToHash(a.Config.Ethereum.MarketID),
	}
	if store != nil {
		opts.Journal = store
	}

	return vault.New(opts, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run serves the HTTP API and the yield sampling loop until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	ledger, err := a.newLedger(store)
	if err != nil {
		return err
	}

	if store != nil {
		state, positions, err := store.LoadState(ctx)
		if err != nil {
			return err
		}
		ledger.Restore(state, positions)
		a.Logger.Info().Int("positions", len(positions)).Msg("ledger state restored")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Sampler.Interval,
		AlignToStart: a.Config.Sampler.AlignToBucket,
		StartupDelay: a.Config.Sampler.StartupDelay,
	}, a.Logger)

	notifier := a.newNotifier()

	var sampleStore storage.YieldSampleStore
	var eventStore storage.EventStore
	if store != nil {
		sampleStore = store
		eventStore = store
	}

	svc := monitor.New(a.Config, sched, ledger, sampleStore, notifier, a.Logger)
	srv := server.New(a.Config.Server, ledger, eventStore, notifier, a.Config.Alerting, a.Logger)

	errCh := make(chan error, 2)
	go func() {
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		} else {
			errCh <- nil
		}
	}()
	go func() {
		errCh <- srv.Run(ctx)
	}()

	a.Logger.Info().Msg("starting vault service")
	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	if firstErr != nil {
		a.Logger.Error().Err(firstErr).Msg("service terminated with error")
		return firstErr
	}
	a.Logger.Info().Msg("vault service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	SampleLimit int
	EventLimit  int
}
