package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"yieldvault/internal/alerting"
	"yieldvault/internal/config"
	"yieldvault/internal/scheduler"
	"yieldvault/internal/storage"
	"yieldvault/internal/vault"
)

// Service samples vault totals on an aligned cadence, persists the series,
// and alerts when subsidy allocation eats too far into earned yield.
type Service struct {
	scheduler *scheduler.Scheduler
	ledger    *vault.Ledger
	store     storage.YieldSampleStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	threshold decimal.Decimal
	channels  []string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, ledger *vault.Ledger, store storage.YieldSampleStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.UtilisationPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.UtilisationPct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		ledger:    ledger,
		store:     store,
		notifier:  notifier,
		logger:    logger.With().Str("component", "monitor").Logger(),
		threshold: threshold,
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		locker:    locker,
		lockKey:   cfg.Sampler.AdvisoryLockKey,
	}
}

// Run begins the aligned sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的采样逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	totalAssets, err := s.ledger.TotalAssets(ctx)
	if err != nil {
		return fmt.Errorf("read total assets: %w", err)
	}
	available, err := s.ledger.AvailableYield(ctx)
	if err != nil {
		return fmt.Errorf("read available yield: %w", err)
	}
	state := s.ledger.State()

	sample := storage.YieldSample{
		Bucket:           bucket,
		TotalAssets:      totalAssets,
		TotalPrincipal:   state.TotalPrincipal,
		TotalShares:      state.TotalShares,
		AvailableYield:   available,
		AllocatedSubsidy: state.TotalAllocatedSubsidy,
		Status:           "complete",
		CreatedAt:        time.Now().UTC(),
	}

	if s.store != nil {
		if err := s.store.UpsertYieldSample(ctx, sample); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert sample")
		}
	}

	allocated := decimal.NewFromBigInt(state.TotalAllocatedSubsidy, 0)
	free := decimal.NewFromBigInt(available, 0)
	utilisation := utilisationPct(allocated, free)

	s.logger.Info().Time("bucket", bucket).
		Str("total_assets", totalAssets.String()).
		Str("available_yield", available.String()).
		Str("utilisation_pct", utilisation.String()).
		Msg("sample recorded")

	if s.alertsOn && s.notifier != nil && !s.threshold.IsZero() {
		if utilisation.GreaterThan(s.threshold) {
			note := alerting.Notification{
				Bucket:           bucket,
				Kind:             alerting.KindUtilisation,
				TotalAssets:      decimal.NewFromBigInt(totalAssets, 0),
				AvailableYield:   free,
				AllocatedSubsidy: allocated,
				UtilisationPct:   utilisation,
				ThresholdPct:     s.threshold,
				Channels:         s.channels,
			}
			if err := s.notifier.Notify(ctx, note); err != nil {
				s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch alert")
			}
		}
	}

	return nil
}

// utilisationPct reports the share of earned yield already committed to
// subsidy reservations, in percent.
func utilisationPct(allocated, available decimal.Decimal) decimal.Decimal {
	total := allocated.Add(available)
	if total.IsZero() {
		return decimal.Zero
	}
	return allocated.Div(total).Mul(decimal.NewFromInt(100))
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
