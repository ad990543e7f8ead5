package monitor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"yieldvault/internal/alerting"
	"yieldvault/internal/config"
	"yieldvault/internal/storage"
	"yieldvault/internal/vault"
)

type sampleSink struct {
	samples []storage.YieldSample
}

func (s *sampleSink) UpsertYieldSample(_ context.Context, sample storage.YieldSample) error {
	s.samples = append(s.samples, sample)
	return nil
}

func (s *sampleSink) ListSamplesBetween(context.Context, time.Time, time.Time) ([]storage.YieldSample, error) {
	return s.samples, nil
}

func (s *sampleSink) ListRecentSamples(context.Context, int) ([]storage.YieldSample, error) {
	return s.samples, nil
}

func (s *sampleSink) CountSamples(context.Context) (int64, error) {
	return int64(len(s.samples)), nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (n *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

func newMonitorFixture(t *testing.T, alertCfg config.AlertingConfig) (*Service, *vault.MemoryBalance, *sampleSink, *captureNotifier) {
	t.Helper()

	balance := vault.NewMemoryBalance()
	depositor := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	balance.Fund(depositor, big.NewInt(1_000))

	ledger, err := vault.New(vault.Options{Balance: balance}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if _, err := ledger.Deposit(context.Background(), depositor, big.NewInt(100), depositor); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	cfg := &config.Config{Alerting: alertCfg}
	cfg.Sampler.Interval = time.Minute

	sink := &sampleSink{}
	notifier := &captureNotifier{}
	svc := New(cfg, nil, ledger, sink, notifier, zerolog.Nop())
	return svc, balance, sink, notifier
}

func TestProcessBucketRecordsSample(t *testing.T) {
	svc, balance, sink, _ := newMonitorFixture(t, config.AlertingConfig{})
	balance.Grow(big.NewInt(10))

	bucket := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := svc.ProcessBucket(context.Background(), bucket); err != nil {
		t.Fatalf("process bucket: %v", err)
	}

	if len(sink.samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(sink.samples))
	}
	sample := sink.samples[0]
	if !sample.Bucket.Equal(bucket) {
		t.Fatalf("bucket = %v, want %v", sample.Bucket, bucket)
	}
	if sample.TotalAssets.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("total assets = %s, want 110", sample.TotalAssets)
	}
	if sample.AvailableYield.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("available yield = %s, want 10", sample.AvailableYield)
	}
	if sample.Status != "complete" {
		t.Fatalf("status = %q, want complete", sample.Status)
	}
}

func TestProcessBucketNoAlertBelowThreshold(t *testing.T) {
	svc, balance, _, notifier := newMonitorFixture(t, config.AlertingConfig{
		Enabled:        true,
		UtilisationPct: 80,
	})
	balance.Grow(big.NewInt(10))

	if err := svc.ProcessBucket(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("process bucket: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatalf("notes = %d, want 0", len(notifier.notes))
	}
}

func TestUtilisationPct(t *testing.T) {
	cases := []struct {
		name      string
		allocated int64
		available int64
		want      string
	}{
		{"empty", 0, 0, "0"},
		{"half", 5, 5, "50"},
		{"all_committed", 10, 0, "100"},
		{"quarter", 1, 3, "25"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := utilisationPct(decimal.NewFromInt(tc.allocated), decimal.NewFromInt(tc.available))
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("utilisation = %s, want %s", got, tc.want)
			}
		})
	}
}
