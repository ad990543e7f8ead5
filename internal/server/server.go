package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"yieldvault/internal/alerting"
	"yieldvault/internal/config"
	"yieldvault/internal/storage"
	"yieldvault/internal/vault"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Server exposes the ledger over HTTP.
type Server struct {
	cfg      config.ServerConfig
	ledger   *vault.Ledger
	events   storage.EventStore
	notifier alerting.Notifier
	alertCfg config.AlertingConfig
	logger   zerolog.Logger
}

// New builds an HTTP server around a ledger. events and notifier may be nil.
func New(cfg config.ServerConfig, ledger *vault.Ledger, events storage.EventStore, notifier alerting.Notifier, alertCfg config.AlertingConfig, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		ledger:   ledger,
		events:   events,
		notifier: notifier,
		alertCfg: alertCfg,
		logger:   logger.With().Str("component", "server").Logger(),
	}
}

// Router assembles the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/deposit", s.handleDeposit)
		v1.Post("/mint", s.handleMint)
		v1.Post("/withdraw", s.handleWithdraw)
		v1.Post("/redeem", s.handleRedeem)
		v1.Post("/approve", s.handleApprove)
		v1.Post("/subsidy/request", s.handleSubsidyRequest)
		v1.Post("/subsidy/redeem", s.handleSubsidyRedeem)

		v1.Get("/state", s.handleState)
		v1.Get("/positions/{address}", s.handlePosition)
		v1.Get("/preview/deposit", s.handlePreviewDeposit)
		v1.Get("/preview/mint", s.handlePreviewMint)
		v1.Get("/preview/withdraw", s.handlePreviewWithdraw)
		v1.Get("/preview/redeem", s.handlePreviewRedeem)
		v1.Get("/events", s.handleEvents)
	})

	return r
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
