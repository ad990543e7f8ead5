package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"yieldvault/internal/alerting"
	"yieldvault/internal/vault"
)

type depositRequest struct {
	Caller   string `json:"caller"`
	Receiver string `json:"receiver"`
	Assets   string `json:"assets"`
}

type mintRequest struct {
	Caller   string `json:"caller"`
	Receiver string `json:"receiver"`
	Shares   string `json:"shares"`
}

type withdrawRequest struct {
	Caller   string `json:"caller"`
	Receiver string `json:"receiver"`
	Owner    string `json:"owner"`
	Assets   string `json:"assets"`
}

type redeemRequest struct {
	Caller   string `json:"caller"`
	Receiver string `json:"receiver"`
	Owner    string `json:"owner"`
	Shares   string `json:"shares"`
}

type approveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Shares  string `json:"shares"`
}

type subsidyRequest struct {
	User string `json:"user"`
}

type stateResponse struct {
	TotalAssets           string `json:"total_assets"`
	TotalShares           string `json:"total_shares"`
	TotalPrincipal        string `json:"total_principal"`
	TotalAllocatedSubsidy string `json:"total_allocated_subsidy"`
	AvailableYield        string `json:"available_yield"`
}

type mutationResponse struct {
	Assets      string `json:"assets,omitempty"`
	Shares      string `json:"shares,omitempty"`
	Reservation string `json:"reservation,omitempty"`
}

type positionResponse struct {
	User            string `json:"user"`
	Principal       string `json:"principal"`
	Shares          string `json:"shares"`
	ReservedSubsidy string `json:"reserved_subsidy"`
	DebtInterest    string `json:"last_debt_interest"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, receiver, ok := s.twoAddresses(w, req.Caller, req.Receiver)
	if !ok {
		return
	}
	assets, ok := s.amount(w, req.Assets)
	if !ok {
		return
	}

	shares, err := s.ledger.Deposit(r.Context(), caller, assets, receiver)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mutationResponse{Assets: assets.String(), Shares: shares.String()})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, receiver, ok := s.twoAddresses(w, req.Caller, req.Receiver)
	if !ok {
		return
	}
	shares, ok := s.amount(w, req.Shares)
	if !ok {
		return
	}

	assets, err := s.ledger.Mint(r.Context(), caller, shares, receiver)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mutationResponse{Assets: assets.String(), Shares: shares.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, receiver, owner, ok := s.threeAddresses(w, req.Caller, req.Receiver, req.Owner)
	if !ok {
		return
	}
	assets, ok := s.amount(w, req.Assets)
	if !ok {
		return
	}

	shares, err := s.ledger.Withdraw(r.Context(), caller, assets, receiver, owner)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mutationResponse{Assets: assets.String(), Shares: shares.String()})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, receiver, owner, ok := s.threeAddresses(w, req.Caller, req.Receiver, req.Owner)
	if !ok {
		return
	}
	shares, ok := s.amount(w, req.Shares)
	if !ok {
		return
	}

	assets, err := s.ledger.Redeem(r.Context(), caller, shares, receiver, owner)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mutationResponse{Assets: assets.String(), Shares: shares.String()})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, spender, ok := s.twoAddresses(w, req.Owner, req.Spender)
	if !ok {
		return
	}
	shares, ok := s.amount(w, req.Shares)
	if !ok {
		return
	}

	if err := s.ledger.Approve(r.Context(), owner, spender, shares); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mutationResponse{Shares: shares.String()})
}

func (s *Server) handleSubsidyRequest(w http.ResponseWriter, r *http.Request) {
	var req subsidyRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, ok := s.address(w, req.User)
	if !ok {
		return
	}

	reservation, err := s.ledger.RequestInterestSubsidy(r.Context(), user)
	if err != nil {
		if errors.Is(err, vault.ErrInsufficientYield) {
			s.alertRejection(user)
		}
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mutationResponse{Reservation: reservation.String()})
}

func (s *Server) handleSubsidyRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, receiver, owner, ok := s.threeAddresses(w, req.Caller, req.Receiver, req.Owner)
	if !ok {
		return
	}
	shares, ok := s.amount(w, req.Shares)
	if !ok {
		return
	}

	assets, err := s.ledger.RedeemWithInterestSubsidy(r.Context(), caller, shares, receiver, owner)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mutationResponse{Assets: assets.String(), Shares: shares.String()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	totalAssets, err := s.ledger.TotalAssets(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	available, err := s.ledger.AvailableYield(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	state := s.ledger.State()

	s.writeJSON(w, http.StatusOK, stateResponse{
		TotalAssets:           totalAssets.String(),
		TotalShares:           state.TotalShares.String(),
		TotalPrincipal:        state.TotalPrincipal.String(),
		TotalAllocatedSubsidy: state.TotalAllocatedSubsidy.String(),
		AvailableYield:        available.String(),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	user, ok := s.address(w, chi.URLParam(r, "address"))
	if !ok {
		return
	}
	pos := s.ledger.PositionOf(user)
	s.writeJSON(w, http.StatusOK, positionResponse{
		User:            pos.User.Hex(),
		Principal:       pos.Principal.String(),
		Shares:          pos.Shares.String(),
		ReservedSubsidy: pos.ReservedSubsidy.String(),
		DebtInterest:    pos.LastRecordedDebtInterest.String(),
	})
}

func (s *Server) handlePreviewDeposit(w http.ResponseWriter, r *http.Request) {
	s.preview(w, r, "assets", s.ledger.PreviewDeposit, "shares")
}

func (s *Server) handlePreviewMint(w http.ResponseWriter, r *http.Request) {
	s.preview(w, r, "shares", s.ledger.PreviewMint, "assets")
}

func (s *Server) handlePreviewWithdraw(w http.ResponseWriter, r *http.Request) {
	s.preview(w, r, "assets", s.ledger.PreviewWithdraw, "shares")
}

func (s *Server) handlePreviewRedeem(w http.ResponseWriter, r *http.Request) {
	s.preview(w, r, "shares", s.ledger.PreviewRedeem, "assets")
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request, param string, fn func(context.Context, *big.Int) (*big.Int, error), field string) {
	amount, ok := s.amount(w, r.URL.Query().Get(param))
	if !ok {
		return
	}
	result, err := fn(r.Context(), amount)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{field: result.String()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event store not configured"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be in (0,1000]"})
			return
		}
		limit = parsed
	}

	events, err := s.events.ListRecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list events failed")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "list events failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

// alertRejection pushes a best-effort notification when a subsidy request
// bounces off the yield bound.
func (s *Server) alertRejection(user common.Address) {
	if s.notifier == nil || !s.alertCfg.Enabled || !s.alertCfg.NotifyRejection {
		return
	}
	note := alerting.Notification{
		Bucket:   time.Now().UTC(),
		Kind:     alerting.KindSubsidyRejected,
		User:     user.Hex(),
		Channels: s.alertCfg.Channels,
	}
	if allocated := s.ledger.TotalAllocatedSubsidy(); allocated != nil {
		note.AllocatedSubsidy = decimal.NewFromBigInt(allocated, 0)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Warn().Err(err).Msg("subsidy rejection alert failed")
		}
	}()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, requestBodyLimit)
	defer body.Close()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decode request: %v", err)})
		return false
	}
	return true
}

func (s *Server) address(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address %q", raw)})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) twoAddresses(w http.ResponseWriter, a, b string) (common.Address, common.Address, bool) {
	first, ok := s.address(w, a)
	if !ok {
		return common.Address{}, common.Address{}, false
	}
	second, ok := s.address(w, b)
	if !ok {
		return common.Address{}, common.Address{}, false
	}
	return first, second, true
}

func (s *Server) threeAddresses(w http.ResponseWriter, a, b, c string) (common.Address, common.Address, common.Address, bool) {
	first, second, ok := s.twoAddresses(w, a, b)
	if !ok {
		return common.Address{}, common.Address{}, common.Address{}, false
	}
	third, ok := s.address(w, c)
	if !ok {
		return common.Address{}, common.Address{}, common.Address{}, false
	}
	return first, second, third, true
}

func (s *Server) amount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	parsed, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid amount %q", raw)})
		return nil, false
	}
	return parsed, true
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrInvalidAmount), errors.Is(err, vault.ErrInvalidAddress):
		status = http.StatusBadRequest
	case errors.Is(err, vault.ErrNoPosition):
		status = http.StatusNotFound
	case errors.Is(err, vault.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, vault.ErrInsufficientYield),
		errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, vault.ErrInsufficientAllowance),
		errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, vault.ErrEmptyVault):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrNotConfigured), errors.Is(err, vault.ErrInvalidPrice):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("ledger operation failed")
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("encode response failed")
	}
}
