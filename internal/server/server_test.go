package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"yieldvault/internal/config"
	"yieldvault/internal/vault"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newTestServer(t *testing.T) (*httptest.Server, *vault.MemoryBalance) {
	t.Helper()

	balance := vault.NewMemoryBalance()
	balance.Fund(alice, big.NewInt(1_000))
	balance.Fund(bob, big.NewInt(1_000))

	ledger, err := vault.New(vault.Options{Balance: balance}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	srv := New(config.ServerConfig{Addr: ":0"}, ledger, nil, nil, config.AlertingConfig{}, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, balance
}

func postJSON(t *testing.T, ts *httptest.Server, path string, payload interface{}) (*http.Response, map[string]string) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	decoded := make(map[string]string)
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (*http.Response, map[string]string) {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	decoded := make(map[string]string)
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestDepositEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := postJSON(t, ts, "/v1/deposit", depositRequest{
		Caller:   alice.Hex(),
		Receiver: alice.Hex(),
		Assets:   "100",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", resp.StatusCode, body)
	}
	if body["shares"] != "100" {
		t.Fatalf("shares = %q, want 100", body["shares"])
	}
}

func TestDepositRejectsBadAddress(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := postJSON(t, ts, "/v1/deposit", depositRequest{
		Caller:   "not-an-address",
		Receiver: alice.Hex(),
		Assets:   "100",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDepositRejectsBadAmount(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := postJSON(t, ts, "/v1/deposit", depositRequest{
		Caller:   alice.Hex(),
		Receiver: alice.Hex(),
		Assets:   "12.5",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWithdrawFromEmptyVaultConflicts(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := postJSON(t, ts, "/v1/withdraw", withdrawRequest{
		Caller:   alice.Hex(),
		Receiver: alice.Hex(),
		Owner:    alice.Hex(),
		Assets:   "10",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRedeemWithoutAllowanceForbidsSpender(t *testing.T) {
	ts, _ := newTestServer(t)

	if resp, _ := postJSON(t, ts, "/v1/deposit", depositRequest{Caller: alice.Hex(), Receiver: alice.Hex(), Assets: "100"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("seed deposit failed: %d", resp.StatusCode)
	}

	resp, _ := postJSON(t, ts, "/v1/redeem", redeemRequest{
		Caller:   bob.Hex(),
		Receiver: bob.Hex(),
		Owner:    alice.Hex(),
		Shares:   "50",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestApproveThenThirdPartyRedeem(t *testing.T) {
	ts, _ := newTestServer(t)

	if resp, _ := postJSON(t, ts, "/v1/deposit", depositRequest{Caller: alice.Hex(), Receiver: alice.Hex(), Assets: "100"}); resp.StatusCode != http.StatusOK {
		t.Fatal("seed deposit failed")
	}
	if resp, _ := postJSON(t, ts, "/v1/approve", approveRequest{Owner: alice.Hex(), Spender: bob.Hex(), Shares: "60"}); resp.StatusCode != http.StatusOK {
		t.Fatal("approve failed")
	}

	resp, body := postJSON(t, ts, "/v1/redeem", redeemRequest{
		Caller:   bob.Hex(),
		Receiver: bob.Hex(),
		Owner:    alice.Hex(),
		Shares:   "60",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", resp.StatusCode, body)
	}
	if body["assets"] != "60" {
		t.Fatalf("assets = %q, want 60", body["assets"])
	}
}

func TestStateEndpoint(t *testing.T) {
	ts, balance := newTestServer(t)

	if resp, _ := postJSON(t, ts, "/v1/deposit", depositRequest{Caller: alice.Hex(), Receiver: alice.Hex(), Assets: "100"}); resp.StatusCode != http.StatusOK {
		t.Fatal("seed deposit failed")
	}
	balance.Grow(big.NewInt(10))

	resp, body := getJSON(t, ts, "/v1/state")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["total_assets"] != "110" {
		t.Fatalf("total_assets = %q, want 110", body["total_assets"])
	}
	if body["total_principal"] != "100" {
		t.Fatalf("total_principal = %q, want 100", body["total_principal"])
	}
	if body["available_yield"] != "10" {
		t.Fatalf("available_yield = %q, want 10", body["available_yield"])
	}
}

func TestPositionEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	if resp, _ := postJSON(t, ts, "/v1/deposit", depositRequest{Caller: alice.Hex(), Receiver: alice.Hex(), Assets: "75"}); resp.StatusCode != http.StatusOK {
		t.Fatal("seed deposit failed")
	}

	resp, body := getJSON(t, ts, fmt.Sprintf("/v1/positions/%s", alice.Hex()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["principal"] != "75" || body["shares"] != "75" {
		t.Fatalf("position = %v, want principal/shares 75", body)
	}
}

func TestPreviewEndpoints(t *testing.T) {
	ts, balance := newTestServer(t)

	if resp, _ := postJSON(t, ts, "/v1/deposit", depositRequest{Caller: alice.Hex(), Receiver: alice.Hex(), Assets: "100"}); resp.StatusCode != http.StatusOK {
		t.Fatal("seed deposit failed")
	}
	balance.Grow(big.NewInt(10))

	// 100 assets at price 1.1 floors to 90 shares.
	if _, body := getJSON(t, ts, "/v1/preview/deposit?assets=100"); body["shares"] != "90" {
		t.Fatalf("preview deposit = %v, want shares 90", body)
	}
	// 74 assets out needs ceil(74*100/110) = 68 shares.
	if _, body := getJSON(t, ts, "/v1/preview/withdraw?assets=74"); body["shares"] != "68" {
		t.Fatalf("preview withdraw = %v, want shares 68", body)
	}
}

func TestSubsidyRequestWithoutDebtSource(t *testing.T) {
	ts, _ := newTestServer(t)

	if resp, _ := postJSON(t, ts, "/v1/deposit", depositRequest{Caller: alice.Hex(), Receiver: alice.Hex(), Assets: "100"}); resp.StatusCode != http.StatusOK {
		t.Fatal("seed deposit failed")
	}

	resp, _ := postJSON(t, ts, "/v1/subsidy/request", subsidyRequest{User: alice.Hex()})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestEventsWithoutStore(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
