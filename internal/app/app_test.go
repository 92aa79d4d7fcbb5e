package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/config"
	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/protocol"
)

const operatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var faucetAccount = common.HexToAddress("0x00000000000000000000000000000000000000fa")

// memSnapshots is an in-memory domain.SnapshotStore.
type memSnapshots struct {
	mu     sync.Mutex
	latest []byte
}

func (m *memSnapshots) SaveSnapshot(_ context.Context, data []byte, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = append([]byte(nil), data...)
	return "snapshots/" + at.Format(time.RFC3339Nano), nil
}

func (m *memSnapshots) LatestSnapshot(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return nil, domain.ErrNotFound
	}
	return m.latest, nil
}

// heldLease refuses every acquisition.
type heldLease struct{}

func (heldLease) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}
func (heldLease) Extend(context.Context, string, time.Duration) error { return nil }
func (heldLease) Hold(context.Context, string, time.Duration) error   { return nil }

func testApp(t *testing.T) (*App, *Dependencies) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = "devnet"
	cfg.Wallet.PrivateKey = operatorKey
	cfg.Devnet.SeedReserve = "1000000000"
	cfg.Devnet.Faucet = []string{faucetAccount.Hex()}
	cfg.Devnet.FaucetAmount = "5000000"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(&cfg, logger)
	t.Cleanup(a.Close)

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	t.Cleanup(cleanup)
	return a, deps
}

func devnetGenesis(t *testing.T, a *App) genesisFunc {
	t.Helper()
	reserve, faucet, accounts, err := a.cfg.Devnet.Amounts()
	if err != nil {
		t.Fatal(err)
	}
	return seedDevnet(reserve, faucet, accounts)
}

func operatorParams() protocol.Params {
	return protocol.DevnetParams(common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"))
}

func TestWireWithoutBackends(t *testing.T) {
	_, deps := testApp(t)
	if deps.EventStore != nil || deps.LockManager != nil || deps.Snapshots != nil || deps.Notifier != nil {
		t.Fatal("disabled backends were wired")
	}
	if deps.Registry == nil || deps.Metrics == nil {
		t.Fatal("metrics not wired")
	}
	if len(deps.HealthChecks) != 0 {
		t.Fatalf("health checks = %d", len(deps.HealthChecks))
	}
}

func TestOpenLedgerRunsGenesis(t *testing.T) {
	a, deps := testApp(t)
	p, err := a.openLedger(context.Background(), deps, operatorParams(), devnetGenesis(t, a))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	for _, asset := range []common.Address{protocol.DevnetUSDC, protocol.DevnetWETH} {
		if got := p.Bank.BalanceOf(asset, faucetAccount).Int64(); got != 5_000_000 {
			t.Errorf("faucet %s = %d", asset.Hex(), got)
		}
		if got := p.Bank.BalanceOf(asset, protocol.DevnetVenue).Int64(); got != 1_000_000_000 {
			t.Errorf("venue %s = %d", asset.Hex(), got)
		}
	}
}

func TestOpenLedgerRestoresSnapshot(t *testing.T) {
	a, deps := testApp(t)
	ctx := context.Background()
	snaps := &memSnapshots{}
	deps.Snapshots = snaps

	// No snapshot yet: genesis runs.
	src, err := a.openLedger(ctx, deps, operatorParams(), devnetGenesis(t, a))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	if err := src.Mint(ctx, protocol.DevnetUSDC, faucetAccount, big.NewInt(42)); err != nil {
		t.Fatal(err)
	}
	if err := a.saveSnapshot(ctx, deps, src); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	genesisRan := false
	dst, err := a.openLedger(ctx, deps, operatorParams(), func(context.Context, *protocol.Protocol) error {
		genesisRan = true
		return nil
	})
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}
	if genesisRan {
		t.Fatal("genesis ran on a restored ledger")
	}
	if got := dst.Bank.BalanceOf(protocol.DevnetUSDC, faucetAccount).Int64(); got != 5_000_042 {
		t.Fatalf("restored faucet balance = %d", got)
	}
	if dst.Engine.Sequence() != src.Engine.Sequence() {
		t.Fatalf("sequence %d, want %d", dst.Engine.Sequence(), src.Engine.Sequence())
	}
}

func TestOpenLedgerRespectsHeldLease(t *testing.T) {
	a, deps := testApp(t)
	deps.LockManager = heldLease{}
	_, err := a.openLedger(context.Background(), deps, operatorParams(), nil)
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v", err)
	}
}

func TestServerOverDevnetLedger(t *testing.T) {
	a, deps := testApp(t)
	ctx := context.Background()
	p, err := a.openLedger(ctx, deps, operatorParams(), devnetGenesis(t, a))
	if err != nil {
		t.Fatal(err)
	}
	rec := a.attachSinks(ctx, deps, p, devnetUnits(), nil)
	srv := httptest.NewServer(a.newServer(deps, p, rec, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	// Deposits after the sinks are attached reach the event API.
	usdcVault, err := p.Vaults.ByAsset(protocol.DevnetUSDC)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := usdcVault.Deposit(ctx, faucetAccount, big.NewInt(1_000_000), faucetAccount); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	resp, err = http.Get(srv.URL + "/api/vaults?holder=" + faucetAccount.Hex())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vaults status = %d", resp.StatusCode)
	}
	var body struct {
		Vaults []struct {
			Asset  common.Address `json:"asset"`
			Shares *big.Int       `json:"shares"`
		} `json:"vaults"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, v := range body.Vaults {
		if v.Asset == protocol.DevnetUSDC {
			found = true
			if v.Shares == nil || v.Shares.Int64() != 1_000_000 {
				t.Fatalf("shares = %v", v.Shares)
			}
		}
	}
	if !found {
		t.Fatal("usdc vault missing")
	}
	if _, ok := rec.Last(domain.EventVaultDeposit); !ok {
		t.Fatal("recorder missed the deposit")
	}
}
