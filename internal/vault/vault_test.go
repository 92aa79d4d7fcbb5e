package vault

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/roles"
	"github.com/alanyoungcy/marginpool/internal/state"
)

var (
	usdc   = common.HexToAddress("0xc1")
	admin  = common.HexToAddress("0xad")
	alice  = common.HexToAddress("0xa1")
	bob    = common.HexToAddress("0xb0")
	pool   = common.HexToAddress("0x9001")
	router = common.HexToAddress("0x7007")
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type fixture struct {
	vault *Vault
	reg   *Registry
	bank  *state.Bank
	clock *fakeClock
	j     *state.Journal
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := state.NewJournal()
	clock := &fakeClock{t: time.Unix(1_000_000, 0)}
	eng := engine.New(j, clock, nil, logger)
	bank := state.NewBank(j, common.HexToAddress("0xee"))
	rr := roles.NewRegistry(logger)
	rr.Seed(domain.RoleAdmin, admin)
	rr.Seed(domain.RoleVaultAdmin, admin)

	v := New(Config{Address: common.HexToAddress("0x5a"), Asset: usdc, Router: router}, eng, bank, rr, logger)
	reg := NewRegistry(eng, rr, v)
	if err := reg.Register(context.Background(), admin, pool, v.Address()); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, a := range []common.Address{alice, bob, pool, admin} {
		if err := bank.Mint(usdc, a, big.NewInt(1_000_000)); err != nil {
			t.Fatal(err)
		}
	}
	j.Commit()
	return fixture{vault: v, reg: reg, bank: bank, clock: clock, j: j}
}

func TestDepositWithdrawProportional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shares, err := f.vault.Deposit(ctx, alice, big.NewInt(1000), alice)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Int64() != 1000 {
		t.Fatalf("first deposit shares = %s, want 1000 (1:1)", shares)
	}

	// Borrow 500, repay 600: 100 interest raises share price.
	if err := f.vault.Borrow(ctx, pool, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if f.vault.TotalAssets().Int64() != 1000 {
		t.Fatalf("borrow changed totalAssets to %s", f.vault.TotalAssets())
	}
	before := f.vault.SharePrice()
	if err := f.vault.Repay(ctx, pool, big.NewInt(600), big.NewInt(500)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if !f.vault.SharePrice().GreaterThan(before) {
		t.Fatalf("share price %s not above %s after interest", f.vault.SharePrice(), before)
	}

	shares, err = f.vault.Deposit(ctx, bob, big.NewInt(1100), bob)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Int64() != 1000 {
		t.Fatalf("second deposit shares = %s, want 1000", shares)
	}

	assets, err := f.vault.Redeem(ctx, alice, f.vault.SharesOf(alice), alice, alice)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if assets.Int64() != 1100 {
		t.Fatalf("redeemed %s, want initial 1000 + 100 interest", assets)
	}
}

func TestWithdrawRoundsSharesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.vault.Deposit(ctx, alice, big.NewInt(3), alice); err != nil {
		t.Fatal(err)
	}
	// Boost the price to 4 assets per 3 shares.
	if err := f.vault.Borrow(ctx, pool, big.NewInt(0)); err != nil {
		t.Fatal(err)
	}
	if err := f.vault.Repay(ctx, pool, big.NewInt(1), big.NewInt(0)); err != nil {
		t.Fatal(err)
	}
	shares, err := f.vault.Withdraw(ctx, alice, big.NewInt(1), alice, alice)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// 1 * 3 / 4 = 0.75 -> 1
	if shares.Int64() != 1 {
		t.Fatalf("burned %s shares, want 1", shares)
	}
}

func TestWithdrawAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.vault.Deposit(ctx, alice, big.NewInt(100), alice); err != nil {
		t.Fatal(err)
	}
	if _, err := f.vault.Withdraw(ctx, bob, big.NewInt(10), bob, alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.vault.Withdraw(ctx, router, big.NewInt(10), router, alice); err != nil {
		t.Fatalf("router withdraw: %v", err)
	}
}

func TestBorrowLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.vault.Deposit(ctx, alice, big.NewInt(100), alice); err != nil {
		t.Fatal(err)
	}
	if err := f.vault.Borrow(ctx, alice, big.NewInt(10)); !errors.Is(err, domain.ErrCallerNotPool) {
		t.Fatalf("err = %v, want ErrCallerNotPool", err)
	}
	if err := f.vault.Borrow(ctx, pool, big.NewInt(101)); !errors.Is(err, domain.ErrInsufficientAvailablePrincipal) {
		t.Fatalf("err = %v, want ErrInsufficientAvailablePrincipal", err)
	}
}

func TestRepayLossLowersAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.vault.Deposit(ctx, alice, big.NewInt(1000), alice); err != nil {
		t.Fatal(err)
	}
	if err := f.vault.Borrow(ctx, pool, big.NewInt(500)); err != nil {
		t.Fatal(err)
	}
	if err := f.vault.Repay(ctx, pool, big.NewInt(400), big.NewInt(500)); err != nil {
		t.Fatal(err)
	}
	if got := f.vault.TotalAssets().Int64(); got != 900 {
		t.Fatalf("totalAssets = %d, want 900", got)
	}
	if got := f.vault.Borrowed().Sign(); got != 0 {
		t.Fatalf("borrowed not cleared")
	}
}

func TestBoostVestsLinearly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.vault.Deposit(ctx, alice, big.NewInt(1000), alice); err != nil {
		t.Fatal(err)
	}
	if _, err := f.vault.PayBoost(ctx); !errors.Is(err, domain.ErrBoostNotActive) {
		t.Fatalf("err = %v, want ErrBoostNotActive", err)
	}
	if err := f.vault.StartBoost(ctx, alice, big.NewInt(100), 100); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := f.vault.StartBoost(ctx, admin, big.NewInt(100), 100); err != nil {
		t.Fatalf("start boost: %v", err)
	}
	if err := f.vault.StartBoost(ctx, admin, big.NewInt(1), 1); !errors.Is(err, domain.ErrBoostAlreadyActive) {
		t.Fatalf("err = %v, want ErrBoostAlreadyActive", err)
	}
	// The escrow is not lendable.
	if got := f.vault.Available().Int64(); got != 1000 {
		t.Fatalf("available = %d, want 1000", got)
	}

	f.clock.t = f.clock.t.Add(25 * time.Second)
	paid, err := f.vault.PayBoost(ctx)
	if err != nil {
		t.Fatalf("pay boost: %v", err)
	}
	if paid.Int64() != 25 || f.vault.TotalAssets().Int64() != 1025 {
		t.Fatalf("paid %s, totalAssets %s; want 25, 1025", paid, f.vault.TotalAssets())
	}

	f.clock.t = f.clock.t.Add(time.Hour)
	if _, err := f.vault.Deposit(ctx, bob, big.NewInt(11), bob); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if f.vault.Boost().unpaid().Sign() != 0 {
		t.Fatal("deposit did not release the vested boost")
	}
	if got := f.vault.TotalAssets().Int64(); got != 1111 {
		t.Fatalf("totalAssets = %d, want 1111", got)
	}
}

func TestRegistryRejectsSecondVaultForAsset(t *testing.T) {
	f := newFixture(t)
	err := f.reg.Register(context.Background(), admin, pool, f.vault.Address())
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if _, err := f.reg.For(pool, common.HexToAddress("0xdead")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
