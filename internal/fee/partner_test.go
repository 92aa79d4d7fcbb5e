package fee

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/registry"
	"github.com/alanyoungcy/marginpool/internal/roles"
	"github.com/alanyoungcy/marginpool/internal/state"
)

var (
	admin    = common.HexToAddress("0xad")
	pool     = common.HexToAddress("0x9001")
	partner  = common.HexToAddress("0x9a")
	receiver = common.HexToAddress("0xfee")
	usdc     = common.HexToAddress("0xc1")
	weth     = common.HexToAddress("0xc2")
)

type fixture struct {
	fees *PartnerFees
	bank *state.Bank
	rec  *engine.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := state.NewJournal()
	eng := engine.New(j, nil, nil, logger)
	rec := engine.NewRecorder(0)
	eng.AddSink(rec)
	bank := state.NewBank(j, weth)

	rr := roles.NewRegistry(logger)
	rr.Seed(domain.RoleAdmin, admin)
	provider := registry.NewProvider(nil, NewController(ControllerConfig{FeeBps: 10, FeeReceiver: receiver}), nil)

	fees := NewPartnerFees(common.HexToAddress("0xfeed"), eng, bank, rr, provider, logger)
	ctx := context.Background()
	if err := fees.AddPool(ctx, admin, pool); err != nil {
		t.Fatalf("add pool: %v", err)
	}
	if err := fees.AddPartner(ctx, admin, partner); err != nil {
		t.Fatalf("add partner: %v", err)
	}
	if err := bank.Mint(usdc, pool, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	j.Commit()
	return fixture{fees: fees, bank: bank, rec: rec}
}

func TestComputeTradeFee(t *testing.T) {
	c := NewController(ControllerConfig{FeeBps: 30})
	if got := c.ComputeTradeFee(big.NewInt(10_000)); got.Int64() != 30 {
		t.Fatalf("fee = %s, want 30", got)
	}
	if got := c.ComputeTradeFee(big.NewInt(333)); got.Int64() != 0 {
		t.Fatalf("fee = %s, want 0 (truncated)", got)
	}
}

func TestDistributeSplitsWithPartner(t *testing.T) {
	f := newFixture(t)
	share, err := f.fees.Distribute(context.Background(), pool, usdc, big.NewInt(101), partner)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if share.Int64() != 50 {
		t.Fatalf("share = %s, want 50", share)
	}
	if got := f.fees.Balance(partner, usdc); got.Int64() != 50 {
		t.Fatalf("partner balance = %s, want 50", got)
	}
	if got := f.bank.BalanceOf(usdc, receiver); got.Int64() != 51 {
		t.Fatalf("receiver = %s, want 51", got)
	}
	if _, ok := f.rec.Last(domain.EventFeesAccrued); !ok {
		t.Fatal("no fees_accrued event")
	}
}

func TestDistributeWithoutPartnerPaysReceiver(t *testing.T) {
	f := newFixture(t)
	stranger := common.HexToAddress("0x5")
	if _, err := f.fees.Distribute(context.Background(), pool, usdc, big.NewInt(100), stranger); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if got := f.bank.BalanceOf(usdc, receiver); got.Int64() != 100 {
		t.Fatalf("receiver = %s, want 100", got)
	}
	if got := f.fees.Balance(stranger, usdc); got.Sign() != 0 {
		t.Fatalf("non-partner credited %s", got)
	}
}

func TestDistributeRejectsNonPool(t *testing.T) {
	f := newFixture(t)
	_, err := f.fees.Distribute(context.Background(), partner, usdc, big.NewInt(10), partner)
	if !errors.Is(err, domain.ErrCallerNotPool) {
		t.Fatalf("err = %v, want ErrCallerNotPool", err)
	}
}

func TestClaimPaysInOrderAndZeroes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.fees.Distribute(ctx, pool, usdc, big.NewInt(40), partner); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	f.rec.Reset()

	paid, err := f.fees.Claim(ctx, partner, []common.Address{usdc, weth})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid[0].Int64() != 20 || paid[1].Sign() != 0 {
		t.Fatalf("paid = %v, want [20 0]", paid)
	}
	if got := f.bank.BalanceOf(usdc, partner); got.Int64() != 20 {
		t.Fatalf("partner wallet = %s, want 20", got)
	}
	if got := f.fees.Balance(partner, usdc); got.Sign() != 0 {
		t.Fatalf("balance after claim = %s", got)
	}
	events := f.rec.Records(domain.EventFeesClaimed)
	if len(events) != 2 {
		t.Fatalf("fees_claimed events = %d, want 2", len(events))
	}
	first := events[0].Event.(domain.FeesClaimed)
	if first.Token != usdc {
		t.Fatalf("first claimed token = %s, want usdc", first.Token.Hex())
	}

	if _, err := f.fees.Claim(ctx, pool, []common.Address{usdc}); !errors.Is(err, domain.ErrAddressNotPartner) {
		t.Fatalf("err = %v, want ErrAddressNotPartner", err)
	}
}

func TestAdminAccrue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.bank.Mint(usdc, admin, big.NewInt(7)); err != nil {
		t.Fatal(err)
	}
	if err := f.fees.AdminAccrue(ctx, admin, partner, usdc, big.NewInt(7)); err != nil {
		t.Fatalf("admin accrue: %v", err)
	}
	if got := f.fees.Balance(partner, usdc); got.Int64() != 7 {
		t.Fatalf("balance = %s, want 7", got)
	}
	if err := f.fees.AdminAccrue(ctx, partner, partner, usdc, big.NewInt(1)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}
