package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/crypto"
	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/swap"
)

const operatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	trader = common.HexToAddress("0x7a")
	lp     = common.HexToAddress("0x11")
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func newDevnet(t *testing.T) (*Protocol, *crypto.Signer) {
	t.Helper()
	ctx := context.Background()
	op, err := crypto.NewSigner(operatorKey)
	must(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := New(ctx, DevnetParams(op.Address()), fixedClock{time.Unix(1_700_000_000, 0)}, nil, logger)
	must(t, err)
	must(t, p.SeedDevnet(ctx, big.NewInt(1_000_000_000)))
	must(t, p.Mint(ctx, DevnetUSDC, lp, big.NewInt(50_000_000)))
	must(t, p.Mint(ctx, DevnetWETH, lp, big.NewInt(50_000)))
	must(t, p.Mint(ctx, DevnetUSDC, trader, big.NewInt(5_000_000)))

	usdcVault, err := p.Vaults.ByAsset(DevnetUSDC)
	must(t, err)
	_, err = usdcVault.Deposit(ctx, lp, big.NewInt(20_000_000), lp)
	must(t, err)
	wethVault, err := p.Vaults.ByAsset(DevnetWETH)
	must(t, err)
	_, err = wethVault.Deposit(ctx, lp, big.NewInt(20_000), lp)
	must(t, err)
	return p, op
}

func venueCall(t *testing.T, data []byte, err error) []domain.FunctionCall {
	t.Helper()
	must(t, err)
	return []domain.FunctionCall{{To: DevnetVenue, Value: new(big.Int), Data: data}}
}

func openLong(t *testing.T, p *Protocol, op *crypto.Signer, id uint64) domain.Position {
	t.Helper()
	pl, err := p.Pool(DevnetLongPool)
	must(t, err)
	data, err := swap.EncodeExactInput(DevnetUSDC, DevnetWETH, big.NewInt(4_000_000), big.NewInt(0))
	req := domain.OpenPositionRequest{
		ID:                   id,
		Currency:             DevnetUSDC,
		TargetCurrency:       DevnetWETH,
		DownPayment:          big.NewInt(1_000_000),
		Principal:            big.NewInt(3_000_000),
		MinTargetAmount:      big.NewInt(2000),
		Expiration:           2_000_000_000,
		Fee:                  big.NewInt(1000),
		FunctionCallDataList: venueCall(t, data, err),
	}
	sig, err := op.SignOpenPositionRequest(pl.Domain(), req)
	must(t, err)
	pos, err := pl.OpenPosition(context.Background(), trader, req, sig, nil)
	must(t, err)
	return pos
}

func TestNewRejectsInvalidParams(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	params := DevnetParams(common.HexToAddress("0x01"))
	params.Admins = nil
	params.MaxLeveragePercent = 100
	params.Pools[0].Side = "sideways"
	params.OrderDomainName = params.DomainName
	params.Buyback.DiscountBps = 10_001

	_, err := New(context.Background(), params, nil, nil, logger)
	if err == nil {
		t.Fatal("invalid params accepted")
	}
	for _, want := range []string{"admin", "leverage", "sideways", "order domain name", "buyback discount bps 10001"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestDevnetWiring(t *testing.T) {
	p, op := newDevnet(t)

	if got := len(p.Pools()); got != 2 {
		t.Fatalf("pools = %d", got)
	}
	for _, pl := range p.Pools() {
		for _, asset := range []common.Address{DevnetUSDC, DevnetWETH} {
			if _, err := p.Vaults.For(pl.Address(), asset); err != nil {
				t.Errorf("pool %s has no %s vault: %v", pl.Address().Hex(), asset.Hex(), err)
			}
		}
		if !p.Partners.IsPool(pl.Address()) {
			t.Errorf("pool %s cannot route fees", pl.Address().Hex())
		}
	}
	if !p.Swaps.IsWhitelisted(DevnetVenue) || !p.Swaps.IsWhitelisted(DevnetBuyback) {
		t.Fatal("venues not whitelisted")
	}
	for _, role := range []domain.Role{domain.RoleAdmin, domain.RoleOrderSigner, domain.RoleOrderExecutor, domain.RoleLiquidator, domain.RoleVaultAdmin} {
		if !p.Roles.HasRole(role, op.Address()) {
			t.Errorf("operator lacks %s", role)
		}
	}
	if _, err := p.Pool(common.HexToAddress("0xdead")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown pool: err = %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	src, op := newDevnet(t)
	pos := openLong(t, src, op, 1)

	raw, err := src.Snapshot(time.Unix(1_700_000_000, 0))
	must(t, err)

	dst, _ := newDevnet(t)
	snap, err := dst.Restore(raw)
	must(t, err)
	if snap.Sequence != src.Engine.Sequence() || dst.Engine.Sequence() != snap.Sequence {
		t.Fatalf("sequence %d restored as %d", src.Engine.Sequence(), dst.Engine.Sequence())
	}

	pl, err := dst.Pool(DevnetLongPool)
	must(t, err)
	if !pl.IsOpen(pos) {
		t.Fatal("position not restored")
	}
	if got := dst.Bank.BalanceOf(DevnetWETH, DevnetLongPool); got.Int64() != 2000 {
		t.Fatalf("pool collateral = %s", got)
	}

	data, err := swap.EncodeExactInput(DevnetWETH, DevnetUSDC, big.NewInt(2000), big.NewInt(0))
	req := domain.ClosePositionRequest{
		Expiration:           2_000_000_000,
		Amount:               big.NewInt(0),
		Position:             pos,
		FunctionCallDataList: venueCall(t, data, err),
	}
	sig, err := op.SignClosePositionRequest(pl.Domain(), req)
	must(t, err)
	if _, err := pl.ClosePosition(context.Background(), trader, domain.PayoutWrapped, req, sig, nil, nil); err != nil {
		t.Fatalf("close after restore: %v", err)
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	p, _ := newDevnet(t)
	if _, err := p.Restore([]byte(`{"state":{"no.such.container":{}}}`)); err == nil {
		t.Fatal("unknown container accepted")
	}
	if _, err := p.Restore([]byte(`not json`)); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestShortCloseThroughBuyback(t *testing.T) {
	p, op := newDevnet(t)
	ctx := context.Background()
	pl, err := p.Pool(DevnetShortPool)
	must(t, err)

	openData, err := swap.EncodeExactInput(DevnetWETH, DevnetUSDC, big.NewInt(1500), big.NewInt(0))
	req := domain.OpenPositionRequest{
		ID:                   1,
		Currency:             DevnetWETH,
		TargetCurrency:       DevnetUSDC,
		DownPayment:          big.NewInt(1_000_000),
		Principal:            big.NewInt(1500),
		MinTargetAmount:      big.NewInt(0),
		Expiration:           2_000_000_000,
		FunctionCallDataList: venueCall(t, openData, err),
	}
	sig, err := op.SignOpenPositionRequest(pl.Domain(), req)
	must(t, err)
	pos, err := pl.OpenPosition(ctx, trader, req, sig, nil)
	must(t, err)

	// The seeded reserve covers all 1500 WETH, charged at 0.5% below the
	// venue's 3,000,000 USDC quote.
	data, err := swap.EncodeExactOutputWithBuyback(DevnetUSDC, DevnetWETH, big.NewInt(1500), pos.CollateralAmount, DevnetVenue)
	must(t, err)
	closeReq := domain.ClosePositionRequest{
		Expiration:           2_000_000_000,
		Position:             pos,
		FunctionCallDataList: []domain.FunctionCall{{To: DevnetBuyback, Value: new(big.Int), Data: data}},
	}
	closeSig, err := op.SignClosePositionRequest(pl.Domain(), closeReq)
	must(t, err)

	rec := engine.NewRecorder(0)
	p.Engine.AddSink(rec)
	ev, err := pl.ClosePosition(ctx, trader, domain.PayoutWrapped, closeReq, closeSig, nil, nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	// Equity 4,000,000 - 2,985,000 = 1,015,000; fee 1015.
	if ev.Payout.Int64() != 1_013_985 || ev.FeeAmount.Int64() != 1015 {
		t.Fatalf("payout %s fee %s", ev.Payout, ev.FeeAmount)
	}
	r, ok := rec.Last(domain.EventInternalBuyback)
	if !ok {
		t.Fatal("no buyback event")
	}
	bb := r.Event.(domain.InternalBuyback)
	if bb.ReserveOut.Int64() != 1500 || bb.BuybackIn.Int64() != 2_985_000 || bb.RoutedOut.Sign() != 0 {
		t.Fatalf("buyback reserve %s in %s routed %s", bb.ReserveOut, bb.BuybackIn, bb.RoutedOut)
	}
}
