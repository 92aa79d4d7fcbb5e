package notify

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// Unit names a token and its decimals for display.
type Unit struct {
	Symbol   string
	Decimals int32
}

// Format renders a raw amount, e.g. 1598400 with 6 decimals as "1.5984 USDC".
func (u Unit) Format(v *big.Int) string {
	if v == nil {
		v = new(big.Int)
	}
	s := decimal.NewFromBigInt(v, -u.Decimals).String()
	if u.Symbol == "" {
		return s
	}
	return s + " " + u.Symbol
}

// EventNotifier is an engine sink that alerts operators about the events
// that need attention: liquidations, order executions, migrations, boosts
// and buybacks. Everything else is ignored.
type EventNotifier struct {
	n *Notifier
	// pools maps a pool to the unit its payouts are denominated in.
	pools  map[common.Address]Unit
	tokens map[common.Address]Unit
}

func NewEventNotifier(n *Notifier, pools, tokens map[common.Address]Unit) *EventNotifier {
	return &EventNotifier{n: n, pools: pools, tokens: tokens}
}

func (e *EventNotifier) Name() string { return "notify" }

func (e *EventNotifier) poolUnit(pool common.Address) Unit {
	if u, ok := e.pools[pool]; ok {
		return u
	}
	return Unit{}
}

func (e *EventNotifier) tokenUnit(token common.Address) Unit {
	if u, ok := e.tokens[token]; ok {
		return u
	}
	return Unit{Symbol: short(token)}
}

func short(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

// Message renders rec, reporting false for events that do not alert.
func (e *EventNotifier) Message(rec domain.EventRecord) (title, body string, ok bool) {
	switch ev := rec.Event.(type) {
	case domain.PositionLiquidated:
		u := e.poolUnit(ev.Pool)
		return "Position liquidated", fmt.Sprintf(
			"Position %d of %s on pool %s\npayout %s\nliquidation fee %s\nprincipal repaid %s",
			ev.ID, ev.Trader.Hex(), short(ev.Pool),
			u.Format(ev.Payout), u.Format(ev.LiquidationFee), u.Format(ev.PrincipalRepaid),
		), true
	case domain.PositionClosedWithOrder:
		u := e.poolUnit(ev.Pool)
		title := "Take-profit order executed"
		if ev.OrderType == domain.OrderStopLoss {
			title = "Stop-loss order executed"
		}
		return title, fmt.Sprintf(
			"Position %d of %s on pool %s\npayout %s\nexecution fee %s",
			ev.ID, ev.Trader.Hex(), short(ev.Pool),
			u.Format(ev.Payout), u.Format(ev.ExecutionFee),
		), true
	case domain.LiquidityMigrated:
		u := e.tokenUnit(ev.Token)
		return "Liquidity migrated", fmt.Sprintf(
			"Pool %s moved %s into vault %s, keeping %s of fees",
			short(ev.Pool), u.Format(ev.Amount), short(ev.Vault), u.Format(ev.FeesKept),
		), true
	case domain.VaultBoostInitiated:
		return "Vault boost started", fmt.Sprintf(
			"Vault %s boosted by %s (raw) over %ds",
			short(ev.Vault), ev.Amount, ev.Duration,
		), true
	case domain.InternalBuyback:
		return "Internal buyback", fmt.Sprintf(
			"Filled %s from reserve for %s at %d bps discount, routed %s",
			e.tokenUnit(ev.TokenOut).Format(ev.ReserveOut), e.tokenUnit(ev.TokenIn).Format(ev.BuybackIn), ev.DiscountBps,
			e.tokenUnit(ev.TokenOut).Format(ev.RoutedOut),
		), true
	}
	return "", "", false
}

// HandleEvents implements domain.EventSink.
func (e *EventNotifier) HandleEvents(ctx context.Context, records []domain.EventRecord) error {
	for _, rec := range records {
		if !e.n.Allows(rec.Name) {
			continue
		}
		title, body, ok := e.Message(rec)
		if !ok {
			continue
		}
		if err := e.n.Notify(ctx, rec.Name, title, body); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.EventSink = (*EventNotifier)(nil)
