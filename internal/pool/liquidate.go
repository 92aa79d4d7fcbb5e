package pool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// LiquidatePosition settles one position whose payout has fallen to the
// liquidation threshold.
func (p *Pool) LiquidatePosition(ctx context.Context, caller common.Address, mode domain.PayoutMode, item domain.LiquidationItem) (domain.PositionLiquidated, error) {
	evs, err := p.LiquidatePositions(ctx, caller, mode, []domain.LiquidationItem{item})
	if err != nil {
		return domain.PositionLiquidated{}, err
	}
	return evs[0], nil
}

// LiquidatePositions liquidates a batch. Any failing item fails the batch
// and leaves every position untouched.
func (p *Pool) LiquidatePositions(ctx context.Context, caller common.Address, mode domain.PayoutMode, items []domain.LiquidationItem) ([]domain.PositionLiquidated, error) {
	var evs []domain.PositionLiquidated
	err := p.deps.Engine.Execute(ctx, "pool.liquidate", func(ctx context.Context) error {
		if err := p.requireRole(domain.RoleLiquidator, caller); err != nil {
			return err
		}
		if !mode.Valid() {
			return fmt.Errorf("pool: payout mode %q: %w", mode, domain.ErrInvalidPayoutMode)
		}
		evs = make([]domain.PositionLiquidated, 0, len(items))
		for i, item := range items {
			ev, err := p.liquidate(ctx, mode, item)
			if err != nil {
				return fmt.Errorf("pool: liquidation %d: %w", i, err)
			}
			evs = append(evs, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range evs {
		p.logger.InfoContext(ctx, "position liquidated",
			slog.Uint64("id", ev.ID),
			slog.String("trader", ev.Trader.Hex()),
			slog.String("fee", ev.LiquidationFee.String()),
		)
	}
	return evs, nil
}

func (p *Pool) liquidate(ctx context.Context, mode domain.PayoutMode, item domain.LiquidationItem) (domain.PositionLiquidated, error) {
	pos := item.Position
	if err := p.checkPosition(pos); err != nil {
		return domain.PositionLiquidated{}, err
	}
	interest, err := p.resolveInterest(pos, pos.Principal, item.Interest)
	if err != nil {
		return domain.PositionLiquidated{}, err
	}
	s := settlement{
		pos:         pos,
		closed:      pos.Clone(),
		interest:    interest,
		calls:       item.FunctionCallDataList,
		mode:        mode,
		liquidation: true,
	}
	out, err := p.settle(ctx, s)
	if err != nil {
		return domain.PositionLiquidated{}, err
	}
	ev := domain.PositionLiquidated{
		PositionClosed: p.closedEvent(s, out),
		LiquidationFee: out.liquidationFee,
	}
	p.deps.Engine.Emit(ev)
	return ev, nil
}
