package pool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/crypto"
	"github.com/alanyoungcy/marginpool/internal/domain"
)

// ClosePosition closes all or part of a position. The trader may close
// their own position; an order executor may close on their behalf, and
// must do so when a take-profit or stop-loss order is attached.
func (p *Pool) ClosePosition(ctx context.Context, caller common.Address, mode domain.PayoutMode, req domain.ClosePositionRequest, sig []byte, order *domain.ClosePositionOrder, orderSig []byte) (domain.PositionClosed, error) {
	var ev domain.PositionClosed
	err := p.deps.Engine.Execute(ctx, "pool.close", func(ctx context.Context) error {
		s, err := p.prepareClose(caller, mode, req, sig, order, orderSig)
		if err != nil {
			return err
		}
		out, err := p.settle(ctx, s)
		if err != nil {
			return err
		}

		ev = p.closedEvent(s, out)
		if order != nil {
			p.deps.Engine.Emit(domain.PositionClosedWithOrder{
				PositionClosed: ev,
				OrderType:      order.OrderType,
				ExecutionFee:   out.executionFee,
			})
		} else {
			p.deps.Engine.Emit(ev)
		}
		return nil
	})
	if err != nil {
		return domain.PositionClosed{}, err
	}
	p.logger.InfoContext(ctx, "position closed",
		slog.Uint64("id", ev.ID),
		slog.String("payout", ev.Payout.String()),
		slog.Bool("partial", ev.Remaining != nil),
	)
	return ev, nil
}

func (p *Pool) prepareClose(caller common.Address, mode domain.PayoutMode, req domain.ClosePositionRequest, sig []byte, order *domain.ClosePositionOrder, orderSig []byte) (settlement, error) {
	pos := req.Position
	if !mode.Valid() {
		return settlement{}, fmt.Errorf("pool: payout mode %q: %w", mode, domain.ErrInvalidPayoutMode)
	}
	executor := p.deps.Roles.HasRole(domain.RoleOrderExecutor, caller)
	if caller != pos.Trader && !executor {
		return settlement{}, fmt.Errorf("pool: %s closing position %d: %w", caller.Hex(), pos.ID, domain.ErrSenderNotTrader)
	}
	if err := p.auth.VerifyClosePositionRequest(req, sig); err != nil {
		return settlement{}, err
	}
	now := p.deps.Engine.Now()
	if err := crypto.CheckExpiration(req.Expiration, now); err != nil {
		return settlement{}, err
	}
	if err := p.checkPosition(pos); err != nil {
		return settlement{}, err
	}

	closed, remaining := split(pos, req.Amount)
	interest, err := p.resolveInterest(pos, closed.Principal, req.Interest)
	if err != nil {
		return settlement{}, err
	}

	if order != nil {
		if !executor {
			return settlement{}, fmt.Errorf("pool: order close by %s: %w", caller.Hex(), domain.ErrUnauthorized)
		}
		signer, err := p.auth.RecoverOrderSigner(*order, orderSig)
		if err != nil {
			return settlement{}, err
		}
		if signer != pos.Trader {
			return settlement{}, fmt.Errorf("pool: order signed by %s, trader %s: %w", signer.Hex(), pos.Trader.Hex(), domain.ErrInvalidSignature)
		}
		if order.PositionID != pos.ID {
			return settlement{}, fmt.Errorf("pool: order for position %d, closing %d: %w", order.PositionID, pos.ID, domain.ErrInvalidOrder)
		}
		if err := crypto.CheckExpiration(order.Expiration, now); err != nil {
			return settlement{}, err
		}
		if order.CreatedAt < pos.LastFundingTimestamp {
			return settlement{}, fmt.Errorf("pool: order predates position state: %w", domain.ErrInvalidOrder)
		}
		if order.MakerAmount == nil || order.TakerAmount == nil {
			return settlement{}, fmt.Errorf("pool: order amounts missing: %w", domain.ErrInvalidOrder)
		}
	}

	return settlement{
		pos:       pos,
		closed:    closed,
		remaining: remaining,
		interest:  interest,
		calls:     req.FunctionCallDataList,
		referrer:  req.Referrer,
		mode:      mode,
		order:     order,
	}, nil
}
