package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// settlement describes one close or liquidation of a verified position.
type settlement struct {
	pos       domain.Position
	closed    domain.Position  // the part being settled
	remaining *domain.Position // nil on a full close
	interest  *big.Int
	calls     []domain.FunctionCall
	referrer  common.Address
	mode      domain.PayoutMode

	order       *domain.ClosePositionOrder
	liquidation bool
}

type settled struct {
	payout          *big.Int
	principalRepaid *big.Int
	interestPaid    *big.Int
	closeFee        *big.Int
	pastFees        *big.Int
	executionFee    *big.Int
	liquidationFee  *big.Int
}

// split returns the part of pos covered by closing amount of collateral,
// and what stays open. Zero or the full collateral closes everything.
func split(pos domain.Position, amount *big.Int) (domain.Position, *domain.Position) {
	if amount == nil || amount.Sign() == 0 || amount.Cmp(pos.CollateralAmount) >= 0 {
		return pos.Clone(), nil
	}
	share := func(v *big.Int) *big.Int {
		out := new(big.Int).Mul(v, amount)
		return out.Quo(out, pos.CollateralAmount)
	}
	closed := pos.Clone()
	closed.DownPayment = share(pos.DownPayment)
	closed.Principal = share(pos.Principal)
	closed.FeesToBePaid = share(pos.FeesToBePaid)
	closed.CollateralAmount = new(big.Int).Set(amount)

	rest := pos.Clone()
	rest.DownPayment.Sub(rest.DownPayment, closed.DownPayment)
	rest.Principal.Sub(rest.Principal, closed.Principal)
	rest.FeesToBePaid.Sub(rest.FeesToBePaid, closed.FeesToBePaid)
	rest.CollateralAmount.Sub(rest.CollateralAmount, amount)
	return closed, &rest
}

// orderTriggered compares the realized conversion against the order's
// maker/taker ratio.
func orderTriggered(o domain.ClosePositionOrder, in, out *big.Int) bool {
	lhs := new(big.Int).Mul(out, o.MakerAmount)
	rhs := new(big.Int).Mul(in, o.TakerAmount)
	if o.OrderType == domain.OrderTakeProfit {
		return lhs.Cmp(rhs) >= 0
	}
	return lhs.Cmp(rhs) <= 0
}

// settle unwinds s.closed: swap, repay the vault, take fees and pay the
// trader. The commitment is removed before any external call and the
// remainder, if any, re-committed at the end. A staked remainder goes back
// to the same staker.
func (p *Pool) settle(ctx context.Context, s settlement) (settled, error) {
	p.positions.Delete(s.pos.ID)

	staker, err := p.unstake(ctx, s.pos)
	if err != nil {
		return settled{}, err
	}

	v, err := p.vaultFor(s.pos.Currency)
	if err != nil {
		return settled{}, err
	}

	out := settled{
		interestPaid:   new(big.Int),
		executionFee:   new(big.Int),
		liquidationFee: new(big.Int),
		pastFees:       new(big.Int).Set(s.closed.FeesToBePaid),
	}
	debt := new(big.Int).Add(s.closed.Principal, s.interest)
	payToken := p.payoutToken(s.pos)

	var swapIn, swapOut, equity *big.Int
	if p.isLong() {
		res, err := p.deps.Swaps.ExactIn(ctx, p.cfg.Address, s.pos.CollateralCurrency, s.pos.Currency, s.closed.CollateralAmount, nil, s.calls)
		if err != nil {
			return settled{}, err
		}
		swapIn, swapOut = res.Spent, res.Received

		repaid := minInt(swapOut, debt)
		if err := v.Repay(ctx, p.cfg.Address, repaid, s.closed.Principal); err != nil {
			return settled{}, err
		}
		out.principalRepaid = minInt(repaid, s.closed.Principal)
		out.interestPaid.Sub(repaid, out.principalRepaid)
		equity = new(big.Int).Sub(swapOut, repaid)
	} else {
		res, err := p.deps.Swaps.ExactOut(ctx, p.cfg.Address, s.pos.CollateralCurrency, s.pos.Currency, s.closed.CollateralAmount, debt, s.calls)
		if err != nil {
			return settled{}, err
		}
		swapIn, swapOut = res.Spent, res.Received

		if err := v.Repay(ctx, p.cfg.Address, debt, s.closed.Principal); err != nil {
			return settled{}, err
		}
		out.principalRepaid = new(big.Int).Set(s.closed.Principal)
		out.interestPaid.Set(s.interest)
		if res.Excess.Sign() > 0 {
			if err := p.deps.Bank.Transfer(s.pos.Currency, p.cfg.Address, s.pos.Trader, res.Excess); err != nil {
				return settled{}, err
			}
		}
		equity = new(big.Int).Sub(s.closed.CollateralAmount, swapIn)
	}

	if s.order != nil && !orderTriggered(*s.order, swapIn, swapOut) {
		return settled{}, fmt.Errorf("pool: %s order on position %d: in %s out %s: %w",
			s.order.OrderType, s.pos.ID, swapIn, swapOut, domain.ErrPriceTargetNotReached)
	}

	if s.liquidation {
		base := s.closed.Principal
		if !p.isLong() {
			base = s.closed.CollateralAmount
		}
		if threshold := mulBps(base, p.cfg.LiquidationThresholdBps); equity.Cmp(threshold) > 0 {
			return settled{}, fmt.Errorf("pool: position %d payout %s above threshold %s: %w",
				s.pos.ID, equity, threshold, domain.ErrLiquidationThresholdNotReached)
		}
	}

	fees := p.deps.Provider.FeeController()
	out.closeFee = minInt(fees.ComputeTradeFee(equity), equity)
	rest := new(big.Int).Sub(equity, out.closeFee)

	if s.order != nil {
		out.executionFee = minInt(orZero(s.order.ExecutionFee), rest)
		rest.Sub(rest, out.executionFee)
		if err := p.deps.Bank.Transfer(payToken, p.cfg.Address, fees.ExecutionFeeReceiver(), out.executionFee); err != nil {
			return settled{}, err
		}
	}
	if s.liquidation {
		out.liquidationFee = minInt(mulBps(s.closed.DownPayment, p.cfg.LiquidationFeeBps), rest)
		rest.Sub(rest, out.liquidationFee)
		if err := p.deps.Bank.Transfer(payToken, p.cfg.Address, fees.LiquidationFeeReceiver(), out.liquidationFee); err != nil {
			return settled{}, err
		}
	}

	p.addFeesOwed(payToken, new(big.Int).Neg(out.pastFees))
	totalFees := new(big.Int).Add(out.closeFee, out.pastFees)
	if _, err := p.deps.Fees.Distribute(ctx, p.cfg.Address, payToken, totalFees, s.referrer); err != nil {
		return settled{}, err
	}

	out.payout = rest
	if err := p.pay(ctx, s.mode, payToken, s.pos.Trader, rest); err != nil {
		return settled{}, err
	}

	if s.remaining != nil {
		p.commit(*s.remaining)
		if staker != (common.Address{}) {
			if err := p.deposit(ctx, *s.remaining, staker); err != nil {
				return settled{}, err
			}
		}
	}
	return out, nil
}

func (p *Pool) closedEvent(s settlement, out settled) domain.PositionClosed {
	ev := domain.PositionClosed{
		Pool:            p.cfg.Address,
		ID:              s.pos.ID,
		Trader:          s.pos.Trader,
		Payout:          new(big.Int).Set(out.payout),
		PrincipalRepaid: new(big.Int).Set(out.principalRepaid),
		InterestPaid:    new(big.Int).Set(out.interestPaid),
		FeeAmount:       new(big.Int).Set(out.closeFee),
		PastFees:        new(big.Int).Set(out.pastFees),
	}
	if s.remaining != nil {
		rest := s.remaining.Clone()
		ev.Remaining = &rest
	}
	return ev
}
