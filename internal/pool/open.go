package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/crypto"
	"github.com/alanyoungcy/marginpool/internal/domain"
)

// OpenPosition opens a position for caller, who pays the down payment and
// the open fee. A non-zero value pays in native currency, which requires
// the payment token to be the wrapped native token.
func (p *Pool) OpenPosition(ctx context.Context, caller common.Address, req domain.OpenPositionRequest, sig []byte, value *big.Int) (domain.Position, error) {
	var pos domain.Position
	err := p.deps.Engine.Execute(ctx, "pool.open", func(ctx context.Context) error {
		var err error
		pos, err = p.open(ctx, caller, caller, req, sig, orZero(value))
		return err
	})
	return pos, err
}

// OpenPositionFor opens a position for trader paid by payer. Only the
// router may pay for someone else.
func (p *Pool) OpenPositionFor(ctx context.Context, payer, trader common.Address, req domain.OpenPositionRequest, sig []byte) (domain.Position, error) {
	var pos domain.Position
	err := p.deps.Engine.Execute(ctx, "pool.open_for", func(ctx context.Context) error {
		if payer != trader && (p.cfg.Router == (common.Address{}) || payer != p.cfg.Router) {
			return fmt.Errorf("pool: %s paying for %s: %w", payer.Hex(), trader.Hex(), domain.ErrUnauthorized)
		}
		var err error
		pos, err = p.open(ctx, payer, trader, req, sig, new(big.Int))
		return err
	})
	return pos, err
}

// OpenPositionAndStake opens a position and immediately stakes its
// collateral with staker.
func (p *Pool) OpenPositionAndStake(ctx context.Context, caller common.Address, req domain.OpenPositionRequest, sig []byte, value *big.Int, staker common.Address) (domain.Position, error) {
	var pos domain.Position
	err := p.deps.Engine.Execute(ctx, "pool.open_and_stake", func(ctx context.Context) error {
		var err error
		if pos, err = p.open(ctx, caller, caller, req, sig, orZero(value)); err != nil {
			return err
		}
		return p.stake(ctx, caller, pos, staker)
	})
	return pos, err
}

func (p *Pool) validateOpen(req domain.OpenPositionRequest, sig []byte) error {
	if err := p.auth.VerifyOpenPositionRequest(req, sig); err != nil {
		return err
	}
	if err := crypto.CheckExpiration(req.Expiration, p.deps.Engine.Now()); err != nil {
		return err
	}
	if p.usedIDs.Has(req.ID) {
		return fmt.Errorf("pool: position %d: %w", req.ID, domain.ErrPositionAlreadyTaken)
	}
	if _, ok := p.currencies[req.Currency]; !ok {
		return fmt.Errorf("pool: currency %s: %w", req.Currency.Hex(), domain.ErrInvalidCurrency)
	}
	if _, ok := p.collateralCurrencies[req.TargetCurrency]; !ok || req.TargetCurrency == req.Currency {
		return fmt.Errorf("pool: target currency %s: %w", req.TargetCurrency.Hex(), domain.ErrInvalidTargetCurrency)
	}
	if req.DownPayment == nil || req.DownPayment.Sign() <= 0 {
		return fmt.Errorf("pool: down payment: %w", domain.ErrInsufficientAmountProvided)
	}
	if req.Principal == nil || req.Principal.Sign() <= 0 {
		return fmt.Errorf("pool: principal: %w", domain.ErrInvalidAmount)
	}
	if p.isLong() {
		maxPrincipal := p.deps.Provider.DebtController().ComputeMaxPrincipal(req.TargetCurrency, req.Currency, req.DownPayment)
		if req.Principal.Cmp(maxPrincipal) > 0 {
			return fmt.Errorf("pool: principal %s above %s: %w", req.Principal, maxPrincipal, domain.ErrPrincipalTooHigh)
		}
	}
	if len(req.FunctionCallDataList) == 0 {
		return fmt.Errorf("pool: open: %w", domain.ErrSwapFunctionNeeded)
	}
	return nil
}

// collect takes the down payment and open fee from payer.
func (p *Pool) collect(payer, token common.Address, amount, value *big.Int) error {
	bank := p.deps.Bank
	if value.Sign() > 0 {
		if token != bank.WrappedNative() || value.Cmp(amount) != 0 {
			return fmt.Errorf("pool: native value %s for %s of %s: %w", value, amount, token.Hex(), domain.ErrInsufficientAmountProvided)
		}
		if err := bank.Transfer(domain.NativeToken, payer, p.cfg.Address, value); err != nil {
			return fmt.Errorf("pool: %w: %w", domain.ErrInsufficientAmountProvided, err)
		}
		return bank.Wrap(p.cfg.Address, value)
	}
	if bank.BalanceOf(token, payer).Cmp(amount) < 0 {
		return fmt.Errorf("pool: payer %s short of %s %s: %w", payer.Hex(), amount, token.Hex(), domain.ErrInsufficientAmountProvided)
	}
	return bank.Transfer(token, payer, p.cfg.Address, amount)
}

func (p *Pool) open(ctx context.Context, payer, trader common.Address, req domain.OpenPositionRequest, sig []byte, value *big.Int) (domain.Position, error) {
	if err := p.validateOpen(req, sig); err != nil {
		return domain.Position{}, err
	}
	p.usedIDs.Set(req.ID, true)

	fee := orZero(req.Fee)
	payToken := req.Currency
	if !p.isLong() {
		payToken = req.TargetCurrency
	}
	if err := p.collect(payer, payToken, new(big.Int).Add(req.DownPayment, fee), value); err != nil {
		return domain.Position{}, err
	}

	v, err := p.vaultFor(req.Currency)
	if err != nil {
		return domain.Position{}, err
	}
	if err := v.Borrow(ctx, p.cfg.Address, req.Principal); err != nil {
		return domain.Position{}, err
	}

	swapIn := new(big.Int).Set(req.Principal)
	if p.isLong() {
		swapIn.Add(swapIn, req.DownPayment)
	}
	res, err := p.deps.Swaps.ExactIn(ctx, p.cfg.Address, req.Currency, req.TargetCurrency, swapIn, orZero(req.MinTargetAmount), req.FunctionCallDataList)
	if err != nil {
		return domain.Position{}, err
	}

	collateral := res.Received
	if !p.isLong() {
		// The borrowed amount, valued in collateral, is bounded by leverage.
		maxPrincipal := p.deps.Provider.DebtController().ComputeMaxPrincipal(req.TargetCurrency, req.Currency, req.DownPayment)
		if res.Received.Cmp(maxPrincipal) > 0 {
			return domain.Position{}, fmt.Errorf("pool: principal worth %s above %s: %w", res.Received, maxPrincipal, domain.ErrPrincipalTooHigh)
		}
		collateral = new(big.Int).Add(req.DownPayment, res.Received)
	}

	pos := domain.Position{
		ID:                   req.ID,
		Trader:               trader,
		Currency:             req.Currency,
		CollateralCurrency:   req.TargetCurrency,
		LastFundingTimestamp: p.deps.Engine.Now(),
		DownPayment:          new(big.Int).Set(req.DownPayment),
		Principal:            new(big.Int).Set(req.Principal),
		CollateralAmount:     collateral,
		FeesToBePaid:         new(big.Int).Set(fee),
	}
	p.commit(pos)
	p.addFeesOwed(payToken, fee)

	p.deps.Engine.Emit(domain.PositionOpened{
		Pool:               p.cfg.Address,
		ID:                 pos.ID,
		Trader:             trader,
		Currency:           pos.Currency,
		CollateralCurrency: pos.CollateralCurrency,
		DownPayment:        new(big.Int).Set(pos.DownPayment),
		Principal:          new(big.Int).Set(pos.Principal),
		CollateralAmount:   new(big.Int).Set(pos.CollateralAmount),
		FeesToBePaid:       new(big.Int).Set(pos.FeesToBePaid),
		Position:           pos.Clone(),
	})
	p.logger.DebugContext(ctx, "position opened",
		slog.Uint64("id", pos.ID),
		slog.String("trader", trader.Hex()),
		slog.String("principal", pos.Principal.String()),
		slog.String("collateral", pos.CollateralAmount.String()),
	)
	return pos, nil
}
