package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// ClaimPosition lets the trader repay the debt in full and take the
// collateral itself instead of having it converted.
//
// Long: the trader pays principal, interest and the close fee in the
// borrowed currency. Short: the trader pays principal and interest, and
// the close fee comes out of the collateral.
func (p *Pool) ClaimPosition(ctx context.Context, caller common.Address, pos domain.Position) (domain.PositionClaimed, error) {
	var ev domain.PositionClaimed
	err := p.deps.Engine.Execute(ctx, "pool.claim", func(ctx context.Context) error {
		if caller != pos.Trader {
			return fmt.Errorf("pool: %s claiming position %d: %w", caller.Hex(), pos.ID, domain.ErrSenderNotTrader)
		}
		if err := p.checkPosition(pos); err != nil {
			return err
		}
		interest, err := p.resolveInterest(pos, pos.Principal, nil)
		if err != nil {
			return err
		}
		v, err := p.vaultFor(pos.Currency)
		if err != nil {
			return err
		}

		p.positions.Delete(pos.ID)
		if _, err := p.unstake(ctx, pos); err != nil {
			return err
		}

		bank := p.deps.Bank
		debt := new(big.Int).Add(pos.Principal, interest)
		closeFee := orZero(pos.FeesToBePaid)
		owed := new(big.Int).Set(debt)
		collateral := new(big.Int).Set(pos.CollateralAmount)
		if p.isLong() {
			owed.Add(owed, closeFee)
		} else {
			if collateral.Cmp(closeFee) < 0 {
				return fmt.Errorf("pool: collateral %s below fee %s: %w", collateral, closeFee, domain.ErrInsufficientAmountProvided)
			}
			collateral.Sub(collateral, closeFee)
		}
		if bank.BalanceOf(pos.Currency, caller).Cmp(owed) < 0 {
			return fmt.Errorf("pool: trader owes %s: %w", owed, domain.ErrInsufficientAmountProvided)
		}
		if err := bank.Transfer(pos.Currency, caller, p.cfg.Address, owed); err != nil {
			return err
		}
		if err := v.Repay(ctx, p.cfg.Address, debt, pos.Principal); err != nil {
			return err
		}

		// The open fee sits in the down-payment token, which is the
		// currency for longs and the collateral token for shorts.
		feeToken := p.payoutToken(pos)
		pastFees := new(big.Int).Set(pos.FeesToBePaid)
		p.addFeesOwed(feeToken, new(big.Int).Neg(pastFees))
		total := new(big.Int).Add(closeFee, pastFees)
		if _, err := p.deps.Fees.Distribute(ctx, p.cfg.Address, feeToken, total, common.Address{}); err != nil {
			return err
		}
		if err := bank.Transfer(pos.CollateralCurrency, p.cfg.Address, caller, collateral); err != nil {
			return err
		}

		ev = domain.PositionClaimed{
			Pool:            p.cfg.Address,
			ID:              pos.ID,
			Trader:          pos.Trader,
			AmountClaimed:   collateral,
			PrincipalRepaid: new(big.Int).Set(pos.Principal),
			InterestPaid:    interest,
			FeeAmount:       new(big.Int).Set(closeFee),
		}
		p.deps.Engine.Emit(ev)
		return nil
	})
	if err != nil {
		return domain.PositionClaimed{}, err
	}
	p.logger.InfoContext(ctx, "position claimed",
		slog.Uint64("id", ev.ID),
		slog.String("collateral", ev.AmountClaimed.String()),
	)
	return ev, nil
}
