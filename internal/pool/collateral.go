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

// AddCollateral deleverages an open position.
//
// Long: the amount, in the borrowed currency, first pays accrued interest
// and the rest reduces principal. The position's funding clock restarts.
// Short: the amount, in the collateral token, is added to both the down
// payment and the collateral.
func (p *Pool) AddCollateral(ctx context.Context, caller common.Address, req domain.AddCollateralRequest, sig []byte) (domain.Position, error) {
	var next domain.Position
	err := p.deps.Engine.Execute(ctx, "pool.add_collateral", func(ctx context.Context) error {
		pos := req.Position
		if caller != pos.Trader {
			return fmt.Errorf("pool: %s adding collateral to %d: %w", caller.Hex(), pos.ID, domain.ErrSenderNotTrader)
		}
		if err := p.auth.VerifyAddCollateralRequest(req, sig); err != nil {
			return err
		}
		if err := crypto.CheckExpiration(req.Expiration, p.deps.Engine.Now()); err != nil {
			return err
		}
		if err := p.checkPosition(pos); err != nil {
			return err
		}
		amount := orZero(req.Amount)
		if amount.Sign() <= 0 {
			return fmt.Errorf("pool: add collateral: %w", domain.ErrInvalidAmount)
		}

		next = pos.Clone()
		interestPaid := new(big.Int)
		reduced := new(big.Int)
		if p.isLong() {
			interest, err := p.resolveInterest(pos, pos.Principal, req.Interest)
			if err != nil {
				return err
			}
			if amount.Cmp(interest) < 0 {
				return fmt.Errorf("pool: amount %s below interest %s: %w", amount, interest, domain.ErrInsufficientPrincipalRepaid)
			}
			reduced.Sub(amount, interest)
			if reduced.Cmp(pos.Principal) > 0 {
				return fmt.Errorf("pool: repaying %s of principal %s: %w", reduced, pos.Principal, domain.ErrInsufficientPrincipalRepaid)
			}
			if err := p.collect(caller, pos.Currency, amount, new(big.Int)); err != nil {
				return err
			}
			v, err := p.vaultFor(pos.Currency)
			if err != nil {
				return err
			}
			if err := v.Repay(ctx, p.cfg.Address, amount, reduced); err != nil {
				return err
			}
			interestPaid.Set(interest)
			next.Principal.Sub(next.Principal, reduced)
			next.DownPayment.Add(next.DownPayment, reduced)
			next.LastFundingTimestamp = p.deps.Engine.Now()
		} else {
			if err := p.collect(caller, pos.CollateralCurrency, amount, new(big.Int)); err != nil {
				return err
			}
			next.DownPayment.Add(next.DownPayment, amount)
			next.CollateralAmount.Add(next.CollateralAmount, amount)
		}
		p.commit(next)

		p.deps.Engine.Emit(domain.CollateralAdded{
			Pool:             p.cfg.Address,
			ID:               pos.ID,
			Trader:           pos.Trader,
			Amount:           new(big.Int).Set(amount),
			InterestPaid:     interestPaid,
			PrincipalReduced: reduced,
			Position:         next.Clone(),
		})
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	p.logger.InfoContext(ctx, "collateral added",
		slog.Uint64("id", next.ID),
		slog.String("principal", next.Principal.String()),
		slog.String("collateral", next.CollateralAmount.String()),
	)
	return next, nil
}
