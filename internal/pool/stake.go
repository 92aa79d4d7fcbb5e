package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// StakePosition parks an open position's collateral with staker until the
// position is closed, liquidated or claimed.
func (p *Pool) StakePosition(ctx context.Context, caller common.Address, pos domain.Position, staker common.Address) error {
	return p.deps.Engine.Execute(ctx, "pool.stake", func(ctx context.Context) error {
		if err := p.checkPosition(pos); err != nil {
			return err
		}
		return p.stake(ctx, caller, pos, staker)
	})
}

func (p *Pool) stake(ctx context.Context, caller common.Address, pos domain.Position, staker common.Address) error {
	if caller != pos.Trader {
		return fmt.Errorf("pool: %s staking position %d: %w", caller.Hex(), pos.ID, domain.ErrCallerNotTrader)
	}
	return p.deposit(ctx, pos, staker)
}

// deposit hands pos's collateral to staker through the staking factory.
func (p *Pool) deposit(ctx context.Context, pos domain.Position, staker common.Address) error {
	f := p.deps.Provider.StakingFactory()
	if f == nil {
		return fmt.Errorf("pool: staking factory: %w", domain.ErrNotFound)
	}
	account, err := f.Stake(ctx, p.cfg.Address, pos, staker)
	if err != nil {
		return err
	}
	p.deps.Engine.Emit(domain.PositionStaked{
		Pool:    p.cfg.Address,
		ID:      pos.ID,
		Trader:  pos.Trader,
		Account: account,
		Staker:  staker,
		Amount:  new(big.Int).Set(pos.CollateralAmount),
	})
	return nil
}

// unstake returns pos's collateral to the pool if it is staked and reports
// the staker that held it.
func (p *Pool) unstake(ctx context.Context, pos domain.Position) (common.Address, error) {
	f := p.deps.Provider.StakingFactory()
	if f == nil || !f.IsStaked(p.cfg.Address, pos.ID) {
		return common.Address{}, nil
	}
	return f.Unstake(ctx, p.cfg.Address, pos)
}
