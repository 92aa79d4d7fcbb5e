package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// MigrateToVault moves the liquidity a legacy pool holds in token into the
// pool's vault for that token. Open fees owed stay in the pool.
func (p *Pool) MigrateToVault(ctx context.Context, caller, token common.Address) (*big.Int, error) {
	var amount *big.Int
	err := p.deps.Engine.Execute(ctx, "pool.migrate", func(ctx context.Context) error {
		if err := p.requireRole(domain.RoleAdmin, caller); err != nil {
			return err
		}
		v, err := p.vaultFor(token)
		if err != nil {
			return err
		}
		owed := p.FeesOwed(token)
		amount = new(big.Int).Sub(p.deps.Bank.BalanceOf(token, p.cfg.Address), owed)
		if amount.Sign() < 0 {
			return fmt.Errorf("pool: balance below fees owed %s: %w", owed, domain.ErrInvalidAmount)
		}
		if err := v.ReceiveMigration(ctx, p.cfg.Address, amount); err != nil {
			return err
		}
		p.deps.Engine.Emit(domain.LiquidityMigrated{
			Pool:     p.cfg.Address,
			Vault:    v.Address(),
			Token:    token,
			Amount:   new(big.Int).Set(amount),
			FeesKept: owed,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "liquidity migrated",
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
	)
	return amount, nil
}
