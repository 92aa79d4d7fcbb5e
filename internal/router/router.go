// Package router lets vault share holders trade without holding the
// underlying tokens: positions are funded from, and conversions settle
// into, vault shares.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/crypto"
	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/pool"
	"github.com/alanyoungcy/marginpool/internal/state"
	"github.com/alanyoungcy/marginpool/internal/swap"
	"github.com/alanyoungcy/marginpool/internal/vault"
)

var bpsDivisor = big.NewInt(10_000)

type Config struct {
	Address    common.Address
	Domain     crypto.Domain
	SwapFeeBps uint64
}

type Deps struct {
	Engine   *engine.Engine
	Bank     *state.Bank
	Roles    domain.RoleChecker
	Provider domain.AddressProvider
	Vaults   *vault.Registry
	Swaps    *swap.Executor
}

// Router is the vault-share facade over the pools.
type Router struct {
	cfg    Config
	deps   Deps
	auth   *crypto.Authorizer
	logger *slog.Logger

	mu    sync.RWMutex
	pools map[common.Address]*pool.Pool
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Router {
	return &Router{
		cfg:    cfg,
		deps:   deps,
		auth:   crypto.NewAuthorizer(cfg.Domain, deps.Roles),
		logger: logger.With(slog.String("component", "router")),
		pools:  make(map[common.Address]*pool.Pool),
	}
}

func (r *Router) Address() common.Address { return r.cfg.Address }
func (r *Router) Domain() crypto.Domain   { return r.cfg.Domain }

// AddPool makes p reachable through the router. Wiring only.
func (r *Router) AddPool(p *pool.Pool) {
	r.mu.Lock()
	r.pools[p.Address()] = p
	r.mu.Unlock()
}

func (r *Router) pool(addr common.Address) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[addr]
	if !ok {
		return nil, fmt.Errorf("router: pool %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

// OpenPosition opens a position for the trader who signed req under the
// router domain. The down payment, open fee and executionFee are redeemed
// from the trader's vault shares. Only order executors may submit.
func (r *Router) OpenPosition(ctx context.Context, caller, poolAddr common.Address, req domain.OpenPositionRequest, poolSig, traderSig []byte, executionFee *big.Int) (domain.Position, error) {
	var pos domain.Position
	err := r.deps.Engine.Execute(ctx, "router.open", func(ctx context.Context) error {
		if !r.deps.Roles.HasRole(domain.RoleOrderExecutor, caller) {
			return fmt.Errorf("router: open by %s: %w", caller.Hex(), domain.ErrUnauthorized)
		}
		p, err := r.pool(poolAddr)
		if err != nil {
			return err
		}
		trader, err := r.auth.RecoverOpenRequestSigner(req, traderSig)
		if err != nil {
			return err
		}

		payToken := req.Currency
		if p.Side() == domain.SideShort {
			payToken = req.TargetCurrency
		}
		v, err := r.deps.Vaults.ByAsset(payToken)
		if err != nil {
			return err
		}

		if !domain.IsUint256(executionFee) {
			return fmt.Errorf("router: execution fee %s: %w", executionFee, domain.ErrInvalidAmount)
		}
		execFee := new(big.Int)
		if executionFee != nil {
			execFee.Set(executionFee)
		}
		total := new(big.Int).Add(orZero(req.DownPayment), orZero(req.Fee))
		total.Add(total, execFee)
		if _, err := v.Withdraw(ctx, r.cfg.Address, total, r.cfg.Address, trader); err != nil {
			return err
		}
		if execFee.Sign() > 0 {
			receiver := r.deps.Provider.FeeController().ExecutionFeeReceiver()
			if err := r.deps.Bank.Transfer(payToken, r.cfg.Address, receiver, execFee); err != nil {
				return err
			}
		}

		pos, err = p.OpenPositionFor(ctx, r.cfg.Address, trader, req, poolSig)
		return err
	})
	if err != nil {
		return domain.Position{}, err
	}
	r.logger.InfoContext(ctx, "position opened from vault shares",
		slog.String("pool", poolAddr.Hex()),
		slog.Uint64("id", pos.ID),
		slog.String("trader", pos.Trader.Hex()),
	)
	return pos, nil
}

// SwapVaultToVault converts amount of caller's tokenIn vault position into
// shares of the tokenOut vault, less the router's swap fee.
func (r *Router) SwapVaultToVault(ctx context.Context, caller common.Address, amount *big.Int, tokenIn, tokenOut common.Address, minOut *big.Int, calls []domain.FunctionCall) (domain.VaultSwap, error) {
	var ev domain.VaultSwap
	err := r.deps.Engine.Execute(ctx, "router.vault_swap", func(ctx context.Context) error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("router: vault swap: %w", domain.ErrInvalidAmount)
		}
		in, err := r.deps.Vaults.ByAsset(tokenIn)
		if err != nil {
			return err
		}
		out, err := r.deps.Vaults.ByAsset(tokenOut)
		if err != nil {
			return err
		}
		if _, err := in.Withdraw(ctx, r.cfg.Address, amount, r.cfg.Address, caller); err != nil {
			return err
		}
		res, err := r.deps.Swaps.ExactIn(ctx, r.cfg.Address, tokenIn, tokenOut, amount, minOut, calls)
		if err != nil {
			return err
		}

		fee := new(big.Int).Mul(res.Received, new(big.Int).SetUint64(r.cfg.SwapFeeBps))
		fee.Quo(fee, bpsDivisor)
		if fee.Sign() > 0 {
			receiver := r.deps.Provider.FeeController().FeeReceiver()
			if err := r.deps.Bank.Transfer(tokenOut, r.cfg.Address, receiver, fee); err != nil {
				return err
			}
		}
		rest := new(big.Int).Sub(res.Received, fee)
		shares, err := out.Deposit(ctx, r.cfg.Address, rest, caller)
		if err != nil {
			return err
		}

		ev = domain.VaultSwap{
			Trader:    caller,
			TokenIn:   tokenIn,
			TokenOut:  tokenOut,
			AmountIn:  new(big.Int).Set(amount),
			AmountOut: rest,
			Fee:       fee,
			Shares:    shares,
		}
		r.deps.Engine.Emit(ev)
		return nil
	})
	if err != nil {
		return domain.VaultSwap{}, err
	}
	r.logger.InfoContext(ctx, "vault swap",
		slog.String("trader", caller.Hex()),
		slog.String("in", ev.AmountIn.String()),
		slog.String("out", ev.AmountOut.String()),
	)
	return ev, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
