// Package swap runs caller-supplied conversion call lists against
// whitelisted venues and checks the resulting balance deltas.
package swap

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/state"
)

// Target is a venue a FunctionCall can address. Implementations run with an
// untrusted context: any attempt to re-enter the ledger through it fails.
type Target interface {
	Call(ctx context.Context, env *CallEnv, data []byte) error
}

// CallEnv is what a target sees of the world during one call: who called
// it, the native value sent along, and token operations performed as the
// target itself.
type CallEnv struct {
	Caller common.Address
	Self   common.Address
	Value  *big.Int

	exec *Executor
}

func (e *CallEnv) BalanceOf(token, account common.Address) *big.Int {
	return e.exec.bank.BalanceOf(token, account)
}

// Transfer sends the target's own tokens.
func (e *CallEnv) Transfer(token, to common.Address, amount *big.Int) error {
	return e.exec.bank.Transfer(token, e.Self, to, amount)
}

// TransferFrom spends an allowance granted to the target.
func (e *CallEnv) TransferFrom(token, from, to common.Address, amount *big.Int) error {
	return e.exec.bank.TransferFrom(token, e.Self, from, to, amount)
}

// Approve lets spender move the target's tokens.
func (e *CallEnv) Approve(token, spender common.Address, amount *big.Int) {
	e.exec.bank.Approve(token, e.Self, spender, amount)
}

func (e *CallEnv) Emit(ev domain.Event) {
	e.exec.engine.Emit(ev)
}

// Call invokes another whitelisted target with the current target as
// caller.
func (e *CallEnv) Call(ctx context.Context, to common.Address, value *big.Int, data []byte) error {
	return e.exec.call(ctx, e.Self, domain.FunctionCall{To: to, Value: value, Data: data})
}

// Quoter prices an exact-output trade without executing it.
type Quoter interface {
	QuoteExactOut(in, out common.Address, amountOut *big.Int) (*big.Int, error)
}

// QuoteExactOut asks the whitelisted target at to price amountOut of out.
func (e *CallEnv) QuoteExactOut(to, in, out common.Address, amountOut *big.Int) (*big.Int, error) {
	t, err := e.exec.resolve(to)
	if err != nil {
		return nil, err
	}
	q, ok := t.(Quoter)
	if !ok {
		return nil, fmt.Errorf("swap: %s does not quote", to.Hex())
	}
	return q.QuoteExactOut(in, out, amountOut)
}

// Result reports the measured effect of a call list on the holder.
type Result struct {
	Spent    *big.Int
	Received *big.Int
	// Excess is output received above an exact-output target.
	Excess *big.Int
}

// Executor owns the target whitelist.
type Executor struct {
	engine    *engine.Engine
	bank      *state.Bank
	roles     domain.RoleChecker
	logger    *slog.Logger
	targets   map[common.Address]Target
	whitelist *state.Map[common.Address, bool]
}

// NewExecutor creates an executor with an empty whitelist.
func NewExecutor(eng *engine.Engine, bank *state.Bank, roles domain.RoleChecker, logger *slog.Logger) *Executor {
	return &Executor{
		engine:    eng,
		bank:      bank,
		roles:     roles,
		logger:    logger.With(slog.String("component", "swap")),
		targets:   make(map[common.Address]Target),
		whitelist: state.NewMap[common.Address, bool](eng.Journal(), "swap.whitelist"),
	}
}

// Register makes t callable at addr once whitelisted. Wiring only.
func (x *Executor) Register(addr common.Address, t Target) {
	x.targets[addr] = t
}

// SetWhitelisted allows or forbids target. Admin only.
func (x *Executor) SetWhitelisted(ctx context.Context, caller, target common.Address, allowed bool) error {
	return x.engine.Execute(ctx, "swap.whitelist", func(ctx context.Context) error {
		if !x.roles.HasRole(domain.RoleAdmin, caller) {
			return fmt.Errorf("swap: whitelist: %w", domain.ErrUnauthorized)
		}
		if allowed {
			x.whitelist.Set(target, true)
		} else {
			x.whitelist.Delete(target)
		}
		x.logger.InfoContext(ctx, "swap target whitelist changed",
			slog.String("target", target.Hex()),
			slog.Bool("allowed", allowed),
		)
		return nil
	})
}

// IsWhitelisted reports whether target may be called.
func (x *Executor) IsWhitelisted(target common.Address) bool {
	return x.whitelist.Has(target)
}

func (x *Executor) resolve(to common.Address) (Target, error) {
	t, ok := x.targets[to]
	if !ok || !x.whitelist.Has(to) {
		return nil, fmt.Errorf("swap: %s: %w", to.Hex(), domain.ErrTargetNotWhitelistedSwapRouter)
	}
	return t, nil
}

func (x *Executor) call(ctx context.Context, caller common.Address, c domain.FunctionCall) error {
	t, err := x.resolve(c.To)
	if err != nil {
		return err
	}
	value := new(big.Int)
	if c.Value != nil {
		value.Set(c.Value)
	}
	if value.Sign() > 0 {
		if err := x.bank.Transfer(domain.NativeToken, caller, c.To, value); err != nil {
			return fmt.Errorf("swap: value to %s: %w: %w", c.To.Hex(), domain.ErrSwapReverted, err)
		}
	}
	env := &CallEnv{Caller: caller, Self: c.To, Value: value, exec: x}
	if err := t.Call(engine.Untrusted(ctx), env, c.Data); err != nil {
		return fmt.Errorf("swap: call to %s: %w: %w", c.To.Hex(), domain.ErrSwapReverted, err)
	}
	return nil
}

// run approves every target for limit of tokenIn, executes calls in order
// and clears the approvals.
func (x *Executor) run(ctx context.Context, holder, tokenIn common.Address, limit *big.Int, calls []domain.FunctionCall) error {
	if len(calls) == 0 {
		return fmt.Errorf("swap: %w", domain.ErrSwapFunctionNeeded)
	}
	for _, c := range calls {
		if _, err := x.resolve(c.To); err != nil {
			return err
		}
		if !domain.IsUint256(c.Value) {
			return fmt.Errorf("swap: call to %s: value %s: %w", c.To.Hex(), c.Value, domain.ErrSwapReverted)
		}
	}
	for _, c := range calls {
		x.bank.Approve(tokenIn, holder, c.To, limit)
	}
	for i, c := range calls {
		if err := x.call(ctx, holder, c); err != nil {
			return fmt.Errorf("swap: step %d: %w", i, err)
		}
	}
	for _, c := range calls {
		x.bank.Approve(tokenIn, holder, c.To, nil)
	}
	return nil
}

func (x *Executor) measure(ctx context.Context, holder, tokenIn, tokenOut common.Address, limit *big.Int, calls []domain.FunctionCall) (spent, received *big.Int, err error) {
	if tokenIn == tokenOut {
		return nil, nil, fmt.Errorf("swap: token in equals token out: %w", domain.ErrInvalidTargetCurrency)
	}
	inBefore := x.bank.BalanceOf(tokenIn, holder)
	outBefore := x.bank.BalanceOf(tokenOut, holder)
	if inBefore.Cmp(limit) < 0 {
		return nil, nil, fmt.Errorf("swap: holder has %s of %s, needs %s: %w", inBefore, tokenIn.Hex(), limit, domain.ErrInsufficientBalance)
	}

	if err := x.run(ctx, holder, tokenIn, limit, calls); err != nil {
		return nil, nil, err
	}

	spent = inBefore.Sub(inBefore, x.bank.BalanceOf(tokenIn, holder))
	received = x.bank.BalanceOf(tokenOut, holder)
	received.Sub(received, outBefore)
	if spent.Sign() < 0 {
		spent.SetInt64(0)
	}
	if received.Sign() < 0 {
		return nil, nil, fmt.Errorf("swap: %s balance of %s decreased: %w", tokenOut.Hex(), holder.Hex(), domain.ErrSwapReverted)
	}
	return spent, received, nil
}

// ExactIn converts exactly amountIn of tokenIn held by holder into at least
// minOut of tokenOut.
func (x *Executor) ExactIn(ctx context.Context, holder, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int, calls []domain.FunctionCall) (Result, error) {
	var res Result
	err := x.engine.Execute(ctx, "swap.exact_in", func(ctx context.Context) error {
		spent, received, err := x.measure(ctx, holder, tokenIn, tokenOut, amountIn, calls)
		if err != nil {
			return err
		}
		if spent.Cmp(amountIn) != 0 {
			return fmt.Errorf("swap: spent %s of exact input %s: %w", spent, amountIn, domain.ErrSwapReverted)
		}
		if minOut != nil && received.Cmp(minOut) < 0 {
			return fmt.Errorf("swap: received %s, minimum %s: %w", received, minOut, domain.ErrInsufficientCollateralReceived)
		}
		res = Result{Spent: spent, Received: received, Excess: new(big.Int)}
		x.emit(holder, tokenIn, tokenOut, res)
		return nil
	})
	return res, err
}

// ExactOut obtains at least amountOut of tokenOut spending at most
// amountInMax of tokenIn. Unused input stays with holder.
func (x *Executor) ExactOut(ctx context.Context, holder, tokenIn, tokenOut common.Address, amountInMax, amountOut *big.Int, calls []domain.FunctionCall) (Result, error) {
	var res Result
	err := x.engine.Execute(ctx, "swap.exact_out", func(ctx context.Context) error {
		spent, received, err := x.measure(ctx, holder, tokenIn, tokenOut, amountInMax, calls)
		if err != nil {
			return err
		}
		if spent.Cmp(amountInMax) > 0 {
			return fmt.Errorf("swap: spent %s above maximum %s: %w", spent, amountInMax, domain.ErrSwapReverted)
		}
		if received.Cmp(amountOut) < 0 {
			return fmt.Errorf("swap: received %s, wanted %s: %w", received, amountOut, domain.ErrInsufficientAmountOutReceived)
		}
		res = Result{Spent: spent, Received: received, Excess: new(big.Int).Sub(received, amountOut)}
		x.emit(holder, tokenIn, tokenOut, res)
		return nil
	})
	return res, err
}

func (x *Executor) emit(holder, tokenIn, tokenOut common.Address, res Result) {
	x.engine.Emit(domain.Swap{
		Holder:    holder,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(big.Int).Set(res.Spent),
		AmountOut: new(big.Int).Set(res.Received),
	})
}
