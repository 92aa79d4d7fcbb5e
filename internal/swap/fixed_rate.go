package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/state"
)

// ErrSlippage is returned by FixedRateRouter when a quote misses the
// caller's limit.
var ErrSlippage = errors.New("swap: slippage limit exceeded")

// Rate prices one token in another: Num units of the output token per Den
// units of the input token.
type Rate struct {
	Num *big.Int
	Den *big.Int
}

// FixedRateRouter is a reserve-funded venue quoting configured rates. It is
// the liquidity source for devnet deployments and tests.
type FixedRateRouter struct {
	address common.Address

	mu    sync.RWMutex
	rates map[state.Pair]Rate // {in, out}
}

// NewFixedRateRouter creates a router at address. Its reserves are
// whatever the bank holds for that address.
func NewFixedRateRouter(address common.Address) *FixedRateRouter {
	return &FixedRateRouter{address: address, rates: make(map[state.Pair]Rate)}
}

func (r *FixedRateRouter) Address() common.Address { return r.address }

// SetRate prices b in a: one unit of a buys num/den of b. The reverse
// direction uses the inverse.
func (r *FixedRateRouter) SetRate(a, b common.Address, num, den *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[state.Pair{A: a, B: b}] = Rate{Num: new(big.Int).Set(num), Den: new(big.Int).Set(den)}
	r.rates[state.Pair{A: b, B: a}] = Rate{Num: new(big.Int).Set(den), Den: new(big.Int).Set(num)}
}

func (r *FixedRateRouter) rate(in, out common.Address) (Rate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.rates[state.Pair{A: in, B: out}]
	if !ok || rt.Num.Sign() == 0 || rt.Den.Sign() == 0 {
		return Rate{}, fmt.Errorf("swap: no rate for %s -> %s", in.Hex(), out.Hex())
	}
	return rt, nil
}

// QuoteExactIn returns the output for amountIn, rounded down.
func (r *FixedRateRouter) QuoteExactIn(in, out common.Address, amountIn *big.Int) (*big.Int, error) {
	rt, err := r.rate(in, out)
	if err != nil {
		return nil, err
	}
	q := new(big.Int).Mul(amountIn, rt.Num)
	return q.Quo(q, rt.Den), nil
}

// QuoteExactOut returns the input needed for amountOut, rounded up.
func (r *FixedRateRouter) QuoteExactOut(in, out common.Address, amountOut *big.Int) (*big.Int, error) {
	rt, err := r.rate(in, out)
	if err != nil {
		return nil, err
	}
	num := new(big.Int).Mul(amountOut, rt.Den)
	q, rem := new(big.Int).QuoRem(num, rt.Num, new(big.Int))
	if rem.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q, nil
}

// Call implements Target.
func (r *FixedRateRouter) Call(_ context.Context, env *CallEnv, data []byte) error {
	args, err := DecodeCall(data)
	if err != nil {
		return err
	}

	var amountIn, amountOut *big.Int
	switch args.Method {
	case MethodExactInput:
		amountIn = args.Amount
		if amountOut, err = r.QuoteExactIn(args.TokenIn, args.TokenOut, amountIn); err != nil {
			return err
		}
		if amountOut.Cmp(args.Limit) < 0 {
			return fmt.Errorf("%w: out %s < min %s", ErrSlippage, amountOut, args.Limit)
		}
	case MethodExactOutput:
		amountOut = args.Amount
		if amountIn, err = r.QuoteExactOut(args.TokenIn, args.TokenOut, amountOut); err != nil {
			return err
		}
		if amountIn.Cmp(args.Limit) > 0 {
			return fmt.Errorf("%w: in %s > max %s", ErrSlippage, amountIn, args.Limit)
		}
	default:
		return fmt.Errorf("swap: router does not implement %s", args.Method)
	}

	if err := env.TransferFrom(args.TokenIn, env.Caller, env.Self, amountIn); err != nil {
		return err
	}
	if err := env.Transfer(args.TokenOut, env.Caller, amountOut); err != nil {
		return fmt.Errorf("swap: router reserve: %w", err)
	}
	return nil
}
