package swap

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// BuybackSwapper is an exact-output venue for pools. It fills what it can
// of the requested output from its own reserve, charging the router's quote
// less a discount, and routes only the remainder through a whitelisted
// router.
type BuybackSwapper struct {
	address     common.Address
	discountBps uint64

	mu      sync.RWMutex
	callers map[common.Address]struct{}
}

// NewBuybackSwapper creates a swapper at address. discountBps is capped at
// 10000.
func NewBuybackSwapper(address common.Address, discountBps uint64) *BuybackSwapper {
	return &BuybackSwapper{
		address:     address,
		discountBps: min(discountBps, 10_000),
		callers:     make(map[common.Address]struct{}),
	}
}

func (b *BuybackSwapper) Address() common.Address { return b.address }

func (b *BuybackSwapper) DiscountBps() uint64 { return b.discountBps }

// Authorize lets caller use the swapper.
func (b *BuybackSwapper) Authorize(caller common.Address) {
	b.mu.Lock()
	b.callers[caller] = struct{}{}
	b.mu.Unlock()
}

func (b *BuybackSwapper) authorized(caller common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.callers[caller]
	return ok
}

// Call implements Target.
func (b *BuybackSwapper) Call(ctx context.Context, env *CallEnv, data []byte) error {
	if !b.authorized(env.Caller) {
		return fmt.Errorf("swap: buyback caller %s: %w", env.Caller.Hex(), domain.ErrUnauthorized)
	}
	args, err := DecodeCall(data)
	if err != nil {
		return err
	}
	if args.Method != MethodExactOutputBuyback {
		return fmt.Errorf("swap: buyback swapper does not implement %s", args.Method)
	}
	amountOut, amountInMax := args.Amount, args.Limit

	// Reserve held before the caller's input arrives, so a swap of a token
	// into itself cannot fill from the caller's own funds.
	fill := env.BalanceOf(args.TokenOut, env.Self)
	if fill.Cmp(amountOut) > 0 {
		fill.Set(amountOut)
	}

	if err := env.TransferFrom(args.TokenIn, env.Caller, env.Self, amountInMax); err != nil {
		return err
	}

	buybackIn := new(big.Int)
	if fill.Sign() > 0 {
		quote, err := env.QuoteExactOut(args.Router, args.TokenIn, args.TokenOut, fill)
		if err != nil {
			return err
		}
		buybackIn.Mul(quote, new(big.Int).SetUint64(10_000-b.discountBps))
		buybackIn.Quo(buybackIn, big.NewInt(10_000))
		if buybackIn.Cmp(amountInMax) > 0 {
			return fmt.Errorf("swap: buyback of %s costs %s above max %s: %w", fill, buybackIn, amountInMax, ErrSlippage)
		}
	}

	spent := new(big.Int)
	remainder := new(big.Int).Sub(amountOut, fill)
	if remainder.Sign() > 0 {
		budget := new(big.Int).Sub(amountInMax, buybackIn)
		routed, err := EncodeExactOutput(args.TokenIn, args.TokenOut, remainder, budget)
		if err != nil {
			return err
		}
		inBefore := env.BalanceOf(args.TokenIn, env.Self)
		outBefore := env.BalanceOf(args.TokenOut, env.Self)
		env.Approve(args.TokenIn, args.Router, budget)
		if err := env.Call(ctx, args.Router, nil, routed); err != nil {
			return err
		}
		env.Approve(args.TokenIn, args.Router, nil)

		spent.Sub(inBefore, env.BalanceOf(args.TokenIn, env.Self))
		received := env.BalanceOf(args.TokenOut, env.Self)
		received.Sub(received, outBefore)
		if received.Cmp(remainder) < 0 {
			return fmt.Errorf("swap: buyback routed %s, needs %s: %w", received, remainder, domain.ErrInsufficientAmountOutReceived)
		}
	}

	refund := new(big.Int).Sub(amountInMax, buybackIn)
	refund.Sub(refund, spent)
	if err := env.Transfer(args.TokenOut, env.Caller, amountOut); err != nil {
		return err
	}
	if err := env.Transfer(args.TokenIn, env.Caller, refund); err != nil {
		return err
	}

	if fill.Sign() > 0 {
		env.Emit(domain.InternalBuyback{
			Swapper:     env.Self,
			Caller:      env.Caller,
			TokenIn:     args.TokenIn,
			TokenOut:    args.TokenOut,
			ReserveOut:  fill,
			BuybackIn:   buybackIn,
			RoutedOut:   remainder,
			DiscountBps: b.discountBps,
		})
	}
	return nil
}
