package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// Bank tracks token balances and allowances for every account. The zero
// address token is the native currency; wrapped is its ERC-20 style twin.
type Bank struct {
	balances   *Map[Pair, *big.Int]   // {token, account}
	allowances *Map[Triple, *big.Int] // {token, owner, spender}
	wrapped    common.Address
}

// NewBank creates a bank whose containers are tracked by j.
func NewBank(j *Journal, wrappedNative common.Address) *Bank {
	return &Bank{
		balances:   NewMap[Pair, *big.Int](j, "bank.balances"),
		allowances: NewMap[Triple, *big.Int](j, "bank.allowances"),
		wrapped:    wrappedNative,
	}
}

// WrappedNative returns the wrapped native token address.
func (b *Bank) WrappedNative() common.Address {
	return b.wrapped
}

// BalanceOf returns a copy of account's balance of token.
func (b *Bank) BalanceOf(token, account common.Address) *big.Int {
	v, ok := b.balances.Get(Pair{token, account})
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (b *Bank) setBalance(token, account common.Address, v *big.Int) {
	if v.Sign() == 0 {
		b.balances.Delete(Pair{token, account})
		return
	}
	b.balances.Set(Pair{token, account}, v)
}

// Mint credits amount of token to account out of thin air. Used for
// genesis allocations and by the native wrapper.
func (b *Bank) Mint(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: mint: %w", domain.ErrInvalidAmount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.setBalance(token, to, new(big.Int).Add(b.BalanceOf(token, to), amount))
	return nil
}

// Burn destroys amount of token held by from.
func (b *Bank) Burn(token, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: burn: %w", domain.ErrInvalidAmount)
	}
	bal := b.BalanceOf(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("state: burn %s from %s: %w", token.Hex(), from.Hex(), domain.ErrInsufficientBalance)
	}
	b.setBalance(token, from, bal.Sub(bal, amount))
	return nil
}

// Transfer moves amount of token from one account to another.
func (b *Bank) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer: %w", domain.ErrInvalidAmount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	bal := b.BalanceOf(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("state: transfer %s from %s: %w", token.Hex(), from.Hex(), domain.ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	b.setBalance(token, from, bal.Sub(bal, amount))
	b.setBalance(token, to, new(big.Int).Add(b.BalanceOf(token, to), amount))
	return nil
}

// Approve sets spender's allowance over owner's token balance.
func (b *Bank) Approve(token, owner, spender common.Address, amount *big.Int) {
	key := Triple{token, owner, spender}
	if amount == nil || amount.Sign() <= 0 {
		b.allowances.Delete(key)
		return
	}
	b.allowances.Set(key, new(big.Int).Set(amount))
}

// Allowance returns spender's remaining allowance.
func (b *Bank) Allowance(token, owner, spender common.Address) *big.Int {
	v, ok := b.allowances.Get(Triple{token, owner, spender})
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// TransferFrom moves owner's tokens on behalf of spender, consuming
// allowance.
func (b *Bank) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer from: %w", domain.ErrInvalidAmount)
	}
	allowed := b.Allowance(token, owner, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("state: %s spending %s of %s: %w", spender.Hex(), token.Hex(), owner.Hex(), domain.ErrInsufficientAllowance)
	}
	if err := b.Transfer(token, owner, to, amount); err != nil {
		return err
	}
	b.Approve(token, owner, spender, allowed.Sub(allowed, amount))
	return nil
}

// Wrap converts account's native balance into the wrapped token.
func (b *Bank) Wrap(account common.Address, amount *big.Int) error {
	if err := b.Burn(domain.NativeToken, account, amount); err != nil {
		return fmt.Errorf("state: wrap: %w", err)
	}
	return b.Mint(b.wrapped, account, amount)
}

// Unwrap converts account's wrapped balance back to native.
func (b *Bank) Unwrap(account common.Address, amount *big.Int) error {
	if err := b.Burn(b.wrapped, account, amount); err != nil {
		return fmt.Errorf("state: unwrap: %w", err)
	}
	return b.Mint(domain.NativeToken, account, amount)
}
