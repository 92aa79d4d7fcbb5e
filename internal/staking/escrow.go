package staking

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/state"
)

// Escrow is a Staker that simply holds deposits. Devnet deployments use it
// in place of a real yield destination.
type Escrow struct {
	address  common.Address
	bank     *state.Bank
	deposits *state.Map[state.Pair, *big.Int] // {account, token}
}

// NewEscrow creates an escrow staker at address.
func NewEscrow(address common.Address, j *state.Journal, bank *state.Bank) *Escrow {
	return &Escrow{
		address:  address,
		bank:     bank,
		deposits: state.NewMap[state.Pair, *big.Int](j, "staking.escrow."+address.Hex()),
	}
}

func (e *Escrow) Address() common.Address { return e.address }

// Deposited returns what account holds in the escrow.
func (e *Escrow) Deposited(account, token common.Address) *big.Int {
	v, ok := e.deposits.Get(state.Pair{A: account, B: token})
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (e *Escrow) Deposit(_ context.Context, account, token common.Address, amount *big.Int) error {
	if err := e.bank.Transfer(token, account, e.address, amount); err != nil {
		return err
	}
	e.deposits.Set(state.Pair{A: account, B: token}, new(big.Int).Add(e.Deposited(account, token), amount))
	return nil
}

func (e *Escrow) Withdraw(_ context.Context, account, token common.Address, amount *big.Int) error {
	held := e.Deposited(account, token)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("staking: escrow holds %s for %s: %w", held, account.Hex(), domain.ErrInsufficientBalance)
	}
	key := state.Pair{A: account, B: token}
	if held.Sub(held, amount); held.Sign() == 0 {
		e.deposits.Delete(key)
	} else {
		e.deposits.Set(key, held)
	}
	return e.bank.Transfer(token, e.address, account, amount)
}
