// Package staking parks position collateral with external yield
// destinations through per-trader sub-accounts.
package staking

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/state"
)

// Staker is an external destination. It moves tokens out of and back into
// a sub-account.
type Staker interface {
	Address() common.Address
	Deposit(ctx context.Context, account, token common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, account, token common.Address, amount *big.Int) error
}

// Stake records where one position's collateral sits.
type Stake struct {
	Account common.Address `json:"account"`
	Staker  common.Address `json:"staker"`
	Token   common.Address `json:"token"`
	Amount  *big.Int       `json:"amount"`
}

// Factory implements domain.StakingFactory.
type Factory struct {
	address common.Address
	engine  *engine.Engine
	bank    *state.Bank
	logger  *slog.Logger

	stakers  map[common.Address]Staker
	pools    map[common.Address]struct{}
	accounts *state.Map[common.Address, common.Address] // trader -> sub-account
	stakes   *state.Map[string, Stake]                  // pool:id
}

// NewFactory creates a factory at address.
func NewFactory(address common.Address, eng *engine.Engine, bank *state.Bank, logger *slog.Logger) *Factory {
	j := eng.Journal()
	return &Factory{
		address:  address,
		engine:   eng,
		bank:     bank,
		logger:   logger.With(slog.String("component", "staking")),
		stakers:  make(map[common.Address]Staker),
		pools:    make(map[common.Address]struct{}),
		accounts: state.NewMap[common.Address, common.Address](j, "staking.accounts"),
		stakes:   state.NewMap[string, Stake](j, "staking.stakes"),
	}
}

// AddStaker registers a destination. Wiring only.
func (f *Factory) AddStaker(s Staker) { f.stakers[s.Address()] = s }

// AddPool lets pool stake. Wiring only.
func (f *Factory) AddPool(pool common.Address) { f.pools[pool] = struct{}{} }

func stakeKey(pool common.Address, id uint64) string {
	return pool.Hex() + ":" + strconv.FormatUint(id, 10)
}

// AccountAddress derives trader's sub-account address.
func (f *Factory) AccountAddress(trader common.Address) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256(f.address.Bytes(), trader.Bytes())[12:])
}

func (f *Factory) account(trader common.Address) common.Address {
	if a, ok := f.accounts.Get(trader); ok {
		return a
	}
	a := f.AccountAddress(trader)
	f.accounts.Set(trader, a)
	f.logger.Debug("staking account created",
		slog.String("trader", trader.Hex()),
		slog.String("account", a.Hex()),
	)
	return a
}

// IsStaked reports whether position id of pool is staked.
func (f *Factory) IsStaked(pool common.Address, id uint64) bool {
	return f.stakes.Has(stakeKey(pool, id))
}

// StakeOf returns the stake record of a position.
func (f *Factory) StakeOf(pool common.Address, id uint64) (Stake, bool) {
	return f.stakes.Get(stakeKey(pool, id))
}

// Stake moves pos's collateral from pool into the trader's sub-account and
// deposits it with staker.
func (f *Factory) Stake(ctx context.Context, pool common.Address, pos domain.Position, staker common.Address) (common.Address, error) {
	var account common.Address
	err := f.engine.Execute(ctx, "staking.stake", func(ctx context.Context) error {
		if _, ok := f.pools[pool]; !ok {
			return fmt.Errorf("staking: %s: %w", pool.Hex(), domain.ErrCallerNotPool)
		}
		if f.IsStaked(pool, pos.ID) {
			return fmt.Errorf("staking: position %d: %w", pos.ID, domain.ErrPositionAlreadyStaked)
		}
		s, ok := f.stakers[staker]
		if !ok {
			return fmt.Errorf("staking: staker %s: %w", staker.Hex(), domain.ErrNotFound)
		}

		account = f.account(pos.Trader)
		amount := new(big.Int).Set(pos.CollateralAmount)
		if err := f.bank.Transfer(pos.CollateralCurrency, pool, account, amount); err != nil {
			return fmt.Errorf("staking: fund account: %w", err)
		}
		f.stakes.Set(stakeKey(pool, pos.ID), Stake{
			Account: account,
			Staker:  staker,
			Token:   pos.CollateralCurrency,
			Amount:  amount,
		})
		if err := s.Deposit(engine.Untrusted(ctx), account, pos.CollateralCurrency, amount); err != nil {
			return fmt.Errorf("staking: deposit: %w", err)
		}
		return nil
	})
	if err != nil {
		return common.Address{}, err
	}
	return account, nil
}

// Unstake returns a staked position's collateral to pool and reports the
// staker it was held by. The zero address means the position was not staked.
func (f *Factory) Unstake(ctx context.Context, pool common.Address, pos domain.Position) (common.Address, error) {
	var staker common.Address
	err := f.engine.Execute(ctx, "staking.unstake", func(ctx context.Context) error {
		key := stakeKey(pool, pos.ID)
		st, ok := f.stakes.Get(key)
		if !ok {
			return nil
		}
		if _, ok := f.pools[pool]; !ok {
			return fmt.Errorf("staking: %s: %w", pool.Hex(), domain.ErrCallerNotPool)
		}
		f.stakes.Delete(key)
		if err := f.stakers[st.Staker].Withdraw(engine.Untrusted(ctx), st.Account, st.Token, st.Amount); err != nil {
			return fmt.Errorf("staking: withdraw: %w", err)
		}
		if err := f.bank.Transfer(st.Token, st.Account, pool, st.Amount); err != nil {
			return fmt.Errorf("staking: return collateral: %w", err)
		}
		staker = st.Staker
		return nil
	})
	if err != nil {
		return common.Address{}, err
	}
	return staker, nil
}
