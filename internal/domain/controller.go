package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a capability granted to an account.
type Role string

const (
	RoleAdmin         Role = "ADMIN"
	RoleLiquidator    Role = "LIQUIDATOR"
	RoleOrderSigner   Role = "ORDER_SIGNER"
	RoleOrderExecutor Role = "ORDER_EXECUTOR"
	RoleVaultAdmin    Role = "VAULT_ADMIN"
)

// RoleChecker answers capability questions.
type RoleChecker interface {
	HasRole(role Role, account common.Address) bool
}

// DebtController bounds principal and interest.
type DebtController interface {
	ComputeMaxPrincipal(collateralCurrency, marginCurrency common.Address, downPayment *big.Int) *big.Int
	ComputeMaxInterest(token common.Address, principal *big.Int, lastFundingTimestamp, now uint64) *big.Int
}

// FeeController computes trade fees and names fee receivers.
type FeeController interface {
	ComputeTradeFee(amount *big.Int) *big.Int
	FeeReceiver() common.Address
	LiquidationFeeReceiver() common.Address
	ExecutionFeeReceiver() common.Address
}

// StakingFactory moves position collateral into and out of per-trader
// staking sub-accounts.
type StakingFactory interface {
	Stake(ctx context.Context, pool common.Address, pos Position, staker common.Address) (common.Address, error)
	Unstake(ctx context.Context, pool common.Address, pos Position) (common.Address, error)
	IsStaked(pool common.Address, id uint64) bool
}

// AddressProvider resolves the current collaborator implementations.
type AddressProvider interface {
	DebtController() DebtController
	FeeController() FeeController
	StakingFactory() StakingFactory
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
