package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a notification emitted by a committed operation.
type Event interface {
	EventName() string
}

// EventRecord is the sequenced envelope observers receive. Payload is the
// JSON form of Event; Event itself is only set for in-process consumers.
type EventRecord struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Name      string          `json:"name"`
	Operation string          `json:"operation"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Event     Event           `json:"-"`
}

// Event names.
const (
	EventPositionOpened          = "position_opened"
	EventPositionClosed          = "position_closed"
	EventPositionClosedWithOrder = "position_closed_with_order"
	EventPositionLiquidated      = "position_liquidated"
	EventPositionClaimed         = "position_claimed"
	EventPositionStaked          = "position_staked"
	EventCollateralAdded         = "collateral_added"
	EventFeesAccrued             = "fees_accrued"
	EventFeesClaimed             = "fees_claimed"
	EventVaultDeposit            = "vault_deposit"
	EventVaultWithdraw           = "vault_withdraw"
	EventVaultBoostInitiated     = "vault_boost_initiated"
	EventVaultBoostPaid          = "vault_boost_paid"
	EventSwap                    = "swap"
	EventInternalBuyback         = "internal_buyback"
	EventVaultSwap               = "vault_swap"
	EventLiquidityMigrated       = "liquidity_migrated"
)

type PositionOpened struct {
	Pool               common.Address `json:"pool"`
	ID                 uint64         `json:"id"`
	Trader             common.Address `json:"trader"`
	Currency           common.Address `json:"currency"`
	CollateralCurrency common.Address `json:"collateralCurrency"`
	DownPayment        *big.Int       `json:"downPayment"`
	Principal          *big.Int       `json:"principal"`
	CollateralAmount   *big.Int       `json:"collateralAmount"`
	FeesToBePaid       *big.Int       `json:"feesToBePaid"`
	Position           Position       `json:"position"`
}

func (PositionOpened) EventName() string { return EventPositionOpened }

type PositionClosed struct {
	Pool            common.Address `json:"pool"`
	ID              uint64         `json:"id"`
	Trader          common.Address `json:"trader"`
	Payout          *big.Int       `json:"payout"`
	PrincipalRepaid *big.Int       `json:"principalRepaid"`
	InterestPaid    *big.Int       `json:"interestPaid"`
	FeeAmount       *big.Int       `json:"feeAmount"`
	// PastFees is the open fee collected up front and routed at close.
	PastFees *big.Int `json:"pastFees"`
	// Remaining is set for partial closes and holds the re-committed position.
	Remaining *Position `json:"remaining,omitempty"`
}

func (PositionClosed) EventName() string { return EventPositionClosed }

type PositionClosedWithOrder struct {
	PositionClosed
	OrderType    OrderType `json:"orderType"`
	ExecutionFee *big.Int  `json:"executionFee"`
}

func (PositionClosedWithOrder) EventName() string { return EventPositionClosedWithOrder }

type PositionLiquidated struct {
	PositionClosed
	LiquidationFee *big.Int `json:"liquidationFee"`
}

func (PositionLiquidated) EventName() string { return EventPositionLiquidated }

type PositionClaimed struct {
	Pool            common.Address `json:"pool"`
	ID              uint64         `json:"id"`
	Trader          common.Address `json:"trader"`
	AmountClaimed   *big.Int       `json:"amountClaimed"`
	PrincipalRepaid *big.Int       `json:"principalRepaid"`
	InterestPaid    *big.Int       `json:"interestPaid"`
	FeeAmount       *big.Int       `json:"feeAmount"`
}

func (PositionClaimed) EventName() string { return EventPositionClaimed }

type PositionStaked struct {
	Pool    common.Address `json:"pool"`
	ID      uint64         `json:"id"`
	Trader  common.Address `json:"trader"`
	Account common.Address `json:"account"`
	Staker  common.Address `json:"staker"`
	Amount  *big.Int       `json:"amount"`
}

func (PositionStaked) EventName() string { return EventPositionStaked }

type CollateralAdded struct {
	Pool             common.Address `json:"pool"`
	ID               uint64         `json:"id"`
	Trader           common.Address `json:"trader"`
	Amount           *big.Int       `json:"amount"`
	InterestPaid     *big.Int       `json:"interestPaid"`
	PrincipalReduced *big.Int       `json:"principalReduced"`
	Position         Position       `json:"position"`
}

func (CollateralAdded) EventName() string { return EventCollateralAdded }

type FeesAccrued struct {
	Pool        common.Address `json:"pool"`
	Token       common.Address `json:"token"`
	Partner     common.Address `json:"partner"`
	PartnerFees *big.Int       `json:"partnerFees"`
	ProtocolFee *big.Int       `json:"protocolFee"`
}

func (FeesAccrued) EventName() string { return EventFeesAccrued }

type FeesClaimed struct {
	Partner common.Address `json:"partner"`
	Token   common.Address `json:"token"`
	Amount  *big.Int       `json:"amount"`
}

func (FeesClaimed) EventName() string { return EventFeesClaimed }

type VaultDeposit struct {
	Vault    common.Address `json:"vault"`
	Sender   common.Address `json:"sender"`
	Receiver common.Address `json:"receiver"`
	Assets   *big.Int       `json:"assets"`
	Shares   *big.Int       `json:"shares"`
}

func (VaultDeposit) EventName() string { return EventVaultDeposit }

type VaultWithdraw struct {
	Vault    common.Address `json:"vault"`
	Sender   common.Address `json:"sender"`
	Receiver common.Address `json:"receiver"`
	Owner    common.Address `json:"owner"`
	Assets   *big.Int       `json:"assets"`
	Shares   *big.Int       `json:"shares"`
}

func (VaultWithdraw) EventName() string { return EventVaultWithdraw }

type VaultBoostInitiated struct {
	Vault    common.Address `json:"vault"`
	Sender   common.Address `json:"sender"`
	Amount   *big.Int       `json:"amount"`
	Start    uint64         `json:"start"`
	Duration uint64         `json:"duration"`
}

func (VaultBoostInitiated) EventName() string { return EventVaultBoostInitiated }

type VaultBoostPaid struct {
	Vault     common.Address `json:"vault"`
	Amount    *big.Int       `json:"amount"`
	Remaining *big.Int       `json:"remaining"`
}

func (VaultBoostPaid) EventName() string { return EventVaultBoostPaid }

type Swap struct {
	Holder    common.Address `json:"holder"`
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	AmountIn  *big.Int       `json:"amountIn"`
	AmountOut *big.Int       `json:"amountOut"`
}

func (Swap) EventName() string { return EventSwap }

type InternalBuyback struct {
	Swapper     common.Address `json:"swapper"`
	Caller      common.Address `json:"caller"`
	TokenIn     common.Address `json:"tokenIn"`
	TokenOut    common.Address `json:"tokenOut"`
	ReserveOut  *big.Int       `json:"reserveOut"`
	BuybackIn   *big.Int       `json:"buybackIn"`
	RoutedOut   *big.Int       `json:"routedOut"`
	DiscountBps uint64         `json:"discountBps"`
}

func (InternalBuyback) EventName() string { return EventInternalBuyback }

type VaultSwap struct {
	Trader    common.Address `json:"trader"`
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	AmountIn  *big.Int       `json:"amountIn"`
	AmountOut *big.Int       `json:"amountOut"`
	Fee       *big.Int       `json:"fee"`
	Shares    *big.Int       `json:"shares"`
}

func (VaultSwap) EventName() string { return EventVaultSwap }

type LiquidityMigrated struct {
	Pool     common.Address `json:"pool"`
	Vault    common.Address `json:"vault"`
	Token    common.Address `json:"token"`
	Amount   *big.Int       `json:"amount"`
	FeesKept *big.Int       `json:"feesKept"`
}

func (LiquidityMigrated) EventName() string { return EventLiquidityMigrated }
