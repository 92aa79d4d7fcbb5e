package domain

import "errors"

// Authorization failures.
var (
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrSenderNotTrader   = errors.New("sender is not the position trader")
	ErrCallerNotTrader   = errors.New("caller is not the position trader")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrCallerNotPool     = errors.New("caller is not a registered pool")
	ErrAddressNotPartner = errors.New("address is not a partner")
)

// Request and position state failures.
var (
	ErrOrderExpired          = errors.New("order expired")
	ErrPositionAlreadyTaken  = errors.New("position id already taken")
	ErrInvalidPosition       = errors.New("invalid position")
	ErrPositionAlreadyStaked = errors.New("position already staked")
	ErrInvalidOrder          = errors.New("invalid close order")
	ErrPriceTargetNotReached = errors.New("price target not reached")
	ErrBoostNotActive        = errors.New("vault boost not active")
	ErrBoostAlreadyActive    = errors.New("vault boost already active")
	ErrReentrantCall         = errors.New("reentrant call")
	ErrInvalidPayoutMode     = errors.New("invalid payout mode")
	ErrInvalidCurrency       = errors.New("invalid currency")
	ErrInvalidTargetCurrency = errors.New("invalid target currency")
)

// Economic and execution failures.
var (
	ErrPrincipalTooHigh               = errors.New("principal too high")
	ErrInsufficientAvailablePrincipal = errors.New("insufficient available principal")
	ErrInsufficientAmountProvided     = errors.New("insufficient amount provided")
	ErrInsufficientCollateralReceived = errors.New("insufficient collateral received")
	ErrInvalidInterestAmount          = errors.New("invalid interest amount")
	ErrLiquidationThresholdNotReached = errors.New("liquidation threshold not reached")
	ErrInsufficientPrincipalRepaid    = errors.New("insufficient principal repaid")
	ErrSwapReverted                   = errors.New("swap reverted")
	ErrSwapFunctionNeeded             = errors.New("swap function needed")
	ErrTargetNotWhitelistedSwapRouter = errors.New("target not whitelisted swap router")
	ErrInsufficientAmountOutReceived  = errors.New("insufficient amount out received")
	ErrInsufficientBalance            = errors.New("insufficient balance")
	ErrInsufficientAllowance          = errors.New("insufficient allowance")
	ErrInsufficientReserve            = errors.New("insufficient reserve")
	ErrInvalidAmount                  = errors.New("invalid amount")
)

// Infrastructure failures.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrLockLost      = errors.New("lock lost")
)
