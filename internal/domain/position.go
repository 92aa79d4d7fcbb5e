package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the bank key of the chain's native currency.
var NativeToken = common.Address{}

// Side distinguishes long pools from short pools.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Position is the full state of an open position. The ledger only keeps a
// hash of it; callers present the struct on every mutating call.
type Position struct {
	ID                   uint64         `json:"id"`
	Trader               common.Address `json:"trader"`
	Currency             common.Address `json:"currency"`
	CollateralCurrency   common.Address `json:"collateralCurrency"`
	LastFundingTimestamp uint64         `json:"lastFundingTimestamp"`
	DownPayment          *big.Int       `json:"downPayment"`
	Principal            *big.Int       `json:"principal"`
	CollateralAmount     *big.Int       `json:"collateralAmount"`
	FeesToBePaid         *big.Int       `json:"feesToBePaid"`
}

// Clone returns a deep copy so callers can mutate amounts freely.
func (p Position) Clone() Position {
	out := p
	out.DownPayment = cloneInt(p.DownPayment)
	out.Principal = cloneInt(p.Principal)
	out.CollateralAmount = cloneInt(p.CollateralAmount)
	out.FeesToBePaid = cloneInt(p.FeesToBePaid)
	return out
}

// PayoutMode selects how a close or liquidation pays the trader.
type PayoutMode string

const (
	PayoutWrapped      PayoutMode = "wrapped"
	PayoutNative       PayoutMode = "native"
	PayoutVaultDeposit PayoutMode = "vault_deposit"
)

// Valid reports whether m is a known payout mode.
func (m PayoutMode) Valid() bool {
	switch m {
	case PayoutWrapped, PayoutNative, PayoutVaultDeposit:
		return true
	}
	return false
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
