package domain

import (
	"fmt"
	"math/big"
)

// IsUint256 reports whether v fits one unsigned 256-bit word. Nil reads as
// zero.
func IsUint256(v *big.Int) bool {
	return v == nil || (v.Sign() >= 0 && v.BitLen() <= 256)
}

type amountField struct {
	name  string
	value *big.Int
}

func checkAmounts(kind string, fields ...amountField) error {
	for _, f := range fields {
		if !IsUint256(f.value) {
			return fmt.Errorf("%s %s %s out of uint256 range: %w", kind, f.name, f.value, ErrInvalidAmount)
		}
	}
	return nil
}

func checkCalls(kind string, calls []FunctionCall) error {
	for i, c := range calls {
		if !IsUint256(c.Value) {
			return fmt.Errorf("%s call %d value %s out of uint256 range: %w", kind, i, c.Value, ErrInvalidAmount)
		}
	}
	return nil
}

// Validate rejects amounts that a 32-byte word cannot hold. Such values
// would hash like their truncated counterparts.
func (p Position) Validate() error {
	return checkAmounts("position",
		amountField{"downPayment", p.DownPayment},
		amountField{"principal", p.Principal},
		amountField{"collateralAmount", p.CollateralAmount},
		amountField{"feesToBePaid", p.FeesToBePaid},
	)
}

func (r OpenPositionRequest) Validate() error {
	if err := checkAmounts("open request",
		amountField{"downPayment", r.DownPayment},
		amountField{"principal", r.Principal},
		amountField{"minTargetAmount", r.MinTargetAmount},
		amountField{"fee", r.Fee},
	); err != nil {
		return err
	}
	return checkCalls("open request", r.FunctionCallDataList)
}

func (r ClosePositionRequest) Validate() error {
	if err := checkAmounts("close request",
		amountField{"interest", r.Interest},
		amountField{"amount", r.Amount},
	); err != nil {
		return err
	}
	if err := r.Position.Validate(); err != nil {
		return err
	}
	return checkCalls("close request", r.FunctionCallDataList)
}

func (o ClosePositionOrder) Validate() error {
	return checkAmounts("close order",
		amountField{"makerAmount", o.MakerAmount},
		amountField{"takerAmount", o.TakerAmount},
		amountField{"executionFee", o.ExecutionFee},
	)
}

func (r AddCollateralRequest) Validate() error {
	if err := checkAmounts("add collateral request",
		amountField{"amount", r.Amount},
		amountField{"interest", r.Interest},
	); err != nil {
		return err
	}
	return r.Position.Validate()
}
