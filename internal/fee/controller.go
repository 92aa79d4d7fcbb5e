// Package fee computes trade fees and keeps the claimable balances owed to
// referral partners.
package fee

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var bpsDivisor = big.NewInt(10_000)

// ControllerConfig sets the trade fee rate and the accounts fees go to.
type ControllerConfig struct {
	FeeBps                 uint64
	FeeReceiver            common.Address
	LiquidationFeeReceiver common.Address
	ExecutionFeeReceiver   common.Address
}

// Controller implements domain.FeeController.
type Controller struct {
	cfg ControllerConfig
}

func NewController(cfg ControllerConfig) *Controller {
	return &Controller{cfg: cfg}
}

// ComputeTradeFee returns amount * feeBps / 10000, truncated.
func (c *Controller) ComputeTradeFee(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(c.cfg.FeeBps))
	return out.Quo(out, bpsDivisor)
}

func (c *Controller) FeeBps() uint64                         { return c.cfg.FeeBps }
func (c *Controller) FeeReceiver() common.Address            { return c.cfg.FeeReceiver }
func (c *Controller) LiquidationFeeReceiver() common.Address { return c.cfg.LiquidationFeeReceiver }
func (c *Controller) ExecutionFeeReceiver() common.Address   { return c.cfg.ExecutionFeeReceiver }
