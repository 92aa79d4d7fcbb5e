// Package debt bounds how much a position may borrow and how much interest
// it owes. All math truncates toward zero.
package debt

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SecondsPerYear is the interest accrual year.
const SecondsPerYear = 31_536_000

var (
	hundred    = big.NewInt(100)
	bpsDivisor = big.NewInt(10_000)
	year       = big.NewInt(SecondsPerYear)
)

// Controller implements domain.DebtController with a single leverage cap and
// a per-token APY falling back to a default.
type Controller struct {
	maxLeveragePercent uint64
	maxApyBps          uint64
	tokenApyBps        map[common.Address]uint64
}

// New creates a controller. maxLeveragePercent is scaled so 100 = 1x.
func New(maxLeveragePercent, maxApyBps uint64) *Controller {
	return &Controller{
		maxLeveragePercent: maxLeveragePercent,
		maxApyBps:          maxApyBps,
		tokenApyBps:        make(map[common.Address]uint64),
	}
}

// SetTokenAPY overrides the APY for principal borrowed in token. Not safe to
// call while the controller is in use.
func (c *Controller) SetTokenAPY(token common.Address, apyBps uint64) {
	c.tokenApyBps[token] = apyBps
}

func (c *Controller) MaxLeveragePercent() uint64 { return c.maxLeveragePercent }

func (c *Controller) apy(token common.Address) uint64 {
	if bps, ok := c.tokenApyBps[token]; ok {
		return bps
	}
	return c.maxApyBps
}

// ComputeMaxPrincipal returns downPayment * (maxLeveragePercent - 100) / 100.
// Leverage at or below 1x allows no principal.
func (c *Controller) ComputeMaxPrincipal(_, _ common.Address, downPayment *big.Int) *big.Int {
	if downPayment == nil || c.maxLeveragePercent <= 100 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(downPayment, new(big.Int).SetUint64(c.maxLeveragePercent-100))
	return out.Quo(out, hundred)
}

// ComputeMaxInterest returns principal * apyBps / 10000 * elapsed / year,
// truncating after each division. A funding timestamp in the future accrues
// nothing.
func (c *Controller) ComputeMaxInterest(token common.Address, principal *big.Int, lastFundingTimestamp, now uint64) *big.Int {
	if principal == nil || now <= lastFundingTimestamp {
		return new(big.Int)
	}
	elapsed := new(big.Int).SetUint64(now - lastFundingTimestamp)

	out := new(big.Int).Mul(principal, new(big.Int).SetUint64(c.apy(token)))
	out.Quo(out, bpsDivisor)
	out.Mul(out, elapsed)
	return out.Quo(out, year)
}
