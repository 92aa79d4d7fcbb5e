// Package registry resolves the debt, fee and staking collaborators pools
// consult on every operation. Swapping an implementation takes effect on the
// next operation.
package registry

import (
	"sync"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// Provider implements domain.AddressProvider.
type Provider struct {
	mu      sync.RWMutex
	debt    domain.DebtController
	fees    domain.FeeController
	staking domain.StakingFactory
}

// NewProvider creates a provider. staking may be nil when staking is
// disabled.
func NewProvider(debt domain.DebtController, fees domain.FeeController, staking domain.StakingFactory) *Provider {
	return &Provider{debt: debt, fees: fees, staking: staking}
}

func (p *Provider) DebtController() domain.DebtController {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.debt
}

func (p *Provider) FeeController() domain.FeeController {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fees
}

func (p *Provider) StakingFactory() domain.StakingFactory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.staking
}

func (p *Provider) SetDebtController(c domain.DebtController) {
	p.mu.Lock()
	p.debt = c
	p.mu.Unlock()
}

func (p *Provider) SetFeeController(c domain.FeeController) {
	p.mu.Lock()
	p.fees = c
	p.mu.Unlock()
}

func (p *Provider) SetStakingFactory(f domain.StakingFactory) {
	p.mu.Lock()
	p.staking = f
	p.mu.Unlock()
}
