// Package pool is the position ledger. A pool opens leveraged positions
// funded by vault principal, and settles them on close, liquidation or
// claim. Only a hash of each open position is stored; callers present the
// full position on every call.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/crypto"
	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/fee"
	"github.com/alanyoungcy/marginpool/internal/state"
	"github.com/alanyoungcy/marginpool/internal/swap"
	"github.com/alanyoungcy/marginpool/internal/vault"
)

var bpsDivisor = big.NewInt(10_000)

// Config describes one pool.
type Config struct {
	Address common.Address
	Side    domain.Side
	Domain  crypto.Domain
	// OrderDomain signs trader close orders; it must differ from Domain.
	OrderDomain crypto.Domain

	// Currencies are accepted as request currency (the borrowed token);
	// CollateralCurrencies as request target currency.
	Currencies           []common.Address
	CollateralCurrencies []common.Address

	// A position is liquidatable once its payout is at or below this share
	// of the principal (long) or the collateral (short).
	LiquidationThresholdBps uint64
	LiquidationFeeBps       uint64

	// Router may open positions on a trader's behalf.
	Router common.Address
}

// Deps are the collaborators a pool calls into.
type Deps struct {
	Engine   *engine.Engine
	Bank     *state.Bank
	Roles    domain.RoleChecker
	Provider domain.AddressProvider
	Vaults   *vault.Registry
	Swaps    *swap.Executor
	Fees     *fee.PartnerFees
}

// Pool is a long or short position ledger.
type Pool struct {
	cfg    Config
	deps   Deps
	auth   *crypto.Authorizer
	logger *slog.Logger

	currencies           map[common.Address]struct{}
	collateralCurrencies map[common.Address]struct{}

	positions *state.Map[uint64, common.Hash]
	usedIDs   *state.Map[uint64, bool]
	feesOwed  *state.Map[common.Address, *big.Int] // open fees not yet routed, per token
}

// New creates a pool.
func New(cfg Config, deps Deps, logger *slog.Logger) *Pool {
	j := deps.Engine.Journal()
	prefix := "pool." + cfg.Address.Hex() + "."
	p := &Pool{
		cfg:                  cfg,
		deps:                 deps,
		auth:                 crypto.NewAuthorizer(cfg.Domain, deps.Roles).WithOrderDomain(cfg.OrderDomain),
		logger:               logger.With(slog.String("component", "pool"), slog.String("side", string(cfg.Side))),
		currencies:           make(map[common.Address]struct{}),
		collateralCurrencies: make(map[common.Address]struct{}),
		positions:            state.NewMap[uint64, common.Hash](j, prefix+"positions"),
		usedIDs:              state.NewMap[uint64, bool](j, prefix+"used"),
		feesOwed:             state.NewMap[common.Address, *big.Int](j, prefix+"feesOwed"),
	}
	for _, c := range cfg.Currencies {
		p.currencies[c] = struct{}{}
	}
	for _, c := range cfg.CollateralCurrencies {
		p.collateralCurrencies[c] = struct{}{}
	}
	return p
}

func (p *Pool) Address() common.Address { return p.cfg.Address }
func (p *Pool) Side() domain.Side       { return p.cfg.Side }
func (p *Pool) Domain() crypto.Domain   { return p.cfg.Domain }

// OrderDomain is the domain trader close orders are signed under.
func (p *Pool) OrderDomain() crypto.Domain { return p.cfg.OrderDomain }

// Commitment returns the stored hash of open position id.
func (p *Pool) Commitment(id uint64) (common.Hash, bool) {
	return p.positions.Get(id)
}

// IsOpen reports whether pos matches an open position exactly.
func (p *Pool) IsOpen(pos domain.Position) bool {
	if pos.Validate() != nil {
		return false
	}
	h, ok := p.positions.Get(pos.ID)
	return ok && h == crypto.PositionCommitment(pos)
}

// IDUsed reports whether id was ever opened.
func (p *Pool) IDUsed(id uint64) bool { return p.usedIDs.Has(id) }

// OpenCount is the number of open positions.
func (p *Pool) OpenCount() int { return p.positions.Len() }

// FeesOwed is the open fees the pool holds in token for open positions.
func (p *Pool) FeesOwed(token common.Address) *big.Int {
	v, ok := p.feesOwed.Get(token)
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (p *Pool) addFeesOwed(token common.Address, delta *big.Int) {
	v := p.FeesOwed(token)
	if v.Add(v, delta); v.Sign() <= 0 {
		p.feesOwed.Delete(token)
		return
	}
	p.feesOwed.Set(token, v)
}

func (p *Pool) isLong() bool { return p.cfg.Side == domain.SideLong }

// payoutToken is the token settlements pay out in.
func (p *Pool) payoutToken(pos domain.Position) common.Address {
	if p.isLong() {
		return pos.Currency
	}
	return pos.CollateralCurrency
}

func (p *Pool) checkPosition(pos domain.Position) error {
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("pool: position %d: %v: %w", pos.ID, err, domain.ErrInvalidPosition)
	}
	h, ok := p.positions.Get(pos.ID)
	if !ok || h != crypto.PositionCommitment(pos) {
		return fmt.Errorf("pool: position %d: %w", pos.ID, domain.ErrInvalidPosition)
	}
	return nil
}

func (p *Pool) commit(pos domain.Position) {
	p.positions.Set(pos.ID, crypto.PositionCommitment(pos))
}

func (p *Pool) requireRole(role domain.Role, caller common.Address) error {
	if !p.deps.Roles.HasRole(role, caller) {
		return fmt.Errorf("pool: %s lacks %s: %w", caller.Hex(), role, domain.ErrUnauthorized)
	}
	return nil
}

// resolveInterest applies the "zero means maximum" rule and rejects
// interest above what has accrued on principal.
func (p *Pool) resolveInterest(pos domain.Position, principal, interest *big.Int) (*big.Int, error) {
	maxInterest := p.deps.Provider.DebtController().ComputeMaxInterest(pos.Currency, principal, pos.LastFundingTimestamp, p.deps.Engine.Now())
	if interest == nil || interest.Sign() == 0 {
		return maxInterest, nil
	}
	if interest.Sign() < 0 {
		return nil, fmt.Errorf("pool: interest %s: %w", interest, domain.ErrInvalidInterestAmount)
	}
	if interest.Cmp(maxInterest) > 0 {
		return nil, fmt.Errorf("pool: interest %s above accrued %s: %w", interest, maxInterest, domain.ErrInvalidInterestAmount)
	}
	return new(big.Int).Set(interest), nil
}

func (p *Pool) vaultFor(asset common.Address) (*vault.Vault, error) {
	return p.deps.Vaults.For(p.cfg.Address, asset)
}

// pay delivers amount of token held by the pool to the trader in the
// requested form.
func (p *Pool) pay(ctx context.Context, mode domain.PayoutMode, token, trader common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	bank := p.deps.Bank
	switch mode {
	case domain.PayoutWrapped:
		return bank.Transfer(token, p.cfg.Address, trader, amount)
	case domain.PayoutNative:
		if token != bank.WrappedNative() {
			return fmt.Errorf("pool: native payout of %s: %w", token.Hex(), domain.ErrInvalidPayoutMode)
		}
		if err := bank.Unwrap(p.cfg.Address, amount); err != nil {
			return err
		}
		return bank.Transfer(domain.NativeToken, p.cfg.Address, trader, amount)
	case domain.PayoutVaultDeposit:
		v, err := p.deps.Vaults.ByAsset(token)
		if err != nil {
			return fmt.Errorf("pool: vault payout: %w", err)
		}
		_, err = v.Deposit(ctx, p.cfg.Address, amount, trader)
		return err
	default:
		return fmt.Errorf("pool: payout mode %q: %w", mode, domain.ErrInvalidPayoutMode)
	}
}

func mulBps(v *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(bps))
	return out.Quo(out, bpsDivisor)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
