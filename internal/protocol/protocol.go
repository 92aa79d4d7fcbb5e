// Package protocol assembles the ledger components into one deployment:
// roles, controllers, vaults, swap venues, pools, staking and the router,
// all sharing a single engine.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/crypto"
	"github.com/alanyoungcy/marginpool/internal/debt"
	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/fee"
	"github.com/alanyoungcy/marginpool/internal/pool"
	"github.com/alanyoungcy/marginpool/internal/registry"
	"github.com/alanyoungcy/marginpool/internal/roles"
	"github.com/alanyoungcy/marginpool/internal/router"
	"github.com/alanyoungcy/marginpool/internal/staking"
	"github.com/alanyoungcy/marginpool/internal/state"
	"github.com/alanyoungcy/marginpool/internal/swap"
	"github.com/alanyoungcy/marginpool/internal/vault"
)

type VaultParams struct {
	Address common.Address
	Asset   common.Address
}

type PoolParams struct {
	Address                 common.Address
	Side                    domain.Side
	Currencies              []common.Address
	CollateralCurrencies    []common.Address
	LiquidationThresholdBps uint64
	LiquidationFeeBps       uint64
}

// RateParams prices TokenB in TokenA: one TokenA buys Num/Den TokenB.
type RateParams struct {
	TokenA common.Address
	TokenB common.Address
	Num    *big.Int
	Den    *big.Int
}

// VenueParams configures a fixed-rate venue.
type VenueParams struct {
	Address common.Address
	Rates   []RateParams
}

type BuybackParams struct {
	Address     common.Address
	DiscountBps uint64
}

// Params describes a deployment.
type Params struct {
	ChainID       *big.Int
	DomainName    string
	DomainVersion string
	// OrderDomainName is the signing domain name of trader close orders.
	OrderDomainName string
	WrappedNative   common.Address

	Admins         []common.Address
	Liquidators    []common.Address
	OrderSigners   []common.Address
	OrderExecutors []common.Address
	VaultAdmins    []common.Address

	MaxLeveragePercent uint64
	MaxApyBps          uint64
	TokenApyBps        map[common.Address]uint64
	Fees               fee.ControllerConfig

	PartnerFees    common.Address
	Partners       []common.Address
	StakingFactory common.Address
	Escrows        []common.Address
	Router         common.Address
	SwapFeeBps     uint64

	Vaults  []VaultParams
	Pools   []PoolParams
	Venues  []VenueParams
	Buyback *BuybackParams
}

func (p Params) validate() error {
	var errs []error
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		errs = append(errs, errors.New("chain id must be positive"))
	}
	if len(p.Admins) == 0 {
		errs = append(errs, errors.New("at least one admin is required"))
	}
	if p.MaxLeveragePercent <= 100 {
		errs = append(errs, fmt.Errorf("max leverage %d%% allows no borrowing", p.MaxLeveragePercent))
	}
	if p.Fees.FeeBps > 10_000 {
		errs = append(errs, fmt.Errorf("fee bps %d above 10000", p.Fees.FeeBps))
	}
	if p.OrderDomainName == "" || p.OrderDomainName == p.DomainName {
		errs = append(errs, fmt.Errorf("order domain name %q must be set and differ from %q", p.OrderDomainName, p.DomainName))
	}
	if p.Buyback != nil && p.Buyback.DiscountBps > 10_000 {
		errs = append(errs, fmt.Errorf("buyback discount bps %d above 10000", p.Buyback.DiscountBps))
	}
	for _, pp := range p.Pools {
		if pp.Side != domain.SideLong && pp.Side != domain.SideShort {
			errs = append(errs, fmt.Errorf("pool %s: side %q", pp.Address.Hex(), pp.Side))
		}
	}
	return errors.Join(errs...)
}

// Protocol is a wired deployment.
type Protocol struct {
	Engine   *engine.Engine
	Journal  *state.Journal
	Bank     *state.Bank
	Roles    *roles.Registry
	Debt     *debt.Controller
	Fees     *fee.Controller
	Partners *fee.PartnerFees
	Provider *registry.Provider
	Swaps    *swap.Executor
	Vaults   *vault.Registry
	Staking  *staking.Factory
	Router   *router.Router

	pools   map[common.Address]*pool.Pool
	venues  map[common.Address]*swap.FixedRateRouter
	escrows map[common.Address]*staking.Escrow
	buyback *swap.BuybackSwapper
	logger  *slog.Logger
}

// New wires a deployment. Setup runs as admin operations on the fresh
// ledger, so a snapshot restored afterwards replaces it wholesale.
func New(ctx context.Context, p Params, clock domain.Clock, metrics *engine.Metrics, logger *slog.Logger) (*Protocol, error) {
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}
	admin := p.Admins[0]

	j := state.NewJournal()
	eng := engine.New(j, clock, metrics, logger)
	bank := state.NewBank(j, p.WrappedNative)

	rr := roles.NewRegistry(logger)
	rr.Seed(domain.RoleAdmin, p.Admins...)
	rr.Seed(domain.RoleLiquidator, p.Liquidators...)
	rr.Seed(domain.RoleOrderSigner, p.OrderSigners...)
	rr.Seed(domain.RoleOrderExecutor, p.OrderExecutors...)
	rr.Seed(domain.RoleVaultAdmin, p.VaultAdmins...)

	debtCtl := debt.New(p.MaxLeveragePercent, p.MaxApyBps)
	for token, bps := range p.TokenApyBps {
		debtCtl.SetTokenAPY(token, bps)
	}
	feeCtl := fee.NewController(p.Fees)

	factory := staking.NewFactory(p.StakingFactory, eng, bank, logger)
	escrows := make(map[common.Address]*staking.Escrow, len(p.Escrows))
	for _, addr := range p.Escrows {
		e := staking.NewEscrow(addr, j, bank)
		factory.AddStaker(e)
		escrows[addr] = e
	}

	provider := registry.NewProvider(debtCtl, feeCtl, factory)
	partners := fee.NewPartnerFees(p.PartnerFees, eng, bank, rr, provider, logger)
	swaps := swap.NewExecutor(eng, bank, rr, logger)

	out := &Protocol{
		Engine:   eng,
		Journal:  j,
		Bank:     bank,
		Roles:    rr,
		Debt:     debtCtl,
		Fees:     feeCtl,
		Partners: partners,
		Provider: provider,
		Swaps:    swaps,
		Staking:  factory,
		pools:    make(map[common.Address]*pool.Pool, len(p.Pools)),
		venues:   make(map[common.Address]*swap.FixedRateRouter, len(p.Venues)),
		escrows:  escrows,
		logger:   logger.With(slog.String("component", "protocol")),
	}

	for _, vp := range p.Venues {
		r := swap.NewFixedRateRouter(vp.Address)
		for _, rate := range vp.Rates {
			r.SetRate(rate.TokenA, rate.TokenB, rate.Num, rate.Den)
		}
		swaps.Register(vp.Address, r)
		if err := swaps.SetWhitelisted(ctx, admin, vp.Address, true); err != nil {
			return nil, fmt.Errorf("protocol: whitelist venue: %w", err)
		}
		out.venues[vp.Address] = r
	}
	if p.Buyback != nil {
		out.buyback = swap.NewBuybackSwapper(p.Buyback.Address, p.Buyback.DiscountBps)
		swaps.Register(p.Buyback.Address, out.buyback)
		if err := swaps.SetWhitelisted(ctx, admin, p.Buyback.Address, true); err != nil {
			return nil, fmt.Errorf("protocol: whitelist buyback: %w", err)
		}
	}

	vaults := make([]*vault.Vault, 0, len(p.Vaults))
	for _, vp := range p.Vaults {
		vaults = append(vaults, vault.New(vault.Config{Address: vp.Address, Asset: vp.Asset, Router: p.Router}, eng, bank, rr, logger))
	}
	out.Vaults = vault.NewRegistry(eng, rr, vaults...)

	out.Router = router.New(router.Config{
		Address:    p.Router,
		Domain:     out.domain(p, p.Router),
		SwapFeeBps: p.SwapFeeBps,
	}, router.Deps{
		Engine:   eng,
		Bank:     bank,
		Roles:    rr,
		Provider: provider,
		Vaults:   out.Vaults,
		Swaps:    swaps,
	}, logger)

	deps := pool.Deps{
		Engine:   eng,
		Bank:     bank,
		Roles:    rr,
		Provider: provider,
		Vaults:   out.Vaults,
		Swaps:    swaps,
		Fees:     partners,
	}
	for _, pp := range p.Pools {
		pl := pool.New(pool.Config{
			Address:                 pp.Address,
			Side:                    pp.Side,
			Domain:                  out.domain(p, pp.Address),
			OrderDomain:             out.orderDomain(p, pp.Address),
			Currencies:              pp.Currencies,
			CollateralCurrencies:    pp.CollateralCurrencies,
			LiquidationThresholdBps: pp.LiquidationThresholdBps,
			LiquidationFeeBps:       pp.LiquidationFeeBps,
			Router:                  p.Router,
		}, deps, logger)
		if err := out.attachPool(ctx, admin, pl, vaults, pp); err != nil {
			return nil, err
		}
	}

	for _, partner := range p.Partners {
		if err := partners.AddPartner(ctx, admin, partner); err != nil {
			return nil, fmt.Errorf("protocol: partner %s: %w", partner.Hex(), err)
		}
	}

	out.logger.Info("protocol wired",
		slog.Int("pools", len(out.pools)),
		slog.Int("vaults", len(vaults)),
		slog.Int("venues", len(out.venues)),
	)
	return out, nil
}

func (p *Protocol) domain(params Params, contract common.Address) crypto.Domain {
	return crypto.Domain{
		Name:              params.DomainName,
		Version:           params.DomainVersion,
		ChainID:           new(big.Int).Set(params.ChainID),
		VerifyingContract: contract,
	}
}

// orderDomain signs trader orders against pool. Only the name differs from
// the pool's own domain.
func (p *Protocol) orderDomain(params Params, pool common.Address) crypto.Domain {
	d := p.domain(params, pool)
	d.Name = params.OrderDomainName
	return d
}

func (p *Protocol) attachPool(ctx context.Context, admin common.Address, pl *pool.Pool, vaults []*vault.Vault, pp PoolParams) error {
	tokens := make(map[common.Address]struct{})
	for _, t := range pp.Currencies {
		tokens[t] = struct{}{}
	}
	for _, t := range pp.CollateralCurrencies {
		tokens[t] = struct{}{}
	}
	for _, v := range vaults {
		if _, ok := tokens[v.Asset()]; !ok {
			continue
		}
		if err := p.Vaults.Register(ctx, admin, pl.Address(), v.Address()); err != nil {
			return fmt.Errorf("protocol: bind vault %s to pool %s: %w", v.Address().Hex(), pl.Address().Hex(), err)
		}
	}
	if err := p.Partners.AddPool(ctx, admin, pl.Address()); err != nil {
		return fmt.Errorf("protocol: fee pool %s: %w", pl.Address().Hex(), err)
	}
	p.Staking.AddPool(pl.Address())
	p.Router.AddPool(pl)
	if p.buyback != nil {
		p.buyback.Authorize(pl.Address())
	}
	p.pools[pl.Address()] = pl
	return nil
}

// Pool returns the pool at addr.
func (p *Protocol) Pool(addr common.Address) (*pool.Pool, error) {
	pl, ok := p.pools[addr]
	if !ok {
		return nil, fmt.Errorf("protocol: pool %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return pl, nil
}

// Pools returns every pool ordered by address.
func (p *Protocol) Pools() []*pool.Pool {
	out := make([]*pool.Pool, 0, len(p.pools))
	for _, pl := range p.pools {
		out = append(out, pl)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].Address().Cmp(out[k].Address()) < 0
	})
	return out
}

// Venue returns the fixed-rate venue at addr.
func (p *Protocol) Venue(addr common.Address) (*swap.FixedRateRouter, bool) {
	v, ok := p.venues[addr]
	return v, ok
}

// Escrow returns the escrow staker at addr.
func (p *Protocol) Escrow(addr common.Address) (*staking.Escrow, bool) {
	e, ok := p.escrows[addr]
	return e, ok
}

// Buyback returns the buyback venue, if configured.
func (p *Protocol) Buyback() *swap.BuybackSwapper { return p.buyback }

// Mint credits amount of token to account. Devnet faucets and tests use it.
func (p *Protocol) Mint(ctx context.Context, token, account common.Address, amount *big.Int) error {
	return p.Engine.Execute(ctx, "protocol.mint", func(context.Context) error {
		return p.Bank.Mint(token, account, amount)
	})
}
