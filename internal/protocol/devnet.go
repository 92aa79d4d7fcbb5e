package protocol

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/fee"
)

// Devnet addresses. Tokens use 6 (USDC) and 18 (WETH) decimals only by
// convention; the ledger itself is unit-agnostic.
var (
	DevnetUSDC        = common.HexToAddress("0x000000000000000000000000000000000000c001")
	DevnetWETH        = common.HexToAddress("0x000000000000000000000000000000000000c002")
	DevnetLongPool    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	DevnetShortPool   = common.HexToAddress("0x0000000000000000000000000000000000001002")
	DevnetUSDCVault   = common.HexToAddress("0x0000000000000000000000000000000000005001")
	DevnetWETHVault   = common.HexToAddress("0x0000000000000000000000000000000000005002")
	DevnetVenue       = common.HexToAddress("0x0000000000000000000000000000000000007001")
	DevnetBuyback     = common.HexToAddress("0x0000000000000000000000000000000000007002")
	DevnetRouter      = common.HexToAddress("0x0000000000000000000000000000000000007003")
	DevnetPartnerFees = common.HexToAddress("0x000000000000000000000000000000000000fee1")
	DevnetFactory     = common.HexToAddress("0x000000000000000000000000000000000000fac1")
	DevnetEscrow      = common.HexToAddress("0x000000000000000000000000000000000000e5c1")
	DevnetTreasury    = common.HexToAddress("0x000000000000000000000000000000000000f001")
)

// DevnetParams is a single-venue USDC/WETH deployment where operator holds
// every role. One WETH trades for 2000 USDC.
func DevnetParams(operator common.Address) Params {
	ops := []common.Address{operator}
	return Params{
		ChainID:            big.NewInt(31337),
		DomainName:         "Marginpool",
		DomainVersion:      "1",
		OrderDomainName:    "Marginpool Orders",
		WrappedNative:      DevnetWETH,
		Admins:             ops,
		Liquidators:        ops,
		OrderSigners:       ops,
		OrderExecutors:     ops,
		VaultAdmins:        ops,
		MaxLeveragePercent: 400,
		MaxApyBps:          1000,
		Fees: fee.ControllerConfig{
			FeeBps:                 10,
			FeeReceiver:            DevnetTreasury,
			LiquidationFeeReceiver: DevnetTreasury,
			ExecutionFeeReceiver:   operator,
		},
		PartnerFees:    DevnetPartnerFees,
		StakingFactory: DevnetFactory,
		Escrows:        []common.Address{DevnetEscrow},
		Router:         DevnetRouter,
		SwapFeeBps:     5,
		Vaults: []VaultParams{
			{Address: DevnetUSDCVault, Asset: DevnetUSDC},
			{Address: DevnetWETHVault, Asset: DevnetWETH},
		},
		Pools: []PoolParams{
			{
				Address:                 DevnetLongPool,
				Side:                    domain.SideLong,
				Currencies:              []common.Address{DevnetUSDC},
				CollateralCurrencies:    []common.Address{DevnetWETH},
				LiquidationThresholdBps: 500,
				LiquidationFeeBps:       100,
			},
			{
				Address:                 DevnetShortPool,
				Side:                    domain.SideShort,
				Currencies:              []common.Address{DevnetWETH},
				CollateralCurrencies:    []common.Address{DevnetUSDC},
				LiquidationThresholdBps: 500,
				LiquidationFeeBps:       100,
			},
		},
		Venues: []VenueParams{{
			Address: DevnetVenue,
			Rates: []RateParams{
				{TokenA: DevnetWETH, TokenB: DevnetUSDC, Num: big.NewInt(2000), Den: big.NewInt(1)},
			},
		}},
		Buyback: &BuybackParams{Address: DevnetBuyback, DiscountBps: 50},
	}
}

// SeedDevnet funds every venue and the buyback reserve with reserve units
// of each vault asset.
func (p *Protocol) SeedDevnet(ctx context.Context, reserve *big.Int) error {
	targets := make([]common.Address, 0, len(p.venues)+1)
	for addr := range p.venues {
		targets = append(targets, addr)
	}
	if p.buyback != nil {
		targets = append(targets, p.buyback.Address())
	}
	for _, v := range p.Vaults.All() {
		for _, t := range targets {
			if err := p.Mint(ctx, v.Asset(), t, reserve); err != nil {
				return err
			}
		}
	}
	return nil
}
