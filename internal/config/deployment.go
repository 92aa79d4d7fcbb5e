package config

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/fee"
	"github.com/alanyoungcy/marginpool/internal/protocol"
)

// addrParser collects every malformed address instead of stopping at the
// first.
type addrParser struct {
	errs []error
}

func (p *addrParser) one(field, raw string) common.Address {
	if raw == "" {
		return common.Address{}
	}
	if !common.IsHexAddress(raw) {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an address", field, raw))
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

func (p *addrParser) required(field, raw string) common.Address {
	if raw == "" {
		p.errs = append(p.errs, fmt.Errorf("%s must be set", field))
		return common.Address{}
	}
	return p.one(field, raw)
}

func (p *addrParser) list(field string, raws []string) []common.Address {
	out := make([]common.Address, 0, len(raws))
	for i, raw := range raws {
		out = append(out, p.required(fmt.Sprintf("%s[%d]", field, i), raw))
	}
	return out
}

func (p *addrParser) amount(field, raw string) *big.Int {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a positive integer", field, raw))
		return nil
	}
	return v
}

// Params converts the deployment section into ledger parameters. Every
// malformed field is reported in one error; the semantic checks run again
// in protocol.New.
func (d DeploymentConfig) Params() (protocol.Params, error) {
	var p addrParser
	if d.ChainID <= 0 {
		p.errs = append(p.errs, errors.New("chain_id must be positive"))
	}
	if len(d.Admins) == 0 {
		p.errs = append(p.errs, errors.New("admins must not be empty"))
	}
	if len(d.Pools) == 0 {
		p.errs = append(p.errs, errors.New("at least one pool is required"))
	}

	out := protocol.Params{
		ChainID:            big.NewInt(d.ChainID),
		DomainName:         d.DomainName,
		DomainVersion:      d.DomainVersion,
		OrderDomainName:    d.OrderDomainName,
		WrappedNative:      p.one("wrapped_native", d.WrappedNative),
		Admins:             p.list("admins", d.Admins),
		Liquidators:        p.list("liquidators", d.Liquidators),
		OrderSigners:       p.list("order_signers", d.OrderSigners),
		OrderExecutors:     p.list("order_executors", d.OrderExecutors),
		VaultAdmins:        p.list("vault_admins", d.VaultAdmins),
		MaxLeveragePercent: d.MaxLeveragePercent,
		MaxApyBps:          d.MaxApyBps,
		Fees: fee.ControllerConfig{
			FeeBps:                 d.FeeBps,
			FeeReceiver:            p.required("fee_receiver", d.FeeReceiver),
			LiquidationFeeReceiver: p.required("liquidation_fee_receiver", d.LiquidationFeeReceiver),
			ExecutionFeeReceiver:   p.required("execution_fee_receiver", d.ExecutionFeeReceiver),
		},
		PartnerFees:    p.required("partner_fees", d.PartnerFees),
		Partners:       p.list("partners", d.Partners),
		StakingFactory: p.required("staking_factory", d.StakingFactory),
		Escrows:        p.list("escrows", d.Escrows),
		Router:         p.one("router", d.Router),
		SwapFeeBps:     d.SwapFeeBps,
	}

	if len(d.TokenApyBps) > 0 {
		out.TokenApyBps = make(map[common.Address]uint64, len(d.TokenApyBps))
		for token, bps := range d.TokenApyBps {
			out.TokenApyBps[p.required("token_apy_bps key", token)] = bps
		}
	}
	for i, v := range d.Vaults {
		out.Vaults = append(out.Vaults, protocol.VaultParams{
			Address: p.required(fmt.Sprintf("vaults[%d].address", i), v.Address),
			Asset:   p.required(fmt.Sprintf("vaults[%d].asset", i), v.Asset),
		})
	}
	for i, pl := range d.Pools {
		field := fmt.Sprintf("pools[%d]", i)
		out.Pools = append(out.Pools, protocol.PoolParams{
			Address:                 p.required(field+".address", pl.Address),
			Side:                    domain.Side(pl.Side),
			Currencies:              p.list(field+".currencies", pl.Currencies),
			CollateralCurrencies:    p.list(field+".collateral_currencies", pl.CollateralCurrencies),
			LiquidationThresholdBps: pl.LiquidationThresholdBps,
			LiquidationFeeBps:       pl.LiquidationFeeBps,
		})
	}
	for i, v := range d.Venues {
		field := fmt.Sprintf("venues[%d]", i)
		venue := protocol.VenueParams{Address: p.required(field+".address", v.Address)}
		for k, r := range v.Rates {
			rf := fmt.Sprintf("%s.rates[%d]", field, k)
			venue.Rates = append(venue.Rates, protocol.RateParams{
				TokenA: p.required(rf+".token_a", r.TokenA),
				TokenB: p.required(rf+".token_b", r.TokenB),
				Num:    p.amount(rf+".num", r.Num),
				Den:    p.amount(rf+".den", r.Den),
			})
		}
		out.Venues = append(out.Venues, venue)
	}
	if d.Buyback != nil {
		if d.Buyback.DiscountBps > 10_000 {
			p.errs = append(p.errs, fmt.Errorf("buyback.discount_bps %d above 10000", d.Buyback.DiscountBps))
		}
		out.Buyback = &protocol.BuybackParams{
			Address:     p.required("buyback.address", d.Buyback.Address),
			DiscountBps: d.Buyback.DiscountBps,
		}
	}

	if err := errors.Join(p.errs...); err != nil {
		return protocol.Params{}, err
	}
	return out, nil
}

// Amounts parses the devnet seed and faucet settings.
func (d DevnetConfig) Amounts() (reserve, faucet *big.Int, accounts []common.Address, err error) {
	var p addrParser
	reserve = p.amount("seed_reserve", d.SeedReserve)
	accounts = p.list("faucet", d.Faucet)
	if len(accounts) > 0 {
		faucet = p.amount("faucet_amount", d.FaucetAmount)
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, nil, nil, err
	}
	return reserve, faucet, accounts, nil
}
