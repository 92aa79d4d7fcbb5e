package fee

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/state"
)

// PartnerFees splits trade fees between the protocol and referral partners.
// Partner shares are held by the PartnerFees account until claimed.
type PartnerFees struct {
	address  common.Address
	engine   *engine.Engine
	bank     *state.Bank
	roles    domain.RoleChecker
	provider domain.AddressProvider
	logger   *slog.Logger

	pools    *state.Map[common.Address, bool]
	partners *state.Map[common.Address, bool]
	balances *state.Map[state.Pair, *big.Int] // {partner, token}
}

// NewPartnerFees creates the partner fee book at address.
func NewPartnerFees(address common.Address, eng *engine.Engine, bank *state.Bank, roles domain.RoleChecker, provider domain.AddressProvider, logger *slog.Logger) *PartnerFees {
	j := eng.Journal()
	return &PartnerFees{
		address:  address,
		engine:   eng,
		bank:     bank,
		roles:    roles,
		provider: provider,
		logger:   logger.With(slog.String("component", "partner_fees")),
		pools:    state.NewMap[common.Address, bool](j, "fees.pools"),
		partners: state.NewMap[common.Address, bool](j, "fees.partners"),
		balances: state.NewMap[state.Pair, *big.Int](j, "fees.balances"),
	}
}

func (f *PartnerFees) Address() common.Address { return f.address }

func (f *PartnerFees) IsPool(a common.Address) bool    { return f.pools.Has(a) }
func (f *PartnerFees) IsPartner(a common.Address) bool { return f.partners.Has(a) }

// Balance returns the claimable balance of partner in token.
func (f *PartnerFees) Balance(partner, token common.Address) *big.Int {
	v, ok := f.balances.Get(state.Pair{A: partner, B: token})
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (f *PartnerFees) requireAdmin(caller common.Address) error {
	if !f.roles.HasRole(domain.RoleAdmin, caller) {
		return fmt.Errorf("fee: %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// AddPool lets pool push fees.
func (f *PartnerFees) AddPool(ctx context.Context, caller, pool common.Address) error {
	return f.engine.Execute(ctx, "fees.add_pool", func(ctx context.Context) error {
		if err := f.requireAdmin(caller); err != nil {
			return err
		}
		f.pools.Set(pool, true)
		return nil
	})
}

// AddPartner registers a referral partner.
func (f *PartnerFees) AddPartner(ctx context.Context, caller, partner common.Address) error {
	return f.engine.Execute(ctx, "fees.add_partner", func(ctx context.Context) error {
		if err := f.requireAdmin(caller); err != nil {
			return err
		}
		f.partners.Set(partner, true)
		return nil
	})
}

func (f *PartnerFees) credit(partner, token common.Address, amount *big.Int) {
	bal := f.Balance(partner, token)
	f.balances.Set(state.Pair{A: partner, B: token}, bal.Add(bal, amount))
}

// Distribute routes fee, held by the calling pool, to the protocol receiver
// and, when referrer is a partner, floor(fee/2) to the partner's claimable
// balance. It returns the partner share.
func (f *PartnerFees) Distribute(ctx context.Context, caller, token common.Address, fee *big.Int, referrer common.Address) (*big.Int, error) {
	share := new(big.Int)
	err := f.engine.Execute(ctx, "fees.accrue", func(ctx context.Context) error {
		if !f.pools.Has(caller) {
			return fmt.Errorf("fee: accrue from %s: %w", caller.Hex(), domain.ErrCallerNotPool)
		}
		if fee == nil || fee.Sign() == 0 {
			return nil
		}

		var partner common.Address
		if referrer != (common.Address{}) && f.partners.Has(referrer) {
			partner = referrer
			share.Quo(fee, big.NewInt(2))
			if err := f.bank.Transfer(token, caller, f.address, share); err != nil {
				return fmt.Errorf("fee: partner share: %w", err)
			}
			f.credit(partner, token, share)
		}

		protocol := new(big.Int).Sub(fee, share)
		if err := f.bank.Transfer(token, caller, f.provider.FeeController().FeeReceiver(), protocol); err != nil {
			return fmt.Errorf("fee: protocol share: %w", err)
		}

		f.engine.Emit(domain.FeesAccrued{
			Pool:        caller,
			Token:       token,
			Partner:     partner,
			PartnerFees: new(big.Int).Set(share),
			ProtocolFee: protocol,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}

// AdminAccrue credits partner with amount of token pulled from the admin,
// for fees earned outside a trade.
func (f *PartnerFees) AdminAccrue(ctx context.Context, caller, partner, token common.Address, amount *big.Int) error {
	return f.engine.Execute(ctx, "fees.admin_accrue", func(ctx context.Context) error {
		if err := f.requireAdmin(caller); err != nil {
			return err
		}
		if !f.partners.Has(partner) {
			return fmt.Errorf("fee: admin accrue to %s: %w", partner.Hex(), domain.ErrAddressNotPartner)
		}
		if err := f.bank.Transfer(token, caller, f.address, amount); err != nil {
			return fmt.Errorf("fee: admin accrue: %w", err)
		}
		f.credit(partner, token, amount)
		f.engine.Emit(domain.FeesAccrued{
			Pool:        caller,
			Token:       token,
			Partner:     partner,
			PartnerFees: new(big.Int).Set(amount),
			ProtocolFee: new(big.Int),
		})
		return nil
	})
}

// Claim pays caller every listed token balance, in order, and zeroes it.
// One FeesClaimed event is emitted per token, including empty ones.
func (f *PartnerFees) Claim(ctx context.Context, caller common.Address, tokens []common.Address) ([]*big.Int, error) {
	paid := make([]*big.Int, 0, len(tokens))
	err := f.engine.Execute(ctx, "fees.claim", func(ctx context.Context) error {
		if !f.partners.Has(caller) {
			return fmt.Errorf("fee: claim by %s: %w", caller.Hex(), domain.ErrAddressNotPartner)
		}
		for _, token := range tokens {
			amount := f.Balance(caller, token)
			f.balances.Delete(state.Pair{A: caller, B: token})
			if err := f.bank.Transfer(token, f.address, caller, amount); err != nil {
				return fmt.Errorf("fee: claim %s: %w", token.Hex(), err)
			}
			paid = append(paid, amount)
			f.engine.Emit(domain.FeesClaimed{Partner: caller, Token: token, Amount: new(big.Int).Set(amount)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.logger.InfoContext(ctx, "partner fees claimed",
		slog.String("partner", caller.Hex()),
		slog.Int("tokens", len(tokens)),
	)
	return paid, nil
}
