// Package vault implements share-based liquidity pools that lend principal
// to position pools and absorb repayments. Interest repaid without minting
// shares is what raises the share price.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/state"
)

// Config identifies a vault and the router allowed to withdraw for share
// owners.
type Config struct {
	Address common.Address
	Asset   common.Address
	Router  common.Address
}

// Boost is a reward escrowed by a vault admin that vests linearly into
// totalAssets.
type Boost struct {
	Amount   *big.Int `json:"amount"`
	Paid     *big.Int `json:"paid"`
	Start    uint64   `json:"start"`
	Duration uint64   `json:"duration"`
}

func (b Boost) active() bool {
	return b.Amount != nil && b.Paid != nil && b.Paid.Cmp(b.Amount) < 0
}

func (b Boost) unpaid() *big.Int {
	if !b.active() {
		return new(big.Int)
	}
	return new(big.Int).Sub(b.Amount, b.Paid)
}

func (b Boost) vested(now uint64) *big.Int {
	if !b.active() {
		return new(big.Int)
	}
	if b.Duration == 0 || now >= b.Start+b.Duration {
		return new(big.Int).Set(b.Amount)
	}
	if now <= b.Start {
		return new(big.Int)
	}
	out := new(big.Int).Mul(b.Amount, new(big.Int).SetUint64(now-b.Start))
	return out.Quo(out, new(big.Int).SetUint64(b.Duration))
}

// Vault is one asset's liquidity pool.
type Vault struct {
	cfg    Config
	engine *engine.Engine
	bank   *state.Bank
	roles  domain.RoleChecker
	logger *slog.Logger

	totalAssets *state.Cell[*big.Int]
	totalShares *state.Cell[*big.Int]
	borrowed    *state.Cell[*big.Int]
	boost       *state.Cell[Boost]
	shares      *state.Map[common.Address, *big.Int]
	pools       *state.Map[common.Address, bool]
}

// New creates a vault whose state is tracked by the engine's journal.
func New(cfg Config, eng *engine.Engine, bank *state.Bank, roles domain.RoleChecker, logger *slog.Logger) *Vault {
	j := eng.Journal()
	prefix := "vault." + cfg.Address.Hex() + "."
	return &Vault{
		cfg:         cfg,
		engine:      eng,
		bank:        bank,
		roles:       roles,
		logger:      logger.With(slog.String("component", "vault"), slog.String("vault", cfg.Address.Hex())),
		totalAssets: state.NewCell(j, prefix+"totalAssets", new(big.Int)),
		totalShares: state.NewCell(j, prefix+"totalShares", new(big.Int)),
		borrowed:    state.NewCell(j, prefix+"borrowed", new(big.Int)),
		boost:       state.NewCell(j, prefix+"boost", Boost{}),
		shares:      state.NewMap[common.Address, *big.Int](j, prefix+"shares"),
		pools:       state.NewMap[common.Address, bool](j, prefix+"pools"),
	}
}

func (v *Vault) Address() common.Address { return v.cfg.Address }
func (v *Vault) Asset() common.Address   { return v.cfg.Asset }

// TotalAssets is the share-backing asset amount, outstanding loans
// included.
func (v *Vault) TotalAssets() *big.Int { return new(big.Int).Set(v.totalAssets.Get()) }
func (v *Vault) TotalShares() *big.Int { return new(big.Int).Set(v.totalShares.Get()) }
func (v *Vault) Borrowed() *big.Int    { return new(big.Int).Set(v.borrowed.Get()) }

// SharesOf returns holder's share balance.
func (v *Vault) SharesOf(holder common.Address) *big.Int {
	s, ok := v.shares.Get(holder)
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(s)
}

// Boost returns the current boost schedule.
func (v *Vault) Boost() Boost { return v.boost.Get() }

// Available is the vault's free balance: what it holds minus the unvested
// boost escrow.
func (v *Vault) Available() *big.Int {
	bal := v.bank.BalanceOf(v.cfg.Asset, v.cfg.Address)
	bal.Sub(bal, v.boost.Get().unpaid())
	if bal.Sign() < 0 {
		return new(big.Int)
	}
	return bal
}

// SharePrice returns totalAssets/totalShares, or 1 for an empty vault.
func (v *Vault) SharePrice() decimal.Decimal {
	ts := v.totalShares.Get()
	if ts.Sign() == 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromBigInt(v.totalAssets.Get(), 0).DivRound(decimal.NewFromBigInt(ts, 0), 18)
}

// ConvertToShares returns floor(assets * totalShares / totalAssets), or
// assets when the vault is empty.
func (v *Vault) ConvertToShares(assets *big.Int) *big.Int {
	ta, ts := v.totalAssets.Get(), v.totalShares.Get()
	if ts.Sign() == 0 || ta.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	out := new(big.Int).Mul(assets, ts)
	return out.Quo(out, ta)
}

// ConvertToAssets returns floor(shares * totalAssets / totalShares).
func (v *Vault) ConvertToAssets(shares *big.Int) *big.Int {
	ta, ts := v.totalAssets.Get(), v.totalShares.Get()
	if ts.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	out := new(big.Int).Mul(shares, ta)
	return out.Quo(out, ts)
}

// previewWithdraw returns the shares burned for assets, rounded up.
func (v *Vault) previewWithdraw(assets *big.Int) *big.Int {
	ta, ts := v.totalAssets.Get(), v.totalShares.Get()
	if ts.Sign() == 0 || ta.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	num := new(big.Int).Mul(assets, ts)
	q, r := new(big.Int).QuoRem(num, ta, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func (v *Vault) addAssets(delta *big.Int) {
	ta := new(big.Int).Add(v.totalAssets.Get(), delta)
	if ta.Sign() < 0 {
		ta.SetInt64(0)
	}
	v.totalAssets.Set(ta)
}

func (v *Vault) mint(to common.Address, shares *big.Int) {
	v.shares.Set(to, new(big.Int).Add(v.SharesOf(to), shares))
	v.totalShares.Set(new(big.Int).Add(v.totalShares.Get(), shares))
}

func (v *Vault) burn(from common.Address, shares *big.Int) error {
	bal := v.SharesOf(from)
	if bal.Cmp(shares) < 0 {
		return fmt.Errorf("vault: burn %s shares of %s: %w", shares, from.Hex(), domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, shares)
	if bal.Sign() == 0 {
		v.shares.Delete(from)
	} else {
		v.shares.Set(from, bal)
	}
	v.totalShares.Set(new(big.Int).Sub(v.totalShares.Get(), shares))
	return nil
}

// Deposit pulls assets from caller and mints shares to receiver.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, assets *big.Int, receiver common.Address) (*big.Int, error) {
	var shares *big.Int
	err := v.engine.Execute(ctx, "vault.deposit", func(ctx context.Context) error {
		if assets == nil || assets.Sign() <= 0 {
			return fmt.Errorf("vault: deposit: %w", domain.ErrInvalidAmount)
		}
		v.payBoost()
		shares = v.ConvertToShares(assets)
		if shares.Sign() == 0 {
			return fmt.Errorf("vault: deposit of %s mints no shares: %w", assets, domain.ErrInvalidAmount)
		}
		if err := v.bank.Transfer(v.cfg.Asset, caller, v.cfg.Address, assets); err != nil {
			return fmt.Errorf("vault: deposit: %w", err)
		}
		v.mint(receiver, shares)
		v.addAssets(assets)
		v.engine.Emit(domain.VaultDeposit{
			Vault:    v.cfg.Address,
			Sender:   caller,
			Receiver: receiver,
			Assets:   new(big.Int).Set(assets),
			Shares:   new(big.Int).Set(shares),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

func (v *Vault) canWithdraw(caller, owner common.Address) error {
	if caller == owner || (v.cfg.Router != (common.Address{}) && caller == v.cfg.Router) {
		return nil
	}
	return fmt.Errorf("vault: %s withdrawing for %s: %w", caller.Hex(), owner.Hex(), domain.ErrUnauthorized)
}

func (v *Vault) withdraw(caller, receiver, owner common.Address, assets, shares *big.Int) error {
	if assets.Cmp(v.Available()) > 0 {
		return fmt.Errorf("vault: withdraw %s: %w", assets, domain.ErrInsufficientAvailablePrincipal)
	}
	if err := v.burn(owner, shares); err != nil {
		return err
	}
	v.addAssets(new(big.Int).Neg(assets))
	if err := v.bank.Transfer(v.cfg.Asset, v.cfg.Address, receiver, assets); err != nil {
		return fmt.Errorf("vault: withdraw: %w", err)
	}
	v.engine.Emit(domain.VaultWithdraw{
		Vault:    v.cfg.Address,
		Sender:   caller,
		Receiver: receiver,
		Owner:    owner,
		Assets:   new(big.Int).Set(assets),
		Shares:   new(big.Int).Set(shares),
	})
	return nil
}

// Withdraw burns the shares worth assets (rounded up) from owner and pays
// receiver. The router may withdraw on behalf of any owner.
func (v *Vault) Withdraw(ctx context.Context, caller common.Address, assets *big.Int, receiver, owner common.Address) (*big.Int, error) {
	var shares *big.Int
	err := v.engine.Execute(ctx, "vault.withdraw", func(ctx context.Context) error {
		if err := v.canWithdraw(caller, owner); err != nil {
			return err
		}
		if assets == nil || assets.Sign() <= 0 {
			return fmt.Errorf("vault: withdraw: %w", domain.ErrInvalidAmount)
		}
		v.payBoost()
		shares = v.previewWithdraw(assets)
		return v.withdraw(caller, receiver, owner, assets, shares)
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns shares from owner and pays receiver their floor value.
func (v *Vault) Redeem(ctx context.Context, caller common.Address, shares *big.Int, receiver, owner common.Address) (*big.Int, error) {
	var assets *big.Int
	err := v.engine.Execute(ctx, "vault.redeem", func(ctx context.Context) error {
		if err := v.canWithdraw(caller, owner); err != nil {
			return err
		}
		if shares == nil || shares.Sign() <= 0 {
			return fmt.Errorf("vault: redeem: %w", domain.ErrInvalidAmount)
		}
		v.payBoost()
		assets = v.ConvertToAssets(shares)
		return v.withdraw(caller, receiver, owner, assets, shares)
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// AuthorizePool lets pool borrow from and repay to the vault.
func (v *Vault) AuthorizePool(ctx context.Context, pool common.Address) error {
	return v.engine.Execute(ctx, "vault.authorize_pool", func(ctx context.Context) error {
		v.pools.Set(pool, true)
		return nil
	})
}

// IsPool reports whether pool may borrow.
func (v *Vault) IsPool(pool common.Address) bool { return v.pools.Has(pool) }

func (v *Vault) requirePool(caller common.Address) error {
	if !v.pools.Has(caller) {
		return fmt.Errorf("vault: %s: %w", caller.Hex(), domain.ErrCallerNotPool)
	}
	return nil
}

// Borrow lends amount to the calling pool. totalAssets is unchanged: the
// loan remains a vault asset until repaid.
func (v *Vault) Borrow(ctx context.Context, caller common.Address, amount *big.Int) error {
	return v.engine.Execute(ctx, "vault.borrow", func(ctx context.Context) error {
		if err := v.requirePool(caller); err != nil {
			return err
		}
		if amount == nil || amount.Sign() < 0 {
			return fmt.Errorf("vault: borrow: %w", domain.ErrInvalidAmount)
		}
		if amount.Cmp(v.Available()) > 0 {
			return fmt.Errorf("vault: borrow %s of %s available: %w", amount, v.Available(), domain.ErrInsufficientAvailablePrincipal)
		}
		if err := v.bank.Transfer(v.cfg.Asset, v.cfg.Address, caller, amount); err != nil {
			return fmt.Errorf("vault: borrow: %w", err)
		}
		v.borrowed.Set(new(big.Int).Add(v.borrowed.Get(), amount))
		return nil
	})
}

// Repay pulls repaid from the calling pool against a loan of principal.
// The difference is interest earned, or a realized loss when negative.
func (v *Vault) Repay(ctx context.Context, caller common.Address, repaid, principal *big.Int) error {
	return v.engine.Execute(ctx, "vault.repay", func(ctx context.Context) error {
		if err := v.requirePool(caller); err != nil {
			return err
		}
		if err := v.bank.Transfer(v.cfg.Asset, caller, v.cfg.Address, repaid); err != nil {
			return fmt.Errorf("vault: repay: %w", err)
		}
		v.addAssets(new(big.Int).Sub(repaid, principal))

		b := new(big.Int).Sub(v.borrowed.Get(), principal)
		if b.Sign() < 0 {
			b.SetInt64(0)
		}
		v.borrowed.Set(b)
		return nil
	})
}

// ReceiveMigration takes liquidity a legacy pool held on the vault's
// behalf. The amount was already part of totalAssets.
func (v *Vault) ReceiveMigration(ctx context.Context, caller common.Address, amount *big.Int) error {
	return v.engine.Execute(ctx, "vault.receive_migration", func(ctx context.Context) error {
		if err := v.requirePool(caller); err != nil {
			return err
		}
		if err := v.bank.Transfer(v.cfg.Asset, caller, v.cfg.Address, amount); err != nil {
			return fmt.Errorf("vault: migration: %w", err)
		}
		return nil
	})
}

// StartBoost escrows amount from caller, vesting into totalAssets over
// duration seconds.
func (v *Vault) StartBoost(ctx context.Context, caller common.Address, amount *big.Int, duration uint64) error {
	return v.engine.Execute(ctx, "vault.start_boost", func(ctx context.Context) error {
		if !v.roles.HasRole(domain.RoleVaultAdmin, caller) {
			return fmt.Errorf("vault: start boost: %w", domain.ErrUnauthorized)
		}
		if v.boost.Get().active() {
			return fmt.Errorf("vault: start boost: %w", domain.ErrBoostAlreadyActive)
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("vault: start boost: %w", domain.ErrInvalidAmount)
		}
		if err := v.bank.Transfer(v.cfg.Asset, caller, v.cfg.Address, amount); err != nil {
			return fmt.Errorf("vault: start boost: %w", err)
		}
		now := v.engine.Now()
		v.boost.Set(Boost{
			Amount:   new(big.Int).Set(amount),
			Paid:     new(big.Int),
			Start:    now,
			Duration: duration,
		})
		v.engine.Emit(domain.VaultBoostInitiated{
			Vault:    v.cfg.Address,
			Sender:   caller,
			Amount:   new(big.Int).Set(amount),
			Start:    now,
			Duration: duration,
		})
		return nil
	})
}

// PayBoost releases the vested part of the active boost.
func (v *Vault) PayBoost(ctx context.Context) (*big.Int, error) {
	var paid *big.Int
	err := v.engine.Execute(ctx, "vault.pay_boost", func(ctx context.Context) error {
		if !v.boost.Get().active() {
			return fmt.Errorf("vault: pay boost: %w", domain.ErrBoostNotActive)
		}
		paid = v.payBoost()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

func (v *Vault) payBoost() *big.Int {
	b := v.boost.Get()
	if !b.active() {
		return new(big.Int)
	}
	delta := v.boost.Get().vested(v.engine.Now())
	delta.Sub(delta, b.Paid)
	if delta.Sign() <= 0 {
		return new(big.Int)
	}
	v.addAssets(delta)
	b.Paid = new(big.Int).Add(b.Paid, delta)
	v.boost.Set(b)
	v.engine.Emit(domain.VaultBoostPaid{
		Vault:     v.cfg.Address,
		Amount:    new(big.Int).Set(delta),
		Remaining: b.unpaid(),
	})
	return delta
}
