package vault

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/engine"
	"github.com/alanyoungcy/marginpool/internal/state"
)

// Registry records which vault backs each pool for each asset.
type Registry struct {
	engine *engine.Engine
	roles  domain.RoleChecker
	vaults map[common.Address]*Vault
	byPool *state.Map[state.Pair, common.Address] // {pool, asset} -> vault
}

// NewRegistry creates a registry over the given vaults. The vault set is
// fixed at wiring time; pool bindings are ledger state.
func NewRegistry(eng *engine.Engine, roles domain.RoleChecker, vaults ...*Vault) *Registry {
	r := &Registry{
		engine: eng,
		roles:  roles,
		vaults: make(map[common.Address]*Vault, len(vaults)),
		byPool: state.NewMap[state.Pair, common.Address](eng.Journal(), "vault.registry"),
	}
	for _, v := range vaults {
		r.vaults[v.Address()] = v
	}
	return r
}

// Register binds vault to pool for the vault's asset. Each pool may have
// one vault per asset.
func (r *Registry) Register(ctx context.Context, caller, pool, vault common.Address) error {
	return r.engine.Execute(ctx, "vault.register", func(ctx context.Context) error {
		if !r.roles.HasRole(domain.RoleAdmin, caller) {
			return fmt.Errorf("vault: register: %w", domain.ErrUnauthorized)
		}
		v, ok := r.vaults[vault]
		if !ok {
			return fmt.Errorf("vault: register %s: %w", vault.Hex(), domain.ErrNotFound)
		}
		key := state.Pair{A: pool, B: v.Asset()}
		if r.byPool.Has(key) {
			return fmt.Errorf("vault: pool %s already has a %s vault: %w", pool.Hex(), v.Asset().Hex(), domain.ErrAlreadyExists)
		}
		r.byPool.Set(key, vault)
		return v.AuthorizePool(ctx, pool)
	})
}

// For returns pool's vault for asset.
func (r *Registry) For(pool, asset common.Address) (*Vault, error) {
	addr, ok := r.byPool.Get(state.Pair{A: pool, B: asset})
	if !ok {
		return nil, fmt.Errorf("vault: no %s vault for pool %s: %w", asset.Hex(), pool.Hex(), domain.ErrNotFound)
	}
	return r.vaults[addr], nil
}

// Lookup returns the vault at addr.
func (r *Registry) Lookup(addr common.Address) (*Vault, bool) {
	v, ok := r.vaults[addr]
	return v, ok
}

// ByAsset returns the vault holding asset. When several exist the lowest
// address wins.
func (r *Registry) ByAsset(asset common.Address) (*Vault, error) {
	var found *Vault
	for _, v := range r.vaults {
		if v.Asset() != asset {
			continue
		}
		if found == nil || v.Address().Cmp(found.Address()) < 0 {
			found = v
		}
	}
	if found == nil {
		return nil, fmt.Errorf("vault: no vault for %s: %w", asset.Hex(), domain.ErrNotFound)
	}
	return found, nil
}

// All returns every vault ordered by address.
func (r *Registry) All() []*Vault {
	out := make([]*Vault, 0, len(r.vaults))
	for _, v := range r.vaults {
		out = append(out, v)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Address().Cmp(out[k].Address()) < 0 })
	return out
}
