// Package roles is the capability table consulted before mutating
// operations.
package roles

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// Registry maps roles to the accounts holding them. It is safe for
// concurrent use and is not part of the ledger journal: grants take effect
// immediately and are never rolled back.
type Registry struct {
	mu      sync.RWMutex
	members map[domain.Role]map[common.Address]struct{}
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		members: make(map[domain.Role]map[common.Address]struct{}),
		logger:  logger.With(slog.String("component", "roles")),
	}
}

// HasRole implements domain.RoleChecker.
func (r *Registry) HasRole(role domain.Role, account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[role][account]
	return ok
}

// Seed grants roles without an admin check. Used when wiring a deployment.
func (r *Registry) Seed(role domain.Role, accounts ...common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range accounts {
		r.add(role, a)
	}
}

func (r *Registry) add(role domain.Role, account common.Address) {
	set, ok := r.members[role]
	if !ok {
		set = make(map[common.Address]struct{})
		r.members[role] = set
	}
	set[account] = struct{}{}
}

// Grant gives account the role. caller must be an admin.
func (r *Registry) Grant(caller common.Address, role domain.Role, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[domain.RoleAdmin][caller]; !ok {
		return fmt.Errorf("roles: grant %s: %w", role, domain.ErrUnauthorized)
	}
	r.add(role, account)
	r.logger.Info("role granted",
		slog.String("role", string(role)),
		slog.String("account", account.Hex()),
		slog.String("by", caller.Hex()),
	)
	return nil
}

// Revoke removes the role from account. caller must be an admin.
func (r *Registry) Revoke(caller common.Address, role domain.Role, account common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[domain.RoleAdmin][caller]; !ok {
		return fmt.Errorf("roles: revoke %s: %w", role, domain.ErrUnauthorized)
	}
	delete(r.members[role], account)
	r.logger.Info("role revoked",
		slog.String("role", string(role)),
		slog.String("account", account.Hex()),
		slog.String("by", caller.Hex()),
	)
	return nil
}

// Members lists the accounts holding role.
func (r *Registry) Members(role domain.Role) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.members[role]))
	for a := range r.members[role] {
		out = append(out, a)
	}
	return out
}
