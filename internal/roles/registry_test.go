package roles

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

func TestGrantRequiresAdmin(t *testing.T) {
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	admin := common.HexToAddress("0xad")
	user := common.HexToAddress("0xb0")
	r.Seed(domain.RoleAdmin, admin)

	if err := r.Grant(user, domain.RoleLiquidator, user); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("self grant err = %v, want ErrUnauthorized", err)
	}
	if err := r.Grant(admin, domain.RoleLiquidator, user); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !r.HasRole(domain.RoleLiquidator, user) {
		t.Fatal("role not granted")
	}
	if r.HasRole(domain.RoleOrderSigner, user) {
		t.Fatal("unrelated role reported")
	}
	if err := r.Revoke(admin, domain.RoleLiquidator, user); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if r.HasRole(domain.RoleLiquidator, user) {
		t.Fatal("role still held after revoke")
	}
}
