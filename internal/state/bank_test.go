package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

var (
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	weth  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestBankTransferAndRevert(t *testing.T) {
	j := NewJournal()
	b := NewBank(j, weth)
	if err := b.Mint(usdc, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	j.Commit()

	rev := j.Snapshot()
	if err := b.Transfer(usdc, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := b.BalanceOf(usdc, bob); got.Int64() != 40 {
		t.Fatalf("bob balance = %s, want 40", got)
	}

	j.RevertTo(rev)
	if got := b.BalanceOf(usdc, alice); got.Int64() != 100 {
		t.Errorf("alice balance after revert = %s, want 100", got)
	}
	if got := b.BalanceOf(usdc, bob); got.Sign() != 0 {
		t.Errorf("bob balance after revert = %s, want 0", got)
	}
}

func TestBankInsufficientBalance(t *testing.T) {
	b := NewBank(NewJournal(), weth)
	err := b.Transfer(usdc, alice, bob, big.NewInt(1))
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestBankTransferFromConsumesAllowance(t *testing.T) {
	b := NewBank(NewJournal(), weth)
	_ = b.Mint(usdc, alice, big.NewInt(50))
	b.Approve(usdc, alice, bob, big.NewInt(30))

	if err := b.TransferFrom(usdc, bob, alice, bob, big.NewInt(20)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if got := b.Allowance(usdc, alice, bob); got.Int64() != 10 {
		t.Errorf("allowance = %s, want 10", got)
	}
	err := b.TransferFrom(usdc, bob, alice, bob, big.NewInt(11))
	if !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Errorf("err = %v, want ErrInsufficientAllowance", err)
	}
}

func TestBankWrapUnwrap(t *testing.T) {
	b := NewBank(NewJournal(), weth)
	_ = b.Mint(domain.NativeToken, alice, big.NewInt(5))

	if err := b.Wrap(alice, big.NewInt(3)); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if got := b.BalanceOf(weth, alice); got.Int64() != 3 {
		t.Errorf("wrapped = %s, want 3", got)
	}
	if err := b.Unwrap(alice, big.NewInt(1)); err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if got := b.BalanceOf(domain.NativeToken, alice); got.Int64() != 3 {
		t.Errorf("native = %s, want 3", got)
	}
}

func TestJournalExportImport(t *testing.T) {
	j := NewJournal()
	b := NewBank(j, weth)
	cell := NewCell(j, "test.total", big.NewInt(7))
	_ = b.Mint(usdc, alice, big.NewInt(12))
	b.Approve(usdc, alice, bob, big.NewInt(4))
	j.Commit()

	data, err := j.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	j2 := NewJournal()
	b2 := NewBank(j2, weth)
	cell2 := NewCell(j2, "test.total", new(big.Int))
	if err := j2.Import(data); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := b2.BalanceOf(usdc, alice); got.Int64() != 12 {
		t.Errorf("restored balance = %s, want 12", got)
	}
	if got := b2.Allowance(usdc, alice, bob); got.Int64() != 4 {
		t.Errorf("restored allowance = %s, want 4", got)
	}
	if cell2.Get().Cmp(cell.Get()) != 0 {
		t.Errorf("restored cell = %s, want %s", cell2.Get(), cell.Get())
	}
}
