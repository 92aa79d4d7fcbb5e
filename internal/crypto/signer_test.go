package crypto

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type roleSet map[common.Address]bool

func (r roleSet) HasRole(role domain.Role, account common.Address) bool {
	return role == domain.RoleOrderSigner && r[account]
}

func testDomain(contract string) Domain {
	return Domain{
		Name:              "Marginpool",
		Version:           "1",
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.HexToAddress(contract),
	}
}

func sampleRequest() domain.OpenPositionRequest {
	return domain.OpenPositionRequest{
		ID:              7,
		Currency:        common.HexToAddress("0x01"),
		TargetCurrency:  common.HexToAddress("0x02"),
		DownPayment:     big.NewInt(1000),
		Principal:       big.NewInt(3000),
		MinTargetAmount: big.NewInt(3900),
		Expiration:      1_700_000_000,
		Fee:             big.NewInt(4),
		FunctionCallDataList: []domain.FunctionCall{
			{To: common.HexToAddress("0x0a"), Value: big.NewInt(0), Data: []byte{0xde, 0xad}},
		},
	}
}

func TestSignAndVerifyOpenRequest(t *testing.T) {
	signer, err := NewSigner("0x" + testKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	d := testDomain("0x1000")
	auth := NewAuthorizer(d, roleSet{signer.Address(): true})

	req := sampleRequest()
	sig, err := signer.SignOpenPositionRequest(d, req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v = %d, want 27 or 28", sig[64])
	}
	if err := auth.VerifyOpenPositionRequest(req, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer, _ := NewSigner(testKey)
	d := testDomain("0x1000")
	auth := NewAuthorizer(d, roleSet{signer.Address(): true})
	req := sampleRequest()
	sig, _ := signer.SignOpenPositionRequest(d, req)

	tests := []struct {
		name   string
		mutate func(r *domain.OpenPositionRequest)
	}{
		{"principal", func(r *domain.OpenPositionRequest) { r.Principal = big.NewInt(3001) }},
		{"expiration", func(r *domain.OpenPositionRequest) { r.Expiration++ }},
		{"call data", func(r *domain.OpenPositionRequest) {
			r.FunctionCallDataList = []domain.FunctionCall{{To: common.HexToAddress("0x0a"), Value: big.NewInt(0), Data: []byte{0xde}}}
		}},
		{"id", func(r *domain.OpenPositionRequest) { r.ID = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := req
			tt.mutate(&tampered)
			if err := auth.VerifyOpenPositionRequest(tampered, sig); !errors.Is(err, domain.ErrInvalidSignature) {
				t.Fatalf("err = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestVerifyRejectsOtherDomain(t *testing.T) {
	signer, _ := NewSigner(testKey)
	roles := roleSet{signer.Address(): true}
	req := sampleRequest()
	sig, _ := signer.SignOpenPositionRequest(testDomain("0x1000"), req)

	other := NewAuthorizer(testDomain("0x2000"), roles)
	if err := other.VerifyOpenPositionRequest(req, sig); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRequiresOrderSignerRole(t *testing.T) {
	signer, _ := NewSigner(testKey)
	d := testDomain("0x1000")
	auth := NewAuthorizer(d, roleSet{})
	req := sampleRequest()
	sig, _ := signer.SignOpenPositionRequest(d, req)

	if err := auth.VerifyOpenPositionRequest(req, sig); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestRecoverOrderSigner(t *testing.T) {
	signer, _ := NewSigner(testKey)
	d := testDomain("0x1000")
	order := domain.ClosePositionOrder{
		OrderType:    domain.OrderStopLoss,
		PositionID:   7,
		CreatedAt:    10,
		Expiration:   20,
		MakerAmount:  big.NewInt(1),
		TakerAmount:  big.NewInt(2),
		ExecutionFee: big.NewInt(3),
	}
	sig, _ := signer.SignClosePositionOrder(d, order)

	// v in {0,1} is accepted too.
	sig[64] -= 27
	got, err := NewAuthorizer(testDomain("0x1001"), roleSet{}).WithOrderDomain(d).RecoverOrderSigner(order, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != signer.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}
}

func TestRecoverRejectsShortSignature(t *testing.T) {
	if _, err := Recover(testDomain("0x1"), make([]byte, 32), make([]byte, 64)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestCheckExpiration(t *testing.T) {
	if err := CheckExpiration(100, 100); err != nil {
		t.Fatalf("at expiration: %v", err)
	}
	if err := CheckExpiration(100, 101); !errors.Is(err, domain.ErrOrderExpired) {
		t.Fatalf("err = %v, want ErrOrderExpired", err)
	}
}

func TestPositionCommitmentChangesWithEveryField(t *testing.T) {
	base := domain.Position{
		ID:                   1,
		Trader:               common.HexToAddress("0xabc"),
		Currency:             common.HexToAddress("0x01"),
		CollateralCurrency:   common.HexToAddress("0x02"),
		LastFundingTimestamp: 100,
		DownPayment:          big.NewInt(1),
		Principal:            big.NewInt(2),
		CollateralAmount:     big.NewInt(3),
		FeesToBePaid:         big.NewInt(4),
	}
	want := PositionCommitment(base)

	changed := base.Clone()
	changed.FeesToBePaid = big.NewInt(5)
	if PositionCommitment(changed) == want {
		t.Fatal("fee change did not alter commitment")
	}
	changed = base.Clone()
	changed.LastFundingTimestamp = 101
	if PositionCommitment(changed) == want {
		t.Fatal("timestamp change did not alter commitment")
	}
	if PositionCommitment(base.Clone()) != want {
		t.Fatal("clone changed commitment")
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	path := filepath.Join(t.TempDir(), "signer.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	signer, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want, _ := NewSigner(testKey)
	if signer.Address() != want.Address() {
		t.Fatalf("address = %s, want %s", signer.Address().Hex(), want.Address().Hex())
	}

	if _, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"}); err == nil {
		t.Fatal("expected wrong password to fail")
	}
	if s, err := LoadSigner(KeyConfig{}); s != nil || err != nil {
		t.Fatalf("unconfigured = %v, %v; want nil, nil", s, err)
	}
}

// aliases returns values that truncating 32-byte encoding would confuse
// with v: its negation and v + 2^256.
func aliases(v *big.Int) map[string]*big.Int {
	wrapped := new(big.Int).Lsh(big.NewInt(1), 256)
	return map[string]*big.Int{
		"negated": new(big.Int).Neg(v),
		"wrapped": wrapped.Add(wrapped, v),
	}
}

func TestVerifyRejectsOutOfRangeAmounts(t *testing.T) {
	signer, _ := NewSigner(testKey)
	d := testDomain("0x1000")
	auth := NewAuthorizer(d, roleSet{signer.Address(): true})

	closeReq := domain.ClosePositionRequest{
		Expiration: 1_700_000_000,
		Interest:   big.NewInt(5),
		Amount:     big.NewInt(1999),
		Position: domain.Position{
			ID:                 1,
			Trader:             common.HexToAddress("0xabc"),
			Currency:           common.HexToAddress("0x01"),
			CollateralCurrency: common.HexToAddress("0x02"),
			DownPayment:        big.NewInt(1000),
			Principal:          big.NewInt(3000),
			CollateralAmount:   big.NewInt(2000),
			FeesToBePaid:       big.NewInt(4),
		},
	}
	sig, err := signer.SignClosePositionRequest(d, closeReq)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	fields := map[string]func(r *domain.ClosePositionRequest) **big.Int{
		"interest":         func(r *domain.ClosePositionRequest) **big.Int { return &r.Interest },
		"amount":           func(r *domain.ClosePositionRequest) **big.Int { return &r.Amount },
		"downPayment":      func(r *domain.ClosePositionRequest) **big.Int { return &r.Position.DownPayment },
		"principal":        func(r *domain.ClosePositionRequest) **big.Int { return &r.Position.Principal },
		"collateralAmount": func(r *domain.ClosePositionRequest) **big.Int { return &r.Position.CollateralAmount },
		"feesToBePaid":     func(r *domain.ClosePositionRequest) **big.Int { return &r.Position.FeesToBePaid },
	}
	for name, field := range fields {
		for kind, v := range aliases(*field(&closeReq)) {
			tampered := closeReq
			tampered.Position = closeReq.Position.Clone()
			*field(&tampered) = v
			if err := auth.VerifyClosePositionRequest(tampered, sig); !errors.Is(err, domain.ErrInvalidSignature) {
				t.Errorf("%s %s: err = %v, want ErrInvalidSignature", name, kind, err)
			}
		}
	}

	open := sampleRequest()
	openSig, err := signer.SignOpenPositionRequest(d, open)
	if err != nil {
		t.Fatal(err)
	}
	for kind, v := range aliases(open.Fee) {
		tampered := open
		tampered.Fee = v
		if err := auth.VerifyOpenPositionRequest(tampered, openSig); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Errorf("open fee %s: err = %v, want ErrInvalidSignature", kind, err)
		}
		if _, err := signer.SignOpenPositionRequest(d, tampered); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("signing open fee %s: err = %v, want ErrInvalidAmount", kind, err)
		}
	}
}

func TestOrderDomainIsSeparate(t *testing.T) {
	trader, _ := NewSigner(testKey)
	closeDomain := testDomain("0x1000")
	orderDomain := closeDomain
	orderDomain.Name = "Marginpool Orders"
	order := domain.ClosePositionOrder{
		PositionID:   7,
		Expiration:   20,
		MakerAmount:  big.NewInt(1),
		TakerAmount:  big.NewInt(2),
		ExecutionFee: big.NewInt(0),
	}

	if _, err := NewAuthorizer(closeDomain, roleSet{}).RecoverOrderSigner(order, make([]byte, 65)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("without order domain: err = %v, want ErrInvalidSignature", err)
	}

	auth := NewAuthorizer(closeDomain, roleSet{}).WithOrderDomain(orderDomain)
	good, _ := trader.SignClosePositionOrder(orderDomain, order)
	if got, err := auth.RecoverOrderSigner(order, good); err != nil || got != trader.Address() {
		t.Fatalf("order domain: recovered %s, %v", got.Hex(), err)
	}
	wrong, _ := trader.SignClosePositionOrder(closeDomain, order)
	if got, err := auth.RecoverOrderSigner(order, wrong); err == nil && got == trader.Address() {
		t.Fatal("order signed under the close domain recovered to the trader")
	}
}
