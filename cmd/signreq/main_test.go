package main

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marginpool/internal/config"
	"github.com/alanyoungcy/marginpool/internal/crypto"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignMatchesTypedSigner(t *testing.T) {
	s, err := crypto.NewSigner(testKey)
	if err != nil {
		t.Fatal(err)
	}
	d := crypto.Domain{Name: "Marginpool", Version: "1", ChainID: big.NewInt(31337), VerifyingContract: common.HexToAddress("0x1001")}
	raw := []byte(`{"id":7,"currency":"0x000000000000000000000000000000000000c001","targetCurrency":"0x000000000000000000000000000000000000c002",
		"downPayment":1000000,"principal":3000000,"minTargetAmount":2000,"expiration":2000000000,"fee":1000,"functionCallDataList":[]}`)

	got, err := sign(s, d, "open", raw)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(got) != 65 {
		t.Fatalf("signature length = %d", len(got))
	}
	again, err := sign(s, d, "open", raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, again) {
		t.Fatal("signing is not deterministic")
	}

	if _, err := sign(s, d, "withdraw", raw); err == nil {
		t.Fatal("unknown kind accepted")
	}
	if _, err := sign(s, d, "close", []byte(`{`)); err == nil {
		t.Fatal("malformed request accepted")
	}
}

func TestOrdersUseOrderDomain(t *testing.T) {
	dep := config.DeploymentConfig{DomainName: "Marginpool", OrderDomainName: "Marginpool Orders", DomainVersion: "1"}
	pool := common.HexToAddress("0x1001")

	if d := domainFor(dep, "close", 31337, pool); d.Name != "Marginpool" {
		t.Fatalf("close domain = %q", d.Name)
	}
	d := domainFor(dep, "order", 31337, pool)
	if d.Name != "Marginpool Orders" || d.VerifyingContract != pool || d.ChainID.Int64() != 31337 {
		t.Fatalf("order domain = %+v", d)
	}
}
