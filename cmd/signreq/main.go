// Command signreq signs ledger requests with the configured wallet key so
// they can be submitted over the HTTP API. It can also encrypt a raw key
// into a key file.
//
//	signreq -kind open -contract 0x...1001 < request.json
//	signreq -encrypt -out operator.key
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/marginpool/internal/config"
	"github.com/alanyoungcy/marginpool/internal/crypto"
	"github.com/alanyoungcy/marginpool/internal/domain"
)

type output struct {
	Signer    common.Address `json:"signer"`
	Kind      string         `json:"kind"`
	Contract  common.Address `json:"contract"`
	Signature hexutil.Bytes  `json:"signature"`
}

func main() {
	configPath := flag.String("config", "", "configuration file holding the wallet section")
	kind := flag.String("kind", "open", "request kind: open, close, order, add-collateral")
	contract := flag.String("contract", "", "verifying contract: the pool, or the router for trader signatures")
	in := flag.String("in", "-", "request JSON file, - for stdin")
	chainID := flag.Int64("chain-id", 0, "chain id (defaults to the configured deployment)")
	encrypt := flag.Bool("encrypt", false, "encrypt the configured private key instead of signing")
	out := flag.String("out", "", "key file written by -encrypt")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	if *encrypt {
		if err := encryptKey(cfg, *out); err != nil {
			fatalf("%v", err)
		}
		return
	}

	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		fatalf("load key: %v", err)
	}
	if signer == nil {
		fatalf("no wallet key configured (set MARGINPOOL_WALLET_PRIVATE_KEY)")
	}
	if !common.IsHexAddress(*contract) {
		fatalf("-contract must be a hex address")
	}

	id := cfg.Deployment.ChainID
	if *chainID != 0 {
		id = *chainID
	}
	if id == 0 {
		id = 31337
	}
	d := domainFor(cfg.Deployment, *kind, id, common.HexToAddress(*contract))

	raw, err := readInput(*in)
	if err != nil {
		fatalf("read request: %v", err)
	}
	sig, err := sign(signer, d, *kind, raw)
	if err != nil {
		fatalf("%v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{Signer: signer.Address(), Kind: *kind, Contract: d.VerifyingContract, Signature: sig}); err != nil {
		fatalf("write output: %v", err)
	}
}

// domainFor picks the signing domain for kind. Trader orders use their own
// domain name so no other request kind can stand in for one.
func domainFor(dep config.DeploymentConfig, kind string, chainID int64, contract common.Address) crypto.Domain {
	name := dep.DomainName
	if kind == "order" {
		name = dep.OrderDomainName
	}
	return crypto.Domain{
		Name:              name,
		Version:           dep.DomainVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: contract,
	}
}

func sign(s *crypto.Signer, d crypto.Domain, kind string, raw []byte) ([]byte, error) {
	switch kind {
	case "open":
		var req domain.OpenPositionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode open request: %w", err)
		}
		return s.SignOpenPositionRequest(d, req)
	case "close":
		var req domain.ClosePositionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode close request: %w", err)
		}
		return s.SignClosePositionRequest(d, req)
	case "order":
		var o domain.ClosePositionOrder
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode close order: %w", err)
		}
		return s.SignClosePositionOrder(d, o)
	case "add-collateral":
		var req domain.AddCollateralRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode add-collateral request: %w", err)
		}
		return s.SignAddCollateralRequest(d, req)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

func encryptKey(cfg *config.Config, path string) error {
	if path == "" {
		return errors.New("-out is required with -encrypt")
	}
	if cfg.Wallet.PrivateKey == "" || cfg.Wallet.KeyPassword == "" {
		return errors.New("wallet private_key and key_password are required to encrypt")
	}
	data, err := crypto.EncryptKey(cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "encrypted key written to %s\n", path)
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "signreq: "+format+"\n", args...)
	os.Exit(1)
}
