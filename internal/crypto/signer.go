package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// Signer produces EIP-712 signatures for ledger requests. Order signers use
// it to authorize opens and closes; traders use it for close orders and
// router requests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignStruct signs structHash under domain d and returns the 65-byte
// r || s || v signature with v in {27, 28}.
func (s *Signer) SignStruct(d Domain, structHash []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(Digest(d, structHash), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

func (s *Signer) SignOpenPositionRequest(d Domain, r domain.OpenPositionRequest) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}
	return s.SignStruct(d, HashOpenPositionRequest(r))
}

func (s *Signer) SignClosePositionRequest(d Domain, r domain.ClosePositionRequest) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}
	return s.SignStruct(d, HashClosePositionRequest(r))
}

func (s *Signer) SignClosePositionOrder(d Domain, o domain.ClosePositionOrder) ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}
	return s.SignStruct(d, HashClosePositionOrder(o))
}

func (s *Signer) SignAddCollateralRequest(d Domain, r domain.AddCollateralRequest) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}
	return s.SignStruct(d, HashAddCollateralRequest(r))
}
