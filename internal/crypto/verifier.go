package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// Recover returns the address that produced sig over structHash in domain
// d. Malformed and high-s signatures fail with ErrInvalidSignature.
func Recover(d Domain, structHash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature length %d: %w", len(sig), domain.ErrInvalidSignature)
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !ethcrypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return common.Address{}, fmt.Errorf("crypto: signature values out of range: %w", domain.ErrInvalidSignature)
	}

	pub, err := ethcrypto.SigToPub(Digest(d, structHash), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %v: %w", err, domain.ErrInvalidSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// CheckExpiration fails with ErrOrderExpired once now is past expiration.
func CheckExpiration(expiration, now uint64) error {
	if now > expiration {
		return fmt.Errorf("crypto: expired at %d, now %d: %w", expiration, now, domain.ErrOrderExpired)
	}
	return nil
}

// Authorizer verifies requests that must be signed by an ORDER_SIGNER under
// one domain. Trader close orders recover under a separate order domain.
type Authorizer struct {
	domain      Domain
	orderDomain Domain
	roles       domain.RoleChecker
}

// NewAuthorizer binds an authorizer to domain d.
func NewAuthorizer(d Domain, roles domain.RoleChecker) *Authorizer {
	return &Authorizer{domain: d, roles: roles}
}

// WithOrderDomain sets the domain close orders are signed under. Until it
// is set, every order fails to recover.
func (a *Authorizer) WithOrderDomain(d Domain) *Authorizer {
	a.orderDomain = d
	return a
}

// Domain returns the signing domain.
func (a *Authorizer) Domain() Domain {
	return a.domain
}

// OrderDomain returns the close-order signing domain.
func (a *Authorizer) OrderDomain() Domain {
	return a.orderDomain
}

func (a *Authorizer) verifyAuthority(structHash, sig []byte) error {
	signer, err := Recover(a.domain, structHash, sig)
	if err != nil {
		return err
	}
	if !a.roles.HasRole(domain.RoleOrderSigner, signer) {
		return fmt.Errorf("crypto: %s is not an order signer: %w", signer.Hex(), domain.ErrInvalidSignature)
	}
	return nil
}

// unsignable reports a payload whose amounts do not fit the signed words.
// Hashing it would alias a different, truncated payload.
func unsignable(err error) error {
	return fmt.Errorf("crypto: %v: %w", err, domain.ErrInvalidSignature)
}

func (a *Authorizer) VerifyOpenPositionRequest(r domain.OpenPositionRequest, sig []byte) error {
	if err := r.Validate(); err != nil {
		return unsignable(err)
	}
	return a.verifyAuthority(HashOpenPositionRequest(r), sig)
}

func (a *Authorizer) VerifyClosePositionRequest(r domain.ClosePositionRequest, sig []byte) error {
	if err := r.Validate(); err != nil {
		return unsignable(err)
	}
	return a.verifyAuthority(HashClosePositionRequest(r), sig)
}

func (a *Authorizer) VerifyAddCollateralRequest(r domain.AddCollateralRequest, sig []byte) error {
	if err := r.Validate(); err != nil {
		return unsignable(err)
	}
	return a.verifyAuthority(HashAddCollateralRequest(r), sig)
}

// RecoverOrderSigner returns the trader that signed a close order under the
// order domain.
func (a *Authorizer) RecoverOrderSigner(o domain.ClosePositionOrder, sig []byte) (common.Address, error) {
	if a.orderDomain.ChainID == nil {
		return common.Address{}, fmt.Errorf("crypto: no order domain: %w", domain.ErrInvalidSignature)
	}
	if err := o.Validate(); err != nil {
		return common.Address{}, unsignable(err)
	}
	return Recover(a.orderDomain, HashClosePositionOrder(o), sig)
}

// RecoverOpenRequestSigner returns whoever signed an open request under this
// domain, without a role check. The router uses it to identify traders.
func (a *Authorizer) RecoverOpenRequestSigner(r domain.OpenPositionRequest, sig []byte) (common.Address, error) {
	if err := r.Validate(); err != nil {
		return common.Address{}, unsignable(err)
	}
	return Recover(a.domain, HashOpenPositionRequest(r), sig)
}
