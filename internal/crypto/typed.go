package crypto

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type strings. Referenced struct types are appended in alphabetical
// order, as the standard requires.
// --------------------------------------------------------------------------

const (
	functionCallType = "FunctionCallData(address to,uint256 value,bytes data)"
	positionType     = "Position(uint256 id,address trader,address currency,address collateralCurrency,uint256 lastFundingTimestamp,uint256 downPayment,uint256 principal,uint256 collateralAmount,uint256 feesToBePaid)"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	functionCallTypeHash = ethcrypto.Keccak256([]byte(functionCallType))

	positionTypeHash = ethcrypto.Keccak256([]byte(positionType))

	openPositionRequestTypeHash = ethcrypto.Keccak256([]byte(
		"OpenPositionRequest(uint256 id,address currency,address targetCurrency,uint256 downPayment,uint256 principal,uint256 minTargetAmount,uint256 expiration,uint256 fee,FunctionCallData[] functionCallDataList)" +
			functionCallType,
	))

	closePositionRequestTypeHash = ethcrypto.Keccak256([]byte(
		"ClosePositionRequest(uint256 expiration,uint256 interest,uint256 amount,Position position,FunctionCallData[] functionCallDataList,address referrer)" +
			functionCallType + positionType,
	))

	closePositionOrderTypeHash = ethcrypto.Keccak256([]byte(
		"ClosePositionOrder(uint8 orderType,uint256 positionId,uint256 createdAt,uint256 expiration,uint256 makerAmount,uint256 takerAmount,uint256 executionFee)",
	))

	addCollateralRequestTypeHash = ethcrypto.Keccak256([]byte(
		"AddCollateralRequest(uint256 amount,uint256 interest,uint256 expiration,Position position)" +
			positionType,
	))
)

// Domain is an EIP-712 signing domain. Every pool and the router sign under
// their own verifying contract, so a signature for one never verifies on
// another.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator returns keccak256(abi.encode(typeHash, nameHash, versionHash,
// chainId, verifyingContract)).
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(d.Name)),
			ethcrypto.Keccak256([]byte(d.Version)),
			bigIntTo32Bytes(d.ChainID),
			addressWord(d.VerifyingContract),
		),
	)
}

// Digest computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func Digest(d Domain, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			d.Separator(),
			structHash,
		),
	)
}

// HashFunctionCall hashes a single FunctionCallData struct.
func HashFunctionCall(c domain.FunctionCall) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			functionCallTypeHash,
			addressWord(c.To),
			bigIntTo32Bytes(c.Value),
			ethcrypto.Keccak256(c.Data),
		),
	)
}

// HashFunctionCalls hashes a FunctionCallData[] array member.
func HashFunctionCalls(calls []domain.FunctionCall) []byte {
	hashes := make([][]byte, 0, len(calls))
	for _, c := range calls {
		hashes = append(hashes, HashFunctionCall(c))
	}
	return ethcrypto.Keccak256(concatBytes(hashes...))
}

// HashPosition hashes the canonical encoding of a position.
func HashPosition(p domain.Position) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			positionTypeHash,
			uint64Word(p.ID),
			addressWord(p.Trader),
			addressWord(p.Currency),
			addressWord(p.CollateralCurrency),
			uint64Word(p.LastFundingTimestamp),
			bigIntTo32Bytes(p.DownPayment),
			bigIntTo32Bytes(p.Principal),
			bigIntTo32Bytes(p.CollateralAmount),
			bigIntTo32Bytes(p.FeesToBePaid),
		),
	)
}

// PositionCommitment is the value the ledger stores for an open position.
func PositionCommitment(p domain.Position) common.Hash {
	return common.BytesToHash(HashPosition(p))
}

func HashOpenPositionRequest(r domain.OpenPositionRequest) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			openPositionRequestTypeHash,
			uint64Word(r.ID),
			addressWord(r.Currency),
			addressWord(r.TargetCurrency),
			bigIntTo32Bytes(r.DownPayment),
			bigIntTo32Bytes(r.Principal),
			bigIntTo32Bytes(r.MinTargetAmount),
			uint64Word(r.Expiration),
			bigIntTo32Bytes(r.Fee),
			HashFunctionCalls(r.FunctionCallDataList),
		),
	)
}

func HashClosePositionRequest(r domain.ClosePositionRequest) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			closePositionRequestTypeHash,
			uint64Word(r.Expiration),
			bigIntTo32Bytes(r.Interest),
			bigIntTo32Bytes(r.Amount),
			HashPosition(r.Position),
			HashFunctionCalls(r.FunctionCallDataList),
			addressWord(r.Referrer),
		),
	)
}

func HashClosePositionOrder(o domain.ClosePositionOrder) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			closePositionOrderTypeHash,
			uint64Word(uint64(o.OrderType)),
			uint64Word(o.PositionID),
			uint64Word(o.CreatedAt),
			uint64Word(o.Expiration),
			bigIntTo32Bytes(o.MakerAmount),
			bigIntTo32Bytes(o.TakerAmount),
			bigIntTo32Bytes(o.ExecutionFee),
		),
	)
}

func HashAddCollateralRequest(r domain.AddCollateralRequest) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			addCollateralRequestTypeHash,
			bigIntTo32Bytes(r.Amount),
			bigIntTo32Bytes(r.Interest),
			uint64Word(r.Expiration),
			HashPosition(r.Position),
		),
	)
}

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

// bigIntTo32Bytes returns a 32-byte big-endian representation of n. A nil n
// encodes as zero.
func bigIntTo32Bytes(n *big.Int) []byte {
	padded := make([]byte, 32)
	if n == nil {
		return padded
	}
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	copy(padded[32-len(b):], b)
	return padded
}

func uint64Word(v uint64) []byte {
	return bigIntTo32Bytes(new(big.Int).SetUint64(v))
}

func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
