package swap

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	MethodExactInput         = "swapExactInput"
	MethodExactOutput        = "swapExactOutput"
	MethodExactOutputBuyback = "swapExactOutputWithBuyback"
)

const routerABIJSON = `[
  {"type":"function","name":"swapExactInput","inputs":[
    {"name":"tokenIn","type":"address"},
    {"name":"tokenOut","type":"address"},
    {"name":"amountIn","type":"uint256"},
    {"name":"minAmountOut","type":"uint256"}]},
  {"type":"function","name":"swapExactOutput","inputs":[
    {"name":"tokenIn","type":"address"},
    {"name":"tokenOut","type":"address"},
    {"name":"amountOut","type":"uint256"},
    {"name":"amountInMax","type":"uint256"}]},
  {"type":"function","name":"swapExactOutputWithBuyback","inputs":[
    {"name":"tokenIn","type":"address"},
    {"name":"tokenOut","type":"address"},
    {"name":"amountOut","type":"uint256"},
    {"name":"amountInMax","type":"uint256"},
    {"name":"router","type":"address"}]}
]`

var routerABI = mustParseABI(routerABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("swap: parse router ABI: %v", err))
	}
	return parsed
}

// SwapArgs are the decoded arguments of a router payload. Router is only
// set for buyback calls.
type SwapArgs struct {
	Method   string
	TokenIn  common.Address
	TokenOut common.Address
	Amount   *big.Int // amountIn for exact input, amountOut otherwise
	Limit    *big.Int // minAmountOut for exact input, amountInMax otherwise
	Router   common.Address
}

// EncodeExactInput builds a swapExactInput payload.
func EncodeExactInput(tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) ([]byte, error) {
	return routerABI.Pack(MethodExactInput, tokenIn, tokenOut, amountIn, minAmountOut)
}

// EncodeExactOutput builds a swapExactOutput payload.
func EncodeExactOutput(tokenIn, tokenOut common.Address, amountOut, amountInMax *big.Int) ([]byte, error) {
	return routerABI.Pack(MethodExactOutput, tokenIn, tokenOut, amountOut, amountInMax)
}

// EncodeExactOutputWithBuyback builds a buyback swapper payload. router
// prices the reserve fill and receives whatever the reserve cannot cover.
func EncodeExactOutputWithBuyback(tokenIn, tokenOut common.Address, amountOut, amountInMax *big.Int, router common.Address) ([]byte, error) {
	return routerABI.Pack(MethodExactOutputBuyback, tokenIn, tokenOut, amountOut, amountInMax, router)
}

// DecodeCall parses a router payload.
func DecodeCall(data []byte) (SwapArgs, error) {
	if len(data) < 4 {
		return SwapArgs{}, fmt.Errorf("swap: payload too short (%d bytes)", len(data))
	}
	method, err := routerABI.MethodById(data[:4])
	if err != nil {
		return SwapArgs{}, fmt.Errorf("swap: unknown selector %x: %w", data[:4], err)
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return SwapArgs{}, fmt.Errorf("swap: decode %s: %w", method.Name, err)
	}

	args := SwapArgs{
		Method:   method.Name,
		TokenIn:  values[0].(common.Address),
		TokenOut: values[1].(common.Address),
		Amount:   values[2].(*big.Int),
		Limit:    values[3].(*big.Int),
	}
	if method.Name == MethodExactOutputBuyback {
		args.Router = values[4].(common.Address)
	}
	return args, nil
}
