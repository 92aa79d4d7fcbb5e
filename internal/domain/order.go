package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FunctionCall is one opaque conversion step executed by the swap executor.
type FunctionCall struct {
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
	Data  hexutil.Bytes  `json:"data"`
}

// OpenPositionRequest is signed by an order signer and submitted by the
// trader (or the router on the trader's behalf).
type OpenPositionRequest struct {
	ID                   uint64         `json:"id"`
	Currency             common.Address `json:"currency"`
	TargetCurrency       common.Address `json:"targetCurrency"`
	DownPayment          *big.Int       `json:"downPayment"`
	Principal            *big.Int       `json:"principal"`
	MinTargetAmount      *big.Int       `json:"minTargetAmount"`
	Expiration           uint64         `json:"expiration"`
	Fee                  *big.Int       `json:"fee"`
	FunctionCallDataList []FunctionCall `json:"functionCallDataList"`
}

// ClosePositionRequest is signed by an order signer. Amount is the part of
// the position to close; zero closes it fully.
type ClosePositionRequest struct {
	Expiration           uint64         `json:"expiration"`
	Interest             *big.Int       `json:"interest"`
	Amount               *big.Int       `json:"amount"`
	Position             Position       `json:"position"`
	FunctionCallDataList []FunctionCall `json:"functionCallDataList"`
	Referrer             common.Address `json:"referrer"`
}

// OrderType is the trigger kind of a close order.
type OrderType uint8

const (
	OrderTakeProfit OrderType = 0
	OrderStopLoss   OrderType = 1
)

func (t OrderType) String() string {
	switch t {
	case OrderTakeProfit:
		return "take_profit"
	case OrderStopLoss:
		return "stop_loss"
	}
	return "unknown"
}

// ClosePositionOrder is a trader-signed take-profit or stop-loss order.
// MakerAmount and TakerAmount express the target conversion rate as
// "makerAmount of swap input for takerAmount of swap output".
type ClosePositionOrder struct {
	OrderType    OrderType `json:"orderType"`
	PositionID   uint64    `json:"positionId"`
	CreatedAt    uint64    `json:"createdAt"`
	Expiration   uint64    `json:"expiration"`
	MakerAmount  *big.Int  `json:"makerAmount"`
	TakerAmount  *big.Int  `json:"takerAmount"`
	ExecutionFee *big.Int  `json:"executionFee"`
}

// AddCollateralRequest is signed by an order signer and lets a trader top up
// an open position.
type AddCollateralRequest struct {
	Amount     *big.Int `json:"amount"`
	Interest   *big.Int `json:"interest"`
	Expiration uint64   `json:"expiration"`
	Position   Position `json:"position"`
}

// LiquidationItem is one position in a liquidation batch.
type LiquidationItem struct {
	Interest             *big.Int       `json:"interest"`
	Position             Position       `json:"position"`
	FunctionCallDataList []FunctionCall `json:"functionCallDataList"`
}
