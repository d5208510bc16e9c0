package api

import (
	"github.com/shopspring/decimal"

	. "tickbook/internal/common"
)

// SubmitOrderRequest keeps every field textual. Parsing and validation
// belong to the entry package.
type SubmitOrderRequest struct {
	OrderID  OrderID `json:"order_id" binding:"required"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side" binding:"required"`
	Type     string  `json:"type" binding:"required"`
	Quantity string  `json:"quantity" binding:"required"`
	Price    string  `json:"price,omitempty"` // limit orders only
}

type TradeResponse struct {
	MakerID  OrderID         `json:"maker_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity Quantity        `json:"quantity"`
	Sequence uint64          `json:"sequence"`
}

type SubmitOrderResponse struct {
	OrderID   OrderID         `json:"order_id"`
	Filled    Quantity        `json:"filled"`
	Resting   Quantity        `json:"resting"`
	Discarded Quantity        `json:"discarded"`
	Trades    []TradeResponse `json:"trades"`
}

type CancelOrderResponse struct {
	OrderID OrderID `json:"order_id"`
	Result  string  `json:"result"`
}

type QuoteResponse struct {
	Bid *decimal.Decimal `json:"bid"`
	Ask *decimal.Decimal `json:"ask"`
}

type DepthResponse struct {
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity Quantity        `json:"quantity"`
}

type LevelResponse struct {
	Price    decimal.Decimal `json:"price"`
	Quantity Quantity        `json:"quantity"`
}

type SnapshotResponse struct {
	Bids []LevelResponse `json:"bids"`
	Asks []LevelResponse `json:"asks"`
}
