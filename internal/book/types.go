package book

import (
	"errors"
	"fmt"

	. "tickbook/internal/common"
)

var (
	ErrDuplicateOrderID = errors.New("order id already resting")
	ErrZeroQuantity     = errors.New("quantity must be positive")
)

type CancelResult int

const (
	CancelOK CancelResult = iota
	CancelNotFound
	// CancelAlreadyClosed is reserved. Closed orders leave no trace in the
	// book, so cancelling one reports CancelNotFound.
	CancelAlreadyClosed
)

func (r CancelResult) String() string {
	switch r {
	case CancelOK:
		return "OK"
	case CancelNotFound:
		return "NOT_FOUND"
	case CancelAlreadyClosed:
		return "ALREADY_CLOSED"
	}
	return fmt.Sprintf("CancelResult(%d)", int(r))
}

// RestingOrder is a limit order, or its remainder, waiting in a price level.
type RestingOrder struct {
	ID        OrderID
	Remaining Quantity
	Sequence  uint64 // Arrival order, assigned when the order was accepted.
}

// OrderState is a read-only view of a live order and where it rests.
type OrderState struct {
	RestingOrder
	Side  Side
	Price Price
}

// BestQuote carries the top of book prices. A side with no resting liquidity
// has its Has flag unset and a zero price.
type BestQuote struct {
	Bid    Price `json:"bid"`
	HasBid bool  `json:"has_bid"`
	Ask    Price `json:"ask"`
	HasAsk bool  `json:"has_ask"`
}

// Level is the aggregate resting quantity at a single price.
type Level struct {
	Price    Price    `json:"price"`
	Quantity Quantity `json:"quantity"`
}

// Snapshot holds both sides of the book, best price first.
type Snapshot struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// TradeHandler is called synchronously for every match step. It must not
// call back into the book.
type TradeHandler func(Trade)

type Inserter interface {
	AddMarketBuy(id OrderID, quantity Quantity) error
	AddMarketSell(id OrderID, quantity Quantity) error
	AddLimitBuy(id OrderID, price Price, quantity Quantity) error
	AddLimitSell(id OrderID, price Price, quantity Quantity) error
}

type Canceler interface {
	Cancel(id OrderID) CancelResult
}

type Querier interface {
	BestQuote() BestQuote
	DepthQuantity(side Side, price Price) Quantity
	Snapshot(levels int) Snapshot
}

// OrderBook is the full capability set of a single instrument book. Matching
// variants implement it independently.
type OrderBook interface {
	Inserter
	Canceler
	Querier
}
