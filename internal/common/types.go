package common

import "fmt"

// OrderID is assigned by the caller and is unique per instrument while the
// order is live.
type OrderID = uint64

// Price is a signed number of ticks.
type Price = int64

// Quantity is always > 0 for anything resting in a book.
type Quantity = uint64

type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s Side) String() string {
	switch s {
	case Bid:
		return "BID"
	case Ask:
		return "ASK"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

type OrderType int

const (
	// Limit orders are an order to buy or sell at a specified price or
	// better. Any remainder rests on the book.
	LimitOrder OrderType = iota
	// Market orders trade immediately against whatever liquidity is
	// present. The unfilled remainder is discarded.
	MarketOrder
)

func (t OrderType) String() string {
	switch t {
	case LimitOrder:
		return "LIMIT"
	case MarketOrder:
		return "MARKET"
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}
