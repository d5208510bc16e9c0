// Package entry turns raw order fields into typed requests the book can
// trust. Everything here fails with an error value; nothing that reaches the
// book afterwards needs to be checked again.
package entry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	. "tickbook/internal/common"
)

var (
	ErrInvalidSide      = errors.New("invalid order side")
	ErrInvalidOrderType = errors.New("invalid order type")
	ErrInvalidQuantity  = errors.New("quantity must be a positive integer")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrMissingPrice     = errors.New("limit order requires a price")
	ErrUnexpectedPrice  = errors.New("market order must not carry a price")
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrInvalidTickSize  = errors.New("tick size must be positive")
)

type Kind int

const (
	NewOrder Kind = iota
	CancelOrder
)

func (k Kind) String() string {
	switch k {
	case NewOrder:
		return "NEW"
	case CancelOrder:
		return "CANCEL"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Request is a validated instruction for the book. Price is only meaningful
// for limit orders.
//
// Owner tags the submitter. An order placed with an owner can only be
// cancelled by a request carrying the same owner or no owner at all, and
// trades against it are reported with that owner.
type Request struct {
	Kind     Kind
	OrderID  OrderID
	Side     Side
	Type     OrderType
	Quantity Quantity
	Price    Price
	Owner    string
}

func ParseSide(token string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "buy":
		return Bid, nil
	case "sell":
		return Ask, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, token)
}

func ParseOrderType(token string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "limit":
		return LimitOrder, nil
	case "market":
		return MarketOrder, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOrderType, token)
}

func ParseQuantity(token string) (Quantity, error) {
	qty, err := strconv.ParseUint(strings.TrimSpace(token), 10, 64)
	if err != nil || qty == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, token)
	}
	return qty, nil
}

// Validator checks requests for the single instrument this process trades.
type Validator struct {
	symbol   string
	tickSize decimal.Decimal
}

func NewValidator(symbol string, tickSize decimal.Decimal) (*Validator, error) {
	if !tickSize.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTickSize, tickSize)
	}
	return &Validator{
		symbol:   strings.ToUpper(symbol),
		tickSize: tickSize,
	}, nil
}

func (v *Validator) Symbol() string {
	return v.symbol
}

func (v *Validator) TickSize() decimal.Decimal {
	return v.tickSize
}

// ParsePrice converts a decimal price into ticks. The price has to be an
// exact multiple of the tick size.
func (v *Validator) ParsePrice(token string) (Price, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(token))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, token)
	}
	return v.ToTicks(price)
}

func (v *Validator) ToTicks(price decimal.Decimal) (Price, error) {
	if !price.Mod(v.tickSize).IsZero() {
		return 0, fmt.Errorf("%w: %s is not a multiple of tick %s", ErrInvalidPrice, price, v.tickSize)
	}
	ticks := price.Div(v.tickSize)
	if ticks.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || ticks.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidPrice, price)
	}
	return ticks.IntPart(), nil
}

// FromTicks is the inverse of ToTicks, used when reporting prices.
func (v *Validator) FromTicks(ticks Price) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(v.tickSize)
}

// NewOrder validates the textual fields of an order. An empty symbol means
// the process instrument.
func (v *Validator) NewOrder(id OrderID, symbol, side, orderType, quantity, price string) (Request, error) {
	if symbol != "" && !strings.EqualFold(symbol, v.symbol) {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}

	req := Request{Kind: NewOrder, OrderID: id}
	var err error
	if req.Side, err = ParseSide(side); err != nil {
		return Request{}, err
	}
	if req.Type, err = ParseOrderType(orderType); err != nil {
		return Request{}, err
	}
	if req.Quantity, err = ParseQuantity(quantity); err != nil {
		return Request{}, err
	}

	price = strings.TrimSpace(price)
	switch req.Type {
	case LimitOrder:
		if price == "" {
			return Request{}, ErrMissingPrice
		}
		if req.Price, err = v.ParsePrice(price); err != nil {
			return Request{}, err
		}
	case MarketOrder:
		if price != "" {
			return Request{}, ErrUnexpectedPrice
		}
	}
	return req, nil
}

func (v *Validator) Cancel(id OrderID) Request {
	return Request{Kind: CancelOrder, OrderID: id}
}

// Validate checks a request that arrived already typed, e.g. off the binary
// wire protocol where the enums are plain integers.
func Validate(req Request) error {
	switch req.Kind {
	case CancelOrder:
		return nil
	case NewOrder:
	default:
		return fmt.Errorf("invalid request kind %d", int(req.Kind))
	}

	if req.Side != Bid && req.Side != Ask {
		return fmt.Errorf("%w: %d", ErrInvalidSide, int(req.Side))
	}
	switch req.Type {
	case LimitOrder:
	case MarketOrder:
		if req.Price != 0 {
			return ErrUnexpectedPrice
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidOrderType, int(req.Type))
	}
	if req.Quantity == 0 {
		return fmt.Errorf("%w: 0", ErrInvalidQuantity)
	}
	return nil
}
