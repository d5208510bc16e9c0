package book

import (
	"fmt"

	"github.com/rs/zerolog"

	. "tickbook/internal/common"
)

// PriceTimeBook matches orders in price-time priority: the best price trades
// first and, within a price, the earliest arrival trades first.
//
// The book is not synchronized. All calls must be serialized by the owner.
type PriceTimeBook struct {
	bids *ladder
	asks *ladder

	slots arena
	live  locatorIndex

	arrivals uint64 // Accepted order counter, the time in price-time.
	trades   uint64

	onTrade TradeHandler
	log     zerolog.Logger
}

var _ OrderBook = (*PriceTimeBook)(nil)

type Option func(*PriceTimeBook)

// WithTradeHandler registers fn to receive every trade as it happens.
func WithTradeHandler(fn TradeHandler) Option {
	return func(b *PriceTimeBook) {
		b.onTrade = fn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *PriceTimeBook) {
		b.log = logger
	}
}

func New(opts ...Option) *PriceTimeBook {
	b := &PriceTimeBook{
		bids:    newLadder(Bid),
		asks:    newLadder(Ask),
		live:    make(locatorIndex),
		onTrade: func(Trade) {},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *PriceTimeBook) AddMarketBuy(id OrderID, quantity Quantity) error {
	return b.place(id, Bid, MarketOrder, 0, quantity)
}

func (b *PriceTimeBook) AddMarketSell(id OrderID, quantity Quantity) error {
	return b.place(id, Ask, MarketOrder, 0, quantity)
}

func (b *PriceTimeBook) AddLimitBuy(id OrderID, price Price, quantity Quantity) error {
	return b.place(id, Bid, LimitOrder, price, quantity)
}

func (b *PriceTimeBook) AddLimitSell(id OrderID, price Price, quantity Quantity) error {
	return b.place(id, Ask, LimitOrder, price, quantity)
}

func (b *PriceTimeBook) ladder(side Side) *ladder {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

// place matches the incoming order against the contra side, then rests a
// limit remainder at its own price. A market remainder is dropped.
//
// An id that is still resting is rejected without touching the book, which
// keeps the locator index one-to-one with the resting orders.
func (b *PriceTimeBook) place(id OrderID, side Side, orderType OrderType, price Price, quantity Quantity) error {
	if quantity == 0 {
		return ErrZeroQuantity
	}
	if _, ok := b.live.find(id); ok {
		return fmt.Errorf("%w: %d", ErrDuplicateOrderID, id)
	}

	b.arrivals++
	sequence := b.arrivals

	remaining := b.match(id, side, orderType, price, quantity)
	if remaining == 0 {
		return nil
	}

	switch orderType {
	case LimitOrder:
		b.rest(id, side, price, remaining, sequence)
	case MarketOrder:
		b.log.Debug().
			Uint64("order_id", id).
			Stringer("side", side).
			Uint64("discarded", remaining).
			Msg("market order remainder discarded")
	}
	return nil
}

// crosses reports whether a limit order on side can trade at contra price.
func crosses(side Side, contra, limit Price) bool {
	if side == Bid {
		return contra <= limit
	}
	return contra >= limit
}

// match consumes the contra ladder from the best level while the order
// crosses and returns the quantity left over. Each step trades the oldest
// order of the best level at that level's price.
func (b *PriceTimeBook) match(id OrderID, side Side, orderType OrderType, limit Price, quantity Quantity) Quantity {
	contra := b.ladder(side.Opposite())
	remaining := quantity

	for remaining > 0 {
		level, ok := contra.best()
		if !ok {
			break
		}
		if orderType == LimitOrder && !crosses(side, level.price, limit) {
			break
		}

		idx := level.head
		maker := b.slots.at(idx).order
		traded := min(remaining, maker.Remaining)
		remaining -= traded
		level.fill(&b.slots, idx, traded)

		b.trades++
		trade := Trade{
			TakerID:   id,
			MakerID:   maker.ID,
			TakerSide: side,
			Price:     level.price,
			Quantity:  traded,
			Sequence:  b.trades,

			MakerRemaining: maker.Remaining - traded,
		}

		if trade.MakerRemaining == 0 {
			level.unlink(&b.slots, idx)
			b.slots.release(idx)
			b.live.erase(maker.ID)
			contra.removeIfEmpty(level)
		}

		b.log.Debug().
			Uint64("taker", id).
			Uint64("maker", maker.ID).
			Int64("price", trade.Price).
			Uint64("quantity", traded).
			Msg("trade")
		b.onTrade(trade)
	}
	return remaining
}

func (b *PriceTimeBook) rest(id OrderID, side Side, price Price, quantity Quantity, sequence uint64) {
	pos := b.slots.alloc(RestingOrder{
		ID:        id,
		Remaining: quantity,
		Sequence:  sequence,
	})
	b.ladder(side).levelAt(price).push(&b.slots, pos.index)
	b.live.insert(id, side, price, pos)

	b.log.Debug().
		Uint64("order_id", id).
		Stringer("side", side).
		Int64("price", price).
		Uint64("quantity", quantity).
		Msg("order resting")
}

// Cancel removes a resting order, whatever is left of it. Orders that were
// never seen, fully filled or already cancelled all report CancelNotFound.
func (b *PriceTimeBook) Cancel(id OrderID) CancelResult {
	loc, ok := b.live.find(id)
	if !ok {
		return CancelNotFound
	}
	b.live.erase(id)

	side := b.ladder(loc.side)
	level, ok := side.find(loc.price)
	if !ok || b.slots.get(loc.pos) == nil {
		// Unreachable while the index and the ladder agree.
		b.log.Error().Uint64("order_id", id).Msg("stale locator dropped")
		return CancelNotFound
	}

	level.unlink(&b.slots, loc.pos.index)
	b.slots.release(loc.pos.index)
	side.removeIfEmpty(level)

	b.log.Debug().Uint64("order_id", id).Msg("order cancelled")
	return CancelOK
}

// Order looks up a resting order by id.
func (b *PriceTimeBook) Order(id OrderID) (OrderState, bool) {
	loc, ok := b.live.find(id)
	if !ok {
		return OrderState{}, false
	}
	s := b.slots.get(loc.pos)
	if s == nil {
		return OrderState{}, false
	}
	return OrderState{RestingOrder: s.order, Side: loc.side, Price: loc.price}, true
}

// Len is the number of resting orders.
func (b *PriceTimeBook) Len() int {
	return len(b.live)
}
