package book

import . "tickbook/internal/common"

func (b *PriceTimeBook) BestQuote() BestQuote {
	var quote BestQuote
	if level, ok := b.bids.best(); ok {
		quote.Bid, quote.HasBid = level.price, true
	}
	if level, ok := b.asks.best(); ok {
		quote.Ask, quote.HasAsk = level.price, true
	}
	return quote
}

// DepthQuantity is the aggregate resting quantity at price, zero when there
// is no such level.
func (b *PriceTimeBook) DepthQuantity(side Side, price Price) Quantity {
	level, ok := b.ladder(side).find(price)
	if !ok {
		return 0
	}
	return level.total
}

// Snapshot returns up to levels price levels per side, best first.
func (b *PriceTimeBook) Snapshot(levels int) Snapshot {
	return Snapshot{
		Bids: b.flatten(b.bids, levels),
		Asks: b.flatten(b.asks, levels),
	}
}

func (b *PriceTimeBook) flatten(side *ladder, n int) []Level {
	out := make([]Level, 0, max(0, min(n, side.len())))
	side.scan(n, func(level *priceLevel) {
		out = append(out, Level{Price: level.price, Quantity: level.total})
	})
	return out
}

// Orders lists the queue at price, oldest first.
func (b *PriceTimeBook) Orders(side Side, price Price) []RestingOrder {
	level, ok := b.ladder(side).find(price)
	if !ok {
		return nil
	}
	return level.orders(&b.slots)
}
