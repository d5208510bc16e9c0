package book

import (
	"github.com/tidwall/btree"

	. "tickbook/internal/common"
)

type priceLevels = btree.BTreeG[*priceLevel]

// ladder is one side of the book. Levels are kept in a btree ordered so that
// the minimum item is always the best price: bids sorted greatest first, asks
// sorted least first.
type ladder struct {
	side   Side
	levels *priceLevels
	top    *priceLevel // Cached best level, nil when the side is empty.
}

func newLadder(side Side) *ladder {
	less := func(a, b *priceLevel) bool {
		return a.price < b.price
	}
	if side == Bid {
		less = func(a, b *priceLevel) bool {
			return a.price > b.price
		}
	}

	return &ladder{
		side: side,
		// The book is only ever entered from one goroutine.
		levels: btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
	}
}

// better reports whether price a has priority over price b on this side.
func (l *ladder) better(a, b Price) bool {
	if l.side == Bid {
		return a > b
	}
	return a < b
}

func (l *ladder) best() (*priceLevel, bool) {
	return l.top, l.top != nil
}

func (l *ladder) find(price Price) (*priceLevel, bool) {
	return l.levels.Get(&priceLevel{price: price})
}

// levelAt returns the level at price, creating it when absent.
func (l *ladder) levelAt(price Price) *priceLevel {
	if level, ok := l.find(price); ok {
		return level
	}

	level := newPriceLevel(price)
	l.levels.Set(level)
	if l.top == nil || l.better(price, l.top.price) {
		l.top = level
	}
	return level
}

// removeIfEmpty drops the level once its queue has drained.
func (l *ladder) removeIfEmpty(level *priceLevel) bool {
	if !level.empty() {
		return false
	}

	l.levels.Delete(level)
	if l.top == level {
		l.top, _ = l.levels.Min()
	}
	return true
}

// scan visits at most n levels in priority order.
func (l *ladder) scan(n int, visit func(*priceLevel)) {
	if n <= 0 {
		return
	}
	l.levels.Scan(func(level *priceLevel) bool {
		visit(level)
		n--
		return n > 0
	})
}

func (l *ladder) len() int {
	return l.levels.Len()
}
