package book

import (
	"fmt"

	. "tickbook/internal/common"
)

// priceLevel is the FIFO queue of resting orders at one price, linked through
// the arena slots. total caches the sum of the remaining quantities so depth
// queries never walk the queue.
type priceLevel struct {
	price Price
	head  int32 // Oldest order, next to trade.
	tail  int32
	count int
	total Quantity
}

func newPriceLevel(price Price) *priceLevel {
	return &priceLevel{
		price: price,
		head:  nilSlot,
		tail:  nilSlot,
	}
}

func (l *priceLevel) empty() bool {
	return l.head == nilSlot
}

// push appends the order in slot idx to the back of the queue.
func (l *priceLevel) push(a *arena, idx int32) {
	s := a.at(idx)
	s.prev = l.tail
	s.next = nilSlot
	if l.tail != nilSlot {
		a.at(l.tail).next = idx
	} else {
		l.head = idx
	}
	l.tail = idx
	l.count++
	l.total += s.order.Remaining
}

// unlink removes the order in slot idx from anywhere in the queue.
func (l *priceLevel) unlink(a *arena, idx int32) {
	s := a.at(idx)
	if s.prev != nilSlot {
		a.at(s.prev).next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nilSlot {
		a.at(s.next).prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev, s.next = nilSlot, nilSlot
	l.count--
	l.total -= s.order.Remaining
}

// fill decrements the order in slot idx by quantity.
func (l *priceLevel) fill(a *arena, idx int32, quantity Quantity) {
	a.at(idx).order.Remaining -= quantity
	l.total -= quantity
}

// orders returns a copy of the queue, oldest first.
func (l *priceLevel) orders(a *arena) []RestingOrder {
	out := make([]RestingOrder, 0, l.count)
	for idx := l.head; idx != nilSlot; idx = a.at(idx).next {
		out = append(out, a.at(idx).order)
	}
	return out
}

func (l *priceLevel) String() string {
	return fmt.Sprintf("PriceLevel{Price=%d, Orders=%d, Total=%d}", l.price, l.count, l.total)
}
