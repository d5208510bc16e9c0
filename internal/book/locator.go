package book

import . "tickbook/internal/common"

// locator is a back reference from an order id to its slot. An entry exists
// exactly while the order rests in the book.
type locator struct {
	side  Side
	price Price
	pos   handle
}

type locatorIndex map[OrderID]locator

func (idx locatorIndex) insert(id OrderID, side Side, price Price, pos handle) {
	idx[id] = locator{side: side, price: price, pos: pos}
}

func (idx locatorIndex) find(id OrderID) (locator, bool) {
	loc, ok := idx[id]
	return loc, ok
}

func (idx locatorIndex) erase(id OrderID) {
	delete(idx, id)
}
