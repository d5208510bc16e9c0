package common

import "fmt"

// Trade accounts for one match step between the incoming order (taker) and
// the resting order at the front of the best contra level (maker).
type Trade struct {
	TakerID   OrderID
	MakerID   OrderID
	TakerSide Side
	Price     Price    // Always the maker's price.
	Quantity  Quantity // Matched quantity.
	Sequence  uint64   // Book-local trade counter.

	// MakerRemaining is what is left of the maker after this trade. Zero
	// means the maker has left the book.
	MakerRemaining Quantity
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade[%d] taker=%d (%v) maker=%d qty=%d price=%d maker_left=%d",
		t.Sequence,
		t.TakerID,
		t.TakerSide,
		t.MakerID,
		t.Quantity,
		t.Price,
		t.MakerRemaining,
	)
}
