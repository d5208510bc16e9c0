package book

// nilSlot terminates the per-level linked lists.
const nilSlot int32 = -1

// handle is a stable reference to a slot. The generation guards against a
// handle outliving the order it was issued for once the slot is reused.
type handle struct {
	index int32
	gen   uint32
}

type slot struct {
	order      RestingOrder
	prev, next int32
	gen        uint32
	used       bool
}

// arena owns every resting order. Slots are recycled through a free list so a
// busy book does not churn the allocator. Pointers returned by at and get are
// only valid until the next alloc.
type arena struct {
	slots []slot
	free  []int32
}

func (a *arena) alloc(o RestingOrder) handle {
	var idx int32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = int32(len(a.slots))
		a.slots = append(a.slots, slot{})
	}

	s := &a.slots[idx]
	s.order = o
	s.prev, s.next = nilSlot, nilSlot
	s.used = true
	return handle{index: idx, gen: s.gen}
}

func (a *arena) at(idx int32) *slot {
	return &a.slots[idx]
}

// get resolves a handle, returning nil when the slot has since been released.
func (a *arena) get(h handle) *slot {
	if h.index < 0 || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if !s.used || s.gen != h.gen {
		return nil
	}
	return s
}

func (a *arena) release(idx int32) {
	s := &a.slots[idx]
	s.order = RestingOrder{}
	s.prev, s.next = nilSlot, nilSlot
	s.used = false
	s.gen++
	a.free = append(a.free, idx)
}

func (a *arena) live() int {
	return len(a.slots) - len(a.free)
}
