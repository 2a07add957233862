// Package arena provides index-addressed storage with generation counters, so
// a reference to a slot that has since been freed and reused is detected
// instead of silently aliasing the new occupant.
package arena

// Handle refers to one occupant of an arena slot.
type Handle struct {
	Index uint16
	Gen   uint32
}

type slot[T any] struct {
	value T
	gen   uint32
	used  bool
}

// Arena is a dense, fixed-capacity slot array.
type Arena[T any] struct {
	slots    []slot[T]
	free     []uint16
	count    int
	reserved int
}

// New creates an arena with capacity slots, all free.
func New[T any](capacity int) *Arena[T] {
	a := &Arena[T]{
		slots: make([]slot[T], capacity),
		free:  make([]uint16, 0, capacity),
	}
	// Pop from the tail so low indices are handed out first.
	for i := capacity - 1; i >= 0; i-- {
		a.free = append(a.free, uint16(i))
	}
	return a
}

// Reserve keeps indices [0, n) out of Alloc; they can only be filled with
// AllocAt. Slots already handed out are unaffected.
func (a *Arena[T]) Reserve(n int) {
	if n > len(a.slots) {
		n = len(a.slots)
	}
	a.reserved = n
	kept := a.free[:0]
	for _, idx := range a.free {
		if int(idx) >= n {
			kept = append(kept, idx)
		}
	}
	a.free = kept
}

// Cap returns the number of slots.
func (a *Arena[T]) Cap() int { return len(a.slots) }

// Len returns the number of occupied slots.
func (a *Arena[T]) Len() int { return a.count }

// Alloc stores v in a free slot, most recently freed first. ok is false when
// the arena is full.
func (a *Arena[T]) Alloc(v T) (h Handle, ok bool) {
	if len(a.free) == 0 {
		return Handle{}, false
	}
	idx := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return a.occupy(idx, v), true
}

// AllocAt stores v at a specific index, replacing any current occupant. The
// previous occupant's handle becomes stale.
func (a *Arena[T]) AllocAt(index int, v T) (Handle, bool) {
	if index < 0 || index >= len(a.slots) {
		return Handle{}, false
	}
	if a.slots[index].used {
		a.release(uint16(index))
	} else if index >= a.reserved {
		a.takeFree(uint16(index))
	}
	return a.occupy(uint16(index), v), true
}

func (a *Arena[T]) takeFree(idx uint16) {
	for i, f := range a.free {
		if f == idx {
			a.free = append(a.free[:i], a.free[i+1:]...)
			return
		}
	}
}

func (a *Arena[T]) occupy(idx uint16, v T) Handle {
	s := &a.slots[idx]
	s.value = v
	s.used = true
	a.count++
	return Handle{Index: idx, Gen: s.gen}
}

func (a *Arena[T]) release(idx uint16) {
	s := &a.slots[idx]
	var zero T
	s.value = zero
	s.used = false
	s.gen++
	a.count--
}

// Get returns a pointer to the value h refers to, or nil if h is stale.
func (a *Arena[T]) Get(h Handle) *T {
	if int(h.Index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.Index]
	if !s.used || s.gen != h.Gen {
		return nil
	}
	return &s.value
}

// At returns the current occupant of index along with its handle.
func (a *Arena[T]) At(index int) (*T, Handle, bool) {
	if index < 0 || index >= len(a.slots) || !a.slots[index].used {
		return nil, Handle{}, false
	}
	s := &a.slots[index]
	return &s.value, Handle{Index: uint16(index), Gen: s.gen}, true
}

// Free releases the slot h refers to. It reports false if h was already stale.
func (a *Arena[T]) Free(h Handle) bool {
	if a.Get(h) == nil {
		return false
	}
	a.release(h.Index)
	if int(h.Index) >= a.reserved {
		a.free = append(a.free, h.Index)
	}
	return true
}

// FreeAt releases whatever occupies index.
func (a *Arena[T]) FreeAt(index int) bool {
	_, h, ok := a.At(index)
	if !ok {
		return false
	}
	return a.Free(h)
}

// Each visits occupied slots in increasing index order until fn returns false.
func (a *Arena[T]) Each(fn func(h Handle, v *T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used {
			continue
		}
		if !fn(Handle{Index: uint16(i), Gen: s.gen}, &s.value) {
			return
		}
	}
}

// Clear frees every slot, invalidating all outstanding handles.
func (a *Arena[T]) Clear() {
	for i := range a.slots {
		if a.slots[i].used {
			a.release(uint16(i))
		}
	}
	a.free = a.free[:0]
	for i := len(a.slots) - 1; i >= a.reserved; i-- {
		a.free = append(a.free, uint16(i))
	}
}
