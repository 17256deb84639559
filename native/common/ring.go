package common

// Ring is a fixed-capacity buffer backed by a preallocated arena. Pushing into
// a full ring overwrites the oldest entry. Fields are exported so the ring can
// be persisted as-is.
type Ring[T any] struct {
	Slots []T
	Head  uint32 // index of the next write
	Size  uint32
}

// NewRing allocates a ring holding at most capacity entries. A capacity below
// one is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{Slots: make([]T, capacity)}
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.Slots)
}

// Len returns the number of live entries.
func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return int(r.Size)
}

// Push appends v, reporting whether an older entry was evicted.
func (r *Ring[T]) Push(v T) bool {
	if len(r.Slots) == 0 {
		r.Slots = make([]T, 1)
		r.Head, r.Size = 0, 0
	}
	capacity := uint32(len(r.Slots))
	r.Slots[r.Head%capacity] = v
	r.Head = (r.Head + 1) % capacity
	if r.Size < capacity {
		r.Size++
		return false
	}
	return true
}

// Items returns the live entries ordered oldest first.
func (r *Ring[T]) Items() []T {
	if r == nil || r.Size == 0 {
		return nil
	}
	capacity := uint32(len(r.Slots))
	out := make([]T, 0, r.Size)
	start := (r.Head + capacity - r.Size) % capacity
	for i := uint32(0); i < r.Size; i++ {
		out = append(out, r.Slots[(start+i)%capacity])
	}
	return out
}

// Last returns the most recently pushed entry.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r == nil || r.Size == 0 {
		return zero, false
	}
	capacity := uint32(len(r.Slots))
	return r.Slots[(r.Head+capacity-1)%capacity], true
}

// Resize returns a ring of the new capacity holding the newest entries of r.
func (r *Ring[T]) Resize(capacity int) *Ring[T] {
	out := NewRing[T](capacity)
	items := r.Items()
	if len(items) > out.Cap() {
		items = items[len(items)-out.Cap():]
	}
	for _, item := range items {
		out.Push(item)
	}
	return out
}

// Clone returns an independent copy.
func (r *Ring[T]) Clone() *Ring[T] {
	if r == nil {
		return nil
	}
	return &Ring[T]{Slots: append([]T(nil), r.Slots...), Head: r.Head, Size: r.Size}
}
