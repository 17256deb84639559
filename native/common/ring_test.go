package common

import (
	"reflect"
	"testing"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[uint64](3)
	for i := uint64(1); i <= 3; i++ {
		if r.Push(i) {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	if !r.Push(4) {
		t.Fatalf("expected eviction once full")
	}
	if got := r.Items(); !reflect.DeepEqual(got, []uint64{2, 3, 4}) {
		t.Fatalf("unexpected items %v", got)
	}
	last, ok := r.Last()
	if !ok || last != 4 {
		t.Fatalf("unexpected last %d (ok=%v)", last, ok)
	}
	if r.Len() != 3 || r.Cap() != 3 {
		t.Fatalf("unexpected len/cap %d/%d", r.Len(), r.Cap())
	}
}

func TestRingEmpty(t *testing.T) {
	r := NewRing[string](0)
	if r.Cap() != 1 {
		t.Fatalf("expected capacity floor of 1, got %d", r.Cap())
	}
	if _, ok := r.Last(); ok {
		t.Fatalf("empty ring must not report a last entry")
	}
	if r.Items() != nil {
		t.Fatalf("empty ring must return nil items")
	}
	var zero Ring[string]
	zero.Push("a")
	if got := zero.Items(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("zero-value ring push failed: %v", got)
	}
}

func TestRingResizeKeepsNewest(t *testing.T) {
	r := NewRing[uint64](4)
	for i := uint64(1); i <= 6; i++ {
		r.Push(i)
	}
	shrunk := r.Resize(2)
	if got := shrunk.Items(); !reflect.DeepEqual(got, []uint64{5, 6}) {
		t.Fatalf("unexpected shrunk items %v", got)
	}
	grown := r.Resize(8)
	if got := grown.Items(); !reflect.DeepEqual(got, []uint64{3, 4, 5, 6}) {
		t.Fatalf("unexpected grown items %v", got)
	}
	clone := r.Clone()
	clone.Push(7)
	if got := r.Items(); !reflect.DeepEqual(got, []uint64{3, 4, 5, 6}) {
		t.Fatalf("clone mutated original: %v", got)
	}
}
