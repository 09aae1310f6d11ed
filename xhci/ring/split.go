package ring

import (
	"iter"

	"github.com/ardnew/softxhci/xhci/trb"
)

// Span is the half-open slot range [Start, End).
type Span struct {
	Start, End int
}

// Len returns the number of slots in the span.
func (s Span) Len() int { return s.End - s.Start }

// Split is a view of ring slots that may wrap past the end of the ring:
// First followed by Second. It does not copy; each access reads ring
// memory.
type Split struct {
	s slots

	First  Span
	Second Span
}

// Len returns the total number of slots in the view.
func (v Split) Len() int { return v.First.Len() + v.Second.Len() }

// Empty reports whether the view holds no slots.
func (v Split) Empty() bool { return v.Len() == 0 }

// Index returns the ring slot index of the i-th entry.
func (v Split) Index(i int) int {
	if n := v.First.Len(); i >= n {
		return v.Second.Start + i - n
	}
	return v.First.Start + i
}

// At returns the i-th entry.
func (v Split) At(i int) trb.TRB {
	if i < 0 || i >= v.Len() {
		panic("ring: split index out of range")
	}
	return v.s.load(v.Index(i))
}

// All yields each entry with its position in the view.
func (v Split) All() iter.Seq2[int, trb.TRB] {
	return func(yield func(int, trb.TRB) bool) {
		for i := range v.Len() {
			if !yield(i, v.At(i)) {
				return
			}
		}
	}
}
