package ring

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/dma"
	"github.com/ardnew/softxhci/xhci/regs"
)

// EventRing is a single-segment, controller-produced event queue
// (xHCI 4.9.4). It has no Link TRB; the controller wraps by index.
type EventRing struct {
	s slots

	dequeue       int
	consumerCycle bool
}

// NewEventRing allocates an n-slot event ring.
func NewEventRing(n int, alloc dma.Allocator) (*EventRing, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: event ring needs at least 1 slot, got %d",
			pkg.ErrInvalidParameter, n)
	}
	s, err := allocSlots(n, dma.EventRingAlignment, dma.EventRingBoundary, alloc)
	if err != nil {
		return nil, fmt.Errorf("event ring: %w", err)
	}
	pkg.LogDebug(pkg.ComponentEventRing, "event ring created",
		"slots", n, "phys", fmt.Sprintf("0x%x", s.region.Phys))
	return &EventRing{s: s, consumerCycle: true}, nil
}

// Len returns the number of slots.
func (r *EventRing) Len() int { return r.s.n }

// Phys returns the physical address of slot 0.
func (r *EventRing) Phys() uint64 { return r.s.region.Phys }

// DequeueIndex returns the next slot software will read.
func (r *EventRing) DequeueIndex() int { return r.dequeue }

// DequeuePhys returns the physical address of the dequeue slot.
func (r *EventRing) DequeuePhys() uint64 { return r.s.phys(r.dequeue) }

// ConsumerCycle returns the cycle state expected at the dequeue slot.
func (r *EventRing) ConsumerCycle() bool { return r.consumerCycle }

// UpdateERDP publishes the current dequeue pointer without touching the
// Event Handler Busy flag.
func (r *EventRing) UpdateERDP(erdp ERDPRegister) {
	var v regs.ERDP
	v.SetPointer(r.DequeuePhys())
	erdp.WriteERDP(uint64(v))
}

// Peek returns the events published since the last advance. The view is
// read lazily from ring memory.
//
// Slots from the dequeue index to the end of the ring are valid while
// their cycle bit equals the consumer cycle state. If the scan reaches
// the end, it continues from slot 0 against the flipped state.
func (r *EventRing) Peek() Split {
	for i := r.dequeue; i < r.s.n; i++ {
		if r.s.cycle(i) != r.consumerCycle {
			return Split{s: r.s, First: Span{r.dequeue, i}}
		}
	}
	next := !r.consumerCycle
	for i := 0; i < r.dequeue; i++ {
		if r.s.cycle(i) != next {
			return Split{s: r.s, First: Span{r.dequeue, r.s.n}, Second: Span{0, i}}
		}
	}
	return Split{s: r.s, First: Span{r.dequeue, r.s.n}, Second: Span{0, r.dequeue}}
}

// AdvanceDequeuePointer consumes count events and publishes the new
// dequeue pointer to erdp with the Event Handler Busy flag written,
// which clears it and lets the interrupter fire again.
//
// Advancing past what Peek reports returns pkg.ErrAdvanceOverrun and
// leaves the ring unchanged.
func (r *EventRing) AdvanceDequeuePointer(count int, erdp ERDPRegister) error {
	if avail := r.Peek().Len(); count < 0 || count > avail {
		return fmt.Errorf("%w: advance %d with %d available",
			pkg.ErrAdvanceOverrun, count, avail)
	}

	if count >= r.s.n-r.dequeue {
		r.consumerCycle = !r.consumerCycle
		pkg.LogDebug(pkg.ComponentEventRing, "dequeue wrapped",
			"consumer_cycle", r.consumerCycle)
	}
	r.dequeue = wrapAdd(r.dequeue, count, r.s.n)

	var v regs.ERDP
	v.SetPointer(r.DequeuePhys())
	v.SetBusy(true)
	erdp.WriteERDP(uint64(v))
	return nil
}
