package ring

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/dma"
	"github.com/ardnew/softxhci/xhci/trb"
)

// CommandRing is the software-produced, controller-consumed command queue
// (xHCI 4.9.3). The last slot holds a Link TRB back to the first.
//
// The dequeue index only moves when a Command Completion Event reports
// the controller's progress.
type CommandRing struct {
	s slots

	enqueue       int
	producerCycle bool
	dequeue       int
	consumerCycle bool
}

// NewCommandRing allocates an n-slot command ring, writes its trailing
// Link TRB and programs crcr with the ring's base and cycle state.
func NewCommandRing(n int, crcr CRCRRegister, alloc dma.Allocator) (*CommandRing, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: command ring needs at least 2 slots, got %d",
			pkg.ErrInvalidParameter, n)
	}
	s, err := allocSlots(n, dma.CommandRingAlignment, dma.CommandRingBoundary, alloc)
	if err != nil {
		return nil, fmt.Errorf("command ring: %w", err)
	}

	const initialCycle = true
	s.store(n-1, trb.NewLink(s.region.Phys, initialCycle, true))

	v := s.region.Phys &^ 0x3F
	if initialCycle {
		v |= 1
	}
	crcr.WriteCRCR(v)

	pkg.LogDebug(pkg.ComponentCommandRing, "command ring created",
		"slots", n, "phys", fmt.Sprintf("0x%x", s.region.Phys))

	return &CommandRing{
		s:             s,
		producerCycle: initialCycle,
		consumerCycle: initialCycle,
	}, nil
}

// Len returns the number of slots including the Link TRB.
func (r *CommandRing) Len() int { return r.s.n }

// Phys returns the physical address of slot 0.
func (r *CommandRing) Phys() uint64 { return r.s.region.Phys }

// EnqueueIndex returns the next slot software will write.
func (r *CommandRing) EnqueueIndex() int { return r.enqueue }

// DequeueIndex returns the slot after the last completed command.
func (r *CommandRing) DequeueIndex() int { return r.dequeue }

// ProducerCycle returns the cycle state stamped on new commands.
func (r *CommandRing) ProducerCycle() bool { return r.producerCycle }

// ConsumerCycle returns the cycle state the controller is consuming.
func (r *CommandRing) ConsumerCycle() bool { return r.consumerCycle }

// Slot returns the TRB in slot i.
func (r *CommandRing) Slot(i int) trb.TRB { return r.s.load(i) }

// Full reports whether TryEnqueue would fail.
func (r *CommandRing) Full() bool {
	if r.consumerCycle == r.producerCycle {
		return r.enqueue < r.dequeue
	}
	return r.enqueue >= r.dequeue
}

// TryEnqueue publishes t in the next free slot and returns the slot's
// physical address. The cycle bit of t is overwritten. It returns
// pkg.ErrRingFull without blocking when no slot is free.
func (r *CommandRing) TryEnqueue(t trb.TRB) (uint64, error) {
	if r.Full() {
		return 0, pkg.ErrRingFull
	}

	i := r.enqueue
	t.SetCycle(r.producerCycle)
	r.s.store(i, t)

	r.enqueue++
	if r.enqueue == r.s.n-1 {
		// Hand the Link TRB to the controller, then start the next lap.
		r.s.setCycle(r.enqueue, r.producerCycle)
		r.producerCycle = !r.producerCycle
		r.enqueue = 0
		pkg.LogDebug(pkg.ComponentCommandRing, "enqueue wrapped",
			"producer_cycle", r.producerCycle)
	}
	return r.s.phys(i), nil
}

// ProcessEvent moves the dequeue index past the command reported by a
// Command Completion Event. Other events, and completions that do not
// point into this ring, are ignored. It reports whether ev was used.
//
// Commands complete in the order they were queued and at most one lap
// passes between completions, so a dequeue index that does not move
// forward means the controller wrapped.
func (r *CommandRing) ProcessEvent(ev trb.TRB) bool {
	cce, err := trb.AsCommandCompletionEvent(ev)
	if err != nil {
		return false
	}

	ptr := cce.CommandPointer()
	if ptr < r.s.region.Phys {
		pkg.LogWarn(pkg.ComponentCommandRing, "completion outside ring",
			"pointer", fmt.Sprintf("0x%x", ptr))
		return false
	}
	index := (ptr - r.s.region.Phys) / trb.Size
	if index >= uint64(r.s.n-1) {
		pkg.LogWarn(pkg.ComponentCommandRing, "completion outside ring",
			"pointer", fmt.Sprintf("0x%x", ptr))
		return false
	}

	next := int(index) + 1
	if next <= r.dequeue {
		r.consumerCycle = !r.consumerCycle
		pkg.LogDebug(pkg.ComponentCommandRing, "dequeue wrapped",
			"consumer_cycle", r.consumerCycle)
	}
	r.dequeue = next
	pkg.LogDebug(pkg.ComponentCommandRing, "dequeue pointer updated", "index", next)
	return true
}
