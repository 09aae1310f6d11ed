// Package ring implements the xHCI Command Ring, Event Ring and Event Ring
// Segment Table.
//
// Both rings live in controller-visible memory and are shared with the
// controller without locks. The cycle bit of each TRB tells the consumer
// whether the producer has published that slot in the current lap. A TRB
// is always published by writing its control word last.
//
// Ring types are not safe for concurrent use; callers serialize access.
package ring

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/dma"
	"github.com/ardnew/softxhci/xhci/mmio"
	"github.com/ardnew/softxhci/xhci/trb"
)

// CRCRRegister is the Command Ring Control Register.
type CRCRRegister interface {
	WriteCRCR(v uint64)
}

// ERDPRegister is an interrupter's Event Ring Dequeue Pointer register.
type ERDPRegister interface {
	WriteERDP(v uint64)
}

const (
	offParameter = 0
	offStatus    = 8
	offControl   = 12
)

// slots is an array of TRBs in controller-visible memory.
type slots struct {
	region dma.Region
	mem    *mmio.Memory
	n      int
}

func allocSlots(n int, align, boundary uint64, alloc dma.Allocator) (slots, error) {
	region, err := alloc.Alloc(dma.Request{
		Size:     uint64(n) * trb.Size,
		Align:    align,
		Boundary: boundary,
	})
	if err != nil {
		return slots{}, err
	}
	if region.Len() < n*trb.Size {
		return slots{}, fmt.Errorf("%w: allocator returned %d bytes for %d TRBs",
			pkg.ErrNoMemory, region.Len(), n)
	}
	s := slots{region: region, mem: region.Memory(), n: n}
	// An all-zero TRB is an empty slot.
	s.mem.Zero(0, uintptr(n*trb.Size))
	return s, nil
}

func (s slots) off(i int) uintptr { return uintptr(i) * trb.Size }

func (s slots) phys(i int) uint64 { return s.region.Phys + uint64(i)*trb.Size }

func (s slots) load(i int) trb.TRB {
	o := s.off(i)
	var t trb.TRB
	t.Control = s.mem.Load32(o + offControl)
	t.Parameter = s.mem.Load64(o + offParameter)
	t.Status = s.mem.Load32(o + offStatus)
	return t
}

func (s slots) cycle(i int) bool {
	return s.mem.Load32(s.off(i)+offControl)&1 != 0
}

// store writes t into slot i, control word last.
func (s slots) store(i int, t trb.TRB) {
	o := s.off(i)
	s.mem.Store64(o+offParameter, t.Parameter)
	s.mem.Store32(o+offStatus, t.Status)
	s.mem.Store32(o+offControl, t.Control)
}

func (s slots) setCycle(i int, c bool) {
	o := s.off(i) + offControl
	v := s.mem.Load32(o)
	if c {
		v |= 1
	} else {
		v &^= 1
	}
	s.mem.Store32(o, v)
}

// wrapAdd returns (p + a) mod n for 0 <= p < n and 0 <= a <= n.
func wrapAdd(p, a, n int) int {
	if a >= n-p {
		return a - (n - p)
	}
	return p + a
}
