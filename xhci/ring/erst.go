package ring

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/dma"
	"github.com/ardnew/softxhci/xhci/mmio"
)

// EntrySize is the size of an Event Ring Segment Table entry.
const EntrySize = 16

// Entry is an Event Ring Segment Table entry (xHCI 6.5): the segment base
// address, its size in TRBs and six reserved bytes.
type Entry struct {
	Base uint64
	Size uint16
}

// SegmentTable is an Event Ring Segment Table describing a single segment.
type SegmentTable struct {
	region dma.Region
	mem    *mmio.Memory
	n      int
}

// NewSegmentTable allocates a one-entry table describing ring.
func NewSegmentTable(ring *EventRing, alloc dma.Allocator) (*SegmentTable, error) {
	if ring.Len() > 0xFFFF {
		return nil, fmt.Errorf("%w: %d-slot event ring segment",
			pkg.ErrInvalidParameter, ring.Len())
	}
	region, err := alloc.Alloc(dma.Request{
		Size:     EntrySize,
		Align:    dma.EventRingSegmentTableAlignment,
		Boundary: dma.EventRingSegmentTableBoundary,
	})
	if err != nil {
		return nil, fmt.Errorf("event ring segment table: %w", err)
	}
	t := &SegmentTable{region: region, mem: region.Memory(), n: 1}
	t.set(0, Entry{Base: ring.Phys(), Size: uint16(ring.Len())})
	return t, nil
}

func (t *SegmentTable) set(i int, e Entry) {
	off := uintptr(i) * EntrySize
	t.mem.Store64(off, e.Base)
	t.mem.Store32(off+8, uint32(e.Size))
	t.mem.Store32(off+12, 0)
}

// Len returns the number of entries, the value for ERSTSZ.
func (t *SegmentTable) Len() int { return t.n }

// Phys returns the table address, the value for ERSTBA.
func (t *SegmentTable) Phys() uint64 { return t.region.Phys }

// Entry returns entry i.
func (t *SegmentTable) Entry(i int) Entry {
	off := uintptr(i) * EntrySize
	return Entry{
		Base: t.mem.Load64(off),
		Size: uint16(t.mem.Load32(off + 8)),
	}
}
