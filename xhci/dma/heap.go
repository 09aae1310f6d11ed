package dma

import (
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/pkg"
)

// Heap is a bump allocator over a pre-mapped buffer whose physical layout
// is described by a page table. Allocations never cross a page, so each
// one is physically contiguous even when the pages are not.
//
// Heap never frees; the driver keeps its structures for its lifetime.
type Heap struct {
	mu       sync.Mutex
	mem      []byte
	pages    []uint64
	pageSize uint64
	next     uint64
}

// NewHeap returns a Heap over mem, which is physically contiguous starting
// at phys.
func NewHeap(mem []byte, phys uint64) *Heap {
	return &Heap{mem: mem, pages: []uint64{phys}, pageSize: uint64(len(mem))}
}

// NewPagedHeap returns a Heap over mem where page i of pageSize bytes
// starts at physical address pages[i].
func NewPagedHeap(mem []byte, pages []uint64, pageSize uint64) (*Heap, error) {
	if pageSize == 0 || uint64(len(pages))*pageSize != uint64(len(mem)) {
		return nil, fmt.Errorf("%w: %d pages of %d bytes for %d-byte heap",
			pkg.ErrInvalidParameter, len(pages), pageSize, len(mem))
	}
	return &Heap{mem: mem, pages: pages, pageSize: pageSize}, nil
}

// Alloc implements Allocator. The returned memory is zeroed.
func (h *Heap) Alloc(req Request) (Region, error) {
	if err := req.Validate(); err != nil {
		return Region{}, err
	}
	if req.Size > h.pageSize {
		return Region{}, fmt.Errorf("%w: %d bytes exceeds %d-byte page",
			pkg.ErrNoMemory, req.Size, h.pageSize)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	off := h.next
	for {
		off = alignUp(h.phys(off), req.Align) - h.phys(off) + off
		page := off / h.pageSize
		if page >= uint64(len(h.pages)) || off+req.Size > uint64(len(h.mem)) {
			return Region{}, fmt.Errorf("%w: heap exhausted at %d of %d bytes",
				pkg.ErrNoMemory, h.next, len(h.mem))
		}
		// Stay inside one page.
		if end := (page + 1) * h.pageSize; off+req.Size > end {
			off = end
			continue
		}
		// Stay inside one boundary window.
		start := h.phys(off)
		if limit := alignDown(start, req.Boundary) + req.Boundary; start+req.Size > limit {
			off += limit - start
			continue
		}
		break
	}

	h.next = off + req.Size
	mem := h.mem[off : off+req.Size : off+req.Size]
	clear(mem)

	r := Region{Phys: h.phys(off), Mem: mem}
	pkg.LogDebug(pkg.ComponentDMA, "allocated",
		"phys", fmt.Sprintf("0x%x", r.Phys),
		"size", req.Size, "align", req.Align, "boundary", req.Boundary)
	return r, nil
}

// Translate returns the n bytes at physical address phys. It is how an
// agent that only knows physical addresses reaches the heap.
func (h *Heap) Translate(phys uint64, n uint64) ([]byte, error) {
	for i, base := range h.pages {
		if phys >= base && phys-base+n <= h.pageSize {
			off := uint64(i)*h.pageSize + (phys - base)
			return h.mem[off : off+n : off+n], nil
		}
	}
	return nil, fmt.Errorf("%w: physical [0x%x, 0x%x) not in heap",
		pkg.ErrOutOfRange, phys, phys+n)
}

// Used returns the number of bytes consumed, including alignment padding.
func (h *Heap) Used() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

// phys maps a heap offset to its physical address. off may equal the heap
// length, in which case the address one past the last page is returned.
func (h *Heap) phys(off uint64) uint64 {
	page := off / h.pageSize
	if page >= uint64(len(h.pages)) {
		last := uint64(len(h.pages)) - 1
		return h.pages[last] + h.pageSize + (off - (last+1)*h.pageSize)
	}
	return h.pages[page] + off%h.pageSize
}

func alignUp(v, a uint64) uint64   { return (v + a - 1) &^ (a - 1) }
func alignDown(v, a uint64) uint64 { return v &^ (a - 1) }
