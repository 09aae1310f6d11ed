// Package dma describes memory shared between the driver and the host
// controller.
//
// Every buffer the controller reads or writes is described by two
// addresses at once: the physical address the controller uses and the
// process-local view software uses. The mapping between the two is
// defined by the [Allocator]; nothing in the driver recomputes one from
// the other.
package dma

import (
	"fmt"
	"math/bits"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/mmio"
)

// PageSize is the smallest page size an xHC supports.
const PageSize = 0x1000

// Alignment and boundary constraints of xHC data structures (xHCI 6, Table 6-1).
const (
	DeviceContextAlignment = 64
	DeviceContextBoundary  = PageSize

	CommandRingAlignment = 64
	CommandRingBoundary  = 64 * 1024

	EventRingAlignment = 64
	EventRingBoundary  = 64 * 1024

	EventRingSegmentTableAlignment = 64
	EventRingSegmentTableBoundary  = PageSize

	ScratchpadArrayAlignment = 64
	ScratchpadArrayBoundary  = PageSize

	ScratchpadBufferAlignment = PageSize
	ScratchpadBufferBoundary  = PageSize

	TransferRingAlignment = 16
	TransferRingBoundary  = 64 * 1024
)

// Request describes a physically contiguous allocation.
type Request struct {
	// Size in bytes. Must not exceed Boundary.
	Size uint64
	// Align is a power of two no greater than Boundary.
	Align uint64
	// Boundary is a power of two the region must not cross.
	Boundary uint64
}

// Validate reports whether the request is well formed.
func (r Request) Validate() error {
	switch {
	case r.Size == 0:
		return fmt.Errorf("%w: zero-size allocation", pkg.ErrInvalidParameter)
	case bits.OnesCount64(r.Align) != 1:
		return fmt.Errorf("%w: alignment %d is not a power of two", pkg.ErrInvalidParameter, r.Align)
	case bits.OnesCount64(r.Boundary) != 1:
		return fmt.Errorf("%w: boundary %d is not a power of two", pkg.ErrInvalidParameter, r.Boundary)
	case r.Size > r.Boundary:
		return fmt.Errorf("%w: size %d exceeds boundary %d", pkg.ErrInvalidParameter, r.Size, r.Boundary)
	case r.Align > r.Boundary:
		return fmt.Errorf("%w: alignment %d exceeds boundary %d", pkg.ErrInvalidParameter, r.Align, r.Boundary)
	}
	return nil
}

// Region is an allocated buffer. Mem must be mapped uncached (or coherent)
// so the controller and software observe each other's writes.
type Region struct {
	Phys uint64
	Mem  []byte
}

// Len returns the region size in bytes.
func (r Region) Len() int { return len(r.Mem) }

// Memory returns a volatile view of the region.
func (r Region) Memory() *mmio.Memory { return mmio.NewMemory(r.Mem) }

// Allocator supplies controller-visible memory.
type Allocator interface {
	Alloc(req Request) (Region, error)
}
