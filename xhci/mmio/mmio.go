// Package mmio provides volatile access to memory-mapped register blocks
// and to memory shared with a bus-mastering device.
//
// Every access goes through [sync/atomic], so the compiler neither reorders
// nor elides it and each access is a single, naturally aligned load or
// store of the stated width. Nothing is cached across calls.
package mmio

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/ardnew/softxhci/pkg"
)

// Bus performs single-width volatile accesses at byte offsets.
//
// Implementations must not split or coalesce accesses. Offsets must be
// naturally aligned for the access width.
type Bus interface {
	Load32(off uintptr) uint32
	Store32(off uintptr, v uint32)
	Load64(off uintptr) uint64
	Store64(off uintptr, v uint64)
}

// Memory is a [Bus] over a byte slice, such as a mapped BAR or a DMA
// buffer. The slice must start on an 8-byte boundary.
type Memory struct {
	buf []byte
}

// NewMemory returns a Memory over buf.
func NewMemory(buf []byte) *Memory {
	if len(buf) > 0 && uintptr(unsafe.Pointer(&buf[0]))%8 != 0 {
		panic("mmio: memory not 8-byte aligned")
	}
	return &Memory{buf: buf}
}

// Alloc returns zeroed, 8-byte aligned Memory of size bytes backed by the
// Go heap. It stands in for a register file or DMA buffer in tests.
func Alloc(size int) *Memory {
	words := make([]uint64, (size+7)/8)
	if len(words) == 0 {
		return &Memory{}
	}
	return &Memory{buf: unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)}
}

// Len returns the size of the memory in bytes.
func (m *Memory) Len() int { return len(m.buf) }

// Bytes returns the underlying slice. Accesses through it are not volatile.
func (m *Memory) Bytes() []byte { return m.buf }

func (m *Memory) ptr(off uintptr, width uintptr) unsafe.Pointer {
	if off%width != 0 || off+width > uintptr(len(m.buf)) {
		panic(fmt.Sprintf("mmio: %d-byte access at 0x%x outside %d-byte memory", width, off, len(m.buf)))
	}
	return unsafe.Pointer(&m.buf[off])
}

// Load32 implements Bus.
func (m *Memory) Load32(off uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(m.ptr(off, 4)))
}

// Store32 implements Bus.
func (m *Memory) Store32(off uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(m.ptr(off, 4)), v)
}

// Load64 implements Bus.
func (m *Memory) Load64(off uintptr) uint64 {
	return atomic.LoadUint64((*uint64)(m.ptr(off, 8)))
}

// Store64 implements Bus.
func (m *Memory) Store64(off uintptr, v uint64) {
	atomic.StoreUint64((*uint64)(m.ptr(off, 8)), v)
}

// Zero clears n bytes starting at off with volatile 64-bit stores.
// off and n must be multiples of 8.
func (m *Memory) Zero(off, n uintptr) {
	if off%8 != 0 || n%8 != 0 {
		panic("mmio: zero range not 8-byte aligned")
	}
	for i := uintptr(0); i < n; i += 8 {
		m.Store64(off+i, 0)
	}
}

// Window is a bounded view of a Bus starting at a base offset.
type Window struct {
	bus  Bus
	base uintptr
	size uintptr
}

// NewWindow returns a Window over the first size bytes of bus.
func NewWindow(bus Bus, size uintptr) *Window {
	return &Window{bus: bus, size: size}
}

// Size returns the window size in bytes.
func (w *Window) Size() uintptr { return w.size }

// Base returns the window's offset on its bus.
func (w *Window) Base() uintptr { return w.base }

// Bus returns the bus the window is a view of.
func (w *Window) Bus() Bus { return w.bus }

// Sub returns a view of size bytes at off within w.
func (w *Window) Sub(off, size uintptr) (*Window, error) {
	if off > w.size || size > w.size-off {
		return nil, fmt.Errorf("%w: window [0x%x, 0x%x) in 0x%x bytes",
			pkg.ErrOutOfRange, off, off+size, w.size)
	}
	return &Window{bus: w.bus, base: w.base + off, size: size}, nil
}

func (w *Window) check(off, width uintptr) uintptr {
	if off+width > w.size {
		panic(fmt.Sprintf("mmio: %d-byte access at 0x%x outside 0x%x-byte window", width, off, w.size))
	}
	return w.base + off
}

// Load32 reads the 32-bit register at off.
func (w *Window) Load32(off uintptr) uint32 { return w.bus.Load32(w.check(off, 4)) }

// Store32 writes the 32-bit register at off.
func (w *Window) Store32(off uintptr, v uint32) { w.bus.Store32(w.check(off, 4), v) }

// Load64 reads the 64-bit register at off.
func (w *Window) Load64(off uintptr) uint64 { return w.bus.Load64(w.check(off, 8)) }

// Store64 writes the 64-bit register at off.
func (w *Window) Store64(off uintptr, v uint64) { w.bus.Store64(w.check(off, 8), v) }
