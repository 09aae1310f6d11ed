package mmio

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ardnew/softxhci/pkg"
)

// =============================================================================
// Memory Tests
// =============================================================================

func TestMemory_LoadStore(t *testing.T) {
	m := Alloc(32)

	m.Store32(4, 0xDEADBEEF)
	m.Store64(8, 0x0123456789ABCDEF)

	if got := m.Load32(4); got != 0xDEADBEEF {
		t.Errorf("Load32(4) = 0x%08X, want 0xDEADBEEF", got)
	}
	if got := m.Load64(8); got != 0x0123456789ABCDEF {
		t.Errorf("Load64(8) = 0x%016X, want 0x0123456789ABCDEF", got)
	}

	// Register layout is little-endian on the wire.
	if got := binary.LittleEndian.Uint32(m.Bytes()[4:]); got != 0xDEADBEEF {
		t.Errorf("bytes[4:8] = 0x%08X, want 0xDEADBEEF", got)
	}
	if got := m.Load32(8); got != 0x89ABCDEF {
		t.Errorf("Load32(8) = 0x%08X, want low half 0x89ABCDEF", got)
	}
}

func TestMemory_Zero(t *testing.T) {
	m := Alloc(24)
	for off := uintptr(0); off < 24; off += 8 {
		m.Store64(off, ^uint64(0))
	}
	m.Zero(8, 16)

	if got := m.Load64(0); got != ^uint64(0) {
		t.Errorf("Load64(0) = 0x%X, want untouched", got)
	}
	for off := uintptr(8); off < 24; off += 8 {
		if got := m.Load64(off); got != 0 {
			t.Errorf("Load64(%d) = 0x%X, want 0", off, got)
		}
	}
}

func TestMemory_Misaligned(t *testing.T) {
	m := Alloc(16)
	defer func() {
		if recover() == nil {
			t.Error("misaligned Load64 did not panic")
		}
	}()
	m.Load64(4)
}

func TestMemory_OutOfBounds(t *testing.T) {
	m := Alloc(16)
	defer func() {
		if recover() == nil {
			t.Error("out-of-bounds Store32 did not panic")
		}
	}()
	m.Store32(16, 1)
}

// =============================================================================
// Window Tests
// =============================================================================

func TestWindow_Sub(t *testing.T) {
	m := Alloc(0x100)
	root := NewWindow(m, 0x100)

	w, err := root.Sub(0x40, 0x20)
	if err != nil {
		t.Fatalf("Sub() error = %v", err)
	}
	if w.Base() != 0x40 || w.Size() != 0x20 {
		t.Errorf("Sub() = base 0x%x size 0x%x, want 0x40/0x20", w.Base(), w.Size())
	}

	w.Store32(0x4, 7)
	if got := m.Load32(0x44); got != 7 {
		t.Errorf("backing Load32(0x44) = %d, want 7", got)
	}

	if _, err := root.Sub(0xF0, 0x20); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Sub() past end error = %v, want ErrOutOfRange", err)
	}
}

func TestWindow_AccessOutsidePanics(t *testing.T) {
	w := NewWindow(Alloc(0x10), 0x8)
	defer func() {
		if recover() == nil {
			t.Error("access outside window did not panic")
		}
	}()
	w.Load32(0x8)
}

// =============================================================================
// Map Tests
// =============================================================================

func TestMap_Open(t *testing.T) {
	tests := []struct {
		name    string
		off     uintptr
		size    uintptr
		wantErr error
	}{
		{"disjoint", 0x40, 0x40, nil},
		{"adjacent", 0x80, 0x10, nil},
		{"overlap start", 0x00, 0x24, pkg.ErrOverlap},
		{"overlap inside", 0x44, 0x04, pkg.ErrOverlap},
		{"out of range", 0xF8, 0x10, pkg.ErrOutOfRange},
	}

	m := NewMap(NewWindow(Alloc(0x100), 0x100))
	if _, err := m.Open("capability", 0, 0x20); err != nil {
		t.Fatalf("Open(capability) error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Open(tt.name, tt.off, tt.size)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMap_ViewDoesNotClaim(t *testing.T) {
	m := NewMap(NewWindow(Alloc(0x100), 0x100))
	if _, err := m.View(0, 0x100); err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if _, err := m.Open("operational", 0x20, 0x40); err != nil {
		t.Errorf("Open() after View() error = %v", err)
	}
}
