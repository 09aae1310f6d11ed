package mmio

import (
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/pkg"
)

// Map hands out register windows over one mapped BAR and refuses to open
// two mutable windows whose ranges overlap. Whoever opens a window asserts
// it is the only writer of that range.
type Map struct {
	root *Window

	mu     sync.Mutex
	claims []claim
}

type claim struct {
	name       string
	start, end uintptr
}

// NewMap returns a Map over the whole of root.
func NewMap(root *Window) *Map {
	return &Map{root: root}
}

// Root returns the window covering the whole mapping.
func (m *Map) Root() *Window { return m.root }

// Open claims size bytes at off and returns a window over them.
func (m *Map) Open(name string, off, size uintptr) (*Window, error) {
	w, err := m.root.Sub(off, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.claims {
		if off < c.end && c.start < off+size {
			return nil, fmt.Errorf("%w: %s [0x%x, 0x%x) and %s [0x%x, 0x%x)",
				pkg.ErrOverlap, name, off, off+size, c.name, c.start, c.end)
		}
	}
	m.claims = append(m.claims, claim{name: name, start: off, end: off + size})
	pkg.LogDebug(pkg.ComponentMMIO, "opened register window",
		"name", name, "offset", fmt.Sprintf("0x%x", off), "size", size)
	return w, nil
}

// View returns a window over size bytes at off without claiming them.
// Callers must only read through it.
func (m *Map) View(off, size uintptr) (*Window, error) {
	return m.root.Sub(off, size)
}
