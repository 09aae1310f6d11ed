package trb

const (
	linkToggleCycle = 1 << 1
	linkChain       = 1 << 4
	linkIOC         = 1 << 5
	linkPointerMask = ^uint64(0xF)
)

// Link is a view of a Link TRB (xHCI 6.4.4.1).
type Link struct {
	TRB
}

// NewLink returns a Link TRB pointing at the segment starting at next.
func NewLink(next uint64, cycle, toggle bool) TRB {
	var t TRB
	t.Parameter = next & linkPointerMask
	t.SetType(TypeLink)
	t.SetCycle(cycle)
	if toggle {
		t.Control |= linkToggleCycle
	}
	return t
}

// AsLink returns a Link view of t or a *WrongTypeError.
func AsLink(t TRB) (Link, error) {
	if err := checkType(t, TypeLink); err != nil {
		return Link{}, err
	}
	return Link{t}, nil
}

// Next returns the physical address of the next ring segment.
func (l Link) Next() uint64 {
	return l.Parameter & linkPointerMask
}

// ToggleCycle reports whether the consumer flips its cycle state when
// following the link.
func (l Link) ToggleCycle() bool {
	return l.Control&linkToggleCycle != 0
}

// Chain reports the chain bit.
func (l Link) Chain() bool {
	return l.Control&linkChain != 0
}

// InterruptOnCompletion reports the IOC bit.
func (l Link) InterruptOnCompletion() bool {
	return l.Control&linkIOC != 0
}
