package extcap

import (
	"fmt"
	"strings"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/mmio"
)

// SupportedProtocol is the xHCI Supported Protocol Capability (xHCI 7.2).
type SupportedProtocol struct {
	Offset        uintptr
	RevisionMajor uint8
	RevisionMinor uint8
	// Name is the four-character name string, normally "USB ".
	Name            string
	PortOffset      uint8
	PortCount       uint8
	ProtocolDefined uint16
	SlotType        uint8
	Speeds          []PSI
}

// String implements fmt.Stringer.
func (p SupportedProtocol) String() string {
	return fmt.Sprintf("%s %x.%02x ports %d-%d",
		strings.TrimSpace(p.Name), p.RevisionMajor, p.RevisionMinor,
		p.PortOffset, int(p.PortOffset)+int(p.PortCount)-1)
}

// HasPort reports whether the 1-based root hub port belongs to this
// protocol.
func (p SupportedProtocol) HasPort(port uint8) bool {
	return port >= p.PortOffset && int(port) < int(p.PortOffset)+int(p.PortCount)
}

// PSI is a Protocol Speed ID dword.
type PSI uint32

// Link types reported in PSI.PLT.
const (
	PLTSymmetric    = 0
	PLTAsymmetricRx = 2
	PLTAsymmetricTx = 3
)

// Value returns PSIV, the value reported in PORTSC.Speed.
func (p PSI) Value() uint8 { return uint8(p & 0xF) }

// Exponent returns PSIE: 0 b/s, 1 Kb/s, 2 Mb/s, 3 Gb/s.
func (p PSI) Exponent() uint8 { return uint8(p >> 4 & 0x3) }

// LinkType returns PLT.
func (p PSI) LinkType() uint8 { return uint8(p >> 6 & 0x3) }

// FullDuplex reports PFD.
func (p PSI) FullDuplex() bool { return p>>8&1 != 0 }

// LinkProtocol returns LP (0 SuperSpeed, 1 SuperSpeedPlus).
func (p PSI) LinkProtocol() uint8 { return uint8(p >> 14 & 0x3) }

// Mantissa returns PSIM.
func (p PSI) Mantissa() uint16 { return uint16(p >> 16) }

// BitRate returns the speed in bits per second.
func (p PSI) BitRate() uint64 {
	r := uint64(p.Mantissa())
	for range p.Exponent() {
		r *= 1000
	}
	return r
}

// String implements fmt.Stringer.
func (p PSI) String() string {
	units := [...]string{"b/s", "Kb/s", "Mb/s", "Gb/s"}
	return fmt.Sprintf("PSIV %d: %d %s", p.Value(), p.Mantissa(), units[p.Exponent()])
}

const protocolHeaderSize = 16

// ParseSupportedProtocol decodes the Supported Protocol capability c.
func ParseSupportedProtocol(w *mmio.Window, c Capability) (SupportedProtocol, error) {
	if c.ID != IDSupportedProtocol {
		return SupportedProtocol{}, fmt.Errorf("%w: %s is not a supported protocol capability",
			pkg.ErrInvalidParameter, c.ID)
	}
	if c.Offset+protocolHeaderSize > w.Size() {
		return SupportedProtocol{}, fmt.Errorf("%w: supported protocol at 0x%x",
			pkg.ErrOutOfRange, c.Offset)
	}

	dw0 := w.Load32(c.Offset)
	name := w.Load32(c.Offset + 4)
	dw2 := w.Load32(c.Offset + 8)
	dw3 := w.Load32(c.Offset + 12)

	p := SupportedProtocol{
		Offset:          c.Offset,
		RevisionMinor:   uint8(dw0 >> 16),
		RevisionMajor:   uint8(dw0 >> 24),
		Name:            string([]byte{byte(name), byte(name >> 8), byte(name >> 16), byte(name >> 24)}),
		PortOffset:      uint8(dw2),
		PortCount:       uint8(dw2 >> 8),
		ProtocolDefined: uint16(dw2 >> 16 & 0xFFF),
		SlotType:        uint8(dw3 & 0x1F),
	}

	psic := int(dw2 >> 28)
	end := c.Offset + protocolHeaderSize + uintptr(psic)*4
	if end > w.Size() {
		return p, fmt.Errorf("%w: %d protocol speed IDs at 0x%x",
			pkg.ErrOutOfRange, psic, c.Offset)
	}
	for i := range psic {
		p.Speeds = append(p.Speeds, PSI(w.Load32(c.Offset+protocolHeaderSize+uintptr(i)*4)))
	}
	return p, nil
}

// SupportedProtocols walks the list and decodes every Supported Protocol
// capability.
func SupportedProtocols(w *mmio.Window, xecp uint16) ([]SupportedProtocol, error) {
	caps, err := Walk(w, xecp)
	if err != nil {
		return nil, err
	}
	var out []SupportedProtocol
	for _, c := range caps {
		if c.ID != IDSupportedProtocol {
			continue
		}
		p, err := ParseSupportedProtocol(w, c)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}
