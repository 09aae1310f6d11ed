// Package extcap walks the xHCI extended capability list (xHCI 7).
//
// The list starts at the dword offset published in HCCPARAMS1.xECP and
// each entry holds the dword offset of the next, relative to itself. A
// zero next pointer ends the list.
package extcap

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/mmio"
)

// ID identifies an extended capability.
type ID uint8

// Extended capability IDs (xHCI Table 7-1).
const (
	IDUSBLegacySupport         ID = 1
	IDSupportedProtocol        ID = 2
	IDExtendedPowerManagement  ID = 3
	IDIOVirtualization         ID = 4
	IDMessageInterrupt         ID = 5
	IDLocalMemory              ID = 6
	IDUSBDebug                 ID = 10
	IDExtendedMessageInterrupt ID = 17
)

// String returns the capability name.
func (id ID) String() string {
	switch id {
	case IDUSBLegacySupport:
		return "USB Legacy Support"
	case IDSupportedProtocol:
		return "Supported Protocol"
	case IDExtendedPowerManagement:
		return "Extended Power Management"
	case IDIOVirtualization:
		return "I/O Virtualization"
	case IDMessageInterrupt:
		return "Message Interrupt"
	case IDLocalMemory:
		return "Local Memory"
	case IDUSBDebug:
		return "USB Debug Capability"
	case IDExtendedMessageInterrupt:
		return "Extended Message Interrupt"
	default:
		return fmt.Sprintf("Capability %d", uint8(id))
	}
}

// Capability is one entry of the list.
type Capability struct {
	// Offset is the byte offset of the entry from the MMIO base.
	Offset uintptr
	ID     ID
	// Next is the dword offset of the next entry relative to this one.
	Next uint8
	// Specific holds bits 31:16 of the header.
	Specific uint16
}

func header(w *mmio.Window, off uintptr) Capability {
	v := w.Load32(off)
	return Capability{
		Offset:   off,
		ID:       ID(v),
		Next:     uint8(v >> 8),
		Specific: uint16(v >> 16),
	}
}

// Walk returns every capability reachable from xecp (a dword offset from
// the start of w). It returns pkg.ErrOutOfRange if an entry lies outside
// w. An xecp of zero yields no capabilities.
func Walk(w *mmio.Window, xecp uint16) ([]Capability, error) {
	var caps []Capability
	off := uintptr(xecp) * 4
	for off != 0 {
		if off+4 > w.Size() {
			return caps, fmt.Errorf("%w: extended capability at 0x%x beyond 0x%x",
				pkg.ErrOutOfRange, off, w.Size())
		}
		c := header(w, off)
		caps = append(caps, c)
		pkg.LogDebug(pkg.ComponentExtCap, "extended capability",
			"id", c.ID.String(), "offset", fmt.Sprintf("0x%x", off))
		if c.Next == 0 {
			break
		}
		off += uintptr(c.Next) * 4
	}
	return caps, nil
}
