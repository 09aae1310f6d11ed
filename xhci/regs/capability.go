package regs

import (
	"fmt"

	"github.com/ardnew/softxhci/xhci/mmio"
)

// Capability register offsets (xHCI 5.3).
const (
	CapLength     = 0x00
	CapHCSParams1 = 0x04
	CapHCSParams2 = 0x08
	CapHCSParams3 = 0x0C
	CapHCCParams1 = 0x10
	CapDBOff      = 0x14
	CapRTSOff     = 0x18
	CapHCCParams2 = 0x1C

	// CapabilitySize covers the fixed capability registers.
	CapabilitySize = 0x20
)

// HCSParams1 is the Structural Parameters 1 register.
type HCSParams1 uint32

// MaxSlots returns the number of device slots supported.
func (p HCSParams1) MaxSlots() uint8 { return uint8(field(p, 0, 8)) }

// MaxInterrupters returns the number of interrupters implemented.
func (p HCSParams1) MaxInterrupters() uint16 { return uint16(field(p, 8, 11)) }

// MaxPorts returns the number of root hub ports.
func (p HCSParams1) MaxPorts() uint8 { return uint8(field(p, 24, 8)) }

// NewHCSParams1 packs an HCSPARAMS1 value.
func NewHCSParams1(slots uint8, intrs uint16, ports uint8) HCSParams1 {
	var p HCSParams1
	setField(&p, 0, 8, HCSParams1(slots))
	setField(&p, 8, 11, HCSParams1(intrs))
	setField(&p, 24, 8, HCSParams1(ports))
	return p
}

// HCSParams2 is the Structural Parameters 2 register.
type HCSParams2 uint32

// IST returns the Isochronous Scheduling Threshold.
func (p HCSParams2) IST() uint8 { return uint8(field(p, 0, 4)) }

// ERSTMax returns log2 of the maximum Event Ring Segment Table entries.
func (p HCSParams2) ERSTMax() uint8 { return uint8(field(p, 4, 4)) }

// ScratchpadRestore reports the SPR bit.
func (p HCSParams2) ScratchpadRestore() bool { return bit(p, 26) }

// MaxScratchpadBuffers reassembles the count from its high (25:21) and
// low (31:27) halves.
func (p HCSParams2) MaxScratchpadBuffers() uint16 {
	hi := uint16(field(p, 21, 5))
	lo := uint16(field(p, 27, 5))
	return hi<<5 | lo
}

// SetMaxScratchpadBuffers splits n across the high and low fields.
func (p *HCSParams2) SetMaxScratchpadBuffers(n uint16) {
	setField(p, 21, 5, HCSParams2(n>>5))
	setField(p, 27, 5, HCSParams2(n))
}

// SetERSTMax sets the ERST Max field.
func (p *HCSParams2) SetERSTMax(n uint8) { setField(p, 4, 4, HCSParams2(n)) }

// HCSParams3 is the Structural Parameters 3 register.
type HCSParams3 uint32

// U1ExitLatency returns the worst case U1 exit latency in microseconds.
func (p HCSParams3) U1ExitLatency() uint8 { return uint8(field(p, 0, 8)) }

// U2ExitLatency returns the worst case U2 exit latency in microseconds.
func (p HCSParams3) U2ExitLatency() uint16 { return uint16(field(p, 16, 16)) }

// HCCParams1 is the Capability Parameters 1 register.
type HCCParams1 uint32

// AC64 reports 64-bit addressing capability.
func (p HCCParams1) AC64() bool { return bit(p, 0) }

// ContextSize64 reports whether contexts are 64 bytes instead of 32.
func (p HCCParams1) ContextSize64() bool { return bit(p, 2) }

// ExtendedCapabilitiesPointer returns xECP, a dword offset from the MMIO
// base to the first extended capability.
func (p HCCParams1) ExtendedCapabilitiesPointer() uint16 { return uint16(field(p, 16, 16)) }

// SetExtendedCapabilitiesPointer sets xECP.
func (p *HCCParams1) SetExtendedCapabilitiesPointer(dw uint16) {
	setField(p, 16, 16, HCCParams1(dw))
}

// SetAC64 sets the AC64 bit.
func (p *HCCParams1) SetAC64(on bool) { setBit(p, 0, on) }

// HCCParams2 is the Capability Parameters 2 register.
type HCCParams2 uint32

// Capability is the read-only capability register block.
type Capability struct {
	w *mmio.Window
}

// NewCapability returns the capability block over w, which must cover at
// least CapabilitySize bytes.
func NewCapability(w *mmio.Window) (Capability, error) {
	if w.Size() < CapabilitySize {
		return Capability{}, fmt.Errorf("capability window too small: 0x%x", w.Size())
	}
	return Capability{w: w}, nil
}

// Length returns CAPLENGTH, the offset of the operational registers.
func (c Capability) Length() uint8 { return uint8(c.w.Load32(CapLength)) }

// Version returns HCIVERSION as BCD (0x0100 for 1.0.0).
func (c Capability) Version() uint16 { return uint16(c.w.Load32(CapLength) >> 16) }

// HCSParams1 reads HCSPARAMS1.
func (c Capability) HCSParams1() HCSParams1 { return HCSParams1(c.w.Load32(CapHCSParams1)) }

// HCSParams2 reads HCSPARAMS2.
func (c Capability) HCSParams2() HCSParams2 { return HCSParams2(c.w.Load32(CapHCSParams2)) }

// HCSParams3 reads HCSPARAMS3.
func (c Capability) HCSParams3() HCSParams3 { return HCSParams3(c.w.Load32(CapHCSParams3)) }

// HCCParams1 reads HCCPARAMS1.
func (c Capability) HCCParams1() HCCParams1 { return HCCParams1(c.w.Load32(CapHCCParams1)) }

// HCCParams2 reads HCCPARAMS2.
func (c Capability) HCCParams2() HCCParams2 { return HCCParams2(c.w.Load32(CapHCCParams2)) }

// DoorbellOffset returns the byte offset of the doorbell array.
func (c Capability) DoorbellOffset() uint32 { return c.w.Load32(CapDBOff) &^ 0x3 }

// RuntimeOffset returns the byte offset of the runtime registers.
func (c Capability) RuntimeOffset() uint32 { return c.w.Load32(CapRTSOff) &^ 0x1F }
