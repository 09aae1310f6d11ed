package regs

import (
	"fmt"

	"github.com/ardnew/softxhci/xhci/mmio"
)

// Runtime register layout (xHCI 5.5).
const (
	RtMFIndex = 0x00

	// InterrupterBase is the offset of interrupter 0 in the runtime block.
	InterrupterBase = 0x20
	// InterrupterStride is the size of one interrupter register set.
	InterrupterStride = 0x20

	IntrIMan   = 0x00
	IntrIMod   = 0x04
	IntrERSTSz = 0x08
	IntrERSTBA = 0x10
	IntrERDP   = 0x18
)

// RuntimeSize returns the size of the runtime block for n interrupters.
func RuntimeSize(n uint16) uintptr {
	return InterrupterBase + InterrupterStride*uintptr(n)
}

// IMan is the Interrupter Management register. IP is write-1-to-clear.
type IMan uint32

// IMan bits.
const (
	IManPending IMan = 1 << 0
	IManEnable  IMan = 1 << 1
)

// Pending reports IP.
func (m IMan) Pending() bool { return m&IManPending != 0 }

// Enabled reports IE.
func (m IMan) Enabled() bool { return m&IManEnable != 0 }

// SetEnabled sets IE.
func (m *IMan) SetEnabled(on bool) { setBit(m, 1, on) }

// IMod is the Interrupter Moderation register.
type IMod uint32

// Interval returns IMODI in 250ns units.
func (m IMod) Interval() uint16 { return uint16(field(m, 0, 16)) }

// SetInterval sets IMODI.
func (m *IMod) SetInterval(v uint16) { setField(m, 0, 16, IMod(v)) }

// Counter returns IMODC.
func (m IMod) Counter() uint16 { return uint16(field(m, 16, 16)) }

// ERSTSz is the Event Ring Segment Table Size register.
type ERSTSz uint32

// Entries returns the number of segment table entries.
func (s ERSTSz) Entries() uint16 { return uint16(field(s, 0, 16)) }

// ERSTBA is the Event Ring Segment Table Base Address register.
type ERSTBA uint64

// Pointer returns the table address (bits 63:6).
func (b ERSTBA) Pointer() uint64 { return uint64(b) & crcrPointerMask }

// SetPointer stores bits 63:6 of phys.
func (b *ERSTBA) SetPointer(phys uint64) {
	*b = ERSTBA(uint64(*b)&^crcrPointerMask | phys&crcrPointerMask)
}

// ERDP is the Event Ring Dequeue Pointer register. EHB is
// write-1-to-clear.
type ERDP uint64

const (
	erdpPointerMask = ^uint64(0xF)

	// ERDPBusy is the Event Handler Busy bit.
	ERDPBusy ERDP = 1 << 3
)

// SegmentIndex returns DESI.
func (d ERDP) SegmentIndex() uint8 { return uint8(field(d, 0, 3)) }

// SetSegmentIndex sets DESI.
func (d *ERDP) SetSegmentIndex(i uint8) { setField(d, 0, 3, ERDP(i)) }

// Busy reports EHB.
func (d ERDP) Busy() bool { return d&ERDPBusy != 0 }

// SetBusy sets EHB. Writing 1 clears it in hardware.
func (d *ERDP) SetBusy(on bool) { setBit(d, 3, on) }

// Pointer returns the dequeue pointer (bits 63:4).
func (d ERDP) Pointer() uint64 { return uint64(d) & erdpPointerMask }

// SetPointer stores bits 63:4 of phys.
func (d *ERDP) SetPointer(phys uint64) {
	*d = ERDP(uint64(*d)&^erdpPointerMask | phys&erdpPointerMask)
}

// Interrupter is one interrupter register set.
type Interrupter struct {
	w *mmio.Window
}

// IMan reads IMAN.
func (i Interrupter) IMan() IMan { return IMan(i.w.Load32(IntrIMan)) }

// SetIMan writes IMAN.
func (i Interrupter) SetIMan(m IMan) { i.w.Store32(IntrIMan, uint32(m)) }

// AckPending clears IP, preserving IE.
func (i Interrupter) AckPending() {
	m := i.IMan()&IManEnable | IManPending
	i.SetIMan(m)
}

// IMod reads IMOD.
func (i Interrupter) IMod() IMod { return IMod(i.w.Load32(IntrIMod)) }

// SetIMod writes IMOD.
func (i Interrupter) SetIMod(m IMod) { i.w.Store32(IntrIMod, uint32(m)) }

// ERSTSz reads ERSTSZ.
func (i Interrupter) ERSTSz() ERSTSz { return ERSTSz(i.w.Load32(IntrERSTSz)) }

// SetERSTSz writes ERSTSZ.
func (i Interrupter) SetERSTSz(n uint16) { i.w.Store32(IntrERSTSz, uint32(n)) }

// ERSTBA reads ERSTBA.
func (i Interrupter) ERSTBA() ERSTBA { return ERSTBA(i.w.Load64(IntrERSTBA)) }

// SetERSTBA writes ERSTBA. On hardware this arms the event ring, so it
// must follow ERSTSZ and ERDP.
func (i Interrupter) SetERSTBA(b ERSTBA) { i.w.Store64(IntrERSTBA, uint64(b)) }

// ERDP reads ERDP.
func (i Interrupter) ERDP() ERDP { return ERDP(i.w.Load64(IntrERDP)) }

// SetERDP writes ERDP.
func (i Interrupter) SetERDP(d ERDP) { i.w.Store64(IntrERDP, uint64(d)) }

// ReadERDP returns the raw ERDP value.
func (i Interrupter) ReadERDP() uint64 { return uint64(i.ERDP()) }

// WriteERDP writes a raw ERDP value.
func (i Interrupter) WriteERDP(v uint64) { i.SetERDP(ERDP(v)) }

// Runtime is the runtime register block.
type Runtime struct {
	w     *mmio.Window
	intrs uint16
}

// NewRuntime returns the runtime block over w with n interrupters.
func NewRuntime(w *mmio.Window, n uint16) (Runtime, error) {
	if need := RuntimeSize(n); w.Size() < need {
		return Runtime{}, fmt.Errorf("runtime window too small: 0x%x < 0x%x", w.Size(), need)
	}
	return Runtime{w: w, intrs: n}, nil
}

// MFIndex returns the 14-bit microframe index.
func (r Runtime) MFIndex() uint16 { return uint16(r.w.Load32(RtMFIndex) & 0x3FFF) }

// Interrupters returns the number of interrupter register sets.
func (r Runtime) Interrupters() uint16 { return r.intrs }

// Interrupter returns interrupter register set n.
func (r Runtime) Interrupter(n uint16) (Interrupter, error) {
	if n >= r.intrs {
		return Interrupter{}, fmt.Errorf("interrupter %d outside 0..%d", n, r.intrs-1)
	}
	w, err := r.w.Sub(InterrupterBase+InterrupterStride*uintptr(n), InterrupterStride)
	if err != nil {
		return Interrupter{}, err
	}
	return Interrupter{w: w}, nil
}
