package regs

import (
	"fmt"

	"github.com/ardnew/softxhci/xhci/mmio"
)

// Operational register offsets from the operational base (xHCI 5.4).
const (
	OpUSBCmd   = 0x00
	OpUSBSts   = 0x04
	OpPageSize = 0x08
	OpDNCtrl   = 0x14
	OpCRCR     = 0x18
	OpDCBAAP   = 0x30
	OpConfig   = 0x38
	OpPortBase = 0x400

	// PortStride is the size of one port register set.
	PortStride = 0x10

	// PortSC offsets within a port register set.
	PortSCOffset    = 0x00
	PortPMSCOffset  = 0x04
	PortLIOffset    = 0x08
	PortHLPMCOffset = 0x0C
)

// OperationalSize returns the size of the operational block for ports
// root hub ports.
func OperationalSize(ports uint8) uintptr {
	return OpPortBase + PortStride*uintptr(ports)
}

// USBCmd is the USB Command register.
type USBCmd uint32

// RunStop reports R/S.
func (c USBCmd) RunStop() bool { return bit(c, 0) }

// SetRunStop sets R/S.
func (c *USBCmd) SetRunStop(on bool) { setBit(c, 0, on) }

// HCReset reports HCRST.
func (c USBCmd) HCReset() bool { return bit(c, 1) }

// SetHCReset sets HCRST.
func (c *USBCmd) SetHCReset(on bool) { setBit(c, 1, on) }

// InterrupterEnable reports INTE.
func (c USBCmd) InterrupterEnable() bool { return bit(c, 2) }

// SetInterrupterEnable sets INTE.
func (c *USBCmd) SetInterrupterEnable(on bool) { setBit(c, 2, on) }

// HostSystemErrorEnable reports HSEE.
func (c USBCmd) HostSystemErrorEnable() bool { return bit(c, 3) }

// SetHostSystemErrorEnable sets HSEE.
func (c *USBCmd) SetHostSystemErrorEnable(on bool) { setBit(c, 3, on) }

// USBSts is the USB Status register. HSE, EINT, PCD and SRE are
// write-1-to-clear.
type USBSts uint32

// USBSts bits.
const (
	USBStsHCHalted           USBSts = 1 << 0
	USBStsHostSystemError    USBSts = 1 << 2
	USBStsEventInterrupt     USBSts = 1 << 3
	USBStsPortChangeDetect   USBSts = 1 << 4
	USBStsSaveRestoreError   USBSts = 1 << 10
	USBStsControllerNotReady USBSts = 1 << 11
	USBStsHostControllerErr  USBSts = 1 << 12

	// USBStsRW1C is the set of write-1-to-clear bits.
	USBStsRW1C = USBStsHostSystemError | USBStsEventInterrupt |
		USBStsPortChangeDetect | USBStsSaveRestoreError
)

// HCHalted reports HCH.
func (s USBSts) HCHalted() bool { return s&USBStsHCHalted != 0 }

// HostSystemError reports HSE.
func (s USBSts) HostSystemError() bool { return s&USBStsHostSystemError != 0 }

// EventInterrupt reports EINT.
func (s USBSts) EventInterrupt() bool { return s&USBStsEventInterrupt != 0 }

// PortChangeDetect reports PCD.
func (s USBSts) PortChangeDetect() bool { return s&USBStsPortChangeDetect != 0 }

// ControllerNotReady reports CNR.
func (s USBSts) ControllerNotReady() bool { return s&USBStsControllerNotReady != 0 }

// HostControllerError reports HCE.
func (s USBSts) HostControllerError() bool { return s&USBStsHostControllerErr != 0 }

// PageSize is the Page Size register. Bit n set means 2^(n+12) bytes.
type PageSize uint32

// Bytes returns the smallest supported page size in bytes, or 0 if none
// is reported.
func (p PageSize) Bytes() uint64 {
	v := uint16(p)
	for n := uint(0); n < 16; n++ {
		if v>>n&1 != 0 {
			return 1 << (n + 12)
		}
	}
	return 0
}

// DNCtrl is the Device Notification Control register.
type DNCtrl uint32

// Enabled reports whether notification type n (0-15) is enabled.
func (d DNCtrl) Enabled(n uint) bool { return bit(d, n&0xF) }

// SetEnabled enables or disables notification type n.
func (d *DNCtrl) SetEnabled(n uint, on bool) { setBit(d, n&0xF, on) }

// CRCR is the Command Ring Control register.
type CRCR uint64

const crcrPointerMask = ^uint64(0x3F)

// RingCycleState returns RCS.
func (c CRCR) RingCycleState() bool { return bit(c, 0) }

// SetRingCycleState sets RCS.
func (c *CRCR) SetRingCycleState(on bool) { setBit(c, 0, on) }

// CommandStop reports CS.
func (c CRCR) CommandStop() bool { return bit(c, 1) }

// CommandAbort reports CA.
func (c CRCR) CommandAbort() bool { return bit(c, 2) }

// CommandRingRunning reports CRR.
func (c CRCR) CommandRingRunning() bool { return bit(c, 3) }

// Pointer returns the command ring dequeue pointer (bits 63:6).
func (c CRCR) Pointer() uint64 { return uint64(c) & crcrPointerMask }

// SetPointer stores bits 63:6 of phys.
func (c *CRCR) SetPointer(phys uint64) {
	*c = CRCR(uint64(*c)&^crcrPointerMask | phys&crcrPointerMask)
}

// DCBAAP is the Device Context Base Address Array Pointer register.
type DCBAAP uint64

// Pointer returns the DCBAA address (bits 63:6).
func (d DCBAAP) Pointer() uint64 { return uint64(d) & crcrPointerMask }

// SetPointer stores bits 63:6 of phys.
func (d *DCBAAP) SetPointer(phys uint64) {
	*d = DCBAAP(uint64(*d)&^crcrPointerMask | phys&crcrPointerMask)
}

// Config is the Configure register.
type Config uint32

// MaxSlotsEnabled returns MaxSlotsEn.
func (c Config) MaxSlotsEnabled() uint8 { return uint8(field(c, 0, 8)) }

// SetMaxSlotsEnabled sets MaxSlotsEn.
func (c *Config) SetMaxSlotsEnabled(n uint8) { setField(c, 0, 8, Config(n)) }

// PortSC is the Port Status and Control register.
type PortSC uint32

// PortSC change bits (write-1-to-clear).
const (
	PortSCConnectChange     PortSC = 1 << 17
	PortSCEnableChange      PortSC = 1 << 18
	PortSCWarmResetChange   PortSC = 1 << 19
	PortSCOverCurrentChange PortSC = 1 << 20
	PortSCResetChange       PortSC = 1 << 21
	PortSCLinkStateChange   PortSC = 1 << 22
	PortSCConfigErrorChange PortSC = 1 << 23
)

// PortSCChangeBits is the set of all change bits.
const PortSCChangeBits = PortSCConnectChange | PortSCEnableChange |
	PortSCWarmResetChange | PortSCOverCurrentChange | PortSCResetChange |
	PortSCLinkStateChange | PortSCConfigErrorChange

// CurrentConnectStatus reports CCS.
func (p PortSC) CurrentConnectStatus() bool { return bit(p, 0) }

// Enabled reports PED.
func (p PortSC) Enabled() bool { return bit(p, 1) }

// OverCurrentActive reports OCA.
func (p PortSC) OverCurrentActive() bool { return bit(p, 3) }

// Reset reports PR.
func (p PortSC) Reset() bool { return bit(p, 4) }

// LinkState returns PLS.
func (p PortSC) LinkState() uint8 { return uint8(field(p, 5, 4)) }

// Power reports PP.
func (p PortSC) Power() bool { return bit(p, 9) }

// Speed returns the Protocol Speed ID of the attached device.
func (p PortSC) Speed() uint8 { return uint8(field(p, 10, 4)) }

// Changes returns only the change bits.
func (p PortSC) Changes() PortSC { return p & PortSCChangeBits }

// String implements fmt.Stringer.
func (p PortSC) String() string {
	return fmt.Sprintf("PORTSC{ccs=%t ped=%t pr=%t pls=%d pp=%t speed=%d changes=%#x}",
		p.CurrentConnectStatus(), p.Enabled(), p.Reset(), p.LinkState(), p.Power(),
		p.Speed(), uint32(p.Changes()))
}

// Operational is the operational register block.
type Operational struct {
	w     *mmio.Window
	ports uint8
}

// NewOperational returns the operational block over w with ports port
// register sets.
func NewOperational(w *mmio.Window, ports uint8) (Operational, error) {
	if need := OperationalSize(ports); w.Size() < need {
		return Operational{}, fmt.Errorf("operational window too small: 0x%x < 0x%x", w.Size(), need)
	}
	return Operational{w: w, ports: ports}, nil
}

// USBCmd reads USBCMD.
func (o Operational) USBCmd() USBCmd { return USBCmd(o.w.Load32(OpUSBCmd)) }

// SetUSBCmd writes USBCMD.
func (o Operational) SetUSBCmd(c USBCmd) { o.w.Store32(OpUSBCmd, uint32(c)) }

// UpdateUSBCmd reads USBCMD, applies fn and writes the result.
func (o Operational) UpdateUSBCmd(fn func(*USBCmd)) {
	c := o.USBCmd()
	fn(&c)
	o.SetUSBCmd(c)
}

// USBSts reads USBSTS.
func (o Operational) USBSts() USBSts { return USBSts(o.w.Load32(OpUSBSts)) }

// AckUSBSts clears the write-1-to-clear bits set in s.
func (o Operational) AckUSBSts(s USBSts) { o.w.Store32(OpUSBSts, uint32(s&USBStsRW1C)) }

// PageSize reads PAGESIZE.
func (o Operational) PageSize() PageSize { return PageSize(o.w.Load32(OpPageSize)) }

// DNCtrl reads DNCTRL.
func (o Operational) DNCtrl() DNCtrl { return DNCtrl(o.w.Load32(OpDNCtrl)) }

// SetDNCtrl writes DNCTRL.
func (o Operational) SetDNCtrl(d DNCtrl) { o.w.Store32(OpDNCtrl, uint32(d)) }

// CRCR reads CRCR. Only CRR reads back meaningfully on real hardware.
func (o Operational) CRCR() CRCR { return CRCR(o.w.Load64(OpCRCR)) }

// SetCRCR writes CRCR with a single 64-bit store.
func (o Operational) SetCRCR(c CRCR) { o.w.Store64(OpCRCR, uint64(c)) }

// ReadCRCR returns the raw CRCR value.
func (o Operational) ReadCRCR() uint64 { return uint64(o.CRCR()) }

// WriteCRCR writes a raw CRCR value.
func (o Operational) WriteCRCR(v uint64) { o.SetCRCR(CRCR(v)) }

// DCBAAP reads DCBAAP.
func (o Operational) DCBAAP() DCBAAP { return DCBAAP(o.w.Load64(OpDCBAAP)) }

// SetDCBAAP writes DCBAAP.
func (o Operational) SetDCBAAP(d DCBAAP) { o.w.Store64(OpDCBAAP, uint64(d)) }

// Config reads CONFIG.
func (o Operational) Config() Config { return Config(o.w.Load32(OpConfig)) }

// SetConfig writes CONFIG.
func (o Operational) SetConfig(c Config) { o.w.Store32(OpConfig, uint32(c)) }

// Ports returns the number of port register sets.
func (o Operational) Ports() uint8 { return o.ports }

func (o Operational) portOffset(port uint8) uintptr {
	if port == 0 || port > o.ports {
		panic(fmt.Sprintf("regs: port %d outside 1..%d", port, o.ports))
	}
	return OpPortBase + PortStride*uintptr(port-1) + PortSCOffset
}

// PortSC reads PORTSC for the 1-based port.
func (o Operational) PortSC(port uint8) PortSC {
	return PortSC(o.w.Load32(o.portOffset(port)))
}

// AckPortSC clears the change bits set in p for the 1-based port without
// disturbing its other RW fields.
func (o Operational) AckPortSC(port uint8, p PortSC) {
	cur := o.PortSC(port)
	// PED is RW1C as well; writing it back would disable the port.
	v := cur&^PortSCChangeBits&^(1<<1) | p.Changes()
	o.w.Store32(o.portOffset(port), uint32(v))
}
