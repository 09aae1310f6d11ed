package xhci

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/dma"
	"github.com/ardnew/softxhci/xhci/extcap"
	"github.com/ardnew/softxhci/xhci/hal"
	"github.com/ardnew/softxhci/xhci/mmio"
	"github.com/ardnew/softxhci/xhci/regs"
	"github.com/ardnew/softxhci/xhci/ring"
	"github.com/ardnew/softxhci/xhci/trb"
)

// Driver owns a running host controller and its rings.
type Driver struct {
	opts  Options
	alloc dma.Allocator

	// Register blocks
	bar    *mmio.Window
	regmap *mmio.Map
	cap    regs.Capability
	op     regs.Operational
	rt     regs.Runtime
	intr   regs.Interrupter
	db     regs.Doorbells

	// Controller-visible memory
	dcbaa       dma.Region
	scratchpad  dma.Region
	scratchBufs []dma.Region

	// Rings
	cmd    *ring.CommandRing
	events *ring.EventRing
	erst   *ring.SegmentTable

	maxSlots  uint8
	enable    uint64
	protocols []extcap.SupportedProtocol

	mutex sync.Mutex

	// Callbacks
	onCommandCompletion func(trb.CommandCompletionEvent)
	onEvent             func(trb.TRB)
}

// Open initializes ctrl and brings up the controller behind it. If
// bring-up fails, ctrl is closed.
func Open(ctx context.Context, ctrl hal.Controller, opts *Options) (*Driver, error) {
	if err := ctrl.Init(ctx); err != nil {
		return nil, fmt.Errorf("controller init: %w", err)
	}
	d, err := New(ctx, ctrl.Registers(), ctrl.Allocator(), opts)
	if err != nil {
		return nil, errors.Join(err, ctrl.Close())
	}
	return d, nil
}

// New brings up the controller whose MMIO region is bar, allocating its
// data structures from alloc. On return the controller is running and an
// Enable Slot command has been issued.
func New(ctx context.Context, bar *mmio.Window, alloc dma.Allocator, opts *Options) (*Driver, error) {
	if opts != nil {
		if err := opts.Validate(); err != nil {
			return nil, err
		}
	}
	d := &Driver{
		opts:  opts.withDefaults(),
		alloc: alloc,
		bar:   bar,
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"map registers", d.mapRegisters},
		{"reset", d.reset},
		{"configure slots", d.configureSlots},
		{"device context array", d.allocDCBAA},
		{"command ring", d.initCommandRing},
		{"event ring", d.initEventRing},
		{"start", d.start},
		{"enable slot", d.enableSlot},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			pkg.LogError(pkg.ComponentDriver, "bring-up failed", "step", s.name, "error", err)
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	d.readProtocols()
	pkg.LogInfo(pkg.ComponentDriver, "controller running",
		"version", fmt.Sprintf("%x.%02x", d.cap.Version()>>8, d.cap.Version()&0xFF),
		"slots", d.maxSlots,
		"ports", d.op.Ports(),
		"scratchpad", len(d.scratchBufs))
	return d, nil
}

// =============================================================================
// Bring-up Steps
// =============================================================================

func (d *Driver) mapRegisters(context.Context) error {
	m := mmio.NewMap(d.bar)
	d.regmap = m

	head, err := m.View(0, regs.CapabilitySize)
	if err != nil {
		return err
	}
	caplen := uintptr(head.Load32(regs.CapLength) & 0xFF)
	if caplen < regs.CapabilitySize {
		return fmt.Errorf("%w: CAPLENGTH 0x%x", pkg.ErrOutOfRange, caplen)
	}

	w, err := m.Open("capability", 0, caplen)
	if err != nil {
		return err
	}
	if d.cap, err = regs.NewCapability(w); err != nil {
		return err
	}
	hcs1 := d.cap.HCSParams1()

	if w, err = m.Open("operational", caplen, regs.OperationalSize(hcs1.MaxPorts())); err != nil {
		return err
	}
	if d.op, err = regs.NewOperational(w, hcs1.MaxPorts()); err != nil {
		return err
	}

	rtoff := uintptr(d.cap.RuntimeOffset())
	if w, err = m.Open("runtime", rtoff, regs.RuntimeSize(hcs1.MaxInterrupters())); err != nil {
		return err
	}
	if d.rt, err = regs.NewRuntime(w, hcs1.MaxInterrupters()); err != nil {
		return err
	}
	if d.intr, err = d.rt.Interrupter(0); err != nil {
		return err
	}

	dboff := uintptr(d.cap.DoorbellOffset())
	if w, err = m.Open("doorbells", dboff, regs.DoorbellsSize(hcs1.MaxSlots())); err != nil {
		return err
	}
	d.db, err = regs.NewDoorbells(w)
	return err
}

func (d *Driver) reset(ctx context.Context) error {
	if err := d.waitFor(ctx, "controller ready", func() bool {
		return !d.op.USBSts().ControllerNotReady()
	}); err != nil {
		return err
	}

	if !d.op.USBSts().HCHalted() {
		pkg.LogInfo(pkg.ComponentDriver, "halting running controller")
		d.op.UpdateUSBCmd(func(c *regs.USBCmd) { c.SetRunStop(false) })
		if err := d.waitFor(ctx, "halt", func() bool {
			return d.op.USBSts().HCHalted()
		}); err != nil {
			return err
		}
	}

	d.op.UpdateUSBCmd(func(c *regs.USBCmd) { c.SetHCReset(true) })
	return d.waitFor(ctx, "reset", func() bool {
		return !d.op.USBCmd().HCReset() && !d.op.USBSts().ControllerNotReady()
	})
}

func (d *Driver) configureSlots(context.Context) error {
	d.maxSlots = d.cap.HCSParams1().MaxSlots()
	if n := d.opts.MaxSlots; n != 0 && n < d.maxSlots {
		d.maxSlots = n
	}
	if d.maxSlots == 0 {
		return fmt.Errorf("%w: controller reports no device slots", pkg.ErrNotSupported)
	}
	cfg := d.op.Config()
	cfg.SetMaxSlotsEnabled(d.maxSlots)
	d.op.SetConfig(cfg)
	return nil
}

func (d *Driver) allocDCBAA(context.Context) error {
	var err error
	d.dcbaa, err = d.alloc.Alloc(dma.Request{
		Size:     (uint64(d.maxSlots) + 1) * 8,
		Align:    dma.DeviceContextAlignment,
		Boundary: dma.DeviceContextBoundary,
	})
	if err != nil {
		return err
	}
	dcbaa := d.dcbaa.Memory()
	dcbaa.Zero(0, uintptr(dcbaa.Len()))

	if n := d.cap.HCSParams2().MaxScratchpadBuffers(); n > 0 {
		if err := d.allocScratchpad(int(n)); err != nil {
			return fmt.Errorf("scratchpad: %w", err)
		}
		dcbaa.Store64(0, d.scratchpad.Phys)
	}

	var p regs.DCBAAP
	p.SetPointer(d.dcbaa.Phys)
	d.op.SetDCBAAP(p)
	return nil
}

func (d *Driver) allocScratchpad(n int) error {
	page := d.op.PageSize().Bytes()
	if page == 0 {
		page = dma.PageSize
	}

	var err error
	d.scratchpad, err = d.alloc.Alloc(dma.Request{
		Size:     uint64(n) * 8,
		Align:    dma.ScratchpadArrayAlignment,
		Boundary: dma.ScratchpadArrayBoundary,
	})
	if err != nil {
		return err
	}
	array := d.scratchpad.Memory()

	d.scratchBufs = make([]dma.Region, n)
	for i := range d.scratchBufs {
		buf, err := d.alloc.Alloc(dma.Request{Size: page, Align: page, Boundary: page})
		if err != nil {
			return err
		}
		clear(buf.Mem)
		d.scratchBufs[i] = buf
		array.Store64(uintptr(i)*8, buf.Phys)
	}
	pkg.LogDebug(pkg.ComponentDriver, "scratchpad allocated", "buffers", n, "page", page)
	return nil
}

func (d *Driver) initCommandRing(context.Context) error {
	var err error
	d.cmd, err = ring.NewCommandRing(d.opts.CommandRingSize, d.op, d.alloc)
	return err
}

func (d *Driver) initEventRing(context.Context) error {
	var err error
	if d.events, err = ring.NewEventRing(d.opts.EventRingSize, d.alloc); err != nil {
		return err
	}
	if d.erst, err = ring.NewSegmentTable(d.events, d.alloc); err != nil {
		return err
	}

	// ERSTBA must be written last; it arms the Event Ring.
	d.intr.SetERSTSz(uint16(d.erst.Len()))
	d.events.UpdateERDP(d.intr)
	var ba regs.ERSTBA
	ba.SetPointer(d.erst.Phys())
	d.intr.SetERSTBA(ba)
	return nil
}

func (d *Driver) start(ctx context.Context) error {
	d.op.UpdateUSBCmd(func(c *regs.USBCmd) { c.SetInterrupterEnable(true) })
	d.intr.SetIMan(regs.IManEnable)

	d.op.UpdateUSBCmd(func(c *regs.USBCmd) { c.SetRunStop(true) })
	return d.waitFor(ctx, "run", func() bool {
		return !d.op.USBSts().HCHalted()
	})
}

func (d *Driver) enableSlot(context.Context) error {
	phys, err := d.EnableSlot(0)
	if err != nil {
		return err
	}
	d.enable = phys
	return nil
}

func (d *Driver) readProtocols() {
	caps, err := d.regmap.View(0, d.bar.Size())
	if err != nil {
		return
	}
	xecp := d.cap.HCCParams1().ExtendedCapabilitiesPointer()
	d.protocols, err = extcap.SupportedProtocols(caps, xecp)
	if err != nil {
		pkg.LogWarn(pkg.ComponentDriver, "extended capabilities", "error", err)
	}
	for _, p := range d.protocols {
		pkg.LogInfo(pkg.ComponentDriver, "supported protocol",
			"protocol", p.String(), "slot_type", p.SlotType, "speeds", len(p.Speeds))
	}
}

// =============================================================================
// Accessors
// =============================================================================

// SetOnCommandCompletion sets the handler called for each Command
// Completion Event, after the Event Ring has been advanced.
func (d *Driver) SetOnCommandCompletion(cb func(trb.CommandCompletionEvent)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onCommandCompletion = cb
}

// SetOnEvent sets the handler for events other than Command Completion
// Events. Without one, such events make HandleInterrupt fail.
func (d *Driver) SetOnEvent(cb func(trb.TRB)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onEvent = cb
}

// MaxSlots returns the number of enabled device slots.
func (d *Driver) MaxSlots() uint8 { return d.maxSlots }

// Ports returns the number of root hub ports.
func (d *Driver) Ports() uint8 { return d.op.Ports() }

// Version returns HCIVERSION.
func (d *Driver) Version() uint16 { return d.cap.Version() }

// ScratchpadBuffers returns the number of scratchpad buffers given to the
// controller.
func (d *Driver) ScratchpadBuffers() int { return len(d.scratchBufs) }

// DCBAA returns the physical address of the Device Context Base Address
// Array.
func (d *Driver) DCBAA() uint64 { return d.dcbaa.Phys }

// EnableSlotCommand returns the physical address of the Enable Slot
// command issued during bring-up.
func (d *Driver) EnableSlotCommand() uint64 { return d.enable }

// Protocols returns the Supported Protocol capabilities found at bring-up.
func (d *Driver) Protocols() []extcap.SupportedProtocol { return d.protocols }

// PortSC reads PORTSC for the 1-based port.
func (d *Driver) PortSC(port uint8) regs.PortSC { return d.op.PortSC(port) }

// RingState is a snapshot of ring indices and cycle states.
type RingState struct {
	CommandEnqueue       int
	CommandDequeue       int
	CommandProducerCycle bool
	CommandConsumerCycle bool
	EventDequeue         int
	EventConsumerCycle   bool
}

// RingState returns the current ring indices.
func (d *Driver) RingState() RingState {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return RingState{
		CommandEnqueue:       d.cmd.EnqueueIndex(),
		CommandDequeue:       d.cmd.DequeueIndex(),
		CommandProducerCycle: d.cmd.ProducerCycle(),
		CommandConsumerCycle: d.cmd.ConsumerCycle(),
		EventDequeue:         d.events.DequeueIndex(),
		EventConsumerCycle:   d.events.ConsumerCycle(),
	}
}

// Stop clears Run/Stop and waits for the controller to halt.
func (d *Driver) Stop(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.op.UpdateUSBCmd(func(c *regs.USBCmd) { c.SetRunStop(false) })
	if err := d.waitFor(ctx, "halt", func() bool {
		return d.op.USBSts().HCHalted()
	}); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentDriver, "controller halted")
	return nil
}
