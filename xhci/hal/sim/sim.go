package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/dma"
	"github.com/ardnew/softxhci/xhci/mmio"
	"github.com/ardnew/softxhci/xhci/regs"
	"github.com/ardnew/softxhci/xhci/trb"
)

// Default configuration values.
const (
	DefaultMaxSlots = 8
	DefaultMaxPorts = 4
	DefaultHeapSize = 1 << 20
	DefaultHeapPhys = 0x8000_0000
)

// maxCommandsPerDoorbell bounds how many TRBs one doorbell write consumes.
// A malformed ring without a cycle boundary would otherwise spin forever.
const maxCommandsPerDoorbell = 1 << 16

// ErrClosed is returned by a Controller after Close.
var ErrClosed = errors.New("simulator closed")

// Config describes the simulated controller.
type Config struct {
	MaxSlots          uint8  // Device slots (HCSPARAMS1.MaxSlots)
	MaxPorts          uint8  // Root hub ports, split evenly between USB 2 and USB 3
	ScratchpadBuffers uint16 // Scratchpad buffers requested in HCSPARAMS2
	// ResetPolls is the number of USBCMD or USBSTS reads after HCRST is
	// written before the reset completes. A negative value never completes.
	ResetPolls int
	HeapSize   int    // Bytes of simulated DMA memory
	HeapPhys   uint64 // Physical address of the first heap byte
}

func (c Config) withDefaults() Config {
	if c.MaxSlots == 0 {
		c.MaxSlots = DefaultMaxSlots
	}
	if c.MaxPorts == 0 {
		c.MaxPorts = DefaultMaxPorts
	}
	if c.HeapSize == 0 {
		c.HeapSize = DefaultHeapSize
	}
	if c.HeapPhys == 0 {
		c.HeapPhys = DefaultHeapPhys
	}
	return c
}

// eventRing is the controller's producer view of interrupter 0.
type eventRing struct {
	armed   bool
	base    uint64
	size    int
	enqueue int
	cycle   bool
}

// Controller is a simulated xHC. It implements hal.Controller.
type Controller struct {
	cfg  Config
	mem  *mmio.Memory
	heap *dma.Heap
	bar  *mmio.Window
	irq  chan struct{}

	mutex      sync.Mutex
	closed     bool
	resetLeft  int
	cmdDequeue uint64
	cmdCycle   bool
	events     eventRing
	slots      []bool
	commands   int
	posted     int
	dropped    int
}

// New returns a halted controller with its registers at their power-on
// values.
func New(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:   cfg,
		mem:   mmio.Alloc(BARSize),
		heap:  dma.NewHeap(mmio.Alloc(cfg.HeapSize).Bytes(), cfg.HeapPhys),
		irq:   make(chan struct{}, 1),
		slots: make([]bool, int(cfg.MaxSlots)+1),
	}
	c.bar = mmio.NewWindow(&bus{c: c}, BARSize)
	c.powerOn()
	return c
}

// powerOn writes the capability block, extended capabilities and the
// operational reset values.
func (c *Controller) powerOn() {
	m := c.mem
	m.Store32(regs.CapLength, OperationalOffset|HCIVersion<<16)
	m.Store32(regs.CapHCSParams1, uint32(regs.NewHCSParams1(c.cfg.MaxSlots, 1, c.cfg.MaxPorts)))

	var p2 regs.HCSParams2
	p2.SetERSTMax(1)
	p2.SetMaxScratchpadBuffers(c.cfg.ScratchpadBuffers)
	m.Store32(regs.CapHCSParams2, uint32(p2))

	var p1 regs.HCCParams1
	p1.SetAC64(true)
	p1.SetExtendedCapabilitiesPointer(ExtCapOffset / 4)
	m.Store32(regs.CapHCCParams1, uint32(p1))
	m.Store32(regs.CapDBOff, DoorbellBase)
	m.Store32(regs.CapRTSOff, RuntimeOffset)

	c.writeProtocols()
	c.resetOperational()
}

// resetOperational restores operational and runtime registers and the
// controller's internal state to their reset values.
func (c *Controller) resetOperational() {
	c.mem.Zero(OperationalOffset, RuntimeOffset-OperationalOffset)
	c.mem.Zero(RuntimeOffset, DoorbellBase-RuntimeOffset)
	c.mem.Zero(DoorbellBase, ExtCapOffset-DoorbellBase)

	c.mem.Store32(opUSBSts, uint32(regs.USBStsHCHalted))
	c.mem.Store32(opPageSize, 1)
	for p := uint8(1); p <= c.cfg.MaxPorts; p++ {
		// Powered, disconnected, link in RxDetect.
		c.mem.Store32(portSC(p), 1<<9|5<<5)
	}

	c.cmdDequeue = 0
	c.cmdCycle = false
	c.events = eventRing{}
	clear(c.slots)
}

// writeProtocols lays out one USB 2 and one USB 3 Supported Protocol
// capability, splitting the root hub ports between them.
func (c *Controller) writeProtocols() {
	usb2 := c.cfg.MaxPorts / 2
	if usb2 == 0 {
		usb2 = 1
	}
	usb3 := c.cfg.MaxPorts - usb2
	var next uint8
	if usb3 > 0 {
		next = 8
	}

	// USB 2.00: low, full and high speed.
	c.writeProtocol(ExtCapOffset, 0x0200, 1, usb2, next, []uint32{
		1 | 1<<4 | 1500<<16, // 1.5 Mb/s
		2 | 2<<4 | 12<<16,   // 12 Mb/s
		3 | 2<<4 | 480<<16,  // 480 Mb/s
	})
	if usb3 == 0 {
		return
	}
	// USB 3.00: SuperSpeed.
	c.writeProtocol(ExtCapOffset+0x20, 0x0300, usb2+1, usb3, 0, []uint32{
		4 | 3<<4 | 5<<16, // 5 Gb/s
	})
}

func (c *Controller) writeProtocol(off uintptr, rev uint16, port, count uint8, next uint8, psi []uint32) {
	c.mem.Store32(off, 2|uint32(next)<<8|uint32(rev)<<16)
	c.mem.Store32(off+4, 0x2042_5355) // "USB "
	c.mem.Store32(off+8, uint32(port)|uint32(count)<<8|uint32(len(psi))<<28)
	c.mem.Store32(off+12, 0)
	for i, v := range psi {
		c.mem.Store32(off+16+uintptr(i)*4, v)
	}
}

// ============================================================================
// hal.Controller
// ============================================================================

// Init implements hal.Controller.
func (c *Controller) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return ErrClosed
	}
	pkg.LogInfo(pkg.ComponentSim, "simulated controller initialized",
		"slots", c.cfg.MaxSlots, "ports", c.cfg.MaxPorts,
		"scratchpad", c.cfg.ScratchpadBuffers)
	return nil
}

// Registers implements hal.Controller.
func (c *Controller) Registers() *mmio.Window { return c.bar }

// Allocator implements hal.Controller.
func (c *Controller) Allocator() dma.Allocator { return c.heap }

// Heap returns the simulated DMA memory.
func (c *Controller) Heap() *dma.Heap { return c.heap }

// WaitInterrupt implements hal.Controller.
func (c *Controller) WaitInterrupt(ctx context.Context) error {
	select {
	case <-c.irq:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements hal.Controller.
func (c *Controller) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closed = true
	return nil
}

// ============================================================================
// Test Hooks
// ============================================================================

// Connect attaches a device to port at the given PORTSC speed ID and posts
// a Port Status Change Event.
func (c *Controller) Connect(port uint8, speed uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if port == 0 || port > c.cfg.MaxPorts {
		return fmt.Errorf("%w: port %d of %d", pkg.ErrInvalidParameter, port, c.cfg.MaxPorts)
	}
	off := portSC(port)
	v := regs.PortSC(c.mem.Load32(off))
	v |= 1 | regs.PortSCConnectChange
	v = v&^(0xF<<10) | regs.PortSC(speed&0xF)<<10
	c.mem.Store32(off, uint32(v))
	c.mem.Store32(opUSBSts, c.mem.Load32(opUSBSts)|uint32(regs.USBStsPortChangeDetect))

	return c.post(trb.NewPortStatusChangeEvent(port, false))
}

// EnabledSlots returns the IDs of slots the controller considers enabled.
func (c *Controller) EnabledSlots() []uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var ids []uint8
	for i := 1; i < len(c.slots); i++ {
		if c.slots[i] {
			ids = append(ids, uint8(i))
		}
	}
	return ids
}

// Stats reports counters kept by the controller.
type Stats struct {
	Commands int // Command TRBs consumed
	Posted   int // Events written to the Event Ring
	Dropped  int // Events lost to a full or unconfigured Event Ring
}

// Stats returns the controller's counters.
func (c *Controller) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Stats{Commands: c.commands, Posted: c.posted, Dropped: c.dropped}
}
