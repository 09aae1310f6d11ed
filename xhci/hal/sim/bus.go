package sim

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/mmio"
	"github.com/ardnew/softxhci/xhci/regs"
	"github.com/ardnew/softxhci/xhci/trb"
)

// bus is the register file as the driver sees it. Accesses to registers
// with side effects are routed to the controller; everything else is
// plain memory.
type bus struct {
	c *Controller
}

func (b *bus) Load32(off uintptr) uint32 {
	c := b.c
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if off == opUSBCmd || off == opUSBSts {
		c.pollReset()
	}
	return c.mem.Load32(off)
}

func (b *bus) Load64(off uintptr) uint64 {
	c := b.c
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if off == opCRCR {
		// Only CRR reads back. The ring stops after every doorbell.
		return 0
	}
	return c.mem.Load64(off)
}

func (b *bus) Store32(off uintptr, v uint32) {
	c := b.c
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch {
	case off == opUSBCmd:
		c.writeUSBCmd(regs.USBCmd(v))
	case off == opUSBSts:
		cur := c.mem.Load32(off)
		c.mem.Store32(off, cur&^(v&uint32(regs.USBStsRW1C)))
	case off == intrIMan:
		cur := regs.IMan(c.mem.Load32(off))
		next := regs.IMan(v) & regs.IManEnable
		next |= cur & regs.IManPending &^ (regs.IMan(v) & regs.IManPending)
		c.mem.Store32(off, uint32(next))
	case off >= opPortBase && off < opPortBase+regs.PortStride*uintptr(c.cfg.MaxPorts) &&
		(off-opPortBase)%regs.PortStride == regs.PortSCOffset:
		cur := c.mem.Load32(off)
		rw1c := v & uint32(regs.PortSCChangeBits|1<<1)
		c.mem.Store32(off, cur&^rw1c)
	case off == DoorbellBase:
		c.mem.Store32(off, v)
		c.ringCommandDoorbell()
	default:
		c.mem.Store32(off, v)
	}
}

func (b *bus) Store64(off uintptr, v uint64) {
	c := b.c
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch off {
	case opCRCR:
		crcr := regs.CRCR(v)
		c.cmdDequeue = crcr.Pointer()
		c.cmdCycle = crcr.RingCycleState()
		pkg.LogDebug(pkg.ComponentSim, "command ring pointer",
			"phys", fmt.Sprintf("0x%x", c.cmdDequeue), "ccs", c.cmdCycle)
	case intrERSTBA:
		c.mem.Store64(off, v)
		c.loadSegmentTable(regs.ERSTBA(v).Pointer())
	case intrERDP:
		cur := regs.ERDP(c.mem.Load64(off))
		busy := cur & regs.ERDPBusy &^ (regs.ERDP(v) & regs.ERDPBusy)
		c.mem.Store64(off, uint64(regs.ERDP(v)&^regs.ERDPBusy|busy))
		if busy == 0 && c.pendingEvents() {
			c.interrupt()
		}
	default:
		c.mem.Store64(off, v)
	}
}

// ============================================================================
// Register Side Effects
// ============================================================================

func (c *Controller) writeUSBCmd(cmd regs.USBCmd) {
	if cmd.HCReset() {
		c.resetOperational()
		c.mem.Store32(opUSBCmd, uint32(cmd)&(1<<1))
		c.mem.Store32(opUSBSts, uint32(regs.USBStsHCHalted|regs.USBStsControllerNotReady))
		c.resetLeft = c.cfg.ResetPolls
		pkg.LogDebug(pkg.ComponentSim, "reset asserted", "polls", c.resetLeft)
		c.pollReset()
		return
	}
	if regs.USBCmd(c.mem.Load32(opUSBCmd)).HCReset() {
		// Writes are ignored while reset is in progress.
		return
	}

	sts := regs.USBSts(c.mem.Load32(opUSBSts))
	if cmd.RunStop() {
		sts &^= regs.USBStsHCHalted
	} else {
		sts |= regs.USBStsHCHalted
	}
	c.mem.Store32(opUSBSts, uint32(sts))
	c.mem.Store32(opUSBCmd, uint32(cmd))
}

// pollReset completes a pending reset once enough USBCMD or USBSTS reads
// have been observed.
func (c *Controller) pollReset() {
	if !regs.USBCmd(c.mem.Load32(opUSBCmd)).HCReset() || c.resetLeft < 0 {
		return
	}
	if c.resetLeft > 0 {
		c.resetLeft--
		return
	}
	c.mem.Store32(opUSBCmd, 0)
	c.mem.Store32(opUSBSts, uint32(regs.USBStsHCHalted))
	pkg.LogDebug(pkg.ComponentSim, "reset complete")
}

func (c *Controller) running() bool {
	return !regs.USBSts(c.mem.Load32(opUSBSts)).HCHalted()
}

func (c *Controller) loadSegmentTable(phys uint64) {
	c.events = eventRing{}
	b, err := c.heap.Translate(phys, 16)
	if err != nil {
		pkg.LogWarn(pkg.ComponentSim, "segment table not in DMA memory", "error", err)
		return
	}
	entry := mmio.NewMemory(b)
	base := entry.Load64(0) &^ 0x3F
	size := int(entry.Load32(8) & 0xFFFF)
	if size == 0 {
		pkg.LogWarn(pkg.ComponentSim, "empty event ring segment")
		return
	}
	if _, err := c.heap.Translate(base, uint64(size)*trb.Size); err != nil {
		pkg.LogWarn(pkg.ComponentSim, "event ring segment not in DMA memory", "error", err)
		return
	}
	c.events = eventRing{armed: true, base: base, size: size, cycle: true}
	pkg.LogDebug(pkg.ComponentSim, "event ring armed",
		"base", fmt.Sprintf("0x%x", base), "size", size)
}

// ============================================================================
// Command Ring
// ============================================================================

func (c *Controller) ringCommandDoorbell() {
	if !c.running() {
		pkg.LogWarn(pkg.ComponentSim, "command doorbell while halted")
		return
	}
	for range maxCommandsPerDoorbell {
		t, err := c.readTRB(c.cmdDequeue)
		if err != nil {
			pkg.LogWarn(pkg.ComponentSim, "command ring not in DMA memory", "error", err)
			return
		}
		if t.Cycle() != c.cmdCycle {
			return
		}
		if t.Type() == trb.TypeLink {
			link, _ := trb.AsLink(t)
			if link.ToggleCycle() {
				c.cmdCycle = !c.cmdCycle
			}
			c.cmdDequeue = link.Next()
			continue
		}

		code, slot := c.execute(t)
		c.commands++
		if err := c.post(trb.NewCommandCompletionEvent(c.cmdDequeue, code, slot, false)); err != nil {
			pkg.LogWarn(pkg.ComponentSim, "completion lost", "command", t.Type(), "error", err)
		}
		c.cmdDequeue += trb.Size
	}
	pkg.LogWarn(pkg.ComponentSim, "command ring has no cycle boundary")
}

func (c *Controller) execute(t trb.TRB) (trb.CompletionCode, uint8) {
	switch t.Type() {
	case trb.TypeNoopCommand:
		return trb.CompletionSuccess, 0
	case trb.TypeEnableSlotCommand:
		limit := int(regs.Config(c.mem.Load32(opConfig)).MaxSlotsEnabled())
		for i := 1; i <= limit && i < len(c.slots); i++ {
			if !c.slots[i] {
				c.slots[i] = true
				return trb.CompletionSuccess, uint8(i)
			}
		}
		return trb.CompletionNoSlotsAvailable, 0
	case trb.TypeDisableSlotCommand:
		id := int(trb.SlotID(t))
		if id == 0 || id >= len(c.slots) || !c.slots[id] {
			return trb.CompletionSlotNotEnabled, uint8(id)
		}
		c.slots[id] = false
		return trb.CompletionSuccess, uint8(id)
	default:
		return trb.CompletionTRBError, 0
	}
}

// ============================================================================
// Event Ring
// ============================================================================

// erdpIndex returns the index software will consume next, or -1 if ERDP
// does not point into the segment.
func (c *Controller) erdpIndex() int {
	p := regs.ERDP(c.mem.Load64(intrERDP)).Pointer()
	if p < c.events.base || p >= c.events.base+uint64(c.events.size)*trb.Size {
		return -1
	}
	return int((p - c.events.base) / trb.Size)
}

func (c *Controller) pendingEvents() bool {
	return c.events.armed && c.erdpIndex() >= 0 && c.erdpIndex() != c.events.enqueue
}

// post writes ev at the Event Ring enqueue pointer with the producer cycle
// and raises an interrupt.
func (c *Controller) post(ev trb.TRB) error {
	r := &c.events
	if !r.armed {
		c.dropped++
		return fmt.Errorf("%w: event ring not configured", pkg.ErrNotRunning)
	}
	if deq := c.erdpIndex(); deq >= 0 && (r.enqueue+1)%r.size == deq {
		c.dropped++
		return pkg.ErrRingFull
	}

	ev.SetCycle(r.cycle)
	if err := c.writeTRB(r.base+uint64(r.enqueue)*trb.Size, ev); err != nil {
		c.dropped++
		return err
	}
	c.posted++
	if r.enqueue++; r.enqueue == r.size {
		r.enqueue = 0
		r.cycle = !r.cycle
	}
	c.interrupt()
	return nil
}

// interrupt latches IMAN.IP, USBSTS.EINT and ERDP.EHB and signals the
// interrupt line if interrupts are enabled.
func (c *Controller) interrupt() {
	iman := regs.IMan(c.mem.Load32(intrIMan))
	c.mem.Store32(intrIMan, uint32(iman|regs.IManPending))
	c.mem.Store32(opUSBSts, c.mem.Load32(opUSBSts)|uint32(regs.USBStsEventInterrupt))
	c.mem.Store64(intrERDP, c.mem.Load64(intrERDP)|uint64(regs.ERDPBusy))

	if !regs.USBCmd(c.mem.Load32(opUSBCmd)).InterrupterEnable() || iman&regs.IManEnable == 0 {
		return
	}
	select {
	case c.irq <- struct{}{}:
	default:
	}
}

// ============================================================================
// DMA Access
// ============================================================================

func (c *Controller) readTRB(phys uint64) (trb.TRB, error) {
	b, err := c.heap.Translate(phys, trb.Size)
	if err != nil {
		return trb.TRB{}, err
	}
	m := mmio.NewMemory(b)
	var t trb.TRB
	t.Control = m.Load32(12)
	t.Parameter = m.Load64(0)
	t.Status = m.Load32(8)
	return t, nil
}

func (c *Controller) writeTRB(phys uint64, t trb.TRB) error {
	b, err := c.heap.Translate(phys, trb.Size)
	if err != nil {
		return err
	}
	m := mmio.NewMemory(b)
	m.Store64(0, t.Parameter)
	m.Store32(8, t.Status)
	m.Store32(12, t.Control)
	return nil
}
