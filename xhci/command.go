package xhci

import (
	"errors"
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/trb"
)

// SubmitCommand places t on the Command Ring and rings the command
// doorbell. It returns the physical address of the queued command, which
// the matching Command Completion Event reports as its command pointer.
//
// A full ring returns pkg.ErrRingFull; the command is not retried.
func (d *Driver) SubmitCommand(t trb.TRB) (uint64, error) {
	if typ := t.Type(); !typ.IsCommand() || typ == trb.TypeLink {
		return 0, fmt.Errorf("%w: %s is not a command", pkg.ErrInvalidParameter, typ)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.op.USBSts().HCHalted() {
		return 0, pkg.ErrNotRunning
	}

	phys, err := d.cmd.TryEnqueue(t)
	if err != nil {
		if errors.Is(err, pkg.ErrRingFull) {
			d.opts.Metrics.commandRingFull()
		}
		return 0, err
	}
	d.db.RingCommand()
	d.opts.Metrics.commandSubmitted()

	pkg.LogDebug(pkg.ComponentDriver, "command submitted",
		"type", t.Type().String(), "phys", fmt.Sprintf("0x%x", phys))
	return phys, nil
}

// EnableSlot submits an Enable Slot command for slotType (0 for USB).
func (d *Driver) EnableSlot(slotType uint8) (uint64, error) {
	return d.SubmitCommand(trb.EnableSlotCommand(slotType))
}

// DisableSlot submits a Disable Slot command.
func (d *Driver) DisableSlot(slot uint8) (uint64, error) {
	if slot == 0 || slot > d.maxSlots {
		return 0, fmt.Errorf("%w: slot %d outside 1..%d", pkg.ErrInvalidParameter, slot, d.maxSlots)
	}
	return d.SubmitCommand(trb.DisableSlotCommand(slot))
}

// Noop submits a No Op command.
func (d *Driver) Noop() (uint64, error) {
	return d.SubmitCommand(trb.NoopCommand())
}
