package regs

import (
	"fmt"

	"github.com/ardnew/softxhci/xhci/mmio"
)

const (
	// DoorbellCount is the number of doorbell registers.
	DoorbellCount = 256
	// DoorbellArraySize is the size of the doorbell array in bytes.
	DoorbellArraySize = DoorbellCount * 4

	// TargetCommand is the host controller doorbell target for the
	// Command Ring.
	TargetCommand uint8 = 0
)

// Doorbell is a doorbell register value (xHCI 5.6).
type Doorbell uint32

// NewDoorbell packs a doorbell value.
func NewDoorbell(target uint8, stream uint16) Doorbell {
	var d Doorbell
	setField(&d, 0, 8, Doorbell(target))
	setField(&d, 16, 16, Doorbell(stream))
	return d
}

// Target returns DB Target.
func (d Doorbell) Target() uint8 { return uint8(field(d, 0, 8)) }

// StreamID returns DB Stream ID.
func (d Doorbell) StreamID() uint16 { return uint16(field(d, 16, 16)) }

// DoorbellsSize returns the size of the doorbells for maxSlots device
// slots plus the host controller.
func DoorbellsSize(maxSlots uint8) uintptr {
	return (uintptr(maxSlots) + 1) * 4
}

// Doorbells is the doorbell array. Doorbell 0 belongs to the host
// controller; 1..MaxSlots belong to device slots.
type Doorbells struct {
	w *mmio.Window
}

// NewDoorbells returns the doorbell array over w, which holds one or more
// doorbell registers.
func NewDoorbells(w *mmio.Window) (Doorbells, error) {
	if w.Size() < 4 || w.Size() > DoorbellArraySize {
		return Doorbells{}, fmt.Errorf("doorbell window size 0x%x outside [4, 0x%x]",
			w.Size(), DoorbellArraySize)
	}
	return Doorbells{w: w}, nil
}

// Len returns the number of doorbell registers.
func (d Doorbells) Len() int { return int(d.w.Size() / 4) }

// Ring writes target and stream to doorbell slot.
func (d Doorbells) Ring(slot, target uint8, stream uint16) {
	d.w.Store32(uintptr(slot)*4, uint32(NewDoorbell(target, stream)))
}

// RingCommand rings the host controller doorbell for the Command Ring.
func (d Doorbells) RingCommand() {
	d.Ring(0, TargetCommand, 0)
}
