package trb

const (
	slotTypeShift = 16
	slotTypeMask  = 0x1F
	slotIDShift   = 24
)

// EnableSlotCommand builds an Enable Slot Command TRB (xHCI 6.4.3.2).
// The cycle bit is left for the ring to set.
func EnableSlotCommand(slotType uint8) TRB {
	var t TRB
	t.SetType(TypeEnableSlotCommand)
	t.Control |= uint32(slotType&slotTypeMask) << slotTypeShift
	return t
}

// SlotType returns the slot type field of an Enable Slot Command.
func SlotType(t TRB) uint8 {
	return uint8(t.Control >> slotTypeShift & slotTypeMask)
}

// DisableSlotCommand builds a Disable Slot Command TRB (xHCI 6.4.3.3).
func DisableSlotCommand(slot uint8) TRB {
	var t TRB
	t.SetType(TypeDisableSlotCommand)
	t.Control |= uint32(slot) << slotIDShift
	return t
}

// SlotID returns the slot ID field of a slot-addressed command.
func SlotID(t TRB) uint8 {
	return uint8(t.Control >> slotIDShift)
}

// NoopCommand builds a No Op Command TRB (xHCI 6.4.3.1).
func NoopCommand() TRB {
	var t TRB
	t.SetType(TypeNoopCommand)
	return t
}
