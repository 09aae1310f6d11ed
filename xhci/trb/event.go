package trb

const (
	ccePointerMask    = ^uint64(0xF)
	cceParamMask      = 0x00FF_FFFF
	cceCodeShift      = 24
	cceVFShift        = 16
	cceVFMask         = 0xFF
	cceSlotShift      = 24
	pscPortShift      = 24
	pscPortMask       = 0xFF
	transferCodeShift = 24
	transferLenMask   = 0x00FF_FFFF
	transferEDBit     = 1 << 2
	transferEPShift   = 16
	transferEPMask    = 0x1F
)

// CommandCompletionEvent is a view of a Command Completion Event TRB
// (xHCI 6.4.2.2).
type CommandCompletionEvent struct {
	TRB
}

// AsCommandCompletionEvent returns a typed view of t or a *WrongTypeError.
func AsCommandCompletionEvent(t TRB) (CommandCompletionEvent, error) {
	if err := checkType(t, TypeCommandCompletionEvent); err != nil {
		return CommandCompletionEvent{}, err
	}
	return CommandCompletionEvent{t}, nil
}

// NewCommandCompletionEvent builds a Command Completion Event as a
// controller would post it.
func NewCommandCompletionEvent(ptr uint64, code CompletionCode, slot uint8, cycle bool) TRB {
	var t TRB
	t.Parameter = ptr & ccePointerMask
	t.Status = uint32(code) << cceCodeShift
	t.Control = uint32(slot) << cceSlotShift
	t.SetType(TypeCommandCompletionEvent)
	t.SetCycle(cycle)
	return t
}

// CommandPointer returns the physical address of the completed command TRB.
func (e CommandCompletionEvent) CommandPointer() uint64 {
	return e.Parameter & ccePointerMask
}

// CompletionParameter returns the 24-bit command completion parameter.
func (e CommandCompletionEvent) CompletionParameter() uint32 {
	return e.Status & cceParamMask
}

// CompletionCode returns the completion code.
func (e CommandCompletionEvent) CompletionCode() CompletionCode {
	return CompletionCode(e.Status >> cceCodeShift)
}

// VFID returns the Virtual Function ID.
func (e CommandCompletionEvent) VFID() uint8 {
	return uint8(e.Control >> cceVFShift & cceVFMask)
}

// SlotID returns the slot ID.
func (e CommandCompletionEvent) SlotID() uint8 {
	return uint8(e.Control >> cceSlotShift)
}

// PortStatusChangeEvent is a view of a Port Status Change Event TRB
// (xHCI 6.4.2.3).
type PortStatusChangeEvent struct {
	TRB
}

// AsPortStatusChangeEvent returns a typed view of t or a *WrongTypeError.
func AsPortStatusChangeEvent(t TRB) (PortStatusChangeEvent, error) {
	if err := checkType(t, TypePortStatusChangeEvent); err != nil {
		return PortStatusChangeEvent{}, err
	}
	return PortStatusChangeEvent{t}, nil
}

// NewPortStatusChangeEvent builds a Port Status Change Event for port
// (1-based).
func NewPortStatusChangeEvent(port uint8, cycle bool) TRB {
	var t TRB
	t.Parameter = uint64(port) << pscPortShift
	t.Status = uint32(CompletionSuccess) << cceCodeShift
	t.SetType(TypePortStatusChangeEvent)
	t.SetCycle(cycle)
	return t
}

// PortID returns the 1-based root hub port number.
func (e PortStatusChangeEvent) PortID() uint8 {
	return uint8(e.Parameter >> pscPortShift & pscPortMask)
}

// CompletionCode returns the completion code.
func (e PortStatusChangeEvent) CompletionCode() CompletionCode {
	return CompletionCode(e.Status >> cceCodeShift)
}

// TransferEvent is a view of a Transfer Event TRB (xHCI 6.4.2.1).
type TransferEvent struct {
	TRB
}

// AsTransferEvent returns a typed view of t or a *WrongTypeError.
func AsTransferEvent(t TRB) (TransferEvent, error) {
	if err := checkType(t, TypeTransferEvent); err != nil {
		return TransferEvent{}, err
	}
	return TransferEvent{t}, nil
}

// Pointer returns the TRB pointer, or event data if EventData is set.
func (e TransferEvent) Pointer() uint64 {
	return e.Parameter
}

// Length returns the residual transfer length.
func (e TransferEvent) Length() uint32 {
	return e.Status & transferLenMask
}

// CompletionCode returns the completion code.
func (e TransferEvent) CompletionCode() CompletionCode {
	return CompletionCode(e.Status >> transferCodeShift)
}

// EventData reports whether Pointer holds event data.
func (e TransferEvent) EventData() bool {
	return e.Control&transferEDBit != 0
}

// EndpointID returns the device context index of the endpoint.
func (e TransferEvent) EndpointID() uint8 {
	return uint8(e.Control >> transferEPShift & transferEPMask)
}

// SlotID returns the slot ID.
func (e TransferEvent) SlotID() uint8 {
	return uint8(e.Control >> cceSlotShift)
}
