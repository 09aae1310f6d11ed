package pkg

import "errors"

// Ring protocol errors.
var (
	// ErrRingFull indicates the command ring has no free slot.
	ErrRingFull = errors.New("ring is full")

	// ErrWrongType indicates a TRB was reinterpreted as a type it does not carry.
	ErrWrongType = errors.New("wrong TRB type")

	// ErrUnsupportedEvent indicates an event TRB the driver cannot dispatch.
	ErrUnsupportedEvent = errors.New("unsupported event")

	// ErrAdvanceOverrun indicates an attempt to advance the event ring
	// dequeue pointer past the events that are available.
	ErrAdvanceOverrun = errors.New("advance past available events")
)

// Controller and resource errors.
var (
	// ErrTimeout indicates the controller did not reach a state in time.
	ErrTimeout = errors.New("controller timeout")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoMemory indicates the allocator could not satisfy a request.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrOverlap indicates two mutable register windows would alias.
	ErrOverlap = errors.New("register window overlap")

	// ErrOutOfRange indicates an access outside a register window or buffer.
	ErrOutOfRange = errors.New("out of range")

	// ErrNotRunning indicates the controller is not running.
	ErrNotRunning = errors.New("not running")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")
)

// Command completion errors.
var (
	// ErrTRB indicates the controller rejected a TRB (TRB Error).
	ErrTRB = errors.New("TRB error")

	// ErrNoSlots indicates no device slot is available.
	ErrNoSlots = errors.New("no slots available")

	// ErrParameter indicates a command parameter was invalid.
	ErrParameter = errors.New("parameter error")

	// ErrContextState indicates a context was in the wrong state for the command.
	ErrContextState = errors.New("context state error")

	// ErrSlotNotEnabled indicates the command addressed a disabled slot.
	ErrSlotNotEnabled = errors.New("slot not enabled")

	// ErrCommandRingStopped indicates the command ring was stopped.
	ErrCommandRingStopped = errors.New("command ring stopped")

	// ErrCommandAborted indicates the command was aborted.
	ErrCommandAborted = errors.New("command aborted")

	// ErrCompletion indicates an unrecognized completion code.
	ErrCompletion = errors.New("command failed")
)
