package trb

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
)

// CompletionCode reports the outcome of a command or transfer (xHCI 6.4.5).
type CompletionCode uint8

// Completion codes.
const (
	CompletionInvalid                CompletionCode = 0
	CompletionSuccess                CompletionCode = 1
	CompletionDataBufferError        CompletionCode = 2
	CompletionBabbleDetected         CompletionCode = 3
	CompletionUSBTransactionError    CompletionCode = 4
	CompletionTRBError               CompletionCode = 5
	CompletionStallError             CompletionCode = 6
	CompletionResourceError          CompletionCode = 7
	CompletionBandwidthError         CompletionCode = 8
	CompletionNoSlotsAvailable       CompletionCode = 9
	CompletionInvalidStreamType      CompletionCode = 10
	CompletionSlotNotEnabled         CompletionCode = 11
	CompletionEndpointNotEnabled     CompletionCode = 12
	CompletionShortPacket            CompletionCode = 13
	CompletionRingUnderrun           CompletionCode = 14
	CompletionRingOverrun            CompletionCode = 15
	CompletionVFEventRingFull        CompletionCode = 16
	CompletionParameterError         CompletionCode = 17
	CompletionBandwidthOverrun       CompletionCode = 18
	CompletionContextStateError      CompletionCode = 19
	CompletionNoPingResponse         CompletionCode = 20
	CompletionEventRingFull          CompletionCode = 21
	CompletionIncompatibleDevice     CompletionCode = 22
	CompletionMissedService          CompletionCode = 23
	CompletionCommandRingStopped     CompletionCode = 24
	CompletionCommandAborted         CompletionCode = 25
	CompletionStopped                CompletionCode = 26
	CompletionStoppedLengthInvalid   CompletionCode = 27
	CompletionStoppedShortPacket     CompletionCode = 28
	CompletionMaxExitLatencyTooLarge CompletionCode = 29
)

// String returns a human-readable completion code name.
func (c CompletionCode) String() string {
	switch c {
	case CompletionInvalid:
		return "invalid"
	case CompletionSuccess:
		return "success"
	case CompletionDataBufferError:
		return "data buffer error"
	case CompletionBabbleDetected:
		return "babble detected"
	case CompletionUSBTransactionError:
		return "USB transaction error"
	case CompletionTRBError:
		return "TRB error"
	case CompletionStallError:
		return "stall error"
	case CompletionResourceError:
		return "resource error"
	case CompletionBandwidthError:
		return "bandwidth error"
	case CompletionNoSlotsAvailable:
		return "no slots available"
	case CompletionSlotNotEnabled:
		return "slot not enabled"
	case CompletionEndpointNotEnabled:
		return "endpoint not enabled"
	case CompletionShortPacket:
		return "short packet"
	case CompletionParameterError:
		return "parameter error"
	case CompletionContextStateError:
		return "context state error"
	case CompletionEventRingFull:
		return "event ring full"
	case CompletionCommandRingStopped:
		return "command ring stopped"
	case CompletionCommandAborted:
		return "command aborted"
	case CompletionStopped:
		return "stopped"
	default:
		return fmt.Sprintf("completion code %d", uint8(c))
	}
}

// Err returns nil for success, otherwise the matching sentinel error.
func (c CompletionCode) Err() error {
	switch c {
	case CompletionSuccess:
		return nil
	case CompletionTRBError:
		return pkg.ErrTRB
	case CompletionNoSlotsAvailable:
		return pkg.ErrNoSlots
	case CompletionParameterError:
		return pkg.ErrParameter
	case CompletionContextStateError:
		return pkg.ErrContextState
	case CompletionSlotNotEnabled:
		return pkg.ErrSlotNotEnabled
	case CompletionCommandRingStopped:
		return pkg.ErrCommandRingStopped
	case CompletionCommandAborted:
		return pkg.ErrCommandAborted
	default:
		return fmt.Errorf("%w: %s", pkg.ErrCompletion, c)
	}
}
