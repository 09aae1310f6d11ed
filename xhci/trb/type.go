package trb

import "fmt"

// Type is the 6-bit TRB Type field (xHCI 6.4.6, Table 6-91).
type Type uint8

// TRB types.
const (
	TypeReserved                   Type = 0
	TypeNormal                     Type = 1
	TypeSetupStage                 Type = 2
	TypeDataStage                  Type = 3
	TypeStatusStage                Type = 4
	TypeIsoch                      Type = 5
	TypeLink                       Type = 6
	TypeEventData                  Type = 7
	TypeNoop                       Type = 8
	TypeEnableSlotCommand          Type = 9
	TypeDisableSlotCommand         Type = 10
	TypeAddressDeviceCommand       Type = 11
	TypeConfigureEndpointCommand   Type = 12
	TypeEvaluateContextCommand     Type = 13
	TypeResetEndpointCommand       Type = 14
	TypeStopEndpointCommand        Type = 15
	TypeSetTRDequeuePointerCommand Type = 16
	TypeResetDeviceCommand         Type = 17
	TypeForceEventCommand          Type = 18
	TypeNegotiateBandwidthCommand  Type = 19
	TypeSetLatencyToleranceCommand Type = 20
	TypeGetPortBandwidthCommand    Type = 21
	TypeForceHeaderCommand         Type = 22
	TypeNoopCommand                Type = 23
	TypeGetExtendedPropertyCommand Type = 24
	TypeSetExtendedPropertyCommand Type = 25
	TypeTransferEvent              Type = 32
	TypeCommandCompletionEvent     Type = 33
	TypePortStatusChangeEvent      Type = 34
	TypeBandwidthRequestEvent      Type = 35
	TypeDoorbellEvent              Type = 36
	TypeHostControllerEvent        Type = 37
	TypeDeviceNotificationEvent    Type = 38
	TypeMFIndexWrapEvent           Type = 39
)

var typeNames = map[Type]string{
	TypeReserved:                   "Reserved",
	TypeNormal:                     "Normal",
	TypeSetupStage:                 "Setup Stage",
	TypeDataStage:                  "Data Stage",
	TypeStatusStage:                "Status Stage",
	TypeIsoch:                      "Isoch",
	TypeLink:                       "Link",
	TypeEventData:                  "Event Data",
	TypeNoop:                       "No Op",
	TypeEnableSlotCommand:          "Enable Slot Command",
	TypeDisableSlotCommand:         "Disable Slot Command",
	TypeAddressDeviceCommand:       "Address Device Command",
	TypeConfigureEndpointCommand:   "Configure Endpoint Command",
	TypeEvaluateContextCommand:     "Evaluate Context Command",
	TypeResetEndpointCommand:       "Reset Endpoint Command",
	TypeStopEndpointCommand:        "Stop Endpoint Command",
	TypeSetTRDequeuePointerCommand: "Set TR Dequeue Pointer Command",
	TypeResetDeviceCommand:         "Reset Device Command",
	TypeForceEventCommand:          "Force Event Command",
	TypeNegotiateBandwidthCommand:  "Negotiate Bandwidth Command",
	TypeSetLatencyToleranceCommand: "Set Latency Tolerance Value Command",
	TypeGetPortBandwidthCommand:    "Get Port Bandwidth Command",
	TypeForceHeaderCommand:         "Force Header Command",
	TypeNoopCommand:                "No Op Command",
	TypeGetExtendedPropertyCommand: "Get Extended Property Command",
	TypeSetExtendedPropertyCommand: "Set Extended Property Command",
	TypeTransferEvent:              "Transfer Event",
	TypeCommandCompletionEvent:     "Command Completion Event",
	TypePortStatusChangeEvent:      "Port Status Change Event",
	TypeBandwidthRequestEvent:      "Bandwidth Request Event",
	TypeDoorbellEvent:              "Doorbell Event",
	TypeHostControllerEvent:        "Host Controller Event",
	TypeDeviceNotificationEvent:    "Device Notification Event",
	TypeMFIndexWrapEvent:           "MFINDEX Wrap Event",
}

// String returns the xHCI name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown TRB Type (%d)", uint8(t))
}

// IsCommand reports whether the type may be placed on the Command Ring.
func (t Type) IsCommand() bool {
	return t == TypeLink || (t >= TypeEnableSlotCommand && t <= TypeSetExtendedPropertyCommand)
}

// IsEvent reports whether the type may appear on an Event Ring.
func (t Type) IsEvent() bool {
	return t >= TypeTransferEvent && t <= TypeMFIndexWrapEvent
}
