package xhci

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/trb"
)

// UnsupportedEventError reports an event the driver has no handler for.
type UnsupportedEventError struct {
	Type trb.Type
	// Slot is the Event Ring slot holding the event.
	Slot int
}

func (e *UnsupportedEventError) Error() string {
	return fmt.Sprintf("%s: %s (%d) in event ring slot %d",
		pkg.ErrUnsupportedEvent, e.Type, uint8(e.Type), e.Slot)
}

// Unwrap returns pkg.ErrUnsupportedEvent.
func (e *UnsupportedEventError) Unwrap() error {
	return pkg.ErrUnsupportedEvent
}
