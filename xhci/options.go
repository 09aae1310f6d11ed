package xhci

import (
	"fmt"
	"time"

	"github.com/ardnew/softxhci/pkg"
)

// Default option values.
const (
	DefaultCommandRingSize = 256
	DefaultEventRingSize   = 256
	DefaultPollInterval    = 50 * time.Microsecond
)

// Ring size limits. One segment of either ring must fit in 64 KiB.
const (
	MinCommandRingSize = 2
	MinEventRingSize   = 16
	MaxRingSize        = 4096
)

// Options configures a Driver. The zero value selects the defaults.
type Options struct {
	// CommandRingSize is the number of Command Ring slots, including the
	// Link TRB.
	CommandRingSize int

	// EventRingSize is the number of Event Ring slots.
	EventRingSize int

	// MaxSlots limits the enabled device slots. Zero enables every slot
	// the controller supports.
	MaxSlots uint8

	// ResetTimeout bounds each wait on controller status during bring-up.
	// Zero waits until the context is done.
	ResetTimeout time.Duration

	// PollInterval is the delay between status register polls.
	PollInterval time.Duration

	// Metrics receives driver counters. May be nil.
	Metrics *Metrics
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.CommandRingSize == 0 {
		out.CommandRingSize = DefaultCommandRingSize
	}
	if out.EventRingSize == 0 {
		out.EventRingSize = DefaultEventRingSize
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	return out
}

// Validate reports whether the options are usable.
func (o Options) Validate() error {
	switch {
	case o.CommandRingSize != 0 && (o.CommandRingSize < MinCommandRingSize || o.CommandRingSize > MaxRingSize):
		return fmt.Errorf("%w: command ring size %d outside [%d, %d]",
			pkg.ErrInvalidParameter, o.CommandRingSize, MinCommandRingSize, MaxRingSize)
	case o.EventRingSize != 0 && (o.EventRingSize < MinEventRingSize || o.EventRingSize > MaxRingSize):
		return fmt.Errorf("%w: event ring size %d outside [%d, %d]",
			pkg.ErrInvalidParameter, o.EventRingSize, MinEventRingSize, MaxRingSize)
	case o.ResetTimeout < 0:
		return fmt.Errorf("%w: negative reset timeout", pkg.ErrInvalidParameter)
	}
	return nil
}
