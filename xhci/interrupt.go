package xhci

import (
	"context"
	"errors"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/regs"
	"github.com/ardnew/softxhci/xhci/trb"
)

// HandleInterrupt acknowledges the interrupter and drains the Event Ring.
// It returns the number of events consumed.
//
// Every pending event is checked before any is consumed: if an event
// other than a Command Completion Event is pending and no handler is set,
// HandleInterrupt returns an *UnsupportedEventError and leaves the Event
// Ring as it was. Handlers run after the Event Ring has been advanced.
func (d *Driver) HandleInterrupt() (int, error) {
	d.mutex.Lock()

	d.opts.Metrics.interrupt()
	d.op.AckUSBSts(regs.USBStsEventInterrupt)
	d.intr.AckPending()

	view := d.events.Peek()
	if d.onEvent == nil {
		for i, ev := range view.All() {
			if t := ev.Type(); t != trb.TypeCommandCompletionEvent {
				d.mutex.Unlock()
				return 0, &UnsupportedEventError{Type: t, Slot: view.Index(i)}
			}
		}
	}

	var (
		completions []trb.CommandCompletionEvent
		others      []trb.TRB
	)
	for _, ev := range view.All() {
		d.opts.Metrics.event(ev.Type())
		if cce, err := trb.AsCommandCompletionEvent(ev); err == nil {
			d.cmd.ProcessEvent(ev)
			d.opts.Metrics.completion(cce.CompletionCode())
			pkg.LogDebug(pkg.ComponentDriver, "command completed",
				"code", cce.CompletionCode().String(), "slot", cce.SlotID())
			completions = append(completions, cce)
			continue
		}
		others = append(others, ev)
	}

	err := d.events.AdvanceDequeuePointer(view.Len(), d.intr)
	onCompletion, onEvent := d.onCommandCompletion, d.onEvent
	d.mutex.Unlock()
	if err != nil {
		return 0, err
	}

	if onCompletion != nil {
		for _, c := range completions {
			onCompletion(c)
		}
	}
	for _, ev := range others {
		onEvent(ev)
	}
	return view.Len(), nil
}

// InterruptSource is anything an interrupt can be waited on.
type InterruptSource interface {
	WaitInterrupt(ctx context.Context) error
}

// Serve waits for interrupts from src and handles them until ctx is done
// or handling fails. It returns nil when ctx is cancelled.
func (d *Driver) Serve(ctx context.Context, src InterruptSource) error {
	pkg.LogInfo(pkg.ComponentDriver, "serving interrupts")
	for {
		if err := src.WaitInterrupt(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		if _, err := d.HandleInterrupt(); err != nil {
			return err
		}
	}
}
