package xhci

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/hal/sim"
	"github.com/ardnew/softxhci/xhci/mmio"
	"github.com/ardnew/softxhci/xhci/trb"
)

// =============================================================================
// Test Helpers
// =============================================================================

func openSim(t *testing.T, cfg sim.Config, opts *Options) (*Driver, *sim.Controller) {
	t.Helper()
	c := sim.New(cfg)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := Open(ctx, c, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return d, c
}

// readPhys loads the 64-bit word at a physical address in simulator memory.
func readPhys(t *testing.T, c *sim.Controller, phys uint64) uint64 {
	t.Helper()
	b, err := c.Heap().Translate(phys, 8)
	if err != nil {
		t.Fatalf("Translate(%#x) error = %v", phys, err)
	}
	return mmio.NewMemory(b).Load64(0)
}

type completion struct {
	Pointer uint64
	Code    trb.CompletionCode
	Slot    uint8
}

// recorder collects handler calls.
type recorder struct {
	mu          sync.Mutex
	completions []completion
	events      []trb.TRB
}

func (r *recorder) onCompletion(e trb.CommandCompletionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, completion{e.CommandPointer(), e.CompletionCode(), e.SlotID()})
}

func (r *recorder) onEvent(ev trb.TRB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// counterValue returns the value of the counter name whose labels include
// the given name/value pairs.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for i := 0; i+1 < len(labels); i += 2 {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
						found = true
					}
				}
				if !found {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// =============================================================================
// Bring-up Tests
// =============================================================================

func TestBringUp(t *testing.T) {
	d, c := openSim(t, sim.Config{}, nil)

	cmd := d.op.USBCmd()
	if !cmd.RunStop() || !cmd.InterrupterEnable() {
		t.Errorf("USBCMD = %#x, want R/S and INTE", uint32(cmd))
	}
	if d.op.USBSts().HCHalted() {
		t.Error("controller halted after bring-up")
	}
	if got := d.op.Config().MaxSlotsEnabled(); got != sim.DefaultMaxSlots {
		t.Errorf("MaxSlotsEn = %d, want %d", got, sim.DefaultMaxSlots)
	}
	if got := d.op.DCBAAP().Pointer(); got != d.DCBAA() {
		t.Errorf("DCBAAP = %#x, want %#x", got, d.DCBAA())
	}
	if !d.intr.IMan().Enabled() {
		t.Error("IMAN.IE not set")
	}
	if got := d.intr.ERSTSz().Entries(); got != 1 {
		t.Errorf("ERSTSZ = %d, want 1", got)
	}
	if got := d.intr.ERSTBA().Pointer(); got != d.erst.Phys() {
		t.Errorf("ERSTBA = %#x, want %#x", got, d.erst.Phys())
	}
	if got := d.intr.ERDP().Pointer(); got != d.events.Phys() {
		t.Errorf("ERDP = %#x, want %#x", got, d.events.Phys())
	}
	if got := d.erst.Entry(0); got.Base != d.events.Phys() || got.Size != DefaultEventRingSize {
		t.Errorf("ERST[0] = %+v", got)
	}

	// The Enable Slot command sits in the first Command Ring slot and has
	// already been executed.
	if got := d.EnableSlotCommand(); got != d.cmd.Phys() {
		t.Errorf("EnableSlotCommand() = %#x, want %#x", got, d.cmd.Phys())
	}
	if diff := cmp.Diff([]uint8{1}, c.EnabledSlots()); diff != "" {
		t.Errorf("EnabledSlots() mismatch (-want +got):\n%s", diff)
	}
	want := RingState{
		CommandEnqueue:       1,
		CommandProducerCycle: true,
		CommandConsumerCycle: true,
		EventConsumerCycle:   true,
	}
	if diff := cmp.Diff(want, d.RingState()); diff != "" {
		t.Errorf("RingState() mismatch (-want +got):\n%s", diff)
	}

	if got := d.Version(); got != sim.HCIVersion {
		t.Errorf("Version() = %#x, want %#x", got, sim.HCIVersion)
	}
	if got := d.Ports(); got != sim.DefaultMaxPorts {
		t.Errorf("Ports() = %d, want %d", got, sim.DefaultMaxPorts)
	}
	if got := len(d.Protocols()); got != 2 {
		t.Errorf("len(Protocols()) = %d, want 2", got)
	}
}

func TestBringUpMaxSlots(t *testing.T) {
	d, _ := openSim(t, sim.Config{}, &Options{MaxSlots: 3})

	if d.MaxSlots() != 3 {
		t.Errorf("MaxSlots() = %d, want 3", d.MaxSlots())
	}
	if got := d.op.Config().MaxSlotsEnabled(); got != 3 {
		t.Errorf("MaxSlotsEn = %d, want 3", got)
	}
	if got := d.dcbaa.Len(); got != 4*8 {
		t.Errorf("DCBAA size = %d, want %d", got, 4*8)
	}
}

func TestBringUpScratchpad(t *testing.T) {
	d, c := openSim(t, sim.Config{ScratchpadBuffers: 3}, nil)

	if d.ScratchpadBuffers() != 3 {
		t.Fatalf("ScratchpadBuffers() = %d, want 3", d.ScratchpadBuffers())
	}
	array := readPhys(t, c, d.DCBAA())
	if array != d.scratchpad.Phys {
		t.Fatalf("DCBAA[0] = %#x, want scratchpad array %#x", array, d.scratchpad.Phys)
	}
	seen := map[uint64]bool{}
	for i := range 3 {
		buf := readPhys(t, c, array+uint64(i)*8)
		if buf == 0 || buf%4096 != 0 {
			t.Errorf("scratchpad[%d] = %#x, want page-aligned buffer", i, buf)
		}
		if seen[buf] {
			t.Errorf("scratchpad[%d] = %#x reused", i, buf)
		}
		seen[buf] = true
	}
}

func TestBringUpNoScratchpad(t *testing.T) {
	d, c := openSim(t, sim.Config{}, nil)

	if d.ScratchpadBuffers() != 0 {
		t.Errorf("ScratchpadBuffers() = %d, want 0", d.ScratchpadBuffers())
	}
	if got := readPhys(t, c, d.DCBAA()); got != 0 {
		t.Errorf("DCBAA[0] = %#x, want 0", got)
	}
}

func TestBringUpResetTimeout(t *testing.T) {
	c := sim.New(sim.Config{ResetPolls: -1})
	_, err := Open(context.Background(), c, &Options{ResetTimeout: 5 * time.Millisecond})
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Open() error = %v, want %v", err, pkg.ErrTimeout)
	}
}

func TestOpenClosesOnFailure(t *testing.T) {
	tests := []struct {
		name string
		cfg  sim.Config
		opts *Options
		want error
	}{
		{"invalid options", sim.Config{}, &Options{CommandRingSize: 1}, pkg.ErrInvalidParameter},
		{"reset timeout", sim.Config{ResetPolls: -1}, &Options{ResetTimeout: 5 * time.Millisecond}, pkg.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sim.New(tt.cfg)
			_, err := Open(context.Background(), c, tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Open() error = %v, want %v", err, tt.want)
			}
			if err := c.Init(context.Background()); !errors.Is(err, sim.ErrClosed) {
				t.Errorf("Init() after failed Open = %v, want %v", err, sim.ErrClosed)
			}
		})
	}
}

func TestBringUpContextDone(t *testing.T) {
	c := sim.New(sim.Config{ResetPolls: -1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := Open(ctx, c, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Open() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("Open() error = %v, should not be %v", err, pkg.ErrTimeout)
	}
}

func TestBringUpSlowReset(t *testing.T) {
	d, _ := openSim(t, sim.Config{ResetPolls: 20}, &Options{PollInterval: time.Microsecond})
	if d.op.USBSts().HCHalted() {
		t.Error("controller halted after bring-up")
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		ok   bool
	}{
		{"zero", Options{}, true},
		{"min rings", Options{CommandRingSize: MinCommandRingSize, EventRingSize: MinEventRingSize}, true},
		{"max rings", Options{CommandRingSize: MaxRingSize, EventRingSize: MaxRingSize}, true},
		{"command ring too small", Options{CommandRingSize: 1}, false},
		{"command ring too large", Options{CommandRingSize: MaxRingSize + 1}, false},
		{"event ring too small", Options{EventRingSize: MinEventRingSize - 1}, false},
		{"negative timeout", Options{ResetTimeout: -time.Second}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Errorf("Validate() error = %v, want %v", err, pkg.ErrInvalidParameter)
			}
		})
	}

	_, err := Open(context.Background(), sim.New(sim.Config{}), &Options{CommandRingSize: 1})
	if !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Open() error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
}

// =============================================================================
// Interrupt Tests
// =============================================================================

func TestHandleInterrupt(t *testing.T) {
	d, _ := openSim(t, sim.Config{}, nil)
	var rec recorder
	d.SetOnCommandCompletion(rec.onCompletion)

	n, err := d.HandleInterrupt()
	if err != nil {
		t.Fatalf("HandleInterrupt() error = %v", err)
	}
	if n != 1 {
		t.Errorf("HandleInterrupt() = %d, want 1", n)
	}
	want := []completion{{d.EnableSlotCommand(), trb.CompletionSuccess, 1}}
	if diff := cmp.Diff(want, rec.completions); diff != "" {
		t.Errorf("completions mismatch (-want +got):\n%s", diff)
	}

	state := d.RingState()
	if state.CommandDequeue != 1 || state.EventDequeue != 1 {
		t.Errorf("RingState() = %+v, want command and event dequeue at 1", state)
	}
	if d.op.USBSts().EventInterrupt() {
		t.Error("USBSTS.EINT not acknowledged")
	}
	if m := d.intr.IMan(); m.Pending() || !m.Enabled() {
		t.Errorf("IMAN = %#x, want IE only", uint32(m))
	}
	if e := d.intr.ERDP(); e.Busy() || e.Pointer() != d.events.DequeuePhys() {
		t.Errorf("ERDP = %#x, want %#x without EHB", uint64(e), d.events.DequeuePhys())
	}

	// Nothing pending.
	if n, err := d.HandleInterrupt(); n != 0 || err != nil {
		t.Errorf("HandleInterrupt() = %d, %v, want 0, nil", n, err)
	}
}

func TestHandleInterruptUnsupportedEvent(t *testing.T) {
	d, c := openSim(t, sim.Config{}, nil)
	if err := c.Connect(2, 3); err != nil {
		t.Fatal(err)
	}
	before := d.RingState()

	_, err := d.HandleInterrupt()
	var ue *UnsupportedEventError
	if !errors.As(err, &ue) {
		t.Fatalf("HandleInterrupt() error = %v, want *UnsupportedEventError", err)
	}
	if diff := cmp.Diff(&UnsupportedEventError{Type: trb.TypePortStatusChangeEvent, Slot: 1}, ue); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(err, pkg.ErrUnsupportedEvent) {
		t.Errorf("errors.Is(%v, ErrUnsupportedEvent) = false", err)
	}
	if diff := cmp.Diff(before, d.RingState()); diff != "" {
		t.Errorf("rings changed on error (-before +after):\n%s", diff)
	}

	// With a handler the same events are consumed.
	var rec recorder
	d.SetOnCommandCompletion(rec.onCompletion)
	d.SetOnEvent(rec.onEvent)
	n, err := d.HandleInterrupt()
	if err != nil {
		t.Fatalf("HandleInterrupt() error = %v", err)
	}
	if n != 2 || len(rec.completions) != 1 || len(rec.events) != 1 {
		t.Fatalf("HandleInterrupt() = %d with %d completions and %d events, want 2, 1, 1",
			n, len(rec.completions), len(rec.events))
	}
	psc, err := trb.AsPortStatusChangeEvent(rec.events[0])
	if err != nil {
		t.Fatal(err)
	}
	if psc.PortID() != 2 {
		t.Errorf("PortID() = %d, want 2", psc.PortID())
	}
	if !d.PortSC(2).CurrentConnectStatus() {
		t.Error("PORTSC(2) not connected")
	}
}

func TestHandleInterruptResubmitFromHandler(t *testing.T) {
	d, _ := openSim(t, sim.Config{}, &Options{CommandRingSize: 2})

	// Each completion queues the next command until five have run.
	var (
		mu   sync.Mutex
		done int
	)
	d.SetOnCommandCompletion(func(e trb.CommandCompletionEvent) {
		mu.Lock()
		done++
		more := done < 5
		mu.Unlock()
		if more {
			if _, err := d.Noop(); err != nil {
				t.Errorf("Noop() from handler error = %v", err)
			}
		}
	})
	for range 5 {
		if _, err := d.HandleInterrupt(); err != nil {
			t.Fatalf("HandleInterrupt() error = %v", err)
		}
	}
	if done != 5 {
		t.Errorf("completions = %d, want 5", done)
	}
	if _, err := d.Noop(); err != nil {
		t.Errorf("Noop() after handler chain error = %v", err)
	}
}

func TestServe(t *testing.T) {
	d, c := openSim(t, sim.Config{}, nil)
	completions := make(chan trb.CommandCompletionEvent, 4)
	d.SetOnCommandCompletion(func(e trb.CommandCompletionEvent) { completions <- e })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Serve(ctx, c) }()

	next := func() trb.CommandCompletionEvent {
		t.Helper()
		select {
		case e := <-completions:
			return e
		case <-time.After(time.Second):
			t.Fatal("no completion")
			return trb.CommandCompletionEvent{}
		}
	}

	if e := next(); e.CommandPointer() != d.EnableSlotCommand() {
		t.Errorf("first completion for %#x, want Enable Slot at %#x", e.CommandPointer(), d.EnableSlotCommand())
	}
	phys, err := d.Noop()
	if err != nil {
		t.Fatal(err)
	}
	if e := next(); e.CommandPointer() != phys {
		t.Errorf("completion for %#x, want No Op at %#x", e.CommandPointer(), phys)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return")
	}
}

func TestServeUnsupportedEvent(t *testing.T) {
	d, c := openSim(t, sim.Config{}, nil)
	if err := c.Connect(1, 3); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Serve(ctx, c); !errors.Is(err, pkg.ErrUnsupportedEvent) {
		t.Errorf("Serve() = %v, want %v", err, pkg.ErrUnsupportedEvent)
	}
}

// =============================================================================
// Command Tests
// =============================================================================

func TestSubmitCommand(t *testing.T) {
	d, c := openSim(t, sim.Config{}, nil)
	var rec recorder
	d.SetOnCommandCompletion(rec.onCompletion)

	noop, err := d.Noop()
	if err != nil {
		t.Fatal(err)
	}
	disable, err := d.DisableSlot(1)
	if err != nil {
		t.Fatal(err)
	}
	again, err := d.DisableSlot(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.HandleInterrupt(); err != nil {
		t.Fatal(err)
	}

	want := []completion{
		{d.EnableSlotCommand(), trb.CompletionSuccess, 1},
		{noop, trb.CompletionSuccess, 0},
		{disable, trb.CompletionSuccess, 1},
		{again, trb.CompletionSlotNotEnabled, 1},
	}
	if diff := cmp.Diff(want, rec.completions); diff != "" {
		t.Errorf("completions mismatch (-want +got):\n%s", diff)
	}
	if got := c.EnabledSlots(); len(got) != 0 {
		t.Errorf("EnabledSlots() = %v, want none", got)
	}
	if err := rec.completions[3].Code.Err(); !errors.Is(err, pkg.ErrSlotNotEnabled) {
		t.Errorf("Err() = %v, want %v", err, pkg.ErrSlotNotEnabled)
	}
}

func TestSubmitCommandInvalid(t *testing.T) {
	d, _ := openSim(t, sim.Config{}, nil)

	tests := []struct {
		name string
		trb  trb.TRB
	}{
		{"link", trb.NewLink(0, true, true)},
		{"event", trb.NewCommandCompletionEvent(0, trb.CompletionSuccess, 0, true)},
		{"transfer", func() trb.TRB { var n trb.TRB; n.SetType(trb.TypeNormal); return n }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.SubmitCommand(tt.trb); !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Errorf("SubmitCommand() error = %v, want %v", err, pkg.ErrInvalidParameter)
			}
		})
	}

	for _, slot := range []uint8{0, sim.DefaultMaxSlots + 1} {
		if _, err := d.DisableSlot(slot); !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("DisableSlot(%d) error = %v, want %v", slot, err, pkg.ErrInvalidParameter)
		}
	}
	if got := d.RingState().CommandEnqueue; got != 1 {
		t.Errorf("CommandEnqueue = %d after rejected commands, want 1", got)
	}
}

func TestSubmitCommandRingFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	d, _ := openSim(t, sim.Config{}, &Options{CommandRingSize: 4, Metrics: NewMetrics(reg)})

	// Enable Slot holds one of three usable slots.
	for i := range 2 {
		if _, err := d.Noop(); err != nil {
			t.Fatalf("Noop() %d error = %v", i, err)
		}
	}
	if _, err := d.Noop(); !errors.Is(err, pkg.ErrRingFull) {
		t.Fatalf("Noop() on full ring error = %v, want %v", err, pkg.ErrRingFull)
	}
	if got := counterValue(t, reg, "xhci_driver_command_ring_full_total"); got != 1 {
		t.Errorf("command_ring_full_total = %v, want 1", got)
	}

	if n, err := d.HandleInterrupt(); err != nil || n != 3 {
		t.Fatalf("HandleInterrupt() = %d, %v, want 3, nil", n, err)
	}
	if _, err := d.Noop(); err != nil {
		t.Errorf("Noop() after completions error = %v", err)
	}
}

func TestSubmitCommandHalted(t *testing.T) {
	d, _ := openSim(t, sim.Config{}, nil)
	if err := d.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Noop(); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Noop() while halted error = %v, want %v", err, pkg.ErrNotRunning)
	}
}

// =============================================================================
// Metrics Tests
// =============================================================================

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	d, c := openSim(t, sim.Config{}, &Options{Metrics: NewMetrics(reg)})
	d.SetOnEvent(func(trb.TRB) {})

	if _, err := d.Noop(); err != nil {
		t.Fatal(err)
	}
	var bad trb.TRB
	bad.SetType(trb.TypeForceHeaderCommand)
	if _, err := d.SubmitCommand(bad); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(1, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := d.HandleInterrupt(); err != nil {
		t.Fatal(err)
	}

	cce := trb.TypeCommandCompletionEvent.String()
	psc := trb.TypePortStatusChangeEvent.String()
	tests := []struct {
		name   string
		labels []string
		want   float64
	}{
		{"xhci_driver_commands_submitted_total", nil, 3},
		{"xhci_driver_interrupts_total", nil, 1},
		{"xhci_driver_events_total", []string{"type", cce}, 3},
		{"xhci_driver_events_total", []string{"type", psc}, 1},
		{"xhci_driver_command_completions_total", []string{"code", trb.CompletionSuccess.String()}, 2},
		{"xhci_driver_command_completions_total", []string{"code", trb.CompletionTRBError.String()}, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, reg, tt.name, tt.labels...); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.commandSubmitted()
	m.commandRingFull()
	m.interrupt()
	m.event(trb.TypeCommandCompletionEvent)
	m.completion(trb.CompletionSuccess)
}

// =============================================================================
// Error Tests
// =============================================================================

func TestUnsupportedEventError(t *testing.T) {
	err := &UnsupportedEventError{Type: trb.TypeMFIndexWrapEvent, Slot: 7}
	want := "unsupported event: MFINDEX Wrap Event (39) in event ring slot 7"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, pkg.ErrUnsupportedEvent) {
		t.Error("errors.Is(ErrUnsupportedEvent) = false")
	}
}

func TestStop(t *testing.T) {
	d, _ := openSim(t, sim.Config{}, nil)
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !d.op.USBSts().HCHalted() {
		t.Error("controller running after Stop")
	}
	if d.op.USBCmd().RunStop() {
		t.Error("USBCMD.R/S set after Stop")
	}
}
