package ring

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/dma"
	"github.com/ardnew/softxhci/xhci/mmio"
	"github.com/ardnew/softxhci/xhci/regs"
	"github.com/ardnew/softxhci/xhci/trb"
)

const heapPhys = 0x10_0000

// register stands in for CRCR and ERDP.
type register struct {
	v      uint64
	writes int
}

func (r *register) WriteCRCR(v uint64) { r.v = v; r.writes++ }
func (r *register) WriteERDP(v uint64) { r.v = v; r.writes++ }

func newHeap(t *testing.T) *dma.Heap {
	t.Helper()
	return dma.NewHeap(mmio.Alloc(64*1024).Bytes(), heapPhys)
}

func newCommandRing(t *testing.T, n int) (*CommandRing, *register) {
	t.Helper()
	crcr := &register{}
	r, err := NewCommandRing(n, crcr, newHeap(t))
	if err != nil {
		t.Fatalf("NewCommandRing(%d) error = %v", n, err)
	}
	return r, crcr
}

func completion(r *CommandRing, i int) trb.TRB {
	return trb.NewCommandCompletionEvent(r.Phys()+uint64(i)*trb.Size, trb.CompletionSuccess, 0, true)
}

// =============================================================================
// Command Ring Tests
// =============================================================================

func TestNewCommandRing(t *testing.T) {
	r, crcr := newCommandRing(t, 8)

	if r.Phys() != heapPhys {
		t.Errorf("Phys() = %#x, want %#x", r.Phys(), heapPhys)
	}
	if got, want := crcr.v, uint64(heapPhys|1); got != want {
		t.Errorf("CRCR = %#x, want %#x", got, want)
	}
	if !r.ProducerCycle() || !r.ConsumerCycle() {
		t.Error("initial cycle states not true")
	}

	for i := range 7 {
		if diff := cmp.Diff(trb.TRB{}, r.Slot(i)); diff != "" {
			t.Errorf("slot %d not zero (-want +got):\n%s", i, diff)
		}
	}

	link, err := trb.AsLink(r.Slot(7))
	if err != nil {
		t.Fatalf("last slot: %v", err)
	}
	if link.Next() != heapPhys || !link.ToggleCycle() || !link.Cycle() {
		t.Errorf("link = %v", link.TRB)
	}
}

func TestNewCommandRing_TooSmall(t *testing.T) {
	_, err := NewCommandRing(1, &register{}, newHeap(t))
	if !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("error = %v, want ErrInvalidParameter", err)
	}
}

func TestNewCommandRing_AllocFailure(t *testing.T) {
	heap := dma.NewHeap(mmio.Alloc(64).Bytes(), heapPhys)
	_, err := NewCommandRing(16, &register{}, heap)
	if !errors.Is(err, pkg.ErrNoMemory) {
		t.Errorf("error = %v, want ErrNoMemory", err)
	}
}

func TestCommandRing_Fullness(t *testing.T) {
	for _, n := range []int{2, 3, 8, 16, 64} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			r, _ := newCommandRing(t, n)
			for i := range n - 1 {
				if _, err := r.TryEnqueue(trb.NoopCommand()); err != nil {
					t.Fatalf("n=%d: enqueue %d error = %v", n, i, err)
				}
			}
			if !r.Full() {
				t.Errorf("n=%d: Full() = false after %d enqueues", n, n-1)
			}
			if _, err := r.TryEnqueue(trb.NoopCommand()); !errors.Is(err, pkg.ErrRingFull) {
				t.Errorf("n=%d: enqueue %d error = %v, want ErrRingFull", n, n-1, err)
			}
		})
	}
}

func TestCommandRing_TryEnqueue(t *testing.T) {
	r, _ := newCommandRing(t, 4)

	cmd := trb.EnableSlotCommand(0)
	cmd.SetCycle(false)

	phys, err := r.TryEnqueue(cmd)
	if err != nil {
		t.Fatalf("TryEnqueue() error = %v", err)
	}
	if phys != heapPhys {
		t.Errorf("phys = %#x, want %#x", phys, heapPhys)
	}

	got := r.Slot(0)
	if got.Type() != trb.TypeEnableSlotCommand || !got.Cycle() {
		t.Errorf("slot 0 = %v", got)
	}
	if r.EnqueueIndex() != 1 {
		t.Errorf("EnqueueIndex() = %d, want 1", r.EnqueueIndex())
	}

	phys, _ = r.TryEnqueue(trb.NoopCommand())
	if phys != heapPhys+trb.Size {
		t.Errorf("phys = %#x, want %#x", phys, heapPhys+trb.Size)
	}
}

func TestCommandRing_CycleAcrossWraps(t *testing.T) {
	const n = 4
	r, _ := newCommandRing(t, n)

	for k := 1; k <= 5; k++ {
		before := r.ProducerCycle()
		for i := range n - 1 {
			if _, err := r.TryEnqueue(trb.NoopCommand()); err != nil {
				t.Fatalf("wrap %d: enqueue %d error = %v", k, i, err)
			}
			if got := r.Slot(i).Cycle(); got != before {
				t.Errorf("wrap %d: slot %d cycle = %v, want %v", k, i, got, before)
			}
		}

		if want := k%2 == 0; r.ProducerCycle() != want {
			t.Errorf("wrap %d: ProducerCycle() = %v, want %v", k, r.ProducerCycle(), want)
		}
		if got := r.Slot(n - 1).Cycle(); got != before {
			t.Errorf("wrap %d: link cycle = %v, want %v", k, got, before)
		}
		if r.EnqueueIndex() != 0 {
			t.Errorf("wrap %d: EnqueueIndex() = %d, want 0", k, r.EnqueueIndex())
		}

		for i := range n - 1 {
			if !r.ProcessEvent(completion(r, i)) {
				t.Fatalf("wrap %d: completion %d ignored", k, i)
			}
		}
		if r.ConsumerCycle() != before {
			t.Errorf("wrap %d: ConsumerCycle() = %v, want %v", k, r.ConsumerCycle(), before)
		}
	}
}

func TestCommandRing_ProcessEvent(t *testing.T) {
	r, _ := newCommandRing(t, 8)

	for range 3 {
		r.TryEnqueue(trb.NoopCommand())
	}
	r.ProcessEvent(completion(r, 0))
	r.ProcessEvent(completion(r, 1))

	if r.DequeueIndex() != 2 {
		t.Errorf("DequeueIndex() = %d, want 2", r.DequeueIndex())
	}
	if !r.ConsumerCycle() {
		t.Error("ConsumerCycle() flipped without a wrap")
	}
}

func TestCommandRing_ProcessEventWrapFlipsOnce(t *testing.T) {
	r, _ := newCommandRing(t, 4)

	for i := range 3 {
		r.TryEnqueue(trb.NoopCommand())
		r.ProcessEvent(completion(r, i))
	}
	if r.DequeueIndex() != 3 || !r.ConsumerCycle() {
		t.Fatalf("dequeue=%d consumer=%v", r.DequeueIndex(), r.ConsumerCycle())
	}

	r.TryEnqueue(trb.NoopCommand())
	r.ProcessEvent(completion(r, 0))
	if r.DequeueIndex() != 1 {
		t.Errorf("DequeueIndex() = %d, want 1", r.DequeueIndex())
	}
	if r.ConsumerCycle() {
		t.Error("ConsumerCycle() not flipped after wrap")
	}

	r.TryEnqueue(trb.NoopCommand())
	r.ProcessEvent(completion(r, 1))
	if r.ConsumerCycle() {
		t.Error("ConsumerCycle() flipped twice")
	}
}

func TestCommandRing_ProcessEventIgnored(t *testing.T) {
	r, _ := newCommandRing(t, 8)
	r.TryEnqueue(trb.NoopCommand())

	tests := []struct {
		name string
		ev   trb.TRB
	}{
		{"port status change", trb.NewPortStatusChangeEvent(1, true)},
		{"link", trb.NewLink(heapPhys, true, true)},
		{"below ring", trb.NewCommandCompletionEvent(heapPhys-trb.Size, trb.CompletionSuccess, 0, true)},
		{"link slot", trb.NewCommandCompletionEvent(heapPhys+7*trb.Size, trb.CompletionSuccess, 0, true)},
		{"past ring", trb.NewCommandCompletionEvent(heapPhys+64*trb.Size, trb.CompletionSuccess, 0, true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r.ProcessEvent(tt.ev) {
				t.Error("ProcessEvent() = true, want false")
			}
			if r.DequeueIndex() != 0 || !r.ConsumerCycle() {
				t.Errorf("state changed: dequeue=%d consumer=%v", r.DequeueIndex(), r.ConsumerCycle())
			}
		})
	}
}

func TestCommandRing_TwoSlotSteadyState(t *testing.T) {
	r, _ := newCommandRing(t, 2)

	for lap := range 6 {
		if _, err := r.TryEnqueue(trb.NoopCommand()); err != nil {
			t.Fatalf("lap %d: enqueue error = %v", lap, err)
		}
		if _, err := r.TryEnqueue(trb.NoopCommand()); !errors.Is(err, pkg.ErrRingFull) {
			t.Fatalf("lap %d: second enqueue error = %v, want ErrRingFull", lap, err)
		}
		r.ProcessEvent(completion(r, 0))
	}
}

func TestCommandRing_EndToEnd(t *testing.T) {
	r, _ := newCommandRing(t, 8)

	var phys []uint64
	for i := range 7 {
		p, err := r.TryEnqueue(trb.NoopCommand())
		if err != nil {
			t.Fatalf("enqueue %d error = %v", i, err)
		}
		phys = append(phys, p)
	}
	if _, err := r.TryEnqueue(trb.NoopCommand()); !errors.Is(err, pkg.ErrRingFull) {
		t.Fatalf("8th enqueue error = %v, want ErrRingFull", err)
	}

	for i, p := range phys {
		ev := trb.NewCommandCompletionEvent(p, trb.CompletionSuccess, 0, true)
		if !r.ProcessEvent(ev) {
			t.Fatalf("completion %d ignored", i)
		}
	}
	if r.DequeueIndex() != 7 {
		t.Errorf("DequeueIndex() = %d, want 7", r.DequeueIndex())
	}
	if _, err := r.TryEnqueue(trb.NoopCommand()); err != nil {
		t.Errorf("enqueue after completions error = %v", err)
	}
}

// =============================================================================
// Event Ring Tests
// =============================================================================

func newEventRing(t *testing.T, n int) *EventRing {
	t.Helper()
	r, err := NewEventRing(n, newHeap(t))
	if err != nil {
		t.Fatalf("NewEventRing(%d) error = %v", n, err)
	}
	return r
}

// post writes an event into slot i as the controller would.
func post(r *EventRing, i int, cycle bool) {
	r.s.store(i, trb.NewCommandCompletionEvent(uint64(i)<<4, trb.CompletionSuccess, uint8(i), cycle))
}

func TestEventRing_PeekEmpty(t *testing.T) {
	r := newEventRing(t, 16)
	if v := r.Peek(); !v.Empty() {
		t.Errorf("Peek() on new ring = %+v, want empty", v)
	}
	if err := r.AdvanceDequeuePointer(1, &register{}); !errors.Is(err, pkg.ErrAdvanceOverrun) {
		t.Errorf("AdvanceDequeuePointer(1) error = %v, want ErrAdvanceOverrun", err)
	}
}

func TestEventRing_PeekAndAdvance(t *testing.T) {
	r := newEventRing(t, 16)
	for i := range 5 {
		post(r, i, true)
	}

	v := r.Peek()
	if v.Len() != 5 || v.Second.Len() != 0 {
		t.Fatalf("Peek() = %+v, want 5 entries in one span", v)
	}
	for i, ev := range v.All() {
		if got := ev.Control >> 24; got != uint32(i) {
			t.Errorf("entry %d slot id = %d", i, got)
		}
	}

	erdp := &register{}
	if err := r.AdvanceDequeuePointer(6, erdp); !errors.Is(err, pkg.ErrAdvanceOverrun) {
		t.Fatalf("AdvanceDequeuePointer(6) error = %v, want ErrAdvanceOverrun", err)
	}
	if erdp.writes != 0 || r.DequeueIndex() != 0 {
		t.Fatalf("overrun changed state: writes=%d dequeue=%d", erdp.writes, r.DequeueIndex())
	}

	if err := r.AdvanceDequeuePointer(5, erdp); err != nil {
		t.Fatalf("AdvanceDequeuePointer(5) error = %v", err)
	}
	if r.DequeueIndex() != 5 || !r.ConsumerCycle() {
		t.Errorf("dequeue=%d consumer=%v", r.DequeueIndex(), r.ConsumerCycle())
	}
	want := regs.ERDP(heapPhys + 5*trb.Size)
	want.SetBusy(true)
	if erdp.v != uint64(want) {
		t.Errorf("ERDP = %#x, want %#x", erdp.v, uint64(want))
	}
	if !r.Peek().Empty() {
		t.Error("Peek() after advance not empty")
	}
}

func TestEventRing_PeekWraps(t *testing.T) {
	const n = 16
	r := newEventRing(t, n)
	erdp := &register{}

	for i := range 12 {
		post(r, i, true)
	}
	if err := r.AdvanceDequeuePointer(12, erdp); err != nil {
		t.Fatal(err)
	}

	for i := 12; i < n; i++ {
		post(r, i, true)
	}
	for i := range 3 {
		post(r, i, false)
	}

	v := r.Peek()
	if diff := cmp.Diff(Span{12, 16}, v.First); diff != "" {
		t.Errorf("First mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Span{0, 3}, v.Second); diff != "" {
		t.Errorf("Second mismatch (-want +got):\n%s", diff)
	}
	var order []int
	for i := range v.Len() {
		order = append(order, v.Index(i))
	}
	if diff := cmp.Diff([]int{12, 13, 14, 15, 0, 1, 2}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	if err := r.AdvanceDequeuePointer(8, erdp); !errors.Is(err, pkg.ErrAdvanceOverrun) {
		t.Errorf("AdvanceDequeuePointer(8) error = %v", err)
	}
	if err := r.AdvanceDequeuePointer(7, erdp); err != nil {
		t.Fatalf("AdvanceDequeuePointer(7) error = %v", err)
	}
	if r.DequeueIndex() != 3 {
		t.Errorf("DequeueIndex() = %d, want 3", r.DequeueIndex())
	}
	if r.ConsumerCycle() {
		t.Error("ConsumerCycle() not flipped after wrap")
	}
	if !r.Peek().Empty() {
		t.Errorf("Peek() after wrap = %+v", r.Peek())
	}
}

func TestEventRing_ExactWrap(t *testing.T) {
	const n = 16
	r := newEventRing(t, n)
	erdp := &register{}

	for i := range 10 {
		post(r, i, true)
	}
	r.AdvanceDequeuePointer(10, erdp)

	for i := 10; i < n; i++ {
		post(r, i, true)
	}
	if err := r.AdvanceDequeuePointer(n-10, erdp); err != nil {
		t.Fatal(err)
	}
	if r.DequeueIndex() != 0 {
		t.Errorf("DequeueIndex() = %d, want 0", r.DequeueIndex())
	}
	if r.ConsumerCycle() {
		t.Error("ConsumerCycle() not flipped at exact wrap")
	}
	if got := regs.ERDP(erdp.v).Pointer(); got != heapPhys {
		t.Errorf("ERDP pointer = %#x, want %#x", got, heapPhys)
	}
}

func TestEventRing_Full(t *testing.T) {
	const n = 16
	r := newEventRing(t, n)
	erdp := &register{}

	for i := range 4 {
		post(r, i, true)
	}
	r.AdvanceDequeuePointer(4, erdp)

	for i := 4; i < n; i++ {
		post(r, i, true)
	}
	for i := range 4 {
		post(r, i, false)
	}

	v := r.Peek()
	if v.Len() != n {
		t.Fatalf("Peek().Len() = %d, want %d", v.Len(), n)
	}
	if v.First != (Span{4, n}) || v.Second != (Span{0, 4}) {
		t.Errorf("Peek() = %+v", v)
	}

	if err := r.AdvanceDequeuePointer(n, erdp); err != nil {
		t.Fatalf("AdvanceDequeuePointer(%d) error = %v", n, err)
	}
	if r.DequeueIndex() != 4 || r.ConsumerCycle() {
		t.Errorf("dequeue=%d consumer=%v, want 4/false", r.DequeueIndex(), r.ConsumerCycle())
	}
	if !r.Peek().Empty() {
		t.Error("Peek() after full drain not empty")
	}
}

func TestEventRing_UpdateERDP(t *testing.T) {
	r := newEventRing(t, 16)
	erdp := &register{}
	r.UpdateERDP(erdp)
	if erdp.v != heapPhys {
		t.Errorf("ERDP = %#x, want %#x", erdp.v, heapPhys)
	}
}

func TestWrapAdd(t *testing.T) {
	const n = 8
	for p := range n {
		for a := 0; a <= n; a++ {
			if got, want := wrapAdd(p, a, n), (p+a)%n; got != want {
				t.Errorf("wrapAdd(%d, %d, %d) = %d, want %d", p, a, n, got, want)
			}
		}
	}
}

// =============================================================================
// Segment Table Tests
// =============================================================================

func TestSegmentTable(t *testing.T) {
	heap := newHeap(t)
	r, err := NewEventRing(32, heap)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := NewSegmentTable(r, heap)
	if err != nil {
		t.Fatalf("NewSegmentTable() error = %v", err)
	}

	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
	if tbl.Phys()%dma.EventRingSegmentTableAlignment != 0 {
		t.Errorf("Phys() = %#x not aligned", tbl.Phys())
	}
	if diff := cmp.Diff(Entry{Base: r.Phys(), Size: 32}, tbl.Entry(0)); diff != "" {
		t.Errorf("Entry(0) mismatch (-want +got):\n%s", diff)
	}

	raw := tbl.mem.Bytes()
	want := []byte{0, 0, 0x10, 0, 0, 0, 0, 0, 32, 0, 0, 0, 0, 0, 0, 0}
	want[0] = byte(r.Phys())
	want[1] = byte(r.Phys() >> 8)
	want[2] = byte(r.Phys() >> 16)
	if diff := cmp.Diff(want, raw[:EntrySize]); diff != "" {
		t.Errorf("entry bytes mismatch (-want +got):\n%s", diff)
	}
}
