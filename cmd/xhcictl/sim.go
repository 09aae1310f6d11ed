package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/pkg/config"
	"github.com/ardnew/softxhci/xhci"
	"github.com/ardnew/softxhci/xhci/hal/sim"
	"github.com/ardnew/softxhci/xhci/trb"
)

// High-speed PSIV in the simulator's USB 2 protocol.
const simHighSpeed = 3

// simCmd implements subcommands.Command for the "sim" command.
type simCmd struct {
	commands int
	connect  string
	timeout  time.Duration
}

// Name implements subcommands.Command.Name.
func (*simCmd) Name() string { return "sim" }

// Synopsis implements subcommands.Command.Synopsis.
func (*simCmd) Synopsis() string {
	return "drive No Op commands through the simulated controller"
}

// Usage implements subcommands.Command.Usage.
func (*simCmd) Usage() string {
	return "sim [-n commands] [-connect ports] [-timeout duration]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *simCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.commands, "n", 1000, "number of No Op commands to submit")
	f.StringVar(&s.connect, "connect", "", "comma-separated root hub ports to attach devices to")
	f.DurationVar(&s.timeout, "timeout", 10*time.Second, "time limit for the run")
}

// Execute implements subcommands.Command.Execute.
func (s *simCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	ports, err := parsePorts(s.connect)
	if err != nil || s.commands < 0 || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg := configArg(args)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rep, err := runSim(ctx, *cfg, s.commands, ports, nil)
	if err != nil {
		pkg.LogError(componentCLI, "simulation failed", "error", err)
		return subcommands.ExitFailure
	}
	rep.print(os.Stdout)
	return subcommands.ExitSuccess
}

func parsePorts(s string) ([]uint8, error) {
	if s == "" {
		return nil, nil
	}
	var ports []uint8
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: port %q", pkg.ErrInvalidParameter, f)
		}
		ports = append(ports, uint8(n))
	}
	return ports, nil
}

// simReport summarizes a simulation run.
type simReport struct {
	Slot        uint8
	PortChanges []uint8
	Completions map[trb.CompletionCode]int
	Retries     int
	Ring        xhci.RingState
	Stats       sim.Stats
}

func (r simReport) print(w io.Writer) {
	fmt.Fprintf(w, "slot enabled:    %d\n", r.Slot)
	if len(r.PortChanges) > 0 {
		fmt.Fprintf(w, "port changes:    %v\n", r.PortChanges)
	}
	codes := make([]trb.CompletionCode, 0, len(r.Completions))
	for c := range r.Completions {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, c := range codes {
		fmt.Fprintf(w, "completions:     %d %s\n", r.Completions[c], c)
	}
	fmt.Fprintf(w, "ring full:       %d\n", r.Retries)
	fmt.Fprintf(w, "command ring:    enqueue %d dequeue %d pcs %t ccs %t\n",
		r.Ring.CommandEnqueue, r.Ring.CommandDequeue,
		r.Ring.CommandProducerCycle, r.Ring.CommandConsumerCycle)
	fmt.Fprintf(w, "event ring:      dequeue %d ccs %t\n",
		r.Ring.EventDequeue, r.Ring.EventConsumerCycle)
	fmt.Fprintf(w, "controller:      %d commands, %d events posted, %d dropped\n",
		r.Stats.Commands, r.Stats.Posted, r.Stats.Dropped)
}

// runSim brings up a simulated controller, attaches devices to ports and
// then keeps the Command Ring busy with n No Op commands while a Serve
// loop drains the Event Ring. reg may be nil.
func runSim(ctx context.Context, cfg config.Config, n int, ports []uint8, reg prometheus.Registerer) (simReport, error) {
	ctrl := sim.New(cfg.SimConfig())
	defer ctrl.Close()

	d, err := xhci.Open(ctx, ctrl, cfg.Options(xhci.NewMetrics(reg)))
	if err != nil {
		return simReport{}, err
	}

	// One completion per command plus the Enable Slot from bring-up.
	done := make(chan trb.CommandCompletionEvent, n+1)
	changes := make(chan uint8, len(ports))
	d.SetOnCommandCompletion(func(e trb.CommandCompletionEvent) { done <- e })
	d.SetOnEvent(func(t trb.TRB) {
		if e, err := trb.AsPortStatusChangeEvent(t); err == nil {
			select {
			case changes <- e.PortID():
			default:
			}
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()
	g.Go(func() error { return d.Serve(serveCtx, ctrl) })

	fail := func(err error) (simReport, error) {
		stopServe()
		if gerr := g.Wait(); gerr != nil {
			return simReport{}, gerr
		}
		return simReport{}, err
	}
	next := func() (trb.CommandCompletionEvent, error) {
		select {
		case e := <-done:
			return e, nil
		case <-gctx.Done():
			return trb.CommandCompletionEvent{}, gctx.Err()
		}
	}

	rep := simReport{Completions: make(map[trb.CompletionCode]int)}

	e, err := next()
	if err != nil {
		return fail(err)
	}
	if e.CommandPointer() != d.EnableSlotCommand() {
		return fail(fmt.Errorf("%w: first completion for 0x%x", pkg.ErrCompletion, e.CommandPointer()))
	}
	if err := e.CompletionCode().Err(); err != nil {
		return fail(fmt.Errorf("enable slot: %w", err))
	}
	rep.Slot = e.SlotID()

	for _, port := range ports {
		if err := ctrl.Connect(port, simHighSpeed); err != nil {
			return fail(err)
		}
		select {
		case p := <-changes:
			rep.PortChanges = append(rep.PortChanges, p)
		case <-gctx.Done():
			return fail(gctx.Err())
		}
	}

	outstanding := 0
	for sent := 0; sent < n; {
		if _, err := d.Noop(); err != nil {
			if !errors.Is(err, pkg.ErrRingFull) {
				return fail(err)
			}
			rep.Retries++
			e, err := next()
			if err != nil {
				return fail(err)
			}
			rep.Completions[e.CompletionCode()]++
			outstanding--
			continue
		}
		sent++
		outstanding++
	}
	for ; outstanding > 0; outstanding-- {
		e, err := next()
		if err != nil {
			return fail(err)
		}
		rep.Completions[e.CompletionCode()]++
	}

	stopServe()
	if err := g.Wait(); err != nil {
		return simReport{}, err
	}
	rep.Ring = d.RingState()
	rep.Stats = ctrl.Stats()
	if err := d.Stop(ctx); err != nil {
		return simReport{}, err
	}
	return rep, nil
}
