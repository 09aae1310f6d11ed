//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/pkg/config"
	"github.com/ardnew/softxhci/xhci"
	"github.com/ardnew/softxhci/xhci/hal/linux"
	"github.com/ardnew/softxhci/xhci/trb"
)

// registerPlatform registers the commands that drive real hardware.
func registerPlatform(register func(subcommands.Command, string)) {
	const hardwareGroup = "hardware"
	register(new(probeCmd), hardwareGroup)
	register(new(serveCmd), hardwareGroup)
}

// linuxConfig builds the backend configuration from cfg.
func linuxConfig(cfg *config.Config, sysfs string) linux.Config {
	return linux.Config{
		Address:   cfg.Device,
		SysfsRoot: sysfs,
		DMASize:   cfg.DMA.HeapSize,
		HugePages: cfg.DMA.HugePages,
	}
}

// probeCmd implements subcommands.Command for the "probe" command.
type probeCmd struct {
	sysfs   string
	open    bool
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*probeCmd) Name() string { return "probe" }

// Synopsis implements subcommands.Command.Synopsis.
func (*probeCmd) Synopsis() string {
	return "list xHCI controllers and optionally bring one up"
}

// Usage implements subcommands.Command.Usage.
func (*probeCmd) Usage() string {
	return "probe [-sysfs dir] [-open] [-timeout duration]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *probeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.sysfs, "sysfs", linux.SysfsPCIPath, "PCI devices directory")
	f.BoolVar(&p.open, "open", false, "bring up the configured controller and wait for its first slot")
	f.DurationVar(&p.timeout, "timeout", 5*time.Second, "time limit for bring-up")
}

// Execute implements subcommands.Command.Execute.
func (p *probeCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg := configArg(args)

	found, err := linux.ScanXHCI(p.sysfs)
	if err != nil {
		pkg.LogError(componentCLI, "scan failed", "error", err)
		return subcommands.ExitFailure
	}
	for _, fn := range found {
		fmt.Println(fn)
	}
	if !p.open {
		return subcommands.ExitSuccess
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := probe(ctx, os.Stdout, linux.New(linuxConfig(cfg, p.sysfs)), cfg); err != nil {
		pkg.LogError(componentCLI, "probe failed", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// probe brings the controller up, prints what it reports and waits for
// the Enable Slot command issued during bring-up to complete.
func probe(ctx context.Context, w io.Writer, ctrl *linux.Controller, cfg *config.Config) error {
	defer ctrl.Close()

	d, err := xhci.Open(ctx, ctrl, cfg.Options(nil))
	if err != nil {
		return err
	}
	defer d.Stop(context.Background())

	v := d.Version()
	fmt.Fprintf(w, "controller:  %s\n", ctrl.Function())
	fmt.Fprintf(w, "version:     %x.%02x\n", v>>8, v&0xFF)
	fmt.Fprintf(w, "slots:       %d\n", d.MaxSlots())
	fmt.Fprintf(w, "ports:       %d\n", d.Ports())
	fmt.Fprintf(w, "scratchpad:  %d\n", d.ScratchpadBuffers())
	for _, proto := range d.Protocols() {
		fmt.Fprintf(w, "protocol:    %s slot type %d\n", proto, proto.SlotType)
		for _, psi := range proto.Speeds {
			fmt.Fprintf(w, "             %s\n", psi)
		}
	}

	done := make(chan trb.CommandCompletionEvent, 1)
	d.SetOnCommandCompletion(func(e trb.CommandCompletionEvent) {
		select {
		case done <- e:
		default:
		}
	})
	d.SetOnEvent(func(t trb.TRB) {
		pkg.LogInfo(componentCLI, "event", "type", t.Type().String())
	})

	for {
		select {
		case e := <-done:
			if err := e.CompletionCode().Err(); err != nil {
				return fmt.Errorf("enable slot: %w", err)
			}
			fmt.Fprintf(w, "first slot:  %d\n", e.SlotID())
			return nil
		default:
		}
		if err := ctrl.WaitInterrupt(ctx); err != nil {
			return err
		}
		if _, err := d.HandleInterrupt(); err != nil {
			return err
		}
	}
}
