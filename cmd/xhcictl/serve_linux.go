//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/pkg/config"
	"github.com/ardnew/softxhci/xhci"
	"github.com/ardnew/softxhci/xhci/hal/linux"
	"github.com/ardnew/softxhci/xhci/trb"
)

// serveCmd implements subcommands.Command for the "serve" command.
type serveCmd struct {
	sysfs string
}

// Name implements subcommands.Command.Name.
func (*serveCmd) Name() string { return "serve" }

// Synopsis implements subcommands.Command.Synopsis.
func (*serveCmd) Synopsis() string {
	return "run a controller, log its events and export metrics"
}

// Usage implements subcommands.Command.Usage.
func (*serveCmd) Usage() string {
	return "serve [-sysfs dir]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.sysfs, "sysfs", linux.SysfsPCIPath, "PCI devices directory")
}

// Execute implements subcommands.Command.Execute.
func (s *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg := configArg(args)
	if err := serve(ctx, linux.New(linuxConfig(cfg, s.sysfs)), cfg); err != nil {
		pkg.LogError(componentCLI, "serve failed", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// serve runs the interrupt loop and, if configured, the metrics endpoint
// until ctx is done or either fails.
func serve(ctx context.Context, ctrl *linux.Controller, cfg *config.Config) error {
	defer ctrl.Close()

	reg := prometheus.NewRegistry()
	d, err := xhci.Open(ctx, ctrl, cfg.Options(xhci.NewMetrics(reg)))
	if err != nil {
		return err
	}
	d.SetOnCommandCompletion(func(e trb.CommandCompletionEvent) {
		pkg.LogInfo(componentCLI, "command completed",
			"command", e.CommandPointer(), "code", e.CompletionCode().String(), "slot", e.SlotID())
	})
	d.SetOnEvent(func(t trb.TRB) {
		if e, err := trb.AsPortStatusChangeEvent(t); err == nil {
			pkg.LogInfo(componentCLI, "port status change",
				"port", e.PortID(), "portsc", uint32(d.PortSC(e.PortID())))
			return
		}
		pkg.LogInfo(componentCLI, "event", "type", t.Type().String())
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Serve(gctx, ctrl) })

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			pkg.LogInfo(componentCLI, "metrics listening", "addr", srv.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	err = g.Wait()
	stop, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return errors.Join(err, d.Stop(stop))
}
