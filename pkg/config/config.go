// Package config loads xhcictl configuration from YAML.
//
// Keys left out of a file keep the values from [Default]. An explicit
// zero is kept; reset_timeout: 0s waits for the controller indefinitely.
//
//	device: "0000:03:00.0"
//	command_ring_size: 64
//	reset_timeout: 500ms
//	log:
//	  level: debug
//	metrics:
//	  listen: ":9109"
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci"
	"github.com/ardnew/softxhci/xhci/hal/sim"
)

// Config is the complete xhcictl configuration.
type Config struct {
	// Device is the PCI address of the controller. Empty selects the
	// first xHCI function bound to uio.
	Device string `yaml:"device"`

	CommandRingSize int           `yaml:"command_ring_size"`
	EventRingSize   int           `yaml:"event_ring_size"`
	MaxSlots        uint8         `yaml:"max_slots"`
	ResetTimeout    time.Duration `yaml:"reset_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	DMA     DMA     `yaml:"dma"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
	Sim     Sim     `yaml:"sim"`
}

// DMA sizes the Linux DMA heap.
type DMA struct {
	HeapSize  int  `yaml:"heap_size"`
	HugePages bool `yaml:"hugepages"`
}

// Log selects the log level and format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// Sim configures the simulated controller.
type Sim struct {
	MaxSlots          uint8  `yaml:"max_slots"`
	Ports             uint8  `yaml:"ports"`
	ScratchpadBuffers uint16 `yaml:"scratchpad_buffers"`
	ResetPolls        int    `yaml:"reset_polls"`
	HeapSize          int    `yaml:"heap_size"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		CommandRingSize: xhci.DefaultCommandRingSize,
		EventRingSize:   xhci.DefaultEventRingSize,
		ResetTimeout:    time.Second,
		PollInterval:    xhci.DefaultPollInterval,
		DMA:             DMA{HeapSize: 2 << 20},
		Log:             Log{Level: "info", Format: "text"},
		Metrics:         Metrics{Path: "/metrics"},
		Sim: Sim{
			MaxSlots: sim.DefaultMaxSlots,
			Ports:    sim.DefaultMaxPorts,
			HeapSize: sim.DefaultHeapSize,
		},
	}
}

// Load reads the YAML files at paths and parses their union. A key in a
// later file overrides the same key in an earlier one.
func Load(paths ...string) (Config, error) {
	var merged map[string]any
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		var m map[string]any
		if err := yaml.Unmarshal(b, &m); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
		if m == nil {
			continue
		}
		if merged != nil {
			if err := mergo.Merge(&m, merged); err != nil {
				return Config{}, fmt.Errorf("%s: %w", path, err)
			}
		}
		merged = m
	}
	if merged == nil {
		return Default(), nil
	}

	b, err := yaml.Marshal(merged)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", strings.Join(paths, ", "), err)
	}
	return c, nil
}

// Parse decodes YAML over Default, so only keys present in b change, and
// validates the result.
func Parse(b []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if err := c.Options(nil).Validate(); err != nil {
		return err
	}
	if c.ResetTimeout < 0 || c.PollInterval < 0 {
		return fmt.Errorf("%w: negative duration", pkg.ErrInvalidParameter)
	}
	if _, err := pkg.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := pkg.ParseLogFormat(c.Log.Format); err != nil {
		return err
	}
	if c.DMA.HeapSize < 0 || c.Sim.HeapSize < 0 {
		return fmt.Errorf("%w: negative heap size", pkg.ErrInvalidParameter)
	}
	return nil
}

// Options returns the driver options. m may be nil.
func (c Config) Options(m *xhci.Metrics) *xhci.Options {
	return &xhci.Options{
		CommandRingSize: c.CommandRingSize,
		EventRingSize:   c.EventRingSize,
		MaxSlots:        c.MaxSlots,
		ResetTimeout:    c.ResetTimeout,
		PollInterval:    c.PollInterval,
		Metrics:         m,
	}
}

// SimConfig returns the simulated controller configuration.
func (c Config) SimConfig() sim.Config {
	return sim.Config{
		MaxSlots:          c.Sim.MaxSlots,
		MaxPorts:          c.Sim.Ports,
		ScratchpadBuffers: c.Sim.ScratchpadBuffers,
		ResetPolls:        c.Sim.ResetPolls,
		HeapSize:          c.Sim.HeapSize,
	}
}

// ApplyLogging configures the pkg logger.
func (c Config) ApplyLogging() error {
	level, err := pkg.ParseLogLevel(c.Log.Level)
	if err != nil {
		return err
	}
	format, err := pkg.ParseLogFormat(c.Log.Format)
	if err != nil {
		return err
	}
	pkg.SetLogLevel(level)
	pkg.SetLogFormat(format)
	return nil
}
