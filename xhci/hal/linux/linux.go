//go:build linux

package linux

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/dma"
	"github.com/ardnew/softxhci/xhci/mmio"
)

// Config selects and sizes a controller.
type Config struct {
	// Address is the PCI address of the controller. Empty selects the
	// first xHCI function bound to a uio driver.
	Address string

	// SysfsRoot replaces SysfsPCIPath.
	SysfsRoot string

	// DevRoot replaces DevPath.
	DevRoot string

	// DMASize is the size of the DMA heap in bytes.
	DMASize int

	// HugePages backs the DMA heap with 2 MiB huge pages.
	HugePages bool
}

func (c Config) withDefaults() Config {
	if c.SysfsRoot == "" {
		c.SysfsRoot = SysfsPCIPath
	}
	if c.DevRoot == "" {
		c.DevRoot = DevPath
	}
	if c.DMASize <= 0 {
		c.DMASize = DefaultDMASize
	}
	return c
}

// Controller is a PCI xHC driven through uio. It implements
// hal.Controller.
type Controller struct {
	cfg Config
	fn  PCIFunction

	mutex  sync.Mutex
	config *pciConfig
	bar    []byte
	window *mmio.Window
	dma    *dmaMemory
	uio    *os.File
	poller *poller
}

// New returns a Controller for cfg. Nothing is opened until Init.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg.withDefaults()}
}

// Function returns the PCI function in use. Valid after Init.
func (c *Controller) Function() PCIFunction { return c.fn }

// Init implements hal.Controller.
func (c *Controller) Init(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.find(); err != nil {
		return err
	}
	steps := []func() error{c.enableDevice, c.mapBAR, c.allocDMA, c.openUIO}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			c.release()
			return err
		}
		if err := step(); err != nil {
			c.release()
			return err
		}
	}

	pkg.LogInfo(pkg.ComponentHAL, "controller mapped",
		"function", c.fn.String(), "bar_size", len(c.bar))
	return nil
}

func (c *Controller) find() error {
	if c.cfg.Address != "" {
		fn, err := parsePCIFunction(filepath.Join(c.cfg.SysfsRoot, c.cfg.Address))
		if err != nil {
			return fmt.Errorf("PCI function %s: %w", c.cfg.Address, err)
		}
		if !fn.IsXHCI() {
			return fmt.Errorf("%w: %s is not an xHCI controller", pkg.ErrNotSupported, fn)
		}
		c.fn = fn
	} else {
		found, err := ScanXHCI(c.cfg.SysfsRoot)
		if err != nil {
			return err
		}
		for _, fn := range found {
			if fn.UIO != "" {
				c.fn = fn
				break
			}
		}
		if c.fn.Address == "" {
			return fmt.Errorf("%w: no xHCI controller bound to uio", pkg.ErrNotSupported)
		}
	}
	if c.fn.UIO == "" {
		return fmt.Errorf("%w: %s is not bound to uio_pci_generic", pkg.ErrNotSupported, c.fn.Address)
	}
	return nil
}

func (c *Controller) enableDevice() error {
	cfg, err := openPCIConfig(filepath.Join(c.fn.Path, "config"))
	if err != nil {
		return err
	}
	c.config = cfg
	cmd, err := cfg.updateCommand(pciCommandMemory|pciCommandBusMaster, pciCommandINTxDisable)
	if err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentHAL, "PCI command", "value", fmt.Sprintf("0x%04x", cmd))
	return nil
}

func (c *Controller) mapBAR() error {
	f, err := os.OpenFile(filepath.Join(c.fn.Path, "resource0"), os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	size := int(st.Size())
	if size == 0 {
		size = int(c.fn.BAR0Size)
	}
	c.bar, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap resource0: %w", err)
	}
	c.window = mmio.NewWindow(mmio.NewMemory(c.bar), uintptr(size))
	return nil
}

func (c *Controller) allocDMA() error {
	var err error
	c.dma, err = allocDMA(PagemapPath, c.cfg.DMASize, c.cfg.HugePages)
	return err
}

func (c *Controller) openUIO() error {
	f, err := os.OpenFile(filepath.Join(c.cfg.DevRoot, c.fn.UIO), os.O_RDWR, 0)
	if err != nil {
		return err
	}
	c.uio = f
	c.poller, err = newPoller(int(f.Fd()))
	return err
}

// Registers implements hal.Controller.
func (c *Controller) Registers() *mmio.Window { return c.window }

// Allocator implements hal.Controller.
func (c *Controller) Allocator() dma.Allocator { return c.dma.heap }

// WaitInterrupt implements hal.Controller. It unmasks INTx, waits for the
// uio event counter to advance and consumes it.
func (c *Controller) WaitInterrupt(ctx context.Context) error {
	if err := unmaskUIO(c.uio); err != nil {
		return err
	}
	if err := c.poller.wait(ctx); err != nil {
		return err
	}
	var count [4]byte
	if _, err := c.uio.Read(count[:]); err != nil {
		return fmt.Errorf("uio read: %w", err)
	}
	return nil
}

// unmaskUIO writes 1 to the uio node, which uio_pci_generic turns into
// clearing the INTx Disable bit.
func unmaskUIO(f *os.File) error {
	var on [4]byte
	binary.NativeEndian.PutUint32(on[:], 1)
	if _, err := f.Write(on[:]); err != nil {
		return fmt.Errorf("uio unmask: %w", err)
	}
	return nil
}

// Close implements hal.Controller.
func (c *Controller) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.release()
}

func (c *Controller) release() error {
	var errs []error
	if c.config != nil {
		// Stop DMA before the memory behind it goes away.
		_, err := c.config.updateCommand(0, pciCommandBusMaster)
		errs = append(errs, err, c.config.close())
		c.config = nil
	}
	if c.poller != nil {
		errs = append(errs, c.poller.close())
		c.poller = nil
	}
	if c.uio != nil {
		errs = append(errs, c.uio.Close())
		c.uio = nil
	}
	if c.dma != nil {
		errs = append(errs, c.dma.close())
		c.dma = nil
	}
	if c.bar != nil {
		errs = append(errs, unix.Munmap(c.bar))
		c.bar, c.window = nil, nil
	}
	return errors.Join(errs...)
}
