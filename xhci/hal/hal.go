// Package hal defines the platform interface an xHCI driver runs on.
//
// A [Controller] hands the driver three things: the controller's mapped
// register window, an allocator for controller-visible memory, and an
// interrupt line to wait on. Everything above it is platform-independent.
//
// # Implementations
//
//   - [github.com/ardnew/softxhci/xhci/hal/sim]: an in-process simulated
//     controller for tests and experiments
//   - [github.com/ardnew/softxhci/xhci/hal/linux]: a PCI xHC bound to
//     uio_pci_generic, driven from userspace
package hal

import (
	"context"

	"github.com/ardnew/softxhci/xhci/dma"
	"github.com/ardnew/softxhci/xhci/mmio"
)

// Controller is a host controller as seen by the driver.
type Controller interface {
	// Init maps the controller and prepares DMA memory.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Registers returns the window over the whole MMIO region (BAR 0).
	// Valid after Init.
	Registers() *mmio.Window

	// Allocator returns the allocator for controller-visible memory.
	// Valid after Init.
	Allocator() dma.Allocator

	// WaitInterrupt blocks until the controller raises an interrupt or
	// ctx is done. The interrupt is re-armed before it returns.
	WaitInterrupt(ctx context.Context) error

	// Close releases all resources. The controller must not be used
	// after Close.
	Close() error
}
