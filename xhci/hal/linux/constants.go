//go:build linux

package linux

// =============================================================================
// System Paths
// =============================================================================

// SysfsPCIPath is the base path for PCI functions in sysfs.
const SysfsPCIPath = "/sys/bus/pci/devices"

// DevPath is the directory holding uio device nodes.
const DevPath = "/dev"

// PagemapPath is the calling process's page map.
const PagemapPath = "/proc/self/pagemap"

// =============================================================================
// PCI
// =============================================================================

// ClassXHCI is the PCI class code of an xHCI controller: serial bus,
// USB, programming interface 0x30.
const ClassXHCI = 0x0C0330

// PCI configuration space offsets.
const (
	pciCommand = 0x04
)

// PCI Command register bits.
const (
	pciCommandMemory      = 1 << 1  // Memory Space Enable
	pciCommandBusMaster   = 1 << 2  // Bus Master Enable
	pciCommandINTxDisable = 1 << 10 // Interrupt Disable
)

// resourceMemory marks a memory BAR in a sysfs resource line.
const resourceMemory = 0x200

// =============================================================================
// Memory
// =============================================================================

// Page sizes.
const (
	PageSize     = 4096
	HugePageSize = 2 << 20
)

// DefaultDMASize is the size of the DMA heap when none is configured.
const DefaultDMASize = HugePageSize

// Page map entry fields (Documentation/admin-guide/mm/pagemap.rst).
const (
	pagemapEntrySize = 8
	pagemapPFNMask   = 1<<55 - 1
	pagemapPresent   = 1 << 63
)

// =============================================================================
// Polling
// =============================================================================

// MaxEpollEvents is the maximum events to retrieve per epoll_wait call.
const MaxEpollEvents = 4
