// Package linux runs the xHCI driver from userspace against a PCI host
// controller bound to uio_pci_generic.
//
// The controller's BAR 0 is mapped through sysfs (resource0), bus
// mastering is enabled through the PCI configuration space, and DMA memory
// is an anonymous locked mapping whose physical pages are looked up in
// /proc/self/pagemap. Interrupts arrive as INTx through the uio device
// node and are waited on with epoll.
//
// # Requirements
//
//   - The controller is unbound from xhci_hcd and bound to uio_pci_generic
//   - The process can read physical frame numbers from /proc/self/pagemap,
//     which requires CAP_SYS_ADMIN
//   - With HugePages set, 2 MiB huge pages are reserved
//     (/proc/sys/vm/nr_hugepages)
//
// Without huge pages every allocation must fit in one 4 KiB page, which
// limits either ring to 256 TRBs.
//
// The package is pure Go and uses golang.org/x/sys/unix for every system
// call.
package linux
