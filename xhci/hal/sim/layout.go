package sim

import "github.com/ardnew/softxhci/xhci/regs"

// Register file layout.
const (
	OperationalOffset = 0x20
	RuntimeOffset     = 0x2000
	DoorbellBase      = 0x3000
	ExtCapOffset      = 0x4000
	BARSize           = 0x10000

	HCIVersion = 0x0110

	opUSBCmd   = OperationalOffset + regs.OpUSBCmd
	opUSBSts   = OperationalOffset + regs.OpUSBSts
	opPageSize = OperationalOffset + regs.OpPageSize
	opCRCR     = OperationalOffset + regs.OpCRCR
	opConfig   = OperationalOffset + regs.OpConfig
	opPortBase = OperationalOffset + regs.OpPortBase

	intr0      = RuntimeOffset + regs.InterrupterBase
	intrIMan   = intr0 + regs.IntrIMan
	intrERSTBA = intr0 + regs.IntrERSTBA
	intrERDP   = intr0 + regs.IntrERDP
)

func portSC(port uint8) uintptr {
	return opPortBase + regs.PortStride*uintptr(port-1) + regs.PortSCOffset
}
