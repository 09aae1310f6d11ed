// Package xhci drives a USB eXtensible Host Controller.
//
// A [Driver] resets the controller, wires its Device Context Base Address
// Array, scratchpad buffers, Command Ring and Event Ring, starts it, and
// then dispatches interrupts to the ring engine in package
// [github.com/ardnew/softxhci/xhci/ring].
//
// # Bring-up
//
// [New] performs the xHCI 4.2 initialization sequence:
//
//  1. Locate the operational, runtime and doorbell registers from the
//     capability registers
//  2. Halt the controller if running, then reset it and wait for
//     HCRST and CNR to clear
//  3. Program CONFIG.MaxSlotsEn
//  4. Allocate the DCBAA and any scratchpad buffers
//  5. Create the Command Ring and program CRCR
//  6. Create the Event Ring and its segment table; program ERSTSZ, ERDP
//     and finally ERSTBA
//  7. Enable interrupts, set Run/Stop and issue an Enable Slot command
//  8. Walk the extended capabilities for Supported Protocol information
//
// # Interrupts
//
// The platform calls [Driver.HandleInterrupt] when the interrupter fires,
// or runs [Driver.Serve] to do so in a loop. Command Completion Events
// advance the Command Ring; other events go to the handler set with
// [Driver.SetOnEvent]. With no handler, any other event is an error and
// the Event Ring is left untouched.
//
// # Concurrency
//
// HandleInterrupt and the command submission methods are serialized by
// the driver. The rings themselves have no locking.
package xhci
