// Package sim provides a simulated xHCI host controller.
//
// The simulator implements [hal.Controller] over an in-memory register
// file and a [dma.Heap]. Register writes trigger the controller's side of
// the protocol synchronously: ringing doorbell 0 consumes the Command Ring
// up to the first slot whose cycle bit does not match, following Link
// TRBs, and posts a Command Completion Event for each command.
//
// Supported commands are Enable Slot, Disable Slot and No Op. Any other
// command completes with a TRB Error. Port Status Change Events can be
// injected with [Controller.Connect].
//
// [hal.Controller]: github.com/ardnew/softxhci/xhci/hal.Controller
// [dma.Heap]: github.com/ardnew/softxhci/xhci/dma.Heap
package sim
