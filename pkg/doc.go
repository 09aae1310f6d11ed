// Package pkg provides shared utilities for the softxhci driver.
//
// This package contains common functionality used across the ring engine,
// the driver orchestrator and the controller backends, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for ring, controller and command failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with driver-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDriver, "controller running", "slots", 8)
//
// # Errors
//
// Errors are defined as sentinel values and matched with [errors.Is]:
//
//	if errors.Is(err, pkg.ErrRingFull) {
//	    // back off and resubmit later
//	}
package pkg
