//go:build linux

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ardnew/softxhci/pkg"
)

// =============================================================================
// PCI Function Information
// =============================================================================

// PCIFunction describes a PCI function discovered via sysfs.
type PCIFunction struct {
	Address  string // Domain:bus:device.function, e.g. 0000:00:14.0
	Path     string // Directory in sysfs
	Vendor   uint16
	Device   uint16
	Class    uint32 // Class code, subclass and programming interface
	UIO      string // uio device name (uio0) if bound to a uio driver
	BAR0Size uint64 // Size of the first memory resource
}

// IsXHCI reports whether the function is an xHCI controller.
func (f PCIFunction) IsXHCI() bool { return f.Class == ClassXHCI }

// String implements fmt.Stringer.
func (f PCIFunction) String() string {
	s := fmt.Sprintf("%s [%04x:%04x] class %06x", f.Address, f.Vendor, f.Device, f.Class)
	if f.UIO != "" {
		s += " " + f.UIO
	}
	return s
}

// =============================================================================
// Sysfs Parsing
// =============================================================================

// ScanXHCI lists the xHCI controllers under root, a directory laid out
// like /sys/bus/pci/devices.
func ScanXHCI(root string) ([]PCIFunction, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var found []PCIFunction
	for _, entry := range entries {
		fn, err := parsePCIFunction(filepath.Join(root, entry.Name()))
		if err != nil {
			continue // Skip functions we can't parse
		}
		if fn.IsXHCI() {
			found = append(found, fn)
		}
	}
	return found, nil
}

// parsePCIFunction reads a PCI function from its sysfs directory.
func parsePCIFunction(path string) (PCIFunction, error) {
	fn := PCIFunction{Address: filepath.Base(path), Path: path}

	class, err := readSysfsHex(filepath.Join(path, "class"), 32)
	if err != nil {
		return fn, err
	}
	fn.Class = uint32(class)

	if v, err := readSysfsHex(filepath.Join(path, "vendor"), 16); err == nil {
		fn.Vendor = uint16(v)
	}
	if v, err := readSysfsHex(filepath.Join(path, "device"), 16); err == nil {
		fn.Device = uint16(v)
	}
	if s, err := readSysfsString(filepath.Join(path, "resource")); err == nil {
		fn.BAR0Size, _ = parseResource(s)
	}

	// uio_pci_generic creates uio/uioN below the function.
	if entries, err := os.ReadDir(filepath.Join(path, "uio")); err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "uio") {
				fn.UIO = e.Name()
				break
			}
		}
	}
	return fn, nil
}

// parseResource returns the size of the first memory resource listed in
// the contents of a sysfs resource file. Each line holds the start, end
// and flags of one resource.
func parseResource(s string) (uint64, error) {
	for line := range strings.Lines(s) {
		f := strings.Fields(line)
		if len(f) != 3 {
			continue
		}
		start, err1 := parseHex(f[0], 64)
		end, err2 := parseHex(f[1], 64)
		flags, err3 := parseHex(f[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		if flags&resourceMemory != 0 && end > start {
			return end - start + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: no memory resource", pkg.ErrNotSupported)
}

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

// readSysfsString reads a string from a sysfs attribute file.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readSysfsHex reads a hexadecimal value from a sysfs attribute file.
func readSysfsHex(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return parseHex(s, bitSize)
}

func parseHex(s string, bitSize int) (uint64, error) {
	// Remove any "0x" prefix
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, bitSize)
	if err != nil {
		return 0, err
	}
	return v, nil
}
