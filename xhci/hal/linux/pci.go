//go:build linux

package linux

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// pciConfig is an open PCI configuration space file.
type pciConfig struct {
	f *os.File
}

func openPCIConfig(path string) (*pciConfig, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &pciConfig{f: f}, nil
}

func (c *pciConfig) read16(off int64) (uint16, error) {
	var b [2]byte
	if _, err := unix.Pread(int(c.f.Fd()), b[:], off); err != nil {
		return 0, fmt.Errorf("config read at 0x%x: %w", off, err)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (c *pciConfig) write16(off int64, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	if _, err := unix.Pwrite(int(c.f.Fd()), b[:], off); err != nil {
		return fmt.Errorf("config write at 0x%x: %w", off, err)
	}
	return nil
}

// updateCommand sets and clears bits of the PCI Command register.
func (c *pciConfig) updateCommand(set, clr uint16) (uint16, error) {
	cmd, err := c.read16(pciCommand)
	if err != nil {
		return 0, err
	}
	cmd = cmd&^clr | set
	return cmd, c.write16(pciCommand, cmd)
}

func (c *pciConfig) close() error {
	return c.f.Close()
}
