//go:build linux

package linux

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/xhci/dma"
)

// pagemapEntry decodes one 64-bit page map entry. Without CAP_SYS_ADMIN
// the kernel reports present pages with a zero frame number.
func pagemapEntry(v uint64) (pfn uint64, present bool) {
	return v & pagemapPFNMask, v&pagemapPresent != 0
}

// physPages returns the physical address of each pageSize page of mem.
// Only the first base page of each page is looked up; a huge page is
// physically contiguous.
func physPages(pagemap *os.File, mem []byte, pageSize int) ([]uint64, error) {
	base := uintptr(unsafe.Pointer(&mem[0]))
	pages := make([]uint64, len(mem)/pageSize)
	var b [pagemapEntrySize]byte

	for i := range pages {
		vaddr := base + uintptr(i*pageSize)
		off := int64(vaddr/PageSize) * pagemapEntrySize
		if _, err := unix.Pread(int(pagemap.Fd()), b[:], off); err != nil {
			return nil, fmt.Errorf("pagemap at 0x%x: %w", vaddr, err)
		}
		pfn, present := pagemapEntry(binary.NativeEndian.Uint64(b[:]))
		if !present {
			return nil, fmt.Errorf("%w: page at 0x%x not resident", pkg.ErrNoMemory, vaddr)
		}
		if pfn == 0 {
			return nil, fmt.Errorf("%w: pagemap hides frame numbers (needs CAP_SYS_ADMIN)",
				pkg.ErrNotSupported)
		}
		pages[i] = pfn * PageSize
	}
	return pages, nil
}

// dmaMemory is locked anonymous memory with known physical pages.
type dmaMemory struct {
	mem  []byte
	heap *dma.Heap
}

// allocDMA maps size bytes of locked memory and builds a heap over it.
func allocDMA(pagemapPath string, size int, huge bool) (*dmaMemory, error) {
	pageSize := PageSize
	flags := unix.MAP_SHARED | unix.MAP_ANONYMOUS | unix.MAP_POPULATE | unix.MAP_LOCKED
	if huge {
		pageSize = HugePageSize
		flags |= unix.MAP_HUGETLB
	}
	size = (size + pageSize - 1) &^ (pageSize - 1)

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	if err := unix.Mlock(mem); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("mlock: %w", err)
	}
	// Fault every page in before asking where it lives.
	for i := 0; i < len(mem); i += PageSize {
		mem[i] = 0
	}

	pagemap, err := os.Open(pagemapPath)
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	defer pagemap.Close()

	pages, err := physPages(pagemap, mem, pageSize)
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	heap, err := dma.NewPagedHeap(mem, pages, uint64(pageSize))
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentHAL, "DMA memory mapped",
		"size", size, "page_size", pageSize, "first_page", fmt.Sprintf("0x%x", pages[0]))
	return &dmaMemory{mem: mem, heap: heap}, nil
}

func (m *dmaMemory) close() error {
	return unix.Munmap(m.mem)
}
