package driver

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BAR is a register window mapped from a PCI BAR resource file
// (e.g. /sys/bus/pci/devices/<bdf>/resource0). It implements Registers.
type BAR struct {
	f   *os.File
	mem []byte
}

// OpenBAR maps the register window from the given resource file.
func OpenBAR(path string) (*BAR, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening register window %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat register window %s: %w", path, err)
	}
	if fi.Size() < RegisterWindowSize {
		f.Close()
		return nil, fmt.Errorf("register window %s too small: %d bytes", path, fi.Size())
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping register window %s: %w", path, err)
	}

	return &BAR{f: f, mem: mem}, nil
}

// Close unmaps the register window.
func (b *BAR) Close() error {
	if b.mem != nil {
		if err := unix.Munmap(b.mem); err != nil {
			return fmt.Errorf("unmapping register window: %w", err)
		}
		b.mem = nil
	}
	return b.f.Close()
}

func (b *BAR) read32(off int) uint32 {
	return binary.BigEndian.Uint32(b.mem[off : off+4])
}

func (b *BAR) write32(off int, v uint32) {
	binary.BigEndian.PutUint32(b.mem[off:off+4], v)
}

// WriteAdminQueuePFN implements Registers.
func (b *BAR) WriteAdminQueuePFN(pfn uint32) {
	b.write32(RegAdminQueuePFN, pfn)
}

// ReadAdminQueuePFN implements Registers.
func (b *BAR) ReadAdminQueuePFN() uint32 {
	return b.read32(RegAdminQueuePFN)
}

// WriteAdminQueueDoorbell implements Registers.
func (b *BAR) WriteAdminQueueDoorbell(count uint32) {
	b.write32(RegAdminQueueDoorbell, count)
}

// ReadAdminQueueEventCounter implements Registers.
func (b *BAR) ReadAdminQueueEventCounter() uint32 {
	return b.read32(RegAdminQueueEventCounter)
}

// MmapAllocator allocates coherent buffers with anonymous mmap. The bus
// address is the virtual address of the mapping, which is correct for
// emulated devices and IOMMU-backed setups where the host handles
// translation.
type MmapAllocator struct{}

// AllocCoherent implements Allocator.
func (MmapAllocator) AllocCoherent(size int) (*DMABuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid coherent buffer size %d", size)
	}
	// Round up to a whole number of pages.
	size = (size + PageSize - 1) &^ (PageSize - 1)

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("allocating coherent buffer: %w", err)
	}

	return &DMABuffer{
		Bytes:   mem,
		BusAddr: uint64(uintptr(unsafe.Pointer(&mem[0]))),
	}, nil
}

// FreeCoherent implements Allocator.
func (MmapAllocator) FreeCoherent(buf *DMABuffer) error {
	if buf == nil || buf.Bytes == nil {
		return nil
	}
	mem := buf.Bytes
	buf.Bytes = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("freeing coherent buffer: %w", err)
	}
	return nil
}
