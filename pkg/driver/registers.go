// Package driver provides the low-level transport boundary between the gVNIC
// driver core and the device: the admin-queue register window and the
// coherent (DMA-visible) memory allocator. Everything above this package
// talks to the device exclusively through these interfaces.
package driver

// PageSize is the device page size. The admin queue occupies exactly one
// device page and all page lists are built from pages of this size.
const PageSize = 4096

// Admin-queue register offsets within the device register window (BAR0).
// All registers are 32-bit big-endian.
const (
	RegDeviceStatus           = 0x00
	RegDriverStatus           = 0x04
	RegMaxTxQueues            = 0x08
	RegMaxRxQueues            = 0x0c
	RegAdminQueuePFN          = 0x10
	RegAdminQueueDoorbell     = 0x14
	RegAdminQueueEventCounter = 0x18

	// RegisterWindowSize is the number of bytes the driver maps.
	RegisterWindowSize = 0x20
)

// Registers is the admin-queue register surface of the device. Implementations
// are the mmap-backed BAR window for real hardware and the emulator in
// testutil.
type Registers interface {
	// WriteAdminQueuePFN hands the device the page frame number of the
	// coherent command buffer. Writing zero asks the device to release it.
	WriteAdminQueuePFN(pfn uint32)

	// ReadAdminQueuePFN reads back the page frame number the device is
	// currently holding. Zero means the device has let go of the queue.
	ReadAdminQueuePFN() uint32

	// WriteAdminQueueDoorbell kicks the device with the new producer count.
	WriteAdminQueueDoorbell(count uint32)

	// ReadAdminQueueEventCounter reads the device's command completion count.
	ReadAdminQueueEventCounter() uint32
}
