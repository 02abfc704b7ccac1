package driver

// DMABuffer is a chunk of coherent memory shared with the device. Bytes is
// the driver-side mapping; BusAddr is the address the device uses to reach
// the same memory.
type DMABuffer struct {
	Bytes   []byte
	BusAddr uint64
}

// Len returns the size of the buffer in bytes.
func (b *DMABuffer) Len() int {
	return len(b.Bytes)
}

// Allocator hands out coherent memory. Buffers must stay valid until they are
// returned with FreeCoherent; the device may read or write them at any time
// in between.
type Allocator interface {
	AllocCoherent(size int) (*DMABuffer, error)
	FreeCoherent(buf *DMABuffer) error
}
