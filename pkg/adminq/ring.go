package adminq

import "fmt"

// Index is the producer position of a power-of-two ring. The count is
// free-running; the slot is the count reduced modulo the capacity. Wraparound
// of the 32-bit count is safe because the capacity divides 2^32.
type Index struct {
	count uint32
	mask  uint32
}

// NewIndex creates an index for a ring with the given slot count. The
// capacity must be a nonzero power of two.
func NewIndex(capacity uint32) (Index, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return Index{}, fmt.Errorf("ring capacity %d is not a power of two", capacity)
	}
	return Index{mask: capacity - 1}, nil
}

// Capacity returns the slot count of the ring.
func (x Index) Capacity() uint32 {
	return x.mask + 1
}

// Count returns the free-running producer count.
func (x Index) Count() uint32 {
	return x.count
}

// SlotOf reduces an arbitrary count to its slot.
func (x Index) SlotOf(count uint32) uint32 {
	return count & x.mask
}

// Next returns the slot for the current count and advances the producer.
func (x *Index) Next() uint32 {
	slot := x.count & x.mask
	x.count++
	return slot
}

// Full reports whether producing one more entry would collide with the
// consumer at the given count. The ring is full when the producer is one
// whole lap minus one ahead; producer and consumer slots must never meet.
func (x Index) Full(consumer uint32) bool {
	return (x.count+1)&x.mask == consumer&x.mask
}

// Reset rewinds the producer count to zero. Used when the queue is
// re-registered with the device after a reset.
func (x *Index) Reset() {
	x.count = 0
}
