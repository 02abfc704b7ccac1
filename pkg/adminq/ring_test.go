package adminq

import "testing"

func TestNewIndexRejectsNonPowerOfTwo(t *testing.T) {
	for _, capacity := range []uint32{0, 3, 5, 63, 100} {
		if _, err := NewIndex(capacity); err == nil {
			t.Errorf("NewIndex(%d) should fail", capacity)
		}
	}
	for _, capacity := range []uint32{1, 2, 64, 1 << 20} {
		if _, err := NewIndex(capacity); err != nil {
			t.Errorf("NewIndex(%d) failed: %v", capacity, err)
		}
	}
}

func TestIndexNextWrapsAtCapacity(t *testing.T) {
	idx, err := NewIndex(4)
	if err != nil {
		t.Fatal(err)
	}

	for lap := 0; lap < 3; lap++ {
		for want := uint32(0); want < 4; want++ {
			if got := idx.Next(); got != want {
				t.Fatalf("lap %d: Next() = %d, want %d", lap, got, want)
			}
		}
	}
	if idx.Count() != 12 {
		t.Errorf("Count() = %d, want 12 (free-running)", idx.Count())
	}
}

func TestIndexSlotOf(t *testing.T) {
	idx, err := NewIndex(64)
	if err != nil {
		t.Fatal(err)
	}

	if got := idx.SlotOf(0); got != 0 {
		t.Errorf("SlotOf(0) = %d", got)
	}
	if got := idx.SlotOf(65); got != 1 {
		t.Errorf("SlotOf(65) = %d, want 1", got)
	}
	if got := idx.SlotOf(0xFFFFFFFF); got != 63 {
		t.Errorf("SlotOf(max) = %d, want 63", got)
	}
}

func TestIndexFull(t *testing.T) {
	idx, err := NewIndex(4)
	if err != nil {
		t.Fatal(err)
	}

	// Consumer parked at zero: full after three productions.
	if idx.Full(0) {
		t.Error("empty ring reported full")
	}
	idx.Next()
	idx.Next()
	if idx.Full(0) {
		t.Error("ring with one free slot reported full")
	}
	idx.Next()
	if !idx.Full(0) {
		t.Error("ring with producer one lap minus one ahead not reported full")
	}
	// Consumer catches up one slot.
	if idx.Full(1) {
		t.Error("ring reported full after consumer advanced")
	}
}

func TestIndexReset(t *testing.T) {
	idx, err := NewIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	idx.Next()
	idx.Next()
	idx.Reset()
	if idx.Count() != 0 {
		t.Errorf("Count() after Reset = %d", idx.Count())
	}
}
