// Package testutil emulates the device side of the admin queue protocol:
// the register window, a fake coherent bus and a firmware model that
// executes command slots when the doorbell rings.
package testutil

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/emergingrobotics/go-gvnic/pkg/adminq"
	"github.com/emergingrobotics/go-gvnic/pkg/driver"
)

// fakeBusBase keeps fake bus addresses away from zero so a zero PFN always
// means "no queue".
const fakeBusBase = 0x100000

// FakeNIC implements driver.Registers and driver.Allocator over in-process
// memory. Commands complete synchronously inside the doorbell write, in slot
// order, exactly one event counter increment per slot.
type FakeNIC struct {
	mu sync.Mutex

	pfn          uint32
	prevPFN      uint32
	eventCounter uint32
	doorbell     uint32

	nextAddr uint64
	mem      map[uint64][]byte

	// Descriptor is served on DESCRIBE_DEVICE, truncated to the command's
	// available length.
	Descriptor []byte
	// LinkSpeed is reported on REPORT_LINK_SPEED.
	LinkSpeed uint64
	// Ptypes is served on GET_PTYPE_MAP; nil serves zeroes.
	Ptypes []byte

	// FlowRules mirrors the rules the firmware holds, by location.
	FlowRules map[uint16]*adminq.FlowRule
	// RSS state last programmed.
	RSSAlg   uint8
	RSSKey   []byte
	RSSIndir []uint32
	// MTU last set via SET_DRIVER_PARAMETER.
	MTU uint64

	processed    []adminq.Opcode
	failQueue    []adminq.Status
	stalled      bool
	releaseReads int
}

// NewFakeNIC creates an emulated device with an empty firmware state.
func NewFakeNIC() *FakeNIC {
	return &FakeNIC{
		nextAddr:  fakeBusBase,
		mem:       make(map[uint64][]byte),
		FlowRules: make(map[uint16]*adminq.FlowRule),
		LinkSpeed: 10_000_000_000,
	}
}

// AllocCoherent implements driver.Allocator with fake page-aligned bus
// addresses.
func (f *FakeNIC) AllocCoherent(size int) (*driver.DMABuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid coherent buffer size %d", size)
	}
	size = (size + driver.PageSize - 1) &^ (driver.PageSize - 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	base := f.nextAddr
	f.nextAddr += uint64(size)
	buf := make([]byte, size)
	f.mem[base] = buf
	return &driver.DMABuffer{Bytes: buf, BusAddr: base}, nil
}

// FreeCoherent implements driver.Allocator.
func (f *FakeNIC) FreeCoherent(buf *driver.DMABuffer) error {
	if buf == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.mem[buf.BusAddr]; !ok {
		return fmt.Errorf("freeing unknown coherent buffer 0x%x", buf.BusAddr)
	}
	delete(f.mem, buf.BusAddr)
	buf.Bytes = nil
	return nil
}

// memAt returns n bytes of fake bus memory at addr. Caller holds f.mu.
func (f *FakeNIC) memAt(addr uint64, n int) []byte {
	for base, buf := range f.mem {
		if addr >= base && addr+uint64(n) <= base+uint64(len(buf)) {
			off := int(addr - base)
			return buf[off : off+n]
		}
	}
	return nil
}

// WriteAdminQueuePFN implements driver.Registers. Writing zero starts the
// release handshake.
func (f *FakeNIC) WriteAdminQueuePFN(pfn uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pfn == 0 && f.pfn != 0 {
		f.prevPFN = f.pfn
	}
	f.pfn = pfn
}

// ReadAdminQueuePFN implements driver.Registers. The device can be told to
// hold on to the page for a few reads via HoldRelease.
func (f *FakeNIC) ReadAdminQueuePFN() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pfn == 0 && f.releaseReads > 0 {
		f.releaseReads--
		return f.prevPFN
	}
	return f.pfn
}

// WriteAdminQueueDoorbell implements driver.Registers: ringing the doorbell
// runs the firmware over every slot up to the producer count.
func (f *FakeNIC) WriteAdminQueueDoorbell(count uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.doorbell = count
	if !f.stalled {
		f.processLocked()
	}
}

// ReadAdminQueueEventCounter implements driver.Registers.
func (f *FakeNIC) ReadAdminQueueEventCounter() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventCounter
}

// FailNext makes the firmware complete the next command with the given
// status instead of executing it. Repeated calls queue up.
func (f *FakeNIC) FailNext(status adminq.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failQueue = append(f.failQueue, status)
}

// Stall stops the firmware from completing commands until Resume, letting
// timeout paths be exercised.
func (f *FakeNIC) Stall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stalled = true
}

// Resume restarts the firmware and processes anything the doorbell already
// announced.
func (f *FakeNIC) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stalled = false
	f.processLocked()
}

// HoldRelease makes the device report the old PFN for n reads after the
// driver writes zero, exercising the release polling loop.
func (f *FakeNIC) HoldRelease(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseReads = n
}

// Processed returns the opcodes the firmware executed, in order, with
// extended envelopes reported as their inner opcode.
func (f *FakeNIC) Processed() []adminq.Opcode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adminq.Opcode(nil), f.processed...)
}

func (f *FakeNIC) processLocked() {
	if f.pfn == 0 {
		return
	}
	page := f.memAt(uint64(f.pfn)*driver.PageSize, driver.PageSize)
	if page == nil {
		return
	}

	mask := uint32(driver.PageSize/adminq.CommandSize) - 1
	for f.eventCounter != f.doorbell {
		off := int(f.eventCounter&mask) * adminq.CommandSize
		f.executeSlot(page[off : off+adminq.CommandSize])
		f.eventCounter++
	}
}

func (f *FakeNIC) executeSlot(slot []byte) {
	op := adminq.Opcode(binary.BigEndian.Uint32(slot[0:4]))

	status := adminq.StatusPassed
	if len(f.failQueue) > 0 {
		status = f.failQueue[0]
		f.failQueue = f.failQueue[1:]
	} else if err := f.applySlot(op, slot); err != nil {
		status = adminq.StatusInvalidArgumentError
	}

	recorded := op
	if op == adminq.OpExtendedCommand {
		recorded = adminq.Opcode(binary.BigEndian.Uint32(slot[4:8]))
	}
	f.processed = append(f.processed, recorded)

	binary.BigEndian.PutUint32(slot[adminq.CommandSize-4:], uint32(status))
}

// applySlot runs the firmware side effects of one command.
func (f *FakeNIC) applySlot(op adminq.Opcode, slot []byte) error {
	switch op {
	case adminq.OpDescribeDevice:
		addr := binary.BigEndian.Uint64(slot[4:12])
		availLen := int(binary.BigEndian.Uint32(slot[16:20]))
		dst := f.memAt(addr, availLen)
		if dst == nil {
			return fmt.Errorf("descriptor region 0x%x not mapped", addr)
		}
		copy(dst, f.Descriptor)

	case adminq.OpSetDriverParameter:
		if binary.BigEndian.Uint32(slot[4:8]) == adminq.ParamMTU {
			f.MTU = binary.BigEndian.Uint64(slot[12:20])
		}

	case adminq.OpReportLinkSpeed:
		addr := binary.BigEndian.Uint64(slot[4:12])
		dst := f.memAt(addr, 8)
		if dst == nil {
			return fmt.Errorf("link speed region 0x%x not mapped", addr)
		}
		binary.BigEndian.PutUint64(dst, f.LinkSpeed)

	case adminq.OpGetPtypeMap:
		length := int(binary.BigEndian.Uint64(slot[4:12]))
		addr := binary.BigEndian.Uint64(slot[12:20])
		dst := f.memAt(addr, length)
		if dst == nil {
			return fmt.Errorf("ptype region 0x%x not mapped", addr)
		}
		copy(dst, f.Ptypes)

	case adminq.OpConfigureRSS:
		return f.applyRSS(slot)

	case adminq.OpExtendedCommand:
		inner := adminq.Opcode(binary.BigEndian.Uint32(slot[4:8]))
		length := int(binary.BigEndian.Uint32(slot[8:12]))
		addr := binary.BigEndian.Uint64(slot[12:20])
		body := f.memAt(addr, length)
		if body == nil {
			return fmt.Errorf("extended command region 0x%x not mapped", addr)
		}
		if inner == adminq.OpConfigureFlowRule {
			return f.applyFlowRule(body)
		}
	}
	return nil
}

func (f *FakeNIC) applyRSS(slot []byte) error {
	f.RSSAlg = slot[6]
	keyLen := int(binary.BigEndian.Uint16(slot[8:10]))
	indirLen := int(binary.BigEndian.Uint16(slot[10:12]))
	keyAddr := binary.BigEndian.Uint64(slot[12:20])
	indirAddr := binary.BigEndian.Uint64(slot[20:28])

	if keyLen > 0 {
		key := f.memAt(keyAddr, keyLen)
		if key == nil {
			return fmt.Errorf("RSS key region 0x%x not mapped", keyAddr)
		}
		f.RSSKey = append([]byte(nil), key...)
	}
	if indirLen > 0 {
		raw := f.memAt(indirAddr, 4*indirLen)
		if raw == nil {
			return fmt.Errorf("RSS indirection region 0x%x not mapped", indirAddr)
		}
		indir := make([]uint32, indirLen)
		for i := range indir {
			indir[i] = binary.BigEndian.Uint32(raw[i*4:])
		}
		f.RSSIndir = indir
	}
	return nil
}

func (f *FakeNIC) applyFlowRule(body []byte) error {
	sub, location, rule, err := adminq.DecodeFlowRuleCommand(body)
	if err != nil {
		return err
	}
	switch sub {
	case adminq.FlowRuleAdd:
		f.FlowRules[location] = rule
	case adminq.FlowRuleDel:
		if _, ok := f.FlowRules[location]; !ok {
			return fmt.Errorf("no flow rule at location %d", location)
		}
		delete(f.FlowRules, location)
	case adminq.FlowRuleReset:
		f.FlowRules = make(map[uint16]*adminq.FlowRule)
	default:
		return fmt.Errorf("unknown flow rule sub-command %d", sub)
	}
	return nil
}
