package adminq

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/emergingrobotics/go-gvnic/pkg/driver"
)

const (
	// Completion polling: bounded retries at a fixed sleep interval. Past the
	// bound the queue is unusable and must be reset.
	maxEventCounterChecks = 100
	// Release polling: how long we give the device to drop the queue page
	// before complaining.
	maxReleaseChecks = 500

	sleepInterval = 20 * time.Millisecond
)

// Queue is the admin queue engine. It owns the coherent command buffer, the
// producer index and the per-opcode statistics.
//
// Queue is not internally thread-safe: the caller must serialize all Issue,
// Execute and KickAndWait calls. Commands complete in FIFO order within the
// queue.
type Queue struct {
	log   *logrus.Logger
	regs  driver.Registers
	alloc driver.Allocator

	buf   *driver.DMABuffer
	prod  Index
	stats *Stats
}

// Alloc allocates the coherent command buffer, registers it with the device
// and returns a ready queue.
func Alloc(log *logrus.Logger, regs driver.Registers, alloc driver.Allocator) (*Queue, error) {
	buf, err := alloc.AllocCoherent(driver.PageSize)
	if err != nil {
		return nil, fmt.Errorf("allocating admin queue: %w", err)
	}

	prod, err := NewIndex(uint32(driver.PageSize / CommandSize))
	if err != nil {
		alloc.FreeCoherent(buf)
		return nil, err
	}

	q := &Queue{
		log:   log,
		regs:  regs,
		alloc: alloc,
		buf:   buf,
		prod:  prod,
		stats: newStats(),
	}

	regs.WriteAdminQueuePFN(uint32(buf.BusAddr / driver.PageSize))
	return q, nil
}

// Stats returns the queue's statistics.
func (q *Queue) Stats() *Stats {
	return q.stats
}

// Capacity returns the number of command slots.
func (q *Queue) Capacity() uint32 {
	return q.prod.Capacity()
}

// Release tells the device the admin queue is going away and waits for it to
// drop the page. If the device never lets go the memory must not be reused,
// so this keeps waiting and logs the situation.
func (q *Queue) Release() {
	q.regs.WriteAdminQueuePFN(0)
	for i := 0; q.regs.ReadAdminQueuePFN() != 0; i++ {
		if i == maxReleaseChecks {
			q.log.Error("device did not release the admin queue; unrecoverable platform error")
		}
		time.Sleep(sleepInterval)
	}
}

// Free releases the queue from the device and returns the coherent buffer.
// The queue must not be used afterwards.
func (q *Queue) Free() error {
	q.Release()
	buf := q.buf
	q.buf = nil
	return q.alloc.FreeCoherent(buf)
}

// slotBytes returns the wire bytes of the given slot.
func (q *Queue) slotBytes(slot uint32) []byte {
	off := int(slot) * CommandSize
	return q.buf.Bytes[off : off+CommandSize]
}

// Issue writes a command into the next free slot without kicking the device.
// It is completed by a later KickAndWait. If the ring is full it flushes
// once to drain space; a collision persisting after the flush means broken
// producer accounting and is fatal.
func (q *Queue) Issue(cmd *Command) error {
	tail := q.regs.ReadAdminQueueEventCounter()
	if q.prod.Full(tail) {
		if err := q.KickAndWait(); err != nil {
			return err
		}
		tail = q.regs.ReadAdminQueueEventCounter()
		if q.prod.Full(tail) {
			return ErrQueueFull
		}
	}

	slot := q.prod.Next()
	copy(q.slotBytes(slot), cmd[:])

	op := cmd.Opcode()
	if op == OpExtendedCommand {
		op = cmd.InnerOpcode()
	}
	if c := q.stats.counterFor(op); c != nil {
		c.Inc(1)
	} else {
		q.log.WithField("opcode", uint32(op)).Error("issuing unknown admin queue opcode")
	}
	return nil
}

// KickAndWait rings the doorbell for everything issued so far and waits for
// the device to complete it, returning the first per-command error found.
// Every slot in the kicked range is consumed regardless of errors.
func (q *Queue) KickAndWait() error {
	tail := q.regs.ReadAdminQueueEventCounter()
	head := q.prod.Count()

	q.regs.WriteAdminQueueDoorbell(head)
	if !q.waitForCompletion(head) {
		q.stats.Timeouts.Inc(1)
		q.log.Error("admin queue commands timed out; queue needs reset")
		return ErrQueueTimeout
	}

	for i := tail; i != head; i++ {
		slot := q.slotBytes(q.prod.SlotOf(i))
		op := Opcode(binary.BigEndian.Uint32(slot[0:4]))
		status := Status(binary.BigEndian.Uint32(slot[commandStatusOffset:]))
		if err := q.parseStatus(op, status); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) waitForCompletion(head uint32) bool {
	for i := 0; i < maxEventCounterChecks; i++ {
		if q.regs.ReadAdminQueueEventCounter() == head {
			return true
		}
		time.Sleep(sleepInterval)
	}
	return false
}

// parseStatus maps a completed slot's status to the error taxonomy.
func (q *Queue) parseStatus(op Opcode, status Status) error {
	switch status {
	case StatusPassed:
		return nil
	case StatusUnset:
		q.log.WithField("opcode", op.String()).
			Error("admin queue command completed with status unset")
		return &CommandError{Op: op.String(), Status: status}
	default:
		q.stats.CommandFailures.Inc(1)
		q.log.WithFields(logrus.Fields{
			"opcode": op.String(),
			"status": status.String(),
		}).Error("admin queue command failed")
		return &CommandError{Op: op.String(), Status: status}
	}
}

// Execute issues a single command and waits for its completion. The queue
// must be empty; callers that interleave Issue batches with Execute must
// drain the queue first.
func (q *Queue) Execute(cmd *Command) error {
	tail := q.regs.ReadAdminQueueEventCounter()
	if tail != q.prod.Count() {
		return ErrQueueNotEmpty
	}
	if err := q.Issue(cmd); err != nil {
		return err
	}
	return q.KickAndWait()
}

// ExecuteExtended runs a command whose payload does not fit a slot. The true
// command is copied into a scoped coherent buffer and wrapped in an
// EXTENDED_COMMAND envelope; the buffer is freed whatever the outcome.
func (q *Queue) ExecuteExtended(inner Opcode, cmd []byte) error {
	buf, err := q.alloc.AllocCoherent(len(cmd))
	if err != nil {
		return fmt.Errorf("allocating extended command buffer: %w", err)
	}
	defer q.alloc.FreeCoherent(buf)

	copy(buf.Bytes, cmd)
	return q.Execute(NewExtendedCommand(inner, uint32(len(cmd)), buf.BusAddr))
}

// DescribeDevice runs DESCRIBE_DEVICE and returns a copy of the raw
// descriptor the device wrote. The coherent snapshot is freed before
// returning.
func (q *Queue) DescribeDevice() ([]byte, error) {
	buf, err := q.alloc.AllocCoherent(driver.PageSize)
	if err != nil {
		return nil, fmt.Errorf("allocating descriptor region: %w", err)
	}
	defer q.alloc.FreeCoherent(buf)

	cmd := NewDescribeDevice(buf.BusAddr, DescriptorVersion, uint32(driver.PageSize))
	if err := q.Execute(cmd); err != nil {
		return nil, err
	}

	raw := make([]byte, driver.PageSize)
	copy(raw, buf.Bytes)
	return raw, nil
}

// ConfigureDeviceResources hands the device the counter array and interrupt
// doorbell layout.
func (q *Queue) ConfigureDeviceResources(p DeviceResourcesParams) error {
	return q.Execute(NewConfigureDeviceResources(p))
}

// DeconfigureDeviceResources tells the device to forget the configured
// resources.
func (q *Queue) DeconfigureDeviceResources() error {
	return q.Execute(NewDeconfigureDeviceResources())
}

// RegisterPageList registers a queue page list. The page bus addresses are
// marshalled into a scoped coherent buffer for the device to read.
func (q *Queue) RegisterPageList(id uint32, pageAddrs []uint64) error {
	size := 8 * len(pageAddrs)
	buf, err := q.alloc.AllocCoherent(size)
	if err != nil {
		return fmt.Errorf("allocating page list region: %w", err)
	}
	defer q.alloc.FreeCoherent(buf)

	for i, addr := range pageAddrs {
		binary.BigEndian.PutUint64(buf.Bytes[i*8:], addr)
	}
	return q.Execute(NewRegisterPageList(id, uint32(len(pageAddrs)), buf.BusAddr))
}

// UnregisterPageList unregisters a queue page list.
func (q *Queue) UnregisterPageList(id uint32) error {
	return q.Execute(NewUnregisterPageList(id))
}

// CreateTxQueues issues one CREATE_TX_QUEUE per entry and kicks once for the
// whole batch.
func (q *Queue) CreateTxQueues(params []TxQueueParams) error {
	for _, p := range params {
		if err := q.Issue(NewCreateTxQueue(p)); err != nil {
			return err
		}
	}
	return q.KickAndWait()
}

// CreateRxQueues issues one CREATE_RX_QUEUE per entry and kicks once for the
// whole batch.
func (q *Queue) CreateRxQueues(params []RxQueueParams) error {
	for _, p := range params {
		if err := q.Issue(NewCreateRxQueue(p)); err != nil {
			return err
		}
	}
	return q.KickAndWait()
}

// DestroyTxQueues issues one DESTROY_TX_QUEUE per id and kicks once.
func (q *Queue) DestroyTxQueues(ids []uint32) error {
	for _, id := range ids {
		if err := q.Issue(NewDestroyTxQueue(id)); err != nil {
			return err
		}
	}
	return q.KickAndWait()
}

// DestroyRxQueues issues one DESTROY_RX_QUEUE per id and kicks once.
func (q *Queue) DestroyRxQueues(ids []uint32) error {
	for _, id := range ids {
		if err := q.Issue(NewDestroyRxQueue(id)); err != nil {
			return err
		}
	}
	return q.KickAndWait()
}

// SetMTU tells the device the driver's MTU.
func (q *Queue) SetMTU(mtu uint64) error {
	return q.Execute(NewSetDriverParameter(ParamMTU, mtu))
}

// ReportStats points the device at a stats report region it refreshes every
// interval.
func (q *Queue) ReportStats(reportLen, reportAddr, interval uint64) error {
	return q.Execute(NewReportStats(reportLen, reportAddr, interval))
}

// ReportLinkSpeed queries the device's link speed in bits per second.
func (q *Queue) ReportLinkSpeed() (uint64, error) {
	buf, err := q.alloc.AllocCoherent(8)
	if err != nil {
		return 0, fmt.Errorf("allocating link speed region: %w", err)
	}
	defer q.alloc.FreeCoherent(buf)

	if err := q.Execute(NewReportLinkSpeed(buf.BusAddr)); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf.Bytes[0:8]), nil
}

// NumPtypes is the size of the device's packet-type map.
const NumPtypes = 1024

// Ptype is one packet-type map entry.
type Ptype struct {
	L3 uint8
	L4 uint8
}

// PtypeLUT is the packet type lookup table used by the DQO formats.
type PtypeLUT struct {
	Ptypes [NumPtypes]Ptype
}

// GetPtypeMap fetches the device's packet-type map.
func (q *Queue) GetPtypeMap() (*PtypeLUT, error) {
	size := NumPtypes * 2
	buf, err := q.alloc.AllocCoherent(size)
	if err != nil {
		return nil, fmt.Errorf("allocating ptype map region: %w", err)
	}
	defer q.alloc.FreeCoherent(buf)

	if err := q.Execute(NewGetPtypeMap(uint64(size), buf.BusAddr)); err != nil {
		return nil, err
	}

	lut := &PtypeLUT{}
	for i := 0; i < NumPtypes; i++ {
		lut.Ptypes[i].L3 = buf.Bytes[i*2]
		lut.Ptypes[i].L4 = buf.Bytes[i*2+1]
	}
	return lut, nil
}

// VerifyDriverCompatibility hands the device a driver-info blob so it can
// refuse incompatible drivers.
func (q *Queue) VerifyDriverCompatibility(info []byte) error {
	buf, err := q.alloc.AllocCoherent(len(info))
	if err != nil {
		return fmt.Errorf("allocating driver info region: %w", err)
	}
	defer q.alloc.FreeCoherent(buf)

	copy(buf.Bytes, info)
	return q.Execute(NewVerifyDriverCompatibility(uint64(len(info)), buf.BusAddr))
}

// ConfigureRSS programs the RSS key and indirection table. Either may be
// empty to leave it unchanged.
func (q *Queue) ConfigureRSS(alg uint8, key []byte, indir []uint32) error {
	p := RSSParams{
		HashTypes: RSSHashTCPv4 | RSSHashUDPv4 | RSSHashTCPv6 | RSSHashUDPv6,
		Algorithm: alg,
	}

	var keyBuf, indirBuf *driver.DMABuffer
	defer func() {
		if keyBuf != nil {
			q.alloc.FreeCoherent(keyBuf)
		}
		if indirBuf != nil {
			q.alloc.FreeCoherent(indirBuf)
		}
	}()

	if len(key) > 0 {
		var err error
		keyBuf, err = q.alloc.AllocCoherent(len(key))
		if err != nil {
			return fmt.Errorf("allocating RSS key region: %w", err)
		}
		copy(keyBuf.Bytes, key)
		p.KeyLen = uint16(len(key))
		p.KeyAddr = keyBuf.BusAddr
	}

	if len(indir) > 0 {
		var err error
		indirBuf, err = q.alloc.AllocCoherent(4 * len(indir))
		if err != nil {
			return fmt.Errorf("allocating RSS indirection region: %w", err)
		}
		for i, v := range indir {
			binary.BigEndian.PutUint32(indirBuf.Bytes[i*4:], v)
		}
		p.IndirLen = uint16(len(indir))
		p.IndirAddr = indirBuf.BusAddr
	}

	return q.Execute(NewConfigureRSS(p))
}

// AddFlowRule programs one flow steering rule at the given location.
func (q *Queue) AddFlowRule(location uint16, rule *FlowRule) error {
	return q.ExecuteExtended(OpConfigureFlowRule,
		EncodeFlowRuleCommand(FlowRuleAdd, location, rule))
}

// DelFlowRule removes the flow steering rule at the given location.
func (q *Queue) DelFlowRule(location uint16) error {
	return q.ExecuteExtended(OpConfigureFlowRule,
		EncodeFlowRuleCommand(FlowRuleDel, location, nil))
}

// ResetFlowRules removes every flow steering rule on the device.
func (q *Queue) ResetFlowRules() error {
	return q.ExecuteExtended(OpConfigureFlowRule,
		EncodeFlowRuleCommand(FlowRuleReset, 0, nil))
}
