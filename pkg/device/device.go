// Package device ties the control plane together: it owns the admin queue,
// runs describe/negotiate bring-up and exposes the queue, flow steering and
// RSS surfaces behind one lock.
package device

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/emergingrobotics/go-gvnic/pkg/adminq"
	"github.com/emergingrobotics/go-gvnic/pkg/config"
	"github.com/emergingrobotics/go-gvnic/pkg/describe"
	"github.com/emergingrobotics/go-gvnic/pkg/driver"
	"github.com/emergingrobotics/go-gvnic/pkg/flow"
	"github.com/emergingrobotics/go-gvnic/pkg/rss"
)

// Device represents an open virtual NIC control plane.
//
// The admin queue itself is not thread-safe; Device serializes every command
// behind its lock, including the firmware half of flow and RSS mutations.
type Device struct {
	log   *logrus.Logger
	regs  driver.Registers
	alloc driver.Allocator
	bar   *driver.BAR // set when we opened the register window ourselves

	mu        sync.Mutex
	queue     *adminq.Queue
	cfg       *config.DeviceConfig
	counters  *driver.DMABuffer
	irqDBs    *driver.DMABuffer
	linkSpeed uint64
	closed    bool

	flows *flow.Directory
	rss   *rss.State
}

// New creates a device over an already-mapped register window, allocating
// and registering the admin queue.
func New(log *logrus.Logger, regs driver.Registers, alloc driver.Allocator) (*Device, error) {
	queue, err := adminq.Alloc(log, regs, alloc)
	if err != nil {
		return nil, err
	}
	return &Device{
		log:   log,
		regs:  regs,
		alloc: alloc,
		queue: queue,
	}, nil
}

// Open maps the register window from a PCI BAR resource file and creates the
// device over it.
func Open(log *logrus.Logger, resourcePath string) (*Device, error) {
	bar, err := driver.OpenBAR(resourcePath)
	if err != nil {
		return nil, err
	}

	d, err := New(log, bar, driver.MmapAllocator{})
	if err != nil {
		bar.Close()
		return nil, err
	}
	d.bar = bar
	return d, nil
}

// OpenFirst opens the first gVNIC function found on the PCI bus.
func OpenFirst(log *logrus.Logger) (*Device, error) {
	devices, err := Scan()
	if err != nil {
		return nil, fmt.Errorf("scanning for devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return Open(log, devices[0].ResourcePath)
}

// Close deconfigures device resources if any were configured, releases the
// admin queue and unmaps the register window if Open mapped it.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.counters != nil {
		if err := d.queue.DeconfigureDeviceResources(); err != nil {
			d.log.WithError(err).Error("deconfiguring device resources on close")
		}
		d.alloc.FreeCoherent(d.counters)
		d.counters = nil
		if d.irqDBs != nil {
			d.alloc.FreeCoherent(d.irqDBs)
			d.irqDBs = nil
		}
	}

	err := d.queue.Free()
	if d.bar != nil {
		if cerr := d.bar.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Describe fetches and parses the device descriptor and negotiates the
// driver configuration. It may be called again after a reset; the previously
// selected queue format carries over into the new negotiation.
func (d *Device) Describe() (*config.DeviceConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDeviceClosed
	}

	raw, err := d.queue.DescribeDevice()
	if err != nil {
		return nil, err
	}
	desc, opts, err := describe.Parse(d.log, raw)
	if err != nil {
		return nil, err
	}

	prev := config.FormatUnspecified
	if d.cfg != nil {
		prev = d.cfg.Format
	}
	cfg, err := config.Negotiate(d.log, desc, opts, prev)
	if err != nil {
		return nil, err
	}
	d.cfg = cfg

	d.flows = flow.NewDirectory(d.log, queueOps{d}, cfg.FlowRulesMax, cfg.DefaultNumQueues)
	d.rss = rss.NewState(d.log, queueOps{d}, cfg.DefaultNumQueues)
	return cfg, nil
}

// Config returns the negotiated configuration.
func (d *Device) Config() (*config.DeviceConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg == nil {
		return nil, ErrNotConfigured
	}
	return d.cfg, nil
}

// ConfigureResources allocates the event counter array and the interrupt
// doorbell block and hands both to the device. Describe must have run.
func (d *Device) ConfigureResources(numIRQs uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	if d.cfg == nil {
		return ErrNotConfigured
	}

	counters, err := d.alloc.AllocCoherent(4 * int(d.cfg.NumCounters))
	if err != nil {
		return fmt.Errorf("allocating counter array: %w", err)
	}
	irqDBs, err := d.alloc.AllocCoherent(4 * int(numIRQs))
	if err != nil {
		d.alloc.FreeCoherent(counters)
		return fmt.Errorf("allocating irq doorbells: %w", err)
	}

	err = d.queue.ConfigureDeviceResources(adminq.DeviceResourcesParams{
		CounterArrayAddr:  counters.BusAddr,
		NumCounters:       uint32(d.cfg.NumCounters),
		IRQDoorbellAddr:   irqDBs.BusAddr,
		NumIRQDoorbells:   numIRQs,
		IRQDoorbellStride: 4,
		NotifyBlockBase:   0,
		QueueFormat:       uint8(d.cfg.Format),
	})
	if err != nil {
		d.alloc.FreeCoherent(counters)
		d.alloc.FreeCoherent(irqDBs)
		return err
	}
	d.counters = counters
	d.irqDBs = irqDBs
	return nil
}

// CreateTxQueues creates a batch of transmit queues with one doorbell kick.
func (d *Device) CreateTxQueues(params []adminq.TxQueueParams) error {
	return d.locked(func(q *adminq.Queue) error { return q.CreateTxQueues(params) })
}

// CreateRxQueues creates a batch of receive queues with one doorbell kick.
func (d *Device) CreateRxQueues(params []adminq.RxQueueParams) error {
	return d.locked(func(q *adminq.Queue) error { return q.CreateRxQueues(params) })
}

// DestroyTxQueues destroys a batch of transmit queues.
func (d *Device) DestroyTxQueues(ids []uint32) error {
	return d.locked(func(q *adminq.Queue) error { return q.DestroyTxQueues(ids) })
}

// DestroyRxQueues destroys a batch of receive queues.
func (d *Device) DestroyRxQueues(ids []uint32) error {
	return d.locked(func(q *adminq.Queue) error { return q.DestroyRxQueues(ids) })
}

// RegisterPageList registers a queue page list with the device.
func (d *Device) RegisterPageList(id uint32, pageAddrs []uint64) error {
	return d.locked(func(q *adminq.Queue) error { return q.RegisterPageList(id, pageAddrs) })
}

// UnregisterPageList unregisters a queue page list.
func (d *Device) UnregisterPageList(id uint32) error {
	return d.locked(func(q *adminq.Queue) error { return q.UnregisterPageList(id) })
}

// SetMTU tells the device the driver's MTU, bounded by the negotiated
// maximum.
func (d *Device) SetMTU(mtu uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	if d.cfg == nil {
		return ErrNotConfigured
	}
	if mtu < config.MinMTU || mtu > d.cfg.MaxMTU {
		return fmt.Errorf("MTU %d outside [%d, %d]", mtu, config.MinMTU, d.cfg.MaxMTU)
	}
	return d.queue.SetMTU(uint64(mtu))
}

// LinkSpeed queries the device's link speed in bits per second. The last
// reported value is cached and returned when the query fails with a
// device-side error.
func (d *Device) LinkSpeed() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrDeviceClosed
	}

	speed, err := d.queue.ReportLinkSpeed()
	if err != nil {
		if d.linkSpeed != 0 {
			return d.linkSpeed, nil
		}
		return 0, err
	}
	d.linkSpeed = speed
	return speed, nil
}

// ReportStats points the device at a stats report region.
func (d *Device) ReportStats(reportLen, reportAddr, interval uint64) error {
	return d.locked(func(q *adminq.Queue) error {
		return q.ReportStats(reportLen, reportAddr, interval)
	})
}

// PtypeMap fetches the packet-type lookup table.
func (d *Device) PtypeMap() (*adminq.PtypeLUT, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDeviceClosed
	}
	return d.queue.GetPtypeMap()
}

// VerifyDriverCompatibility hands the device a driver-info blob.
func (d *Device) VerifyDriverCompatibility(info []byte) error {
	return d.locked(func(q *adminq.Queue) error { return q.VerifyDriverCompatibility(info) })
}

// Flows returns the flow steering directory. Describe must have run.
func (d *Device) Flows() (*flow.Directory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.flows == nil {
		return nil, ErrNotConfigured
	}
	return d.flows, nil
}

// RSS returns the RSS configuration surface. Describe must have run.
func (d *Device) RSS() (*rss.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rss == nil {
		return nil, ErrNotConfigured
	}
	return d.rss, nil
}

// QueueStats returns the admin queue's command statistics.
func (d *Device) QueueStats() *adminq.Stats {
	return d.queue.Stats()
}

func (d *Device) locked(fn func(q *adminq.Queue) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	return fn(d.queue)
}

// queueOps adapts the device's serialized admin queue to the flow and RSS
// programmer interfaces. The directory and RSS state hold their own locks
// across these calls; the device lock is only taken here, so the ordering is
// always directory-then-device.
type queueOps struct {
	d *Device
}

func (o queueOps) AddFlowRule(location uint16, rule *adminq.FlowRule) error {
	return o.d.locked(func(q *adminq.Queue) error { return q.AddFlowRule(location, rule) })
}

func (o queueOps) DelFlowRule(location uint16) error {
	return o.d.locked(func(q *adminq.Queue) error { return q.DelFlowRule(location) })
}

func (o queueOps) ResetFlowRules() error {
	return o.d.locked(func(q *adminq.Queue) error { return q.ResetFlowRules() })
}

func (o queueOps) ConfigureRSS(alg uint8, key []byte, indir []uint32) error {
	return o.d.locked(func(q *adminq.Queue) error { return q.ConfigureRSS(alg, key, indir) })
}
