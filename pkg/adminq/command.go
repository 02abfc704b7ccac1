// Package adminq implements the admin queue: the control-plane command ring
// between the driver and the gVNIC device firmware. Commands are fixed-size
// slots in a coherent page; the driver produces commands and rings a
// doorbell, the device consumes them in FIFO order and advances an event
// counter, writing a status into each consumed slot.
package adminq

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies the command variant held in a slot.
type Opcode uint32

// Admin queue opcodes.
const (
	OpDescribeDevice             Opcode = 0x1
	OpConfigureDeviceResources   Opcode = 0x2
	OpRegisterPageList           Opcode = 0x3
	OpUnregisterPageList         Opcode = 0x4
	OpCreateTxQueue              Opcode = 0x5
	OpCreateRxQueue              Opcode = 0x6
	OpDestroyTxQueue             Opcode = 0x7
	OpDestroyRxQueue             Opcode = 0x8
	OpDeconfigureDeviceResources Opcode = 0x9
	OpSetDriverParameter         Opcode = 0xB
	OpReportStats                Opcode = 0xC
	OpReportLinkSpeed            Opcode = 0xD
	OpGetPtypeMap                Opcode = 0xE
	OpVerifyDriverCompatibility  Opcode = 0xF
	OpConfigureFlowRule          Opcode = 0x11
	OpConfigureRSS               Opcode = 0x12

	// OpExtendedCommand wraps a larger-than-slot command held in a separate
	// coherent buffer.
	OpExtendedCommand Opcode = 0xFF
)

var opcodeNames = map[Opcode]string{
	OpDescribeDevice:             "DESCRIBE_DEVICE",
	OpConfigureDeviceResources:   "CONFIGURE_DEVICE_RESOURCES",
	OpRegisterPageList:           "REGISTER_PAGE_LIST",
	OpUnregisterPageList:         "UNREGISTER_PAGE_LIST",
	OpCreateTxQueue:              "CREATE_TX_QUEUE",
	OpCreateRxQueue:              "CREATE_RX_QUEUE",
	OpDestroyTxQueue:             "DESTROY_TX_QUEUE",
	OpDestroyRxQueue:             "DESTROY_RX_QUEUE",
	OpDeconfigureDeviceResources: "DECONFIGURE_DEVICE_RESOURCES",
	OpSetDriverParameter:         "SET_DRIVER_PARAMETER",
	OpReportStats:                "REPORT_STATS",
	OpReportLinkSpeed:            "REPORT_LINK_SPEED",
	OpGetPtypeMap:                "GET_PTYPE_MAP",
	OpVerifyDriverCompatibility:  "VERIFY_DRIVER_COMPATIBILITY",
	OpConfigureFlowRule:          "CONFIGURE_FLOW_RULE",
	OpConfigureRSS:               "CONFIGURE_RSS",
	OpExtendedCommand:            "EXTENDED_COMMAND",
}

// String returns the opcode's wire name.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(0x%x)", uint32(o))
}

// Command slot layout. Every slot is CommandSize bytes: a big-endian opcode,
// an opcode-specific payload, and a trailing big-endian status the device
// overwrites in place.
const (
	CommandSize = 64

	commandPayloadOffset = 4
	commandStatusOffset  = CommandSize - 4

	// CommandPayloadSize is the room available to a single-slot command.
	CommandPayloadSize = commandStatusOffset - commandPayloadOffset
)

// DescriptorVersion is the device descriptor format requested by
// DESCRIBE_DEVICE.
const DescriptorVersion = 1

// SET_DRIVER_PARAMETER parameter types.
const (
	ParamMTU uint32 = 1
)

// Command is one admin queue slot in wire form.
type Command [CommandSize]byte

// Opcode returns the command's opcode.
func (c *Command) Opcode() Opcode {
	return Opcode(binary.BigEndian.Uint32(c[0:4]))
}

// SetOpcode stamps the command's opcode.
func (c *Command) SetOpcode(op Opcode) {
	binary.BigEndian.PutUint32(c[0:4], uint32(op))
}

// Status returns the trailing status field.
func (c *Command) Status() Status {
	return Status(binary.BigEndian.Uint32(c[commandStatusOffset:]))
}

// SetStatus writes the trailing status field. Only the device (or its
// emulation) does this.
func (c *Command) SetStatus(s Status) {
	binary.BigEndian.PutUint32(c[commandStatusOffset:], uint32(s))
}

// Payload returns the opcode-specific payload area.
func (c *Command) Payload() []byte {
	return c[commandPayloadOffset:commandStatusOffset]
}

// InnerOpcode returns the wrapped opcode of an extended command.
func (c *Command) InnerOpcode() Opcode {
	return Opcode(binary.BigEndian.Uint32(c.Payload()[0:4]))
}

// InnerLength returns the wrapped command length of an extended command.
func (c *Command) InnerLength() uint32 {
	return binary.BigEndian.Uint32(c.Payload()[4:8])
}

// InnerAddr returns the coherent buffer address of an extended command.
func (c *Command) InnerAddr() uint64 {
	return binary.BigEndian.Uint64(c.Payload()[8:16])
}

// NewDescribeDevice asks the device to write its descriptor into the given
// coherent region.
//
// Payload: descriptor_addr u64, descriptor_version u32, available_length u32.
func NewDescribeDevice(descriptorAddr uint64, version, availableLength uint32) *Command {
	c := &Command{}
	c.SetOpcode(OpDescribeDevice)
	p := c.Payload()
	binary.BigEndian.PutUint64(p[0:8], descriptorAddr)
	binary.BigEndian.PutUint32(p[8:12], version)
	binary.BigEndian.PutUint32(p[12:16], availableLength)
	return c
}

// DeviceResourcesParams configures the shared counter array and interrupt
// doorbells.
type DeviceResourcesParams struct {
	CounterArrayAddr  uint64
	NumCounters       uint32
	IRQDoorbellAddr   uint64
	NumIRQDoorbells   uint32
	IRQDoorbellStride uint32
	NotifyBlockBase   uint32
	QueueFormat       uint8
}

// NewConfigureDeviceResources builds a CONFIGURE_DEVICE_RESOURCES command.
//
// Payload: counter_array_addr u64, irq_doorbell_addr u64, num_counters u32,
// num_irq_doorbells u32, irq_doorbell_stride u32, notify_block_base u32,
// queue_format u8.
func NewConfigureDeviceResources(p DeviceResourcesParams) *Command {
	c := &Command{}
	c.SetOpcode(OpConfigureDeviceResources)
	b := c.Payload()
	binary.BigEndian.PutUint64(b[0:8], p.CounterArrayAddr)
	binary.BigEndian.PutUint64(b[8:16], p.IRQDoorbellAddr)
	binary.BigEndian.PutUint32(b[16:20], p.NumCounters)
	binary.BigEndian.PutUint32(b[20:24], p.NumIRQDoorbells)
	binary.BigEndian.PutUint32(b[24:28], p.IRQDoorbellStride)
	binary.BigEndian.PutUint32(b[28:32], p.NotifyBlockBase)
	b[32] = p.QueueFormat
	return c
}

// NewDeconfigureDeviceResources builds a DECONFIGURE_DEVICE_RESOURCES command.
func NewDeconfigureDeviceResources() *Command {
	c := &Command{}
	c.SetOpcode(OpDeconfigureDeviceResources)
	return c
}

// NewRegisterPageList registers a queue page list whose page addresses were
// written (big-endian u64 each) into the coherent region at pageListAddr.
//
// Payload: page_list_id u32, num_pages u32, page_list_addr u64.
func NewRegisterPageList(id, numPages uint32, pageListAddr uint64) *Command {
	c := &Command{}
	c.SetOpcode(OpRegisterPageList)
	p := c.Payload()
	binary.BigEndian.PutUint32(p[0:4], id)
	binary.BigEndian.PutUint32(p[4:8], numPages)
	binary.BigEndian.PutUint64(p[8:16], pageListAddr)
	return c
}

// NewUnregisterPageList builds an UNREGISTER_PAGE_LIST command.
func NewUnregisterPageList(id uint32) *Command {
	c := &Command{}
	c.SetOpcode(OpUnregisterPageList)
	binary.BigEndian.PutUint32(c.Payload()[0:4], id)
	return c
}

// TxQueueParams describes one transmit queue to the device.
type TxQueueParams struct {
	QueueID       uint32
	ResourcesAddr uint64
	RingAddr      uint64
	NotifyID      uint32
	PageListID    uint32
	RingSize      uint16
	// Completion ring fields, used by the DQO formats only.
	CompRingAddr uint64
	CompRingSize uint16
}

// NewCreateTxQueue builds a CREATE_TX_QUEUE command.
//
// Payload: queue_id u32, resources_addr u64, ring_addr u64, notify_id u32,
// page_list_id u32, ring_size u16, comp_ring_addr u64, comp_ring_size u16.
func NewCreateTxQueue(p TxQueueParams) *Command {
	c := &Command{}
	c.SetOpcode(OpCreateTxQueue)
	b := c.Payload()
	binary.BigEndian.PutUint32(b[0:4], p.QueueID)
	binary.BigEndian.PutUint64(b[4:12], p.ResourcesAddr)
	binary.BigEndian.PutUint64(b[12:20], p.RingAddr)
	binary.BigEndian.PutUint32(b[20:24], p.NotifyID)
	binary.BigEndian.PutUint32(b[24:28], p.PageListID)
	binary.BigEndian.PutUint16(b[28:30], p.RingSize)
	binary.BigEndian.PutUint64(b[30:38], p.CompRingAddr)
	binary.BigEndian.PutUint16(b[38:40], p.CompRingSize)
	return c
}

// RxQueueParams describes one receive queue to the device.
type RxQueueParams struct {
	QueueID          uint32
	NotifyID         uint32
	ResourcesAddr    uint64
	DescRingAddr     uint64
	DataRingAddr     uint64
	PageListID       uint32
	RingSize         uint16
	PacketBufferSize uint16
	// DQO-only fields.
	BuffRingSize     uint16
	EnableRSC        bool
	HeaderBufferSize uint16
}

// NewCreateRxQueue builds a CREATE_RX_QUEUE command.
//
// Payload: queue_id u32, notify_id u32, resources_addr u64, desc_ring_addr
// u64, data_ring_addr u64, page_list_id u32, ring_size u16,
// packet_buffer_size u16, buff_ring_size u16, enable_rsc u8,
// header_buffer_size u16.
func NewCreateRxQueue(p RxQueueParams) *Command {
	c := &Command{}
	c.SetOpcode(OpCreateRxQueue)
	b := c.Payload()
	binary.BigEndian.PutUint32(b[0:4], p.QueueID)
	binary.BigEndian.PutUint32(b[4:8], p.NotifyID)
	binary.BigEndian.PutUint64(b[8:16], p.ResourcesAddr)
	binary.BigEndian.PutUint64(b[16:24], p.DescRingAddr)
	binary.BigEndian.PutUint64(b[24:32], p.DataRingAddr)
	binary.BigEndian.PutUint32(b[32:36], p.PageListID)
	binary.BigEndian.PutUint16(b[36:38], p.RingSize)
	binary.BigEndian.PutUint16(b[38:40], p.PacketBufferSize)
	binary.BigEndian.PutUint16(b[40:42], p.BuffRingSize)
	if p.EnableRSC {
		b[42] = 1
	}
	binary.BigEndian.PutUint16(b[43:45], p.HeaderBufferSize)
	return c
}

// NewDestroyTxQueue builds a DESTROY_TX_QUEUE command.
func NewDestroyTxQueue(queueID uint32) *Command {
	c := &Command{}
	c.SetOpcode(OpDestroyTxQueue)
	binary.BigEndian.PutUint32(c.Payload()[0:4], queueID)
	return c
}

// NewDestroyRxQueue builds a DESTROY_RX_QUEUE command.
func NewDestroyRxQueue(queueID uint32) *Command {
	c := &Command{}
	c.SetOpcode(OpDestroyRxQueue)
	binary.BigEndian.PutUint32(c.Payload()[0:4], queueID)
	return c
}

// NewSetDriverParameter builds a SET_DRIVER_PARAMETER command.
//
// Payload: parameter_type u32, parameter_value u64 at offset 8.
func NewSetDriverParameter(paramType uint32, value uint64) *Command {
	c := &Command{}
	c.SetOpcode(OpSetDriverParameter)
	p := c.Payload()
	binary.BigEndian.PutUint32(p[0:4], paramType)
	binary.BigEndian.PutUint64(p[8:16], value)
	return c
}

// NewReportStats asks the device to write its stats report into the given
// coherent region every interval.
//
// Payload: report_len u64, report_addr u64, interval u64.
func NewReportStats(reportLen, reportAddr, interval uint64) *Command {
	c := &Command{}
	c.SetOpcode(OpReportStats)
	p := c.Payload()
	binary.BigEndian.PutUint64(p[0:8], reportLen)
	binary.BigEndian.PutUint64(p[8:16], reportAddr)
	binary.BigEndian.PutUint64(p[16:24], interval)
	return c
}

// NewReportLinkSpeed asks the device to write the link speed (big-endian u64)
// into the given coherent region.
func NewReportLinkSpeed(addr uint64) *Command {
	c := &Command{}
	c.SetOpcode(OpReportLinkSpeed)
	binary.BigEndian.PutUint64(c.Payload()[0:8], addr)
	return c
}

// NewGetPtypeMap asks the device to write the packet-type map into the given
// coherent region.
//
// Payload: map_len u64, map_addr u64.
func NewGetPtypeMap(mapLen, mapAddr uint64) *Command {
	c := &Command{}
	c.SetOpcode(OpGetPtypeMap)
	p := c.Payload()
	binary.BigEndian.PutUint64(p[0:8], mapLen)
	binary.BigEndian.PutUint64(p[8:16], mapAddr)
	return c
}

// NewVerifyDriverCompatibility hands the device a driver-info blob held in
// the given coherent region.
//
// Payload: info_len u64, info_addr u64.
func NewVerifyDriverCompatibility(infoLen, infoAddr uint64) *Command {
	c := &Command{}
	c.SetOpcode(OpVerifyDriverCompatibility)
	p := c.Payload()
	binary.BigEndian.PutUint64(p[0:8], infoLen)
	binary.BigEndian.PutUint64(p[8:16], infoAddr)
	return c
}

// RSS hash algorithms.
const (
	RSSHashUndefined uint8 = 0
	RSSHashToeplitz  uint8 = 1
)

// RSS hashed-field bits for the configure command.
const (
	RSSHashTCPv4 uint16 = 1 << 0
	RSSHashUDPv4 uint16 = 1 << 1
	RSSHashTCPv6 uint16 = 1 << 2
	RSSHashUDPv6 uint16 = 1 << 3
)

// RSSParams configures receive-side scaling. Key and indirection table are
// passed via coherent regions; a zero length means the field is absent.
type RSSParams struct {
	HashTypes uint16
	Algorithm uint8
	KeyLen    uint16
	IndirLen  uint16
	KeyAddr   uint64
	IndirAddr uint64
}

// NewConfigureRSS builds a CONFIGURE_RSS command.
//
// Payload: hash_types u16, algorithm u8, key_len u16 at offset 4, indir_len
// u16, key_addr u64, indir_addr u64.
func NewConfigureRSS(p RSSParams) *Command {
	c := &Command{}
	c.SetOpcode(OpConfigureRSS)
	b := c.Payload()
	binary.BigEndian.PutUint16(b[0:2], p.HashTypes)
	b[2] = p.Algorithm
	binary.BigEndian.PutUint16(b[4:6], p.KeyLen)
	binary.BigEndian.PutUint16(b[6:8], p.IndirLen)
	binary.BigEndian.PutUint64(b[8:16], p.KeyAddr)
	binary.BigEndian.PutUint64(b[16:24], p.IndirAddr)
	return c
}

// NewExtendedCommand wraps a command too large for a slot. The true command
// bytes live in a coherent buffer at addr.
func NewExtendedCommand(inner Opcode, length uint32, addr uint64) *Command {
	c := &Command{}
	c.SetOpcode(OpExtendedCommand)
	p := c.Payload()
	binary.BigEndian.PutUint32(p[0:4], uint32(inner))
	binary.BigEndian.PutUint32(p[4:8], length)
	binary.BigEndian.PutUint64(p[8:16], addr)
	return c
}
