package testutil

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// Device option IDs as the firmware emits them.
const (
	OptGQIRawAddressing uint16 = 0x1
	OptGQIRDA           uint16 = 0x2
	OptGQIQPL           uint16 = 0x3
	OptDQORDA           uint16 = 0x4
	OptDQOQPL           uint16 = 0x7
	OptJumboFrames      uint16 = 0x8
	OptBufferSizes      uint16 = 0xa
	OptFlowSteering     uint16 = 0xb
)

// DescriptorBuilder assembles a device descriptor: the fixed header followed
// by option records. Zero-valued fields get workable defaults on Build.
type DescriptorBuilder struct {
	MaxRegisteredPages uint64
	TxQueueEntries     uint16
	RxQueueEntries     uint16
	DefaultNumQueues   uint16
	MTU                uint16
	NumCounters        uint16
	TxPagesPerQPL      uint16
	RxPagesPerQPL      uint16
	MAC                [6]byte

	options    []byte
	numOptions uint16
}

// NewDescriptorBuilder returns a builder describing a plausible device: 256
// entry rings, 4 default queues, MTU 1460.
func NewDescriptorBuilder() *DescriptorBuilder {
	return &DescriptorBuilder{
		MaxRegisteredPages: 65536,
		TxQueueEntries:     256,
		RxQueueEntries:     256,
		DefaultNumQueues:   4,
		MTU:                1460,
		NumCounters:        32,
		TxPagesPerQPL:      1024,
		RxPagesPerQPL:      1024,
		MAC:                [6]byte{0x42, 0x01, 0x0a, 0x00, 0x00, 0x02},
	}
}

// AddOption appends one option record.
func (b *DescriptorBuilder) AddOption(id uint16, featMask uint32, payload []byte) *DescriptorBuilder {
	rec := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(rec[0:2], id)
	binary.BigEndian.PutUint16(rec[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint32(rec[4:8], featMask)
	copy(rec[8:], payload)
	b.options = append(b.options, rec...)
	b.numOptions++
	return b
}

// AddQueueFormat appends a queue format option carrying only a
// supported-features mask (GQI RDA, GQI QPL).
func (b *DescriptorBuilder) AddQueueFormat(id uint16, supported uint32) *DescriptorBuilder {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, supported)
	return b.AddOption(id, 0, payload)
}

// AddFormatWithCounts appends a queue format option with two trailing u16
// fields (DQO RDA ring entries, DQO QPL page counts).
func (b *DescriptorBuilder) AddFormatWithCounts(id uint16, supported uint32, a, c uint16) *DescriptorBuilder {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], supported)
	binary.BigEndian.PutUint16(payload[4:6], a)
	binary.BigEndian.PutUint16(payload[6:8], c)
	return b.AddOption(id, 0, payload)
}

// AddJumboFrames appends a jumbo frames option advertising maxMTU.
func (b *DescriptorBuilder) AddJumboFrames(supported uint32, maxMTU uint16) *DescriptorBuilder {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], supported)
	binary.BigEndian.PutUint16(payload[4:6], maxMTU)
	return b.AddOption(OptJumboFrames, 0, payload)
}

// AddBufferSizes appends a buffer sizes option.
func (b *DescriptorBuilder) AddBufferSizes(supported uint32, packet, header uint16) *DescriptorBuilder {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], supported)
	binary.BigEndian.PutUint16(payload[4:6], packet)
	binary.BigEndian.PutUint16(payload[6:8], header)
	return b.AddOption(OptBufferSizes, 0, payload)
}

// AddFlowSteering appends a flow steering option advertising maxRules.
func (b *DescriptorBuilder) AddFlowSteering(supported uint32, maxRules uint16) *DescriptorBuilder {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[0:4], supported)
	binary.BigEndian.PutUint16(payload[6:8], maxRules)
	return b.AddOption(OptFlowSteering, 0, payload)
}

// Build serializes the descriptor.
func (b *DescriptorBuilder) Build() []byte {
	total := 40 + len(b.options)
	raw := make([]byte, total)

	binary.BigEndian.PutUint64(raw[0:8], b.MaxRegisteredPages)
	binary.BigEndian.PutUint16(raw[10:12], b.TxQueueEntries)
	binary.BigEndian.PutUint16(raw[12:14], b.RxQueueEntries)
	binary.BigEndian.PutUint16(raw[14:16], b.DefaultNumQueues)
	binary.BigEndian.PutUint16(raw[16:18], b.MTU)
	binary.BigEndian.PutUint16(raw[18:20], b.NumCounters)
	binary.BigEndian.PutUint16(raw[20:22], b.TxPagesPerQPL)
	binary.BigEndian.PutUint16(raw[22:24], b.RxPagesPerQPL)
	copy(raw[24:30], b.MAC[:])
	binary.BigEndian.PutUint16(raw[30:32], b.numOptions)
	binary.BigEndian.PutUint16(raw[32:34], uint16(total))
	copy(raw[40:], b.options)
	return raw
}

// Logger returns a quiet logger for tests. Failures still show up through
// the test's own assertions.
func Logger(t *testing.T) *logrus.Logger {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
