// Package describe parses the device descriptor returned by the
// DESCRIBE_DEVICE admin queue command: a fixed header followed by a packed
// list of variable-length, self-describing device option records advertising
// device capabilities.
package describe

import (
	"encoding/binary"
	"fmt"
	"net"
)

// HeaderSize is the size of the fixed descriptor header. Option records
// start immediately after it.
const HeaderSize = 40

// Descriptor is the fixed header of the device descriptor.
//
// Wire layout (big-endian): max_registered_pages u64, reserved u16,
// tx_queue_entries u16, rx_queue_entries u16, default_num_queues u16,
// mtu u16, counters u16, tx_pages_per_qpl u16, rx_pages_per_qpl u16,
// mac [6]u8, num_device_options u16, total_length u16, reserved [6]u8.
type Descriptor struct {
	MaxRegisteredPages uint64
	TxQueueEntries     uint16
	RxQueueEntries     uint16
	DefaultNumQueues   uint16
	MTU                uint16
	NumCounters        uint16
	TxPagesPerQPL      uint16
	RxPagesPerQPL      uint16
	MAC                net.HardwareAddr
	NumOptions         uint16
	TotalLength        uint16
}

func parseHeader(raw []byte) (*Descriptor, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("descriptor too short: %d bytes, need %d", len(raw), HeaderSize)
	}

	d := &Descriptor{
		MaxRegisteredPages: binary.BigEndian.Uint64(raw[0:8]),
		TxQueueEntries:     binary.BigEndian.Uint16(raw[10:12]),
		RxQueueEntries:     binary.BigEndian.Uint16(raw[12:14]),
		DefaultNumQueues:   binary.BigEndian.Uint16(raw[14:16]),
		MTU:                binary.BigEndian.Uint16(raw[16:18]),
		NumCounters:        binary.BigEndian.Uint16(raw[18:20]),
		TxPagesPerQPL:      binary.BigEndian.Uint16(raw[20:22]),
		RxPagesPerQPL:      binary.BigEndian.Uint16(raw[22:24]),
		MAC:                net.HardwareAddr(append([]byte(nil), raw[24:30]...)),
		NumOptions:         binary.BigEndian.Uint16(raw[30:32]),
		TotalLength:        binary.BigEndian.Uint16(raw[32:34]),
	}

	if int(d.TotalLength) > len(raw) {
		return nil, fmt.Errorf("descriptor total length %d exceeds region size %d",
			d.TotalLength, len(raw))
	}
	if d.TotalLength < HeaderSize {
		return nil, fmt.Errorf("descriptor total length %d smaller than header", d.TotalLength)
	}
	return d, nil
}
