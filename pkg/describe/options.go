package describe

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Device option record header: option_id u16, option_length u16,
// required_features_mask u32, then option_length payload bytes.
const optionHeaderSize = 8

// Recognized option IDs.
const (
	optIDGQIRawAddressing uint16 = 0x1
	optIDGQIRDA           uint16 = 0x2
	optIDGQIQPL           uint16 = 0x3
	optIDDQORDA           uint16 = 0x4
	optIDDQOQPL           uint16 = 0x7
	optIDJumboFrames      uint16 = 0x8
	optIDBufferSizes      uint16 = 0xa
	optIDFlowSteering     uint16 = 0xb
)

// Expected minimum payload lengths and required feature masks per option.
// A record that does not match is skipped with a warning, never fatal:
// a newer device may ask for features this driver does not have.
const (
	optLenGQIRawAddressing = 0
	optLenQueueFormat      = 4 // supported_features_mask only
	optLenDQORDA           = 8
	optLenDQOQPL           = 8
	optLenJumboFrames      = 8
	optLenBufferSizes      = 8
	optLenFlowSteering     = 8

	reqFeatMaskAll uint32 = 0x0
)

// QueueFormatOption advertises a queue format; the mask gates which optional
// features may be enabled when this format wins negotiation.
type QueueFormatOption struct {
	SupportedFeatures uint32
}

// DQORDAOption advertises the DQO raw-addressing format with its completion
// ring geometry.
type DQORDAOption struct {
	SupportedFeatures uint32
	TxCompRingEntries uint16
	RxBuffRingEntries uint16
}

// DQOQPLOption advertises the DQO page-list format with per-queue-list page
// count overrides.
type DQOQPLOption struct {
	SupportedFeatures uint32
	TxPagesPerQPL     uint16
	RxPagesPerQPL     uint16
}

// JumboFramesOption advertises the device's true maximum MTU.
type JumboFramesOption struct {
	SupportedFeatures uint32
	MaxMTU            uint16
}

// BufferSizesOption advertises packet and header buffer sizes.
type BufferSizesOption struct {
	SupportedFeatures uint32
	PacketBufferSize  uint16
	HeaderBufferSize  uint16
}

// FlowSteeringOption advertises flow steering and its rule capacity.
type FlowSteeringOption struct {
	SupportedFeatures uint32
	MaxNumRules       uint16
}

// Options holds the recognized, validated device options extracted from one
// descriptor. Absent options are nil (or false for the marker).
type Options struct {
	GQIRawAddressing bool
	GQIRDA           *QueueFormatOption
	GQIQPL           *QueueFormatOption
	DQORDA           *DQORDAOption
	DQOQPL           *DQOQPLOption
	JumboFrames      *JumboFramesOption
	BufferSizes      *BufferSizesOption
	FlowSteering     *FlowSteeringOption
}

// Parse validates the raw descriptor region and extracts the fixed header
// and the recognized options. Records that overrun the descriptor's total
// length are a fatal parse error; records with unexpected lengths or feature
// masks are logged and skipped.
func Parse(log *logrus.Logger, raw []byte) (*Descriptor, *Options, error) {
	desc, err := parseHeader(raw)
	if err != nil {
		return nil, nil, err
	}

	opts := &Options{}
	off := HeaderSize
	total := int(desc.TotalLength)

	for i := 0; i < int(desc.NumOptions); i++ {
		if off+optionHeaderSize > total {
			return nil, nil, fmt.Errorf("device options exceed descriptor total length %d", total)
		}
		optID := binary.BigEndian.Uint16(raw[off : off+2])
		optLen := int(binary.BigEndian.Uint16(raw[off+2 : off+4]))
		featMask := binary.BigEndian.Uint32(raw[off+4 : off+8])

		end := off + optionHeaderSize + optLen
		if end > total {
			return nil, nil, fmt.Errorf("device options exceed descriptor total length %d", total)
		}

		parseOption(log, opts, optID, featMask, raw[off+optionHeaderSize:end])
		off = end
	}

	return desc, opts, nil
}

// checkOption applies the skip-on-mismatch policy: the payload must be at
// least the expected length and the required feature mask must match
// exactly. Longer payloads are accepted with a warning.
func checkOption(log *logrus.Logger, name string, payload []byte, minLen int, featMask uint32) bool {
	if len(payload) < minLen || featMask != reqFeatMaskAll {
		log.WithFields(logrus.Fields{
			"option":           name,
			"expectedLength":   minLen,
			"expectedFeatures": reqFeatMaskAll,
			"length":           len(payload),
			"requiredFeatures": featMask,
		}).Warn("device option mismatch, not enabling")
		return false
	}
	if len(payload) > minLen {
		log.WithField("option", name).
			Warn("device option longer than expected; possible older driver")
	}
	return true
}

func parseOption(log *logrus.Logger, opts *Options, optID uint16, featMask uint32, payload []byte) {
	switch optID {
	case optIDGQIRawAddressing:
		if len(payload) != optLenGQIRawAddressing || featMask != reqFeatMaskAll {
			log.WithFields(logrus.Fields{
				"option":           "raw addressing",
				"length":           len(payload),
				"requiredFeatures": featMask,
			}).Warn("device option mismatch, not enabling")
			return
		}
		log.Info("GQI raw addressing device option enabled")
		opts.GQIRawAddressing = true

	case optIDGQIRDA:
		if !checkOption(log, "GQI RDA", payload, optLenQueueFormat, featMask) {
			return
		}
		opts.GQIRDA = &QueueFormatOption{
			SupportedFeatures: binary.BigEndian.Uint32(payload[0:4]),
		}

	case optIDGQIQPL:
		if !checkOption(log, "GQI QPL", payload, optLenQueueFormat, featMask) {
			return
		}
		opts.GQIQPL = &QueueFormatOption{
			SupportedFeatures: binary.BigEndian.Uint32(payload[0:4]),
		}

	case optIDDQORDA:
		if !checkOption(log, "DQO RDA", payload, optLenDQORDA, featMask) {
			return
		}
		opts.DQORDA = &DQORDAOption{
			SupportedFeatures: binary.BigEndian.Uint32(payload[0:4]),
			TxCompRingEntries: binary.BigEndian.Uint16(payload[4:6]),
			RxBuffRingEntries: binary.BigEndian.Uint16(payload[6:8]),
		}

	case optIDDQOQPL:
		if !checkOption(log, "DQO QPL", payload, optLenDQOQPL, featMask) {
			return
		}
		opts.DQOQPL = &DQOQPLOption{
			SupportedFeatures: binary.BigEndian.Uint32(payload[0:4]),
			TxPagesPerQPL:     binary.BigEndian.Uint16(payload[4:6]),
			RxPagesPerQPL:     binary.BigEndian.Uint16(payload[6:8]),
		}

	case optIDJumboFrames:
		if !checkOption(log, "jumbo frames", payload, optLenJumboFrames, featMask) {
			return
		}
		opts.JumboFrames = &JumboFramesOption{
			SupportedFeatures: binary.BigEndian.Uint32(payload[0:4]),
			MaxMTU:            binary.BigEndian.Uint16(payload[4:6]),
		}

	case optIDBufferSizes:
		if !checkOption(log, "buffer sizes", payload, optLenBufferSizes, featMask) {
			return
		}
		opts.BufferSizes = &BufferSizesOption{
			SupportedFeatures: binary.BigEndian.Uint32(payload[0:4]),
			PacketBufferSize:  binary.BigEndian.Uint16(payload[4:6]),
			HeaderBufferSize:  binary.BigEndian.Uint16(payload[6:8]),
		}

	case optIDFlowSteering:
		if !checkOption(log, "flow steering", payload, optLenFlowSteering, featMask) {
			return
		}
		opts.FlowSteering = &FlowSteeringOption{
			SupportedFeatures: binary.BigEndian.Uint32(payload[0:4]),
			MaxNumRules:       binary.BigEndian.Uint16(payload[6:8]),
		}

	default:
		// Unrecognized options are skipped without complaint.
		log.WithField("optionID", fmt.Sprintf("0x%x", optID)).
			Debug("unrecognized device option, skipping")
	}
}
