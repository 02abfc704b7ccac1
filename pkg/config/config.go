// Package config derives the driver's device configuration from a parsed
// device descriptor: it selects the queue format, validates ring geometry
// and applies the feature defaults and limits gated by the winning format's
// supported-features mask.
package config

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/emergingrobotics/go-gvnic/pkg/describe"
	"github.com/emergingrobotics/go-gvnic/pkg/driver"
)

// QueueFormat is the descriptor format the driver runs the data path with.
type QueueFormat uint8

// Queue formats, in wire encoding.
const (
	FormatUnspecified QueueFormat = 0
	FormatGQIRDA      QueueFormat = 1
	FormatGQIQPL      QueueFormat = 2
	FormatDQORDA      QueueFormat = 3
	FormatDQOQPL      QueueFormat = 4
)

// String returns the format name.
func (f QueueFormat) String() string {
	switch f {
	case FormatGQIRDA:
		return "GQI RDA"
	case FormatGQIQPL:
		return "GQI QPL"
	case FormatDQORDA:
		return "DQO RDA"
	case FormatDQOQPL:
		return "DQO QPL"
	default:
		return "unspecified"
	}
}

// IsGQI reports whether the format uses the classic ring layout.
func (f QueueFormat) IsGQI() bool {
	return f == FormatGQIRDA || f == FormatGQIQPL
}

// Supported-features mask bits. Only the winning format's mask is consulted.
const (
	FeatJumboFrames  uint32 = 1 << 2
	FeatBufferSizes  uint32 = 1 << 4
	FeatFlowSteering uint32 = 1 << 5
)

// Buffer sizing policy.
const (
	DefaultRxBufferSize     = 2048
	MinRxBufferSize         = 2048
	MaxRxBufferSize         = 4096
	DefaultHeaderBufferSize = 128
	MinHeaderBufferSize     = 64
	MaxHeaderBufferSize     = 256
)

// Default per-queue-list page counts for the DQO QPL format, used when the
// device advertises a zero override.
const (
	DefaultDQOTxPages = 512
	DefaultDQORxPages = 2048
)

// MinMTU is the minimum Ethernet MTU; a descriptor below it is fatal.
const MinMTU = 68

// Classic-format descriptor entry sizes, used to validate that a ring is at
// least one device page.
const (
	gqiTxDescBytes = 16
	gqiRxDescBytes = 32
)

// DeviceConfig is the negotiated driver configuration. It is re-derived
// wholesale on every describe (e.g. after a reset). Single writer during
// bring-up, read-only afterwards.
type DeviceConfig struct {
	Format            QueueFormat
	SupportedFeatures uint32

	MaxMTU             uint16
	MaxRegisteredPages uint64
	NumCounters        uint16
	MAC                []byte
	DefaultNumQueues   uint16

	TxDescCount uint16
	RxDescCount uint16
	// DQO RDA completion ring geometry.
	TxCompRingEntries uint16
	RxBuffRingEntries uint16

	PacketBufferSize  uint16
	HeaderBufferSize  uint16
	EnableHeaderSplit bool

	TxPagesPerQPL uint16
	RxPagesPerQPL uint16
	// RxDataSlotCount is the per-queue page-list slot count for the classic
	// format.
	RxDataSlotCount uint16

	// FlowRulesMax is the device's flow rule capacity; zero means flow
	// steering is unsupported.
	FlowRulesMax uint16
}

// Negotiate derives a DeviceConfig from the descriptor and its extracted
// options. prev is the previously selected format, which matters only for
// carrying a GQI RDA selection across a re-describe.
func Negotiate(log *logrus.Logger, desc *describe.Descriptor, opts *describe.Options, prev QueueFormat) (*DeviceConfig, error) {
	cfg := &DeviceConfig{}

	// The raw-addressing marker is an older advertisement of GQI RDA; it
	// participates at the same priority as a carried-over selection.
	if opts.GQIRawAddressing {
		prev = FormatGQIRDA
	}

	// Strict priority: DQO RDA > DQO QPL > GQI RDA > carried-over GQI RDA >
	// GQI QPL.
	switch {
	case opts.DQORDA != nil:
		cfg.Format = FormatDQORDA
		cfg.SupportedFeatures = opts.DQORDA.SupportedFeatures
	case opts.DQOQPL != nil:
		cfg.Format = FormatDQOQPL
		cfg.SupportedFeatures = opts.DQOQPL.SupportedFeatures
	case opts.GQIRDA != nil:
		cfg.Format = FormatGQIRDA
		cfg.SupportedFeatures = opts.GQIRDA.SupportedFeatures
	case prev == FormatGQIRDA:
		cfg.Format = FormatGQIRDA
	default:
		cfg.Format = FormatGQIQPL
		if opts.GQIQPL != nil {
			cfg.SupportedFeatures = opts.GQIQPL.SupportedFeatures
		}
	}
	log.WithField("format", cfg.Format.String()).Info("driver queue format selected")

	if err := setDescCounts(cfg, desc, opts); err != nil {
		return nil, err
	}

	if desc.MTU < MinMTU {
		return nil, fmt.Errorf("device MTU %d below minimum %d", desc.MTU, MinMTU)
	}
	cfg.MaxMTU = desc.MTU
	cfg.MaxRegisteredPages = desc.MaxRegisteredPages
	cfg.NumCounters = desc.NumCounters
	cfg.MAC = append([]byte(nil), desc.MAC...)
	cfg.DefaultNumQueues = desc.DefaultNumQueues
	cfg.TxPagesPerQPL = desc.TxPagesPerQPL
	cfg.RxDataSlotCount = desc.RxPagesPerQPL
	cfg.RxPagesPerQPL = desc.RxPagesPerQPL

	// A classic-format data ring cannot have more descriptors than page-list
	// slots; clamp silently rather than fail.
	if cfg.Format.IsGQI() && cfg.RxDataSlotCount < cfg.RxDescCount {
		log.WithFields(logrus.Fields{
			"rxDataSlots": cfg.RxDataSlotCount,
			"rxDescCount": cfg.RxDescCount,
		}).Error("rx data slot count smaller than rx descriptor count, clamping descriptors")
		cfg.RxDescCount = cfg.RxDataSlotCount
	}

	enableSupportedFeatures(log, cfg, opts)
	return cfg, nil
}

func setDescCounts(cfg *DeviceConfig, desc *describe.Descriptor, opts *describe.Options) error {
	cfg.TxDescCount = desc.TxQueueEntries
	cfg.RxDescCount = desc.RxQueueEntries

	if cfg.Format.IsGQI() {
		if int(cfg.TxDescCount)*gqiTxDescBytes < driver.PageSize {
			return fmt.Errorf("tx descriptor count %d too low", cfg.TxDescCount)
		}
		if int(cfg.RxDescCount)*gqiRxDescBytes < driver.PageSize {
			return fmt.Errorf("rx descriptor count %d too low", cfg.RxDescCount)
		}
		return nil
	}

	if cfg.Format == FormatDQORDA && opts.DQORDA != nil {
		cfg.TxCompRingEntries = opts.DQORDA.TxCompRingEntries
		cfg.RxBuffRingEntries = opts.DQORDA.RxBuffRingEntries
	}
	return nil
}

// enableSupportedFeatures applies the option-driven feature settings, each
// gated by its bit in the winning format's supported-features mask.
func enableSupportedFeatures(log *logrus.Logger, cfg *DeviceConfig, opts *describe.Options) {
	if opts.JumboFrames != nil && cfg.SupportedFeatures&FeatJumboFrames != 0 {
		log.Info("jumbo frames device option enabled")
		cfg.MaxMTU = opts.JumboFrames.MaxMTU
	}

	cfg.PacketBufferSize = DefaultRxBufferSize
	cfg.HeaderBufferSize = 0

	if opts.BufferSizes != nil && cfg.SupportedFeatures&FeatBufferSizes != 0 {
		log.Info("buffer sizes device option enabled")
		if size := opts.BufferSizes.PacketBufferSize; size != 0 {
			cfg.PacketBufferSize = clampBufferSize(size,
				DefaultRxBufferSize, MinRxBufferSize, MaxRxBufferSize)
		}
		if size := opts.BufferSizes.HeaderBufferSize; size != 0 {
			cfg.HeaderBufferSize = clampBufferSize(size,
				DefaultHeaderBufferSize, MinHeaderBufferSize, MaxHeaderBufferSize)
			cfg.EnableHeaderSplit = true
		}
	}

	if opts.FlowSteering != nil && cfg.SupportedFeatures&FeatFlowSteering != 0 {
		log.WithField("maxRules", opts.FlowSteering.MaxNumRules).
			Info("flow steering device option enabled")
		cfg.FlowRulesMax = opts.FlowSteering.MaxNumRules
	}

	if opts.DQOQPL != nil {
		cfg.TxPagesPerQPL = opts.DQOQPL.TxPagesPerQPL
		cfg.RxPagesPerQPL = opts.DQOQPL.RxPagesPerQPL
		if cfg.TxPagesPerQPL == 0 {
			cfg.TxPagesPerQPL = DefaultDQOTxPages
		}
		if cfg.RxPagesPerQPL == 0 {
			cfg.RxPagesPerQPL = DefaultDQORxPages
		}
	}
}

// clampBufferSize resets a non-power-of-two size to the default, then clamps
// it to [min, max].
func clampBufferSize(size, def, min, max uint16) uint16 {
	if size&(size-1) != 0 {
		size = def
	}
	if size < min {
		size = min
	}
	if size > max {
		size = max
	}
	return size
}
