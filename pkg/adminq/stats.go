package adminq

import (
	"github.com/rcrowley/go-metrics"
)

// Stats counts admin queue activity per opcode, plus command failures and
// queue-level timeouts. Each queue owns its own registry; there is no
// process-wide state.
type Stats struct {
	reg metrics.Registry

	DescribeDevice             metrics.Counter
	ConfigureDeviceResources   metrics.Counter
	DeconfigureDeviceResources metrics.Counter
	RegisterPageList           metrics.Counter
	UnregisterPageList         metrics.Counter
	CreateTxQueue              metrics.Counter
	CreateRxQueue              metrics.Counter
	DestroyTxQueue             metrics.Counter
	DestroyRxQueue             metrics.Counter
	SetDriverParameter         metrics.Counter
	ReportStats                metrics.Counter
	ReportLinkSpeed            metrics.Counter
	GetPtypeMap                metrics.Counter
	VerifyDriverCompatibility  metrics.Counter
	ConfigureFlowRule          metrics.Counter
	ConfigureRSS               metrics.Counter

	// CommandFailures counts commands completed with a non-success status.
	CommandFailures metrics.Counter
	// Timeouts counts queue-level completion timeouts, distinct from
	// per-command failures.
	Timeouts metrics.Counter
}

func newStats() *Stats {
	reg := metrics.NewRegistry()
	counter := func(name string) metrics.Counter {
		return metrics.GetOrRegisterCounter(name, reg)
	}
	return &Stats{
		reg:                        reg,
		DescribeDevice:             counter("adminq.describe_device"),
		ConfigureDeviceResources:   counter("adminq.configure_device_resources"),
		DeconfigureDeviceResources: counter("adminq.deconfigure_device_resources"),
		RegisterPageList:           counter("adminq.register_page_list"),
		UnregisterPageList:         counter("adminq.unregister_page_list"),
		CreateTxQueue:              counter("adminq.create_tx_queue"),
		CreateRxQueue:              counter("adminq.create_rx_queue"),
		DestroyTxQueue:             counter("adminq.destroy_tx_queue"),
		DestroyRxQueue:             counter("adminq.destroy_rx_queue"),
		SetDriverParameter:         counter("adminq.set_driver_parameter"),
		ReportStats:                counter("adminq.report_stats"),
		ReportLinkSpeed:            counter("adminq.report_link_speed"),
		GetPtypeMap:                counter("adminq.get_ptype_map"),
		VerifyDriverCompatibility:  counter("adminq.verify_driver_compatibility"),
		ConfigureFlowRule:          counter("adminq.configure_flow_rule"),
		ConfigureRSS:               counter("adminq.configure_rss"),
		CommandFailures:            counter("adminq.command_failures"),
		Timeouts:                   counter("adminq.timeouts"),
	}
}

// Registry exposes the underlying metrics registry, e.g. for a telemetry
// exporter.
func (s *Stats) Registry() metrics.Registry {
	return s.reg
}

// counterFor maps an opcode (after extended-command unwrapping) to its issue
// counter. Returns nil for opcodes this driver does not know.
func (s *Stats) counterFor(op Opcode) metrics.Counter {
	switch op {
	case OpDescribeDevice:
		return s.DescribeDevice
	case OpConfigureDeviceResources:
		return s.ConfigureDeviceResources
	case OpDeconfigureDeviceResources:
		return s.DeconfigureDeviceResources
	case OpRegisterPageList:
		return s.RegisterPageList
	case OpUnregisterPageList:
		return s.UnregisterPageList
	case OpCreateTxQueue:
		return s.CreateTxQueue
	case OpCreateRxQueue:
		return s.CreateRxQueue
	case OpDestroyTxQueue:
		return s.DestroyTxQueue
	case OpDestroyRxQueue:
		return s.DestroyRxQueue
	case OpSetDriverParameter:
		return s.SetDriverParameter
	case OpReportStats:
		return s.ReportStats
	case OpReportLinkSpeed:
		return s.ReportLinkSpeed
	case OpGetPtypeMap:
		return s.GetPtypeMap
	case OpVerifyDriverCompatibility:
		return s.VerifyDriverCompatibility
	case OpConfigureFlowRule:
		return s.ConfigureFlowRule
	case OpConfigureRSS:
		return s.ConfigureRSS
	default:
		return nil
	}
}
