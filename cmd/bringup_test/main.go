// Bring-up harness: opens a gVNIC function (or an in-process emulated one),
// runs describe/negotiate, configures device resources and prints what the
// device agreed to.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/emergingrobotics/go-gvnic/pkg/config"
	"github.com/emergingrobotics/go-gvnic/pkg/device"
	"github.com/emergingrobotics/go-gvnic/testutil"
)

func main() {
	resource := flag.String("device", "", "PCI BAR0 resource file (default: first scanned device)")
	emulate := flag.Bool("emulate", false, "Run against the in-process device emulation")
	numIRQs := flag.Uint("irqs", 8, "Number of interrupt doorbells to configure")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	d, err := openDevice(logger, *resource, *emulate)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer d.Close()

	cfg, err := d.Describe()
	if err != nil {
		log.Fatalf("Describe failed: %v", err)
	}

	fmt.Println("Negotiated configuration:")
	fmt.Printf("  queue format:    %s\n", cfg.Format)
	fmt.Printf("  mac:             %x\n", cfg.MAC)
	fmt.Printf("  max mtu:         %d\n", cfg.MaxMTU)
	fmt.Printf("  default queues:  %d\n", cfg.DefaultNumQueues)
	fmt.Printf("  tx/rx desc:      %d/%d\n", cfg.TxDescCount, cfg.RxDescCount)
	fmt.Printf("  packet buffer:   %d\n", cfg.PacketBufferSize)
	if cfg.EnableHeaderSplit {
		fmt.Printf("  header buffer:   %d\n", cfg.HeaderBufferSize)
	}
	if cfg.FlowRulesMax > 0 {
		fmt.Printf("  flow rules:      %d max\n", cfg.FlowRulesMax)
	}

	if err := d.ConfigureResources(uint32(*numIRQs)); err != nil {
		log.Fatalf("ConfigureResources failed: %v", err)
	}
	fmt.Println("ConfigureResources: OK")

	if speed, err := d.LinkSpeed(); err != nil {
		fmt.Printf("LinkSpeed: FAILED (%v)\n", err)
	} else {
		fmt.Printf("LinkSpeed: %d bit/s\n", speed)
	}

	stats := d.QueueStats()
	fmt.Printf("Admin queue: %d describes, %d failures, %d timeouts\n",
		stats.DescribeDevice.Count(),
		stats.CommandFailures.Count(),
		stats.Timeouts.Count())
}

func openDevice(logger *logrus.Logger, resource string, emulate bool) (*device.Device, error) {
	if emulate {
		nic := testutil.NewFakeNIC()
		nic.Descriptor = testutil.NewDescriptorBuilder().
			AddFormatWithCounts(testutil.OptDQORDA,
				config.FeatJumboFrames|config.FeatBufferSizes|config.FeatFlowSteering,
				128, 256).
			AddJumboFrames(0, 9216).
			AddBufferSizes(0, 4096, 128).
			AddFlowSteering(0, 64).
			Build()
		return device.New(logger, nic, nic)
	}
	if resource != "" {
		return device.Open(logger, resource)
	}
	return device.OpenFirst(logger)
}
