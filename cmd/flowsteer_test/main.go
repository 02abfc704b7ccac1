// Flow steering harness: brings up an emulated device and walks the rule
// directory through add, list, lookup, delete and reset.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/emergingrobotics/go-gvnic/pkg/adminq"
	"github.com/emergingrobotics/go-gvnic/pkg/config"
	"github.com/emergingrobotics/go-gvnic/pkg/device"
	"github.com/emergingrobotics/go-gvnic/pkg/flow"
	"github.com/emergingrobotics/go-gvnic/testutil"
)

func main() {
	numRules := flag.Int("rules", 8, "Number of rules to install")
	flag.Parse()

	logger := logrus.New()

	nic := testutil.NewFakeNIC()
	nic.Descriptor = testutil.NewDescriptorBuilder().
		AddFormatWithCounts(testutil.OptDQORDA, config.FeatFlowSteering, 128, 256).
		AddFlowSteering(0, 64).
		Build()

	d, err := device.New(logger, nic, nic)
	if err != nil {
		log.Fatalf("Failed to create device: %v", err)
	}
	defer d.Close()

	if _, err := d.Describe(); err != nil {
		log.Fatalf("Describe failed: %v", err)
	}
	flows, err := d.Flows()
	if err != nil {
		log.Fatalf("Flows unavailable: %v", err)
	}

	for i := 0; i < *numRules; i++ {
		spec := &flow.Spec{
			Location:    uint16(i * 4),
			Type:        adminq.FlowTypeTCPv4,
			QueueIndex:  uint16(i % 4),
			DstIP:       net.IPv4(10, 0, 0, byte(i+1)),
			DstIPMask:   net.IPv4(255, 255, 255, 255),
			DstPort:     uint16(8000 + i),
			DstPortMask: 0xFFFF,
		}
		if err := flows.Add(spec); err != nil {
			log.Fatalf("Add rule %d failed: %v", i, err)
		}
	}
	fmt.Printf("Installed %d rules (device mirrors %d)\n", flows.Count(), len(nic.FlowRules))

	for _, loc := range flows.Locations(-1) {
		spec, err := flows.Lookup(loc)
		if err != nil {
			log.Fatalf("Lookup %d failed: %v", loc, err)
		}
		fmt.Printf("  rule @%-3d %s dst %s:%d -> queue %d\n",
			loc, spec.Type, spec.DstIP, spec.DstPort, spec.QueueIndex)
	}

	if err := flows.Delete(0); err != nil {
		log.Fatalf("Delete failed: %v", err)
	}
	fmt.Printf("After delete: %d rules\n", flows.Count())

	if err := flows.Reset(); err != nil {
		log.Fatalf("Reset failed: %v", err)
	}
	fmt.Printf("After reset: %d rules, firmware holds %d\n", flows.Count(), len(nic.FlowRules))
}
