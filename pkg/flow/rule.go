// Package flow keeps the driver-side directory of flow steering rules in
// sync with the device. Rules are keyed by a caller-chosen location and held
// in ascending location order; a rule exists on both sides or neither, which
// the directory guarantees by mutating its state only after the firmware
// acknowledges the matching command.
package flow

import (
	"fmt"
	"net"

	"github.com/emergingrobotics/go-gvnic/pkg/adminq"
)

// Spec is the external, protocol-family-specific description of a rule, as a
// packet-classification configuration surface would supply it. Zero-valued
// match fields are "don't care"; masks select the meaningful bits.
type Spec struct {
	Location   uint16
	Type       adminq.FlowType
	QueueIndex uint16

	SrcIP     net.IP
	DstIP     net.IP
	SrcIPMask net.IP
	DstIPMask net.IP

	// Transport ports, for the TCP/UDP/SCTP families.
	SrcPort     uint16
	DstPort     uint16
	SrcPortMask uint16
	DstPortMask uint16

	// Security parameter index, for the AH/ESP families.
	SPI     uint32
	SPIMask uint32

	// ToS for the v4 families, traffic class for the v6 families.
	TrafficClass     uint8
	TrafficClassMask uint8
}

// Rule is one driver-side flow steering rule: the location plus the wire
// shape mirrored on the firmware side.
type Rule struct {
	Location uint16
	adminq.FlowRule
}

func copyIPv4(dst *[16]byte, ip net.IP, what string) error {
	if ip == nil {
		return nil
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return fmt.Errorf("flow: %s %v is not an IPv4 address", what, ip)
	}
	copy(dst[0:4], ip4)
	return nil
}

func copyIPv6(dst *[16]byte, ip net.IP, what string) error {
	if ip == nil {
		return nil
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return fmt.Errorf("flow: %s %v is not an IP address", what, ip)
	}
	copy(dst[:], ip16)
	return nil
}

// buildRule translates a family-specific Spec into the generic rule shape,
// populating only the fields meaningful for the family. Key and mask are
// built symmetrically: the mask's SPI comes from the mask fields, for the
// AH/ESP v6 families as well.
func buildRule(s *Spec, numRxQueues uint16) (*Rule, error) {
	if s.QueueIndex >= numRxQueues {
		return nil, fmt.Errorf("flow: queue index %d out of range (%d rx queues)",
			s.QueueIndex, numRxQueues)
	}

	r := &Rule{
		Location: s.Location,
		FlowRule: adminq.FlowRule{
			Type:   s.Type,
			Action: s.QueueIndex,
		},
	}

	copyAddr := copyIPv4
	if s.Type.IsIPv6() {
		copyAddr = copyIPv6
	}
	switch s.Type {
	case adminq.FlowTypeTCPv4, adminq.FlowTypeUDPv4, adminq.FlowTypeSCTPv4,
		adminq.FlowTypeAHv4, adminq.FlowTypeESPv4,
		adminq.FlowTypeTCPv6, adminq.FlowTypeUDPv6, adminq.FlowTypeSCTPv6,
		adminq.FlowTypeAHv6, adminq.FlowTypeESPv6:
	default:
		return nil, fmt.Errorf("flow: unsupported flow type %d", s.Type)
	}

	if err := copyAddr(&r.Key.SrcIP, s.SrcIP, "source"); err != nil {
		return nil, err
	}
	if err := copyAddr(&r.Key.DstIP, s.DstIP, "destination"); err != nil {
		return nil, err
	}
	if err := copyAddr(&r.Mask.SrcIP, s.SrcIPMask, "source mask"); err != nil {
		return nil, err
	}
	if err := copyAddr(&r.Mask.DstIP, s.DstIPMask, "destination mask"); err != nil {
		return nil, err
	}

	if s.Type.UsesSPI() {
		r.Key.SPI = s.SPI
		r.Mask.SPI = s.SPIMask
	} else {
		r.Key.SrcPort = s.SrcPort
		r.Key.DstPort = s.DstPort
		r.Mask.SrcPort = s.SrcPortMask
		r.Mask.DstPort = s.DstPortMask
	}
	r.Key.TrafficClass = s.TrafficClass
	r.Mask.TrafficClass = s.TrafficClassMask

	return r, nil
}

// Spec translates a rule back into the external family-specific shape.
func (r *Rule) Spec() *Spec {
	s := &Spec{
		Location:         r.Location,
		Type:             r.Type,
		QueueIndex:       r.Action,
		TrafficClass:     r.Key.TrafficClass,
		TrafficClassMask: r.Mask.TrafficClass,
	}

	if r.Type.IsIPv6() {
		s.SrcIP = append(net.IP(nil), r.Key.SrcIP[:]...)
		s.DstIP = append(net.IP(nil), r.Key.DstIP[:]...)
		s.SrcIPMask = append(net.IP(nil), r.Mask.SrcIP[:]...)
		s.DstIPMask = append(net.IP(nil), r.Mask.DstIP[:]...)
	} else {
		s.SrcIP = append(net.IP(nil), r.Key.SrcIP[0:4]...)
		s.DstIP = append(net.IP(nil), r.Key.DstIP[0:4]...)
		s.SrcIPMask = append(net.IP(nil), r.Mask.SrcIP[0:4]...)
		s.DstIPMask = append(net.IP(nil), r.Mask.DstIP[0:4]...)
	}

	if r.Type.UsesSPI() {
		s.SPI = r.Key.SPI
		s.SPIMask = r.Mask.SPI
	} else {
		s.SrcPort = r.Key.SrcPort
		s.DstPort = r.Key.DstPort
		s.SrcPortMask = r.Mask.SrcPort
		s.DstPortMask = r.Mask.DstPort
	}
	return s
}

// matchEquals reports whether two rules classify the same traffic: same
// family, same key, same mask. The location and action are not part of the
// match.
func matchEquals(a, b *Rule) bool {
	return a.Type == b.Type && a.Key == b.Key && a.Mask == b.Mask
}
