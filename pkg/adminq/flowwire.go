package adminq

import (
	"encoding/binary"
	"fmt"
)

// FlowType identifies the protocol family a flow steering rule matches.
type FlowType uint16

// Flow rule protocol families.
const (
	FlowTypeTCPv4 FlowType = iota
	FlowTypeUDPv4
	FlowTypeSCTPv4
	FlowTypeAHv4
	FlowTypeESPv4
	FlowTypeTCPv6
	FlowTypeUDPv6
	FlowTypeSCTPv6
	FlowTypeAHv6
	FlowTypeESPv6
)

var flowTypeNames = map[FlowType]string{
	FlowTypeTCPv4:  "TCPv4",
	FlowTypeUDPv4:  "UDPv4",
	FlowTypeSCTPv4: "SCTPv4",
	FlowTypeAHv4:   "AHv4",
	FlowTypeESPv4:  "ESPv4",
	FlowTypeTCPv6:  "TCPv6",
	FlowTypeUDPv6:  "UDPv6",
	FlowTypeSCTPv6: "SCTPv6",
	FlowTypeAHv6:   "AHv6",
	FlowTypeESPv6:  "ESPv6",
}

// String returns the flow type name.
func (t FlowType) String() string {
	if name, ok := flowTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FLOW_TYPE(%d)", uint16(t))
}

// IsIPv6 reports whether the flow type addresses with IPv6.
func (t FlowType) IsIPv6() bool {
	return t >= FlowTypeTCPv6 && t <= FlowTypeESPv6
}

// UsesSPI reports whether the flow type matches on a security parameter
// index instead of transport ports.
func (t FlowType) UsesSPI() bool {
	switch t {
	case FlowTypeAHv4, FlowTypeESPv4, FlowTypeAHv6, FlowTypeESPv6:
		return true
	}
	return false
}

// FlowSpec holds the match fields of one side (key or mask) of a flow rule.
// IPv4 addresses occupy the first four bytes of the address fields. Ports
// and SPI share the same wire bytes; which is meaningful depends on the flow
// type.
type FlowSpec struct {
	SrcIP        [16]byte
	DstIP        [16]byte
	SrcPort      uint16
	DstPort      uint16
	SPI          uint32
	TrafficClass uint8 // ToS for IPv4 families
}

// FlowRule is the device-side shape of one flow steering rule: match key,
// match mask and the target receive queue.
type FlowRule struct {
	Type   FlowType
	Action uint16 // target rx queue index
	Key    FlowSpec
	Mask   FlowSpec
}

// CONFIGURE_FLOW_RULE sub-commands.
const (
	FlowRuleAdd   uint16 = 0
	FlowRuleDel   uint16 = 1
	FlowRuleReset uint16 = 2
)

// Wire layout of the extended CONFIGURE_FLOW_RULE command.
const (
	flowSpecWireSize = 38

	// FlowRuleCommandSize is the inner command length carried by the
	// extended-command envelope: sub-command u16, location u16, flow_type
	// u16, action u16, then key and mask specs.
	FlowRuleCommandSize = 8 + 2*flowSpecWireSize
)

func encodeFlowSpec(dst []byte, t FlowType, s *FlowSpec) {
	copy(dst[0:16], s.SrcIP[:])
	copy(dst[16:32], s.DstIP[:])
	// Bytes 32..36 carry either the port pair or the SPI.
	if t.UsesSPI() {
		binary.BigEndian.PutUint32(dst[32:36], s.SPI)
	} else {
		binary.BigEndian.PutUint16(dst[32:34], s.SrcPort)
		binary.BigEndian.PutUint16(dst[34:36], s.DstPort)
	}
	dst[36] = s.TrafficClass
}

func decodeFlowSpec(src []byte, t FlowType, s *FlowSpec) {
	copy(s.SrcIP[:], src[0:16])
	copy(s.DstIP[:], src[16:32])
	if t.UsesSPI() {
		s.SPI = binary.BigEndian.Uint32(src[32:36])
	} else {
		s.SrcPort = binary.BigEndian.Uint16(src[32:34])
		s.DstPort = binary.BigEndian.Uint16(src[34:36])
	}
	s.TrafficClass = src[36]
}

// EncodeFlowRuleCommand serializes a CONFIGURE_FLOW_RULE inner command. The
// rule may be nil for delete and reset.
func EncodeFlowRuleCommand(sub uint16, location uint16, rule *FlowRule) []byte {
	buf := make([]byte, FlowRuleCommandSize)
	binary.BigEndian.PutUint16(buf[0:2], sub)
	binary.BigEndian.PutUint16(buf[2:4], location)
	if rule != nil {
		binary.BigEndian.PutUint16(buf[4:6], uint16(rule.Type))
		binary.BigEndian.PutUint16(buf[6:8], rule.Action)
		encodeFlowSpec(buf[8:8+flowSpecWireSize], rule.Type, &rule.Key)
		encodeFlowSpec(buf[8+flowSpecWireSize:], rule.Type, &rule.Mask)
	}
	return buf
}

// DecodeFlowRuleCommand parses a CONFIGURE_FLOW_RULE inner command. Used by
// the device emulation and tests.
func DecodeFlowRuleCommand(buf []byte) (sub uint16, location uint16, rule *FlowRule, err error) {
	if len(buf) < FlowRuleCommandSize {
		return 0, 0, nil, fmt.Errorf("flow rule command too short: %d bytes", len(buf))
	}
	sub = binary.BigEndian.Uint16(buf[0:2])
	location = binary.BigEndian.Uint16(buf[2:4])
	if sub != FlowRuleAdd {
		return sub, location, nil, nil
	}
	rule = &FlowRule{
		Type:   FlowType(binary.BigEndian.Uint16(buf[4:6])),
		Action: binary.BigEndian.Uint16(buf[6:8]),
	}
	decodeFlowSpec(buf[8:8+flowSpecWireSize], rule.Type, &rule.Key)
	decodeFlowSpec(buf[8+flowSpecWireSize:], rule.Type, &rule.Mask)
	return sub, location, rule, nil
}
