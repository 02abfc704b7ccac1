package adminq

import (
	"encoding/binary"
	"testing"
)

func TestFlowRuleCommandRoundTripPorts(t *testing.T) {
	rule := &FlowRule{
		Type:   FlowTypeTCPv4,
		Action: 3,
	}
	copy(rule.Key.SrcIP[0:4], []byte{10, 0, 0, 1})
	copy(rule.Key.DstIP[0:4], []byte{10, 0, 0, 2})
	rule.Key.SrcPort = 49152
	rule.Key.DstPort = 443
	rule.Key.TrafficClass = 0x10
	copy(rule.Mask.SrcIP[0:4], []byte{255, 255, 255, 255})
	rule.Mask.SrcPort = 0xFFFF
	rule.Mask.DstPort = 0xFFFF

	buf := EncodeFlowRuleCommand(FlowRuleAdd, 12, rule)
	if len(buf) != FlowRuleCommandSize {
		t.Fatalf("command size %d, want %d", len(buf), FlowRuleCommandSize)
	}

	sub, location, got, err := DecodeFlowRuleCommand(buf)
	if err != nil {
		t.Fatal(err)
	}
	if sub != FlowRuleAdd || location != 12 {
		t.Errorf("sub=%d location=%d", sub, location)
	}
	if *got != *rule {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, rule)
	}
}

func TestFlowRuleCommandRoundTripSPI(t *testing.T) {
	rule := &FlowRule{Type: FlowTypeESPv6, Action: 1}
	copy(rule.Key.SrcIP[:], []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	rule.Key.SPI = 0xDEADBEEF
	rule.Mask.SPI = 0xFFFFFFFF

	buf := EncodeFlowRuleCommand(FlowRuleAdd, 0, rule)

	// SPI occupies the port bytes on the wire.
	if got := binary.BigEndian.Uint32(buf[8+32 : 8+36]); got != 0xDEADBEEF {
		t.Errorf("key SPI on wire 0x%x", got)
	}
	if got := binary.BigEndian.Uint32(buf[8+flowSpecWireSize+32 : 8+flowSpecWireSize+36]); got != 0xFFFFFFFF {
		t.Errorf("mask SPI on wire 0x%x", got)
	}

	_, _, got, err := DecodeFlowRuleCommand(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Key.SPI != 0xDEADBEEF || got.Mask.SPI != 0xFFFFFFFF {
		t.Errorf("decoded SPI key=0x%x mask=0x%x", got.Key.SPI, got.Mask.SPI)
	}
	if got.Key.SrcPort != 0 || got.Key.DstPort != 0 {
		t.Error("SPI family decoded ports")
	}
}

func TestFlowRuleCommandDeleteCarriesNoRule(t *testing.T) {
	buf := EncodeFlowRuleCommand(FlowRuleDel, 7, nil)

	sub, location, rule, err := DecodeFlowRuleCommand(buf)
	if err != nil {
		t.Fatal(err)
	}
	if sub != FlowRuleDel || location != 7 {
		t.Errorf("sub=%d location=%d", sub, location)
	}
	if rule != nil {
		t.Error("delete decoded a rule")
	}
}

func TestFlowRuleCommandTooShort(t *testing.T) {
	if _, _, _, err := DecodeFlowRuleCommand(make([]byte, 10)); err == nil {
		t.Error("short buffer should fail to decode")
	}
}

func TestFlowTypePredicates(t *testing.T) {
	tests := []struct {
		t    FlowType
		ipv6 bool
		spi  bool
	}{
		{FlowTypeTCPv4, false, false},
		{FlowTypeUDPv4, false, false},
		{FlowTypeSCTPv4, false, false},
		{FlowTypeAHv4, false, true},
		{FlowTypeESPv4, false, true},
		{FlowTypeTCPv6, true, false},
		{FlowTypeUDPv6, true, false},
		{FlowTypeSCTPv6, true, false},
		{FlowTypeAHv6, true, true},
		{FlowTypeESPv6, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.t.String(), func(t *testing.T) {
			if tt.t.IsIPv6() != tt.ipv6 {
				t.Errorf("IsIPv6() = %v", tt.t.IsIPv6())
			}
			if tt.t.UsesSPI() != tt.spi {
				t.Errorf("UsesSPI() = %v", tt.t.UsesSPI())
			}
		})
	}
}
