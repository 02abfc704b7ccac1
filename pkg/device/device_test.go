package device_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergingrobotics/go-gvnic/pkg/adminq"
	"github.com/emergingrobotics/go-gvnic/pkg/config"
	"github.com/emergingrobotics/go-gvnic/pkg/device"
	"github.com/emergingrobotics/go-gvnic/pkg/flow"
	"github.com/emergingrobotics/go-gvnic/testutil"
)

// richDescriptor advertises DQO RDA with jumbo frames, buffer sizes and flow
// steering enabled.
func richDescriptor() []byte {
	return testutil.NewDescriptorBuilder().
		AddFormatWithCounts(testutil.OptDQORDA,
			config.FeatJumboFrames|config.FeatBufferSizes|config.FeatFlowSteering,
			128, 256).
		AddJumboFrames(0, 9216).
		AddBufferSizes(0, 4096, 128).
		AddFlowSteering(0, 64).
		Build()
}

func newDevice(t *testing.T) (*device.Device, *testutil.FakeNIC) {
	t.Helper()
	nic := testutil.NewFakeNIC()
	nic.Descriptor = richDescriptor()
	d, err := device.New(testutil.Logger(t), nic, nic)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, nic
}

func TestDescribeNegotiatesConfig(t *testing.T) {
	d, _ := newDevice(t)

	cfg, err := d.Describe()
	require.NoError(t, err)

	assert.Equal(t, config.FormatDQORDA, cfg.Format)
	assert.Equal(t, uint16(9216), cfg.MaxMTU)
	assert.Equal(t, uint16(4096), cfg.PacketBufferSize)
	assert.Equal(t, uint16(128), cfg.HeaderBufferSize)
	assert.True(t, cfg.EnableHeaderSplit)
	assert.Equal(t, uint16(64), cfg.FlowRulesMax)
	assert.Equal(t, uint16(128), cfg.TxCompRingEntries)
	assert.Equal(t, uint16(256), cfg.RxBuffRingEntries)

	got, err := d.Config()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConfigBeforeDescribe(t *testing.T) {
	d, _ := newDevice(t)

	_, err := d.Config()
	assert.ErrorIs(t, err, device.ErrNotConfigured)
	assert.ErrorIs(t, d.ConfigureResources(8), device.ErrNotConfigured)
	_, err = d.Flows()
	assert.ErrorIs(t, err, device.ErrNotConfigured)
	_, err = d.RSS()
	assert.ErrorIs(t, err, device.ErrNotConfigured)
}

func TestConfigureResources(t *testing.T) {
	d, nic := newDevice(t)

	_, err := d.Describe()
	require.NoError(t, err)
	require.NoError(t, d.ConfigureResources(8))

	ops := nic.Processed()
	assert.Contains(t, ops, adminq.OpConfigureDeviceResources)
	assert.Equal(t, int64(1), d.QueueStats().ConfigureDeviceResources.Count())
}

func TestSetMTUBounds(t *testing.T) {
	d, nic := newDevice(t)
	_, err := d.Describe()
	require.NoError(t, err)

	require.NoError(t, d.SetMTU(9216))
	assert.Equal(t, uint64(9216), nic.MTU)

	assert.Error(t, d.SetMTU(9217), "above negotiated maximum")
	assert.Error(t, d.SetMTU(67), "below the Ethernet floor")
}

func TestQueueLifecycle(t *testing.T) {
	d, nic := newDevice(t)
	_, err := d.Describe()
	require.NoError(t, err)

	require.NoError(t, d.CreateTxQueues([]adminq.TxQueueParams{
		{QueueID: 0, RingSize: 256},
		{QueueID: 1, RingSize: 256},
	}))
	require.NoError(t, d.CreateRxQueues([]adminq.RxQueueParams{
		{QueueID: 0, RingSize: 256, PacketBufferSize: 4096},
	}))
	require.NoError(t, d.DestroyRxQueues([]uint32{0}))
	require.NoError(t, d.DestroyTxQueues([]uint32{0, 1}))

	assert.Equal(t, int64(2), d.QueueStats().CreateTxQueue.Count())
	assert.Equal(t, int64(1), d.QueueStats().CreateRxQueue.Count())
	assert.Equal(t, uint32(7), nic.ReadAdminQueueEventCounter())
}

func TestFlowRulesThroughDevice(t *testing.T) {
	d, nic := newDevice(t)
	_, err := d.Describe()
	require.NoError(t, err)

	flows, err := d.Flows()
	require.NoError(t, err)

	require.NoError(t, flows.Add(&flow.Spec{
		Location:    10,
		Type:        adminq.FlowTypeTCPv4,
		QueueIndex:  2,
		DstIP:       net.IPv4(10, 0, 0, 5),
		DstIPMask:   net.IPv4(255, 255, 255, 255),
		DstPort:     443,
		DstPortMask: 0xFFFF,
	}))

	// Driver directory and firmware mirror agree.
	assert.Equal(t, 1, flows.Count())
	require.Len(t, nic.FlowRules, 1)
	assert.Equal(t, adminq.FlowTypeTCPv4, nic.FlowRules[10].Type)
	assert.Equal(t, uint16(2), nic.FlowRules[10].Action)

	require.NoError(t, flows.Delete(10))
	assert.Empty(t, nic.FlowRules)
}

func TestRSSThroughDevice(t *testing.T) {
	d, nic := newDevice(t)
	_, err := d.Describe()
	require.NoError(t, err)

	state, err := d.RSS()
	require.NoError(t, err)

	_, key, indir, err := state.Get()
	require.NoError(t, err)
	assert.Equal(t, key, nic.RSSKey)
	assert.Equal(t, indir, nic.RSSIndir)
	assert.Equal(t, adminq.RSSHashToeplitz, nic.RSSAlg)
}

func TestLinkSpeedCachesLastGoodValue(t *testing.T) {
	d, nic := newDevice(t)

	nic.LinkSpeed = 50_000_000_000
	speed, err := d.LinkSpeed()
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000_000), speed)

	nic.FailNext(adminq.StatusUnavailableError)
	speed, err = d.LinkSpeed()
	require.NoError(t, err, "cached value covers a transient failure")
	assert.Equal(t, uint64(50_000_000_000), speed)
}

func TestLinkSpeedErrorWithoutCache(t *testing.T) {
	d, nic := newDevice(t)

	nic.FailNext(adminq.StatusUnavailableError)
	_, err := d.LinkSpeed()
	assert.Error(t, err)
}

func TestCloseReleasesQueueAndRejectsFurtherUse(t *testing.T) {
	nic := testutil.NewFakeNIC()
	nic.Descriptor = richDescriptor()
	d, err := device.New(testutil.Logger(t), nic, nic)
	require.NoError(t, err)
	_, err = d.Describe()
	require.NoError(t, err)
	require.NoError(t, d.ConfigureResources(4))

	require.NoError(t, d.Close())
	assert.Zero(t, nic.ReadAdminQueuePFN())
	assert.Contains(t, nic.Processed(), adminq.OpDeconfigureDeviceResources)

	assert.ErrorIs(t, d.SetMTU(1500), device.ErrDeviceClosed)
	_, err = d.LinkSpeed()
	assert.ErrorIs(t, err, device.ErrDeviceClosed)
	assert.NoError(t, d.Close(), "second close is a no-op")
}
