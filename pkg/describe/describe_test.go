package describe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergingrobotics/go-gvnic/pkg/describe"
	"github.com/emergingrobotics/go-gvnic/testutil"
)

func TestParseHeader(t *testing.T) {
	b := testutil.NewDescriptorBuilder()
	b.MaxRegisteredPages = 1 << 20
	b.TxQueueEntries = 512
	b.RxQueueEntries = 1024
	b.DefaultNumQueues = 8
	b.MTU = 9000
	b.NumCounters = 64
	b.MAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

	desc, opts, err := describe.Parse(testutil.Logger(t), b.Build())
	require.NoError(t, err)

	assert.Equal(t, uint64(1<<20), desc.MaxRegisteredPages)
	assert.Equal(t, uint16(512), desc.TxQueueEntries)
	assert.Equal(t, uint16(1024), desc.RxQueueEntries)
	assert.Equal(t, uint16(8), desc.DefaultNumQueues)
	assert.Equal(t, uint16(9000), desc.MTU)
	assert.Equal(t, uint16(64), desc.NumCounters)
	assert.Equal(t, "02:00:00:00:00:01", desc.MAC.String())
	assert.Equal(t, uint16(0), desc.NumOptions)

	// No options advertised.
	assert.False(t, opts.GQIRawAddressing)
	assert.Nil(t, opts.GQIRDA)
	assert.Nil(t, opts.DQORDA)
}

func TestParseRejectsShortRegion(t *testing.T) {
	_, _, err := describe.Parse(testutil.Logger(t), make([]byte, 39))
	assert.Error(t, err)
}

func TestParseRejectsTotalLengthBeyondRegion(t *testing.T) {
	raw := testutil.NewDescriptorBuilder().Build()
	// Truncate the region below the advertised total length.
	_, _, err := describe.Parse(testutil.Logger(t), raw[:len(raw)-1])
	assert.Error(t, err)
}

func TestParseExtractsOptions(t *testing.T) {
	raw := testutil.NewDescriptorBuilder().
		AddQueueFormat(testutil.OptGQIQPL, 0).
		AddFormatWithCounts(testutil.OptDQORDA, 1<<2, 128, 256).
		AddFormatWithCounts(testutil.OptDQOQPL, 0, 512, 2048).
		AddJumboFrames(0, 9216).
		AddBufferSizes(0, 4096, 128).
		AddFlowSteering(0, 200).
		Build()

	_, opts, err := describe.Parse(testutil.Logger(t), raw)
	require.NoError(t, err)

	require.NotNil(t, opts.GQIQPL)
	require.NotNil(t, opts.DQORDA)
	assert.Equal(t, uint32(1<<2), opts.DQORDA.SupportedFeatures)
	assert.Equal(t, uint16(128), opts.DQORDA.TxCompRingEntries)
	assert.Equal(t, uint16(256), opts.DQORDA.RxBuffRingEntries)

	require.NotNil(t, opts.DQOQPL)
	assert.Equal(t, uint16(512), opts.DQOQPL.TxPagesPerQPL)
	assert.Equal(t, uint16(2048), opts.DQOQPL.RxPagesPerQPL)

	require.NotNil(t, opts.JumboFrames)
	assert.Equal(t, uint16(9216), opts.JumboFrames.MaxMTU)

	require.NotNil(t, opts.BufferSizes)
	assert.Equal(t, uint16(4096), opts.BufferSizes.PacketBufferSize)
	assert.Equal(t, uint16(128), opts.BufferSizes.HeaderBufferSize)

	require.NotNil(t, opts.FlowSteering)
	assert.Equal(t, uint16(200), opts.FlowSteering.MaxNumRules)
}

func TestParseRawAddressingMarker(t *testing.T) {
	raw := testutil.NewDescriptorBuilder().
		AddOption(testutil.OptGQIRawAddressing, 0, nil).
		Build()

	_, opts, err := describe.Parse(testutil.Logger(t), raw)
	require.NoError(t, err)
	assert.True(t, opts.GQIRawAddressing)
}

func TestParseSkipsOptionWithShortPayload(t *testing.T) {
	raw := testutil.NewDescriptorBuilder().
		AddOption(testutil.OptJumboFrames, 0, make([]byte, 4)). // needs 8
		Build()

	_, opts, err := describe.Parse(testutil.Logger(t), raw)
	require.NoError(t, err)
	assert.Nil(t, opts.JumboFrames)
}

func TestParseSkipsOptionWithFeatureMaskMismatch(t *testing.T) {
	raw := testutil.NewDescriptorBuilder().
		AddFlowSteering(0, 100).
		Build()
	// Stamp a nonzero required-features mask into the record header.
	raw[40+4] = 0x80

	_, opts, err := describe.Parse(testutil.Logger(t), raw)
	require.NoError(t, err)
	assert.Nil(t, opts.FlowSteering, "mismatched option must be skipped, not fatal")
}

func TestParseAcceptsLongerPayload(t *testing.T) {
	payload := make([]byte, 12) // 4 extra trailing bytes
	payload[3] = 0x04           // supported features 1<<2
	raw := testutil.NewDescriptorBuilder().
		AddOption(testutil.OptGQIRDA, 0, payload).
		Build()

	_, opts, err := describe.Parse(testutil.Logger(t), raw)
	require.NoError(t, err)
	require.NotNil(t, opts.GQIRDA)
	assert.Equal(t, uint32(1<<2), opts.GQIRDA.SupportedFeatures)
}

func TestParseIgnoresUnknownOption(t *testing.T) {
	raw := testutil.NewDescriptorBuilder().
		AddOption(0x77, 0, make([]byte, 16)).
		AddQueueFormat(testutil.OptGQIQPL, 0).
		Build()

	_, opts, err := describe.Parse(testutil.Logger(t), raw)
	require.NoError(t, err)
	assert.NotNil(t, opts.GQIQPL, "options after an unknown record still parse")
}

func TestParseRejectsOptionOverrunningTotalLength(t *testing.T) {
	b := testutil.NewDescriptorBuilder().
		AddQueueFormat(testutil.OptGQIQPL, 0)
	raw := b.Build()
	// Inflate the record's length past the descriptor end.
	raw[40+2] = 0xFF

	_, _, err := describe.Parse(testutil.Logger(t), raw)
	assert.Error(t, err)
}

func TestParseRejectsOptionCountBeyondTotalLength(t *testing.T) {
	raw := testutil.NewDescriptorBuilder().Build()
	// Claim one option but provide none.
	raw[31] = 1

	_, _, err := describe.Parse(testutil.Logger(t), raw)
	assert.Error(t, err)
}
