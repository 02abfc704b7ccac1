package flow_test

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergingrobotics/go-gvnic/pkg/adminq"
	"github.com/emergingrobotics/go-gvnic/pkg/flow"
	"github.com/emergingrobotics/go-gvnic/testutil"
)

// recordingProg captures firmware calls and can be told to fail.
type recordingProg struct {
	added   map[uint16]*adminq.FlowRule
	deleted []uint16
	resets  int
	failErr error
}

func newRecordingProg() *recordingProg {
	return &recordingProg{added: make(map[uint16]*adminq.FlowRule)}
}

func (p *recordingProg) AddFlowRule(location uint16, rule *adminq.FlowRule) error {
	if p.failErr != nil {
		return p.failErr
	}
	p.added[location] = rule
	return nil
}

func (p *recordingProg) DelFlowRule(location uint16) error {
	if p.failErr != nil {
		return p.failErr
	}
	p.deleted = append(p.deleted, location)
	delete(p.added, location)
	return nil
}

func (p *recordingProg) ResetFlowRules() error {
	if p.failErr != nil {
		return p.failErr
	}
	p.resets++
	p.added = make(map[uint16]*adminq.FlowRule)
	return nil
}

func tcpSpec(location uint16, queue uint16, srcPort uint16) *flow.Spec {
	return &flow.Spec{
		Location:    location,
		Type:        adminq.FlowTypeTCPv4,
		QueueIndex:  queue,
		SrcIP:       net.IPv4(10, 0, 0, 1),
		SrcIPMask:   net.IPv4(255, 255, 255, 255),
		SrcPort:     srcPort,
		SrcPortMask: 0xFFFF,
	}
}

func TestDirectoryAddAndLookup(t *testing.T) {
	prog := newRecordingProg()
	dir := flow.NewDirectory(testutil.Logger(t), prog, 16, 8)

	require.NoError(t, dir.Add(tcpSpec(5, 3, 80)))
	assert.Equal(t, 1, dir.Count())
	require.Len(t, prog.added, 1)

	got, err := dir.Lookup(5)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), got.QueueIndex)
	assert.Equal(t, uint16(80), got.SrcPort)
	assert.True(t, got.SrcIP.Equal(net.IPv4(10, 0, 0, 1)))
}

func TestDirectoryUnsupportedWhenNoCapacity(t *testing.T) {
	dir := flow.NewDirectory(testutil.Logger(t), newRecordingProg(), 0, 8)

	assert.ErrorIs(t, dir.Add(tcpSpec(0, 0, 80)), flow.ErrNotSupported)
	assert.ErrorIs(t, dir.Delete(0), flow.ErrNotSupported)
	assert.ErrorIs(t, dir.Reset(), flow.ErrNotSupported)
	_, err := dir.Lookup(0)
	assert.ErrorIs(t, err, flow.ErrNotSupported)
}

func TestDirectoryCapacityLimit(t *testing.T) {
	prog := newRecordingProg()
	dir := flow.NewDirectory(testutil.Logger(t), prog, 2, 8)

	require.NoError(t, dir.Add(tcpSpec(0, 0, 80)))
	require.NoError(t, dir.Add(tcpSpec(1, 0, 81)))
	assert.ErrorIs(t, dir.Add(tcpSpec(2, 0, 82)), flow.ErrCapacity)
}

func TestDirectoryRejectsOccupiedLocation(t *testing.T) {
	prog := newRecordingProg()
	dir := flow.NewDirectory(testutil.Logger(t), prog, 16, 8)

	require.NoError(t, dir.Add(tcpSpec(5, 0, 80)))
	err := dir.Add(tcpSpec(5, 1, 81))
	assert.ErrorIs(t, err, flow.ErrExists)
	assert.Len(t, prog.added, 1, "rejected add must not reach firmware")
}

func TestDirectoryRejectsDuplicateMatch(t *testing.T) {
	prog := newRecordingProg()
	dir := flow.NewDirectory(testutil.Logger(t), prog, 16, 8)

	require.NoError(t, dir.Add(tcpSpec(5, 0, 80)))
	// Same match at another location, even with a different target queue.
	dup := tcpSpec(9, 4, 80)
	assert.ErrorIs(t, dir.Add(dup), flow.ErrDuplicate)
	assert.Len(t, prog.added, 1)
}

func TestDirectoryRejectsQueueOutOfRange(t *testing.T) {
	dir := flow.NewDirectory(testutil.Logger(t), newRecordingProg(), 16, 4)
	err := dir.Add(tcpSpec(0, 4, 80))
	require.Error(t, err)
	assert.NotErrorIs(t, err, flow.ErrExists)
}

func TestDirectoryFirmwareFailureLeavesStateUntouched(t *testing.T) {
	prog := newRecordingProg()
	dir := flow.NewDirectory(testutil.Logger(t), prog, 16, 8)
	require.NoError(t, dir.Add(tcpSpec(5, 0, 80)))

	prog.failErr = errors.New("device says no")
	assert.Error(t, dir.Add(tcpSpec(6, 0, 81)))
	assert.Equal(t, 1, dir.Count())

	assert.Error(t, dir.Delete(5))
	assert.Equal(t, 1, dir.Count())

	assert.Error(t, dir.Reset())
	assert.Equal(t, 1, dir.Count())
}

func TestDirectoryDelete(t *testing.T) {
	prog := newRecordingProg()
	dir := flow.NewDirectory(testutil.Logger(t), prog, 16, 8)
	require.NoError(t, dir.Add(tcpSpec(5, 0, 80)))

	require.NoError(t, dir.Delete(5))
	assert.Zero(t, dir.Count())
	assert.Equal(t, []uint16{5}, prog.deleted)

	assert.ErrorIs(t, dir.Delete(5), flow.ErrNotFound)
}

func TestDirectoryReset(t *testing.T) {
	prog := newRecordingProg()
	dir := flow.NewDirectory(testutil.Logger(t), prog, 16, 8)
	require.NoError(t, dir.Add(tcpSpec(1, 0, 80)))
	require.NoError(t, dir.Add(tcpSpec(2, 0, 81)))

	require.NoError(t, dir.Reset())
	assert.Zero(t, dir.Count())
	assert.Equal(t, 1, prog.resets)
}

func TestDirectoryLocationsAscending(t *testing.T) {
	prog := newRecordingProg()
	dir := flow.NewDirectory(testutil.Logger(t), prog, 16, 8)
	for i, loc := range []uint16{42, 3, 17, 0} {
		require.NoError(t, dir.Add(tcpSpec(loc, 0, 1000+uint16(i))))
	}

	assert.Equal(t, []uint16{0, 3, 17, 42}, dir.Locations(-1))
	assert.Equal(t, []uint16{0, 3}, dir.Locations(2))
	assert.Empty(t, dir.Locations(0))
}
