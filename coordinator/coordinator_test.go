package coordinator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/coordinator"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/repository/memrepo"
)

// fakePort is an in-memory coordinator.MessagePort that never actually
// delivers anything: Send records the frame for assertions, Incoming is
// permanently empty. Sufficient for exercising the operational API, which
// never blocks on transport delivery.
type fakePort struct {
	sent chan sentFrame
	in   chan coordinator.InboundMessage
}

type sentFrame struct {
	to      model.NodeId
	payload []byte
}

func newFakePort() *fakePort {
	return &fakePort{sent: make(chan sentFrame, 64), in: make(chan coordinator.InboundMessage, 64)}
}

func (p *fakePort) Send(to model.NodeId, payload []byte) error {
	p.sent <- sentFrame{to: to, payload: payload}
	return nil
}
func (p *fakePort) Incoming() <-chan coordinator.InboundMessage { return p.in }
func (p *fakePort) Close() error                                { close(p.in); return nil }

func newCoordinator(t *testing.T) (*coordinator.Coordinator, *fakePort) {
	t.Helper()
	var port = newFakePort()
	var localNodeRepo = memrepo.NewLocalNodeRepository()
	var channelRepo = memrepo.NewChannelRepository()
	var c, err = coordinator.New("local", nil, channelRepo, nil, localNodeRepo, port, coordinator.DefaultConfig())
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Stop)
	return c, port
}

func TestAddPeerRejectsLocalNodeAndDuplicates(t *testing.T) {
	var c, _ = newCoordinator(t)

	var peer, err = c.AddPeer("remote-1")
	require.NoError(t, err)
	assert.Equal(t, model.NodeId("remote-1"), peer.ID)
	assert.Equal(t, model.Reachable, peer.Status)

	_, err = c.AddPeer("local")
	assert.ErrorIs(t, err, model.ErrLocalNodeAsPeer)

	_, err = c.AddPeer("remote-1")
	assert.ErrorIs(t, err, model.ErrPeerAlreadyExists)
}

func TestRemovePeerRejectsUnknownPeer(t *testing.T) {
	var c, _ = newCoordinator(t)

	assert.ErrorIs(t, c.RemovePeer("ghost"), model.ErrPeerNotFound)

	_, err := c.AddPeer("remote-1")
	require.NoError(t, err)
	assert.NoError(t, c.RemovePeer("remote-1"))
}

func TestCreateChannelRejectsDuplicate(t *testing.T) {
	var c, _ = newCoordinator(t)

	var ch, err = c.CreateChannel("c1")
	require.NoError(t, err)
	assert.Equal(t, model.ChannelId("c1"), ch.ID)
	assert.False(t, ch.HasKnownMembership())

	_, err = c.CreateChannel("c1")
	assert.ErrorIs(t, err, model.ErrChannelAlreadyExists)
}

func TestDeleteChannelRejectsUnknown(t *testing.T) {
	var c, _ = newCoordinator(t)
	assert.ErrorIs(t, c.DeleteChannel("missing"), model.ErrChannelNotFound)

	_, err := c.CreateChannel("c1")
	require.NoError(t, err)
	assert.NoError(t, c.DeleteChannel("c1"))
	assert.ErrorIs(t, c.DeleteChannel("c1"), model.ErrChannelNotFound)
}

func TestMembershipRequiresExistingChannelAndRejectsDuplicates(t *testing.T) {
	var c, _ = newCoordinator(t)
	assert.ErrorIs(t, c.AddMember("missing", "n1"), model.ErrChannelNotFound)

	_, err := c.CreateChannel("c1")
	require.NoError(t, err)

	require.NoError(t, c.AddMember("c1", "n1"))
	assert.ErrorIs(t, c.AddMember("c1", "n1"), model.ErrDuplicateMember)

	require.NoError(t, c.RemoveMember("c1", "n1"))
	assert.ErrorIs(t, c.RemoveMember("c1", "n1"), model.ErrMemberNotFound)
}

func TestAppendRequiresExistingChannelAndAssignsIncreasingSequence(t *testing.T) {
	var c, _ = newCoordinator(t)
	_, err := c.Append("missing", "s1", []byte("hi"))
	assert.ErrorIs(t, err, model.ErrChannelNotFound)

	_, err = c.CreateChannel("c1")
	require.NoError(t, err)

	var first, appendErr = c.Append("c1", "s1", []byte("hello"))
	require.NoError(t, appendErr)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, model.NodeId("local"), first.Author)

	var second, appendErr2 = c.Append("c1", "s1", []byte("world"))
	require.NoError(t, appendErr2)
	assert.Equal(t, uint64(2), second.Sequence)
}

func TestAppendRejectsOversizedPayload(t *testing.T) {
	var c, _ = newCoordinator(t)
	_, err := c.CreateChannel("c1")
	require.NoError(t, err)

	var oversized = make([]byte, 64*1024)
	_, appendErr := c.Append("c1", "s1", oversized)
	assert.ErrorIs(t, appendErr, protocol.ErrMessageTooLarge)
}

func TestEventsPublishedForAddPeerAndAppend(t *testing.T) {
	var c, _ = newCoordinator(t)
	var events = c.Events().Subscribe()

	_, err := c.AddPeer("remote-1")
	require.NoError(t, err)
	var peerAdded = <-events
	assert.Equal(t, coordinator.PeerAdded, peerAdded.Kind)
	assert.Equal(t, model.NodeId("remote-1"), peerAdded.Peer)

	_, err = c.CreateChannel("c1")
	require.NoError(t, err)
	var channelCreated = <-events
	assert.Equal(t, coordinator.ChannelCreated, channelCreated.Kind)

	_, err = c.Append("c1", "s1", []byte("payload"))
	require.NoError(t, err)
	var streamCreated = <-events
	assert.Equal(t, coordinator.StreamCreated, streamCreated.Kind)
	var entryAppended = <-events
	assert.Equal(t, coordinator.EntryAppended, entryAppended.Kind)
	assert.Equal(t, model.ChannelId("c1"), entryAppended.Channel)
}

func TestStartStopLifecycleSignalsStopping(t *testing.T) {
	var c, _ = newCoordinator(t)

	select {
	case <-c.Stopping():
		t.Fatal("Stopping should not be closed before Stop is called")
	default:
	}

	var stopped = make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-c.Stopping():
	case <-time.After(time.Second):
		t.Fatal("Stopping was not closed promptly after Stop")
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
