package swim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/registry"
	"github.com/neutrinographics/gossip-sub004/rtt"
	"github.com/neutrinographics/gossip-sub004/swim"
)

type fakeTransport struct {
	pings    []protocol.Ping
	pingTo   []model.NodeId
	acks     []protocol.Ack
	pingReqs []protocol.PingReq
}

func (f *fakeTransport) SendPing(to model.NodeId, msg protocol.Ping) error {
	f.pings = append(f.pings, msg)
	f.pingTo = append(f.pingTo, to)
	return nil
}

func (f *fakeTransport) SendAck(to model.NodeId, msg protocol.Ack) error {
	f.acks = append(f.acks, msg)
	return nil
}

func (f *fakeTransport) SendPingReq(to model.NodeId, msg protocol.PingReq) error {
	f.pingReqs = append(f.pingReqs, msg)
	return nil
}

func newDetector(t *testing.T, cfg swim.Config) (*swim.Detector, *registry.Registry, *fakeTransport) {
	t.Helper()
	var reg = registry.New("local", nil)
	_, err := reg.AddPeer("a")
	require.NoError(t, err)

	var transport = &fakeTransport{}
	var tracker = rtt.NewTracker(cfg.RttMinMs, cfg.RttMaxMs)
	return swim.NewDetector("local", reg, tracker, transport, cfg), reg, transport
}

func TestTickSendsDirectProbeToReachablePeer(t *testing.T) {
	var d, _, transport = newDetector(t, swim.DefaultConfig())

	d.Tick(0)
	require.Len(t, transport.pings, 1)
	assert.Equal(t, model.NodeId("a"), transport.pingTo[0])
}

func TestAckBeforeTimeoutKeepsPeerReachable(t *testing.T) {
	var d, reg, transport = newDetector(t, swim.DefaultConfig())
	d.Tick(0)
	require.Len(t, transport.pings, 1)

	var transition = d.HandleAck(protocol.Ack{Sender: "a", Sequence: transport.pings[0].Sequence, Incarnation: 0}, 50, 10)
	assert.False(t, transition.Changed, "peer was already Reachable")

	var p, _ = reg.Get("a")
	assert.Equal(t, model.Reachable, p.Status)
	assert.Equal(t, uint64(10), p.LastContactMs)
}

func TestDirectTimeoutTriggersIndirectProbe(t *testing.T) {
	var cfg = swim.DefaultConfig()
	cfg.RttMinMs = 100
	var d, reg, transport = newDetector(t, cfg)
	_, err := reg.AddPeer("b") // relay candidate
	require.NoError(t, err)

	d.Tick(0)
	require.Len(t, transport.pings, 1)

	// Advance well past the direct timeout without an ack.
	d.Tick(1000)

	require.Len(t, transport.pingReqs, 1, "a relay should have been asked to indirectly probe peer a")
	assert.Equal(t, model.NodeId("a"), transport.pingReqs[0].Target)
}

func TestSuspicionEscalatesToUnreachableWithoutRefutation(t *testing.T) {
	var cfg = swim.DefaultConfig()
	cfg.RttMinMs = 50
	cfg.SuspectTimeoutMs = 500
	var d, reg, _ = newDetector(t, cfg)

	d.Tick(0)          // direct probe sent
	d.Tick(1000)       // direct timeout -> indirect probe (no relays available)
	d.Tick(1000 + 3*50 + 1) // indirect timeout -> Suspected

	var p, _ = reg.Get("a")
	assert.Equal(t, model.Suspected, p.Status)

	d.Tick(1000 + 3*50 + 1 + 501) // suspect timeout elapses -> Unreachable
	p, _ = reg.Get("a")
	assert.Equal(t, model.Unreachable, p.Status)
}

func TestAckDuringSuspicionRefutesBackToReachable(t *testing.T) {
	var cfg = swim.DefaultConfig()
	cfg.RttMinMs = 50
	var d, reg, transport = newDetector(t, cfg)

	d.Tick(0)
	d.Tick(1000) // direct timeout, no relays registered -> indirect immediately empty
	d.Tick(1000 + 3*50 + 1)

	var p, _ = reg.Get("a")
	require.Equal(t, model.Suspected, p.Status)

	// Peer "a" refutes with a higher incarnation via a fresh direct probe ack.
	d.Tick(1000 + 3*50 + 1 + 10)
	require.NotEmpty(t, transport.pings)
	var lastSeq = transport.pings[len(transport.pings)-1].Sequence

	var transition = d.HandleAck(protocol.Ack{Sender: "a", Sequence: lastSeq, Incarnation: 1}, 20, 0)
	assert.True(t, transition.Changed)
	assert.Equal(t, model.Reachable, transition.New)
}

func TestHandlePingRepliesWithAck(t *testing.T) {
	var d, _, transport = newDetector(t, swim.DefaultConfig())
	d.HandlePing(protocol.Ping{Sender: "a", Sequence: 7, Incarnation: 0})

	require.Len(t, transport.acks, 1)
	assert.Equal(t, uint32(7), transport.acks[0].Sequence)
}

func TestHandlePingReqRecordsRelayThenForwardsAckToOriginator(t *testing.T) {
	var relay, reg, transport = newDetector(t, swim.DefaultConfig())
	_, err := reg.AddPeer("originator")
	require.NoError(t, err)

	relay.HandlePingReq(protocol.PingReq{Sender: "originator", Sequence: 42, Target: "a"}, 0)

	require.Len(t, transport.pings, 1, "relay should have sent a Ping on to the target")
	assert.Equal(t, model.NodeId("a"), transport.pingTo[0])
	assert.Equal(t, uint32(42), transport.pings[0].Sequence)

	// The target acks the relayed ping; relay must forward it to the
	// originator rather than treat it as its own probe completing.
	var transition = relay.HandleAck(protocol.Ack{Sender: "a", Sequence: 42, Incarnation: 0}, 20, 10)
	assert.False(t, transition.Changed, "a relay forwarding an ack produces no status transition of its own")

	require.Len(t, transport.acks, 1, "relay should have forwarded an ack back to the originator")
	assert.Equal(t, model.NodeId("a"), transport.acks[0].Sender, "forwarded ack keeps the target as Sender")
	assert.Equal(t, uint32(42), transport.acks[0].Sequence)
}

func TestIndirectProbeRescuedByRelayedAck(t *testing.T) {
	var cfg = swim.DefaultConfig()
	cfg.RttMinMs = 100
	var originator, reg, originatorTransport = newDetector(t, cfg)
	_, err := reg.AddPeer("b") // relay candidate
	require.NoError(t, err)

	originator.Tick(0)
	require.Len(t, originatorTransport.pings, 1, "direct probe to peer a")

	originator.Tick(1000) // direct timeout -> indirect probe via relay b
	require.Len(t, originatorTransport.pingReqs, 1)
	var seq = originatorTransport.pingReqs[0].Sequence
	require.Equal(t, model.NodeId("a"), originatorTransport.pingReqs[0].Target)

	// Node b relays the probe to a and receives a's ack.
	var relay, relayReg, relayTransport = newDetector(t, cfg)
	_, err = relayReg.AddPeer("originator")
	require.NoError(t, err)
	relay.HandlePingReq(protocol.PingReq{Sender: "local", Sequence: seq, Target: "a"}, 1000)
	require.Len(t, relayTransport.pings, 1)
	relay.HandleAck(protocol.Ack{Sender: "a", Sequence: seq, Incarnation: 0}, 20, 1010)
	require.Len(t, relayTransport.acks, 1)

	// The forwarded ack reaches the originator; its indirect probe is
	// satisfied and no suspicion should be raised once it times out.
	var transition = originator.HandleAck(relayTransport.acks[0], 20, 1010)
	assert.False(t, transition.Changed)

	originator.Tick(1000 + 3*100 + 1) // indirect deadline elapses
	var p, _ = reg.Get("a")
	assert.Equal(t, model.Reachable, p.Status, "a successful relayed ack must rescue the target, not suspect it")
}

func TestRefuteIncrementsLocalIncarnation(t *testing.T) {
	var d, _, _ = newDetector(t, swim.DefaultConfig())
	assert.Equal(t, uint64(0), d.LocalIncarnation())
	assert.Equal(t, uint64(1), d.Refute())
	assert.Equal(t, uint64(1), d.LocalIncarnation())
}
