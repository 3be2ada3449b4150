package antientropy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/antientropy"
	"github.com/neutrinographics/gossip-sub004/digest"
	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/store"
)

type fakeCatalog struct{ channels []*model.Channel }

func (f *fakeCatalog) AllChannels() []*model.Channel { return f.channels }

type fakeTransport struct {
	digestRequests  []protocol.DigestRequest
	digestResponses []protocol.DigestResponse
	deltaRequests   []protocol.DeltaRequest
	deltaResponses  []protocol.DeltaResponse
}

func (f *fakeTransport) SendDigestRequest(to model.NodeId, msg protocol.DigestRequest) error {
	f.digestRequests = append(f.digestRequests, msg)
	return nil
}
func (f *fakeTransport) SendDigestResponse(to model.NodeId, msg protocol.DigestResponse) error {
	f.digestResponses = append(f.digestResponses, msg)
	return nil
}
func (f *fakeTransport) SendDeltaRequest(to model.NodeId, msg protocol.DeltaRequest) error {
	f.deltaRequests = append(f.deltaRequests, msg)
	return nil
}
func (f *fakeTransport) SendDeltaResponse(to model.NodeId, msg protocol.DeltaResponse) error {
	f.deltaResponses = append(f.deltaResponses, msg)
	return nil
}

func newEngine(t *testing.T) (*antientropy.Engine, *store.EntryStore, *fakeTransport) {
	t.Helper()
	var ch = model.NewChannel("c1", hlc.Clock{})
	_, _ = ch.EnsureStream("s1", hlc.Clock{})
	var catalog = &fakeCatalog{channels: []*model.Channel{ch}}
	var s = store.NewEntryStore(nil)
	var oob = store.NewOutOfOrderBuffer(0, 0)
	var transport = &fakeTransport{}
	var e = antientropy.New("local", digest.New(catalog, s), s, oob, transport, nil, antientropy.DefaultConfig())
	return e, s, transport
}

func TestStartRoundSendsDigestRequestAndRejectsDuplicate(t *testing.T) {
	var e, _, transport = newEngine(t)

	require.NoError(t, e.StartRound("peer", 0, 1000))
	require.Len(t, transport.digestRequests, 1)
	assert.True(t, e.InFlight("peer"))

	assert.Error(t, e.StartRound("peer", 0, 1000), "a round already in flight with peer must be rejected")
}

func TestHandleDigestResponseRequestsDeltasForGaps(t *testing.T) {
	var e, _, transport = newEngine(t)
	require.NoError(t, e.StartRound("peer", 0, 1000))

	var remoteDigest = map[model.ChannelId]protocol.ChannelDigest{
		"c1": {Channel: "c1", Streams: map[model.StreamId]protocol.StreamDigest{
			"s1": {Stream: "s1", VV: map[model.NodeId]uint64{"a": 3}},
		}},
	}
	require.NoError(t, e.HandleDigestResponse("peer", protocol.DigestResponse{Sender: "peer", Digests: remoteDigest}))

	require.Len(t, transport.deltaRequests, 1)
	assert.Equal(t, model.ChannelId("c1"), transport.deltaRequests[0].Channel)
	assert.Equal(t, uint64(0), transport.deltaRequests[0].Since.Get("a"))
}

func TestHandleDigestResponseWithNoGapsClosesRound(t *testing.T) {
	var e, _, _ = newEngine(t)
	require.NoError(t, e.StartRound("peer", 0, 1000))

	require.NoError(t, e.HandleDigestResponse("peer", protocol.DigestResponse{Sender: "peer", Digests: map[model.ChannelId]protocol.ChannelDigest{}}))
	assert.False(t, e.InFlight("peer"), "a round with no gaps has nothing to await and should close immediately")
}

func TestHandleDeltaResponseMergesEntriesAndClosesRound(t *testing.T) {
	var e, s, _ = newEngine(t)
	require.NoError(t, e.StartRound("peer", 0, 1000))

	var remoteDigest = map[model.ChannelId]protocol.ChannelDigest{
		"c1": {Channel: "c1", Streams: map[model.StreamId]protocol.StreamDigest{
			"s1": {Stream: "s1", VV: map[model.NodeId]uint64{"a": 1}},
		}},
	}
	require.NoError(t, e.HandleDigestResponse("peer", protocol.DigestResponse{Sender: "peer", Digests: remoteDigest}))
	require.True(t, e.InFlight("peer"))

	var result, err = e.HandleDeltaResponse("peer", protocol.DeltaResponse{
		Sender: "peer", Channel: "c1", Stream: "s1",
		Entries: []protocol.WireEntry{{Author: "a", Sequence: 1, Timestamp: hlc.Clock{PhysicalMs: 1}, Payload: []byte("x")}},
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.False(t, e.InFlight("peer"), "the only expected delta stream has returned; round should close")

	var key = model.ChannelStreamID{Channel: "c1", Stream: "s1"}
	assert.Len(t, s.AllEntries(key), 1)
}

func TestHandleDeltaResponseBuffersGapAndPromotesOnFill(t *testing.T) {
	var e, s, _ = newEngine(t)

	var _, err = e.HandleDeltaResponse("peer", protocol.DeltaResponse{
		Sender: "peer", Channel: "c1", Stream: "s1",
		Entries: []protocol.WireEntry{{Author: "a", Sequence: 2, Timestamp: hlc.Clock{PhysicalMs: 2}}},
	})
	require.NoError(t, err)
	var key = model.ChannelStreamID{Channel: "c1", Stream: "s1"}
	assert.Empty(t, s.AllEntries(key), "sequence 2 cannot commit before sequence 1 arrives")

	var result, err2 = e.HandleDeltaResponse("peer", protocol.DeltaResponse{
		Sender: "peer", Channel: "c1", Stream: "s1",
		Entries: []protocol.WireEntry{{Author: "a", Sequence: 1, Timestamp: hlc.Clock{PhysicalMs: 1}}},
	})
	require.NoError(t, err2)
	assert.Len(t, result.Entries, 2, "sequence 1 commits, then promotes the buffered sequence 2")
}

func TestHandleDigestRequestPushesSmallGapsUnsolicited(t *testing.T) {
	var e, s, transport = newEngine(t)
	var key = model.ChannelStreamID{Channel: "c1", Stream: "s1"}
	_, err := s.Append(key, model.LogEntry{Author: "a", Sequence: 1, Timestamp: hlc.Clock{PhysicalMs: 1}})
	require.NoError(t, err)

	var peerDigest = map[model.ChannelId]protocol.ChannelDigest{
		"c1": {Channel: "c1", Streams: map[model.StreamId]protocol.StreamDigest{
			"s1": {Stream: "s1", VV: map[model.NodeId]uint64{}},
		}},
	}
	require.NoError(t, e.HandleDigestRequest("peer", protocol.DigestRequest{Sender: "peer", Digests: peerDigest}))

	require.Len(t, transport.digestResponses, 1)
	require.Len(t, transport.deltaResponses, 1, "the gap is within maxPushEntries and should be pushed unsolicited")
	assert.Len(t, transport.deltaResponses[0].Entries, 1)
}

func TestTickAbandonsExpiredRounds(t *testing.T) {
	var e, _, _ = newEngine(t)
	require.NoError(t, e.StartRound("peer", 0, 100))

	assert.Empty(t, e.Tick(50))
	var abandoned = e.Tick(150)
	require.Len(t, abandoned, 1)
	assert.Equal(t, model.NodeId("peer"), abandoned[0])
	assert.False(t, e.InFlight("peer"))
}
