package digest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/digest"
	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/store"
	"github.com/neutrinographics/gossip-sub004/vvector"
)

type fakeCatalog struct {
	channels []*model.Channel
}

func (f *fakeCatalog) AllChannels() []*model.Channel { return f.channels }

func TestComputeLocalDigestSkipsChannelsWithKnownMembershipExcludingPeer(t *testing.T) {
	var ch = model.NewChannel("c1", hlc.Clock{})
	ch.Members["other"] = struct{}{}
	var catalog = &fakeCatalog{channels: []*model.Channel{ch}}
	var s = store.NewEntryStore(nil)

	var e = digest.New(catalog, s)
	var d = e.ComputeLocalDigest("peer-not-a-member")
	assert.Empty(t, d)
}

func TestComputeLocalDigestIncludesChannelsWithUnknownMembership(t *testing.T) {
	var ch = model.NewChannel("c1", hlc.Clock{})
	var catalog = &fakeCatalog{channels: []*model.Channel{ch}}
	var s = store.NewEntryStore(nil)

	var e = digest.New(catalog, s)
	var d = e.ComputeLocalDigest("anyone")
	assert.Contains(t, d, model.ChannelId("c1"))
}

func TestComputeLocalDigestIncludesEveryStreamVersionVector(t *testing.T) {
	var ch = model.NewChannel("c1", hlc.Clock{})
	ch.Members["peer"] = struct{}{}
	_, _ = ch.EnsureStream("s1", hlc.Clock{})
	var catalog = &fakeCatalog{channels: []*model.Channel{ch}}

	var s = store.NewEntryStore(nil)
	var key = model.ChannelStreamID{Channel: "c1", Stream: "s1"}
	_, err := s.Append(key, model.LogEntry{Author: "a", Sequence: 1, Timestamp: hlc.Clock{PhysicalMs: 1}})
	require.NoError(t, err)

	var e = digest.New(catalog, s)
	var d = e.ComputeLocalDigest("peer")
	require.Contains(t, d["c1"].Streams, model.StreamId("s1"))
	assert.Equal(t, uint64(1), d["c1"].Streams["s1"].VV.Get("a"))
}

func TestDiffFindsGapsWhereRemoteIsAhead(t *testing.T) {
	var local = map[model.ChannelId]protocol.ChannelDigest{
		"c1": {Channel: "c1", Streams: map[model.StreamId]protocol.StreamDigest{
			"s1": {Stream: "s1", VV: vvector.VersionVector{"a": 2}},
		}},
	}
	var remote = map[model.ChannelId]protocol.ChannelDigest{
		"c1": {Channel: "c1", Streams: map[model.StreamId]protocol.StreamDigest{
			"s1": {Stream: "s1", VV: vvector.VersionVector{"a": 5}},
		}},
	}

	var gaps = digest.Diff(local, remote)
	require.Len(t, gaps, 1)
	assert.Equal(t, model.ChannelId("c1"), gaps[0].Channel)
	assert.Equal(t, uint64(2), gaps[0].Since.Get("a"))
}

func TestDiffSkipsStreamsWhereLocalIsCaughtUp(t *testing.T) {
	var local = map[model.ChannelId]protocol.ChannelDigest{
		"c1": {Channel: "c1", Streams: map[model.StreamId]protocol.StreamDigest{
			"s1": {Stream: "s1", VV: vvector.VersionVector{"a": 5}},
		}},
	}
	var remote = map[model.ChannelId]protocol.ChannelDigest{
		"c1": {Channel: "c1", Streams: map[model.StreamId]protocol.StreamDigest{
			"s1": {Stream: "s1", VV: vvector.VersionVector{"a": 5}},
		}},
	}

	assert.Empty(t, digest.Diff(local, remote))
}

func TestDiffTreatsUnknownLocalChannelAsEmpty(t *testing.T) {
	var local = map[model.ChannelId]protocol.ChannelDigest{}
	var remote = map[model.ChannelId]protocol.ChannelDigest{
		"c1": {Channel: "c1", Streams: map[model.StreamId]protocol.StreamDigest{
			"s1": {Stream: "s1", VV: vvector.VersionVector{"a": 1}},
		}},
	}

	var gaps = digest.Diff(local, remote)
	require.Len(t, gaps, 1)
	assert.Equal(t, uint64(0), gaps[0].Since.Get("a"))
}
