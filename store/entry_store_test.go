package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/store"
)

func key() model.ChannelStreamID {
	return model.ChannelStreamID{Channel: "c", Stream: "s"}
}

func entry(author model.NodeId, seq uint64, physicalMs uint64) model.LogEntry {
	return model.LogEntry{
		Author:    author,
		Sequence:  seq,
		Timestamp: hlc.Clock{PhysicalMs: physicalMs, Logical: uint32(seq)},
		Payload:   []byte("payload"),
	}
}

func TestAppendRequiresDenseSequence(t *testing.T) {
	var s = store.NewEntryStore(nil)

	_, err := s.Append(key(), entry("a", 2, 100))
	require.ErrorIs(t, err, store.ErrSequenceGap)

	ok, err := s.Append(key(), entry("a", 1, 100))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Append(key(), entry("a", 2, 101))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAppendIsIdempotent(t *testing.T) {
	var s = store.NewEntryStore(nil)
	var e = entry("a", 1, 100)

	ok1, err := s.Append(key(), e)
	require.NoError(t, err)
	ok2, err := s.Append(key(), e)
	require.NoError(t, err)

	assert.True(t, ok1)
	assert.False(t, ok2, "re-appending the same (author, sequence) must be a no-op")
	assert.Len(t, s.AllEntries(key()), 1)
}

func TestEntriesSinceRespectsVersionVector(t *testing.T) {
	var s = store.NewEntryStore(nil)
	for seq := uint64(1); seq <= 3; seq++ {
		_, err := s.Append(key(), entry("a", seq, 100+seq))
		require.NoError(t, err)
	}

	var since = map[model.NodeId]uint64{"a": 1}
	var got = s.EntriesSince(key(), since)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Sequence)
	assert.Equal(t, uint64(3), got[1].Sequence)
}

func TestGetVersionVectorIsGapAware(t *testing.T) {
	var s = store.NewEntryStore(nil)
	_, _ = s.Append(key(), entry("a", 1, 100))
	_, _ = s.Append(key(), entry("a", 2, 101))
	// Sequence 4 cannot commit directly; it would be buffered upstream.
	_, err := s.Append(key(), entry("a", 4, 103))
	require.ErrorIs(t, err, store.ErrSequenceGap)

	var vv = s.GetVersionVector(key())
	assert.Equal(t, uint64(2), vv.Get("a"))
}

func TestLatestSequence(t *testing.T) {
	var s = store.NewEntryStore(nil)
	assert.Equal(t, uint64(0), s.LatestSequence(key(), "a"))

	_, _ = s.Append(key(), entry("a", 1, 100))
	assert.Equal(t, uint64(1), s.LatestSequence(key(), "a"))
}

func TestMaterializedOrderIsTimestampThenAuthorSequence(t *testing.T) {
	var s = store.NewEntryStore(nil)
	_, _ = s.Append(key(), entry("b", 1, 50))
	_, _ = s.Append(key(), entry("a", 1, 10))

	var all = s.AllEntries(key())
	require.Len(t, all, 2)
	assert.Equal(t, model.NodeId("a"), all[0].Author)
	assert.Equal(t, model.NodeId("b"), all[1].Author)
}

func TestRemoveEntriesRebuildsCache(t *testing.T) {
	var s = store.NewEntryStore(nil)
	_, _ = s.Append(key(), entry("a", 1, 100))
	_, _ = s.Append(key(), entry("a", 2, 101))

	require.NoError(t, s.RemoveEntries(key(), []model.LogEntryId{{Author: "a", Sequence: 1}}))
	assert.Len(t, s.AllEntries(key()), 1)
}

func TestClearChannelRemovesAllItsStreams(t *testing.T) {
	var s = store.NewEntryStore(nil)
	_, _ = s.Append(model.ChannelStreamID{Channel: "c", Stream: "s1"}, entry("a", 1, 1))
	_, _ = s.Append(model.ChannelStreamID{Channel: "c", Stream: "s2"}, entry("a", 1, 1))
	_, _ = s.Append(model.ChannelStreamID{Channel: "other", Stream: "s1"}, entry("a", 1, 1))

	require.NoError(t, s.ClearChannel("c"))
	assert.Empty(t, s.AllEntries(model.ChannelStreamID{Channel: "c", Stream: "s1"}))
	assert.Empty(t, s.AllEntries(model.ChannelStreamID{Channel: "c", Stream: "s2"}))
	assert.Len(t, s.AllEntries(model.ChannelStreamID{Channel: "other", Stream: "s1"}), 1)
}
