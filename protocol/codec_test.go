package protocol_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/vvector"
)

func TestEncodeDecodePing(t *testing.T) {
	var msg = protocol.Ping{Sender: "node-a", Sequence: 7, Incarnation: 3}
	var frame, err = protocol.Encode(protocol.TypePing, msg)
	require.NoError(t, err)

	var gotType, gotMsg, consumed, decErr = protocol.Decode(frame)
	require.NoError(t, decErr)
	assert.Equal(t, protocol.TypePing, gotType)
	assert.Equal(t, len(frame), consumed)
	assert.Equal(t, msg, gotMsg)
}

func TestEncodeDecodeDigestRequestRoundTrips(t *testing.T) {
	var msg = protocol.DigestRequest{
		Sender: "node-a",
		Digests: map[model.ChannelId]protocol.ChannelDigest{
			"c1": {Channel: "c1", Streams: map[model.StreamId]protocol.StreamDigest{
				"s1": {Stream: "s1", VV: vvector.VersionVector{"a": 5, "b": 2}},
			}},
		},
	}
	var frame, err = protocol.Encode(protocol.TypeDigestRequest, msg)
	require.NoError(t, err)

	var gotType, gotMsg, _, decErr = protocol.Decode(frame)
	require.NoError(t, decErr)
	assert.Equal(t, protocol.TypeDigestRequest, gotType)
	assert.Equal(t, msg, gotMsg)
}

func TestEncodeDecodeDeltaResponseSmallBatchUncompressed(t *testing.T) {
	var msg = protocol.DeltaResponse{
		Sender: "node-a", Channel: "c1", Stream: "s1",
		Entries: []protocol.WireEntry{
			{Author: "a", Sequence: 1, Timestamp: hlc.Clock{PhysicalMs: 100, Logical: 0}, Payload: []byte("hello")},
			{Author: "a", Sequence: 2, Timestamp: hlc.Clock{PhysicalMs: 101, Logical: 0}, Payload: []byte("world")},
		},
	}
	var frame, err = protocol.Encode(protocol.TypeDeltaResponse, msg)
	require.NoError(t, err)

	var gotType, gotMsg, _, decErr = protocol.Decode(frame)
	require.NoError(t, decErr)
	assert.Equal(t, protocol.TypeDeltaResponse, gotType)
	assert.Equal(t, msg, gotMsg)
}

func TestEncodeDecodeDeltaResponseLargeBatchIsCompressedTransparently(t *testing.T) {
	var payload = strings.Repeat("x", 4096)
	var entries []protocol.WireEntry
	for i := uint64(1); i <= 8; i++ {
		entries = append(entries, protocol.WireEntry{
			Author: "a", Sequence: i, Timestamp: hlc.Clock{PhysicalMs: i}, Payload: []byte(payload),
		})
	}
	var msg = protocol.DeltaResponse{Sender: "node-a", Channel: "c1", Stream: "s1", Entries: entries}

	var frame, err = protocol.Encode(protocol.TypeDeltaResponse, msg)
	require.NoError(t, err)
	assert.Less(t, len(frame), len(payload)*len(entries), "a highly repetitive batch should compress smaller than its raw size")

	var _, gotMsg, _, decErr = protocol.Decode(frame)
	require.NoError(t, decErr)
	assert.Equal(t, msg, gotMsg)
}

func TestEncodeRejectsFrameOverMaxMessageBytes(t *testing.T) {
	var msg = protocol.DeltaRequest{Sender: "node-a", Channel: "c1", Stream: "s1", Since: vvector.New()}
	_, err := protocol.Encode(protocol.TypeDeltaRequest, msg)
	require.NoError(t, err)

	var oversized = make([]byte, protocol.MaxMessageBytes+1)
	_, writeErr := protocol.WriteFrame(protocol.TypeDeltaRequest, oversized)
	assert.ErrorIs(t, writeErr, protocol.ErrMessageTooLarge)
}

func TestReadFrameReportsTruncation(t *testing.T) {
	var frame, err = protocol.WriteFrame(protocol.TypePing, []byte{1, 2, 3})
	require.NoError(t, err)

	_, _, _, readErr := protocol.ReadFrame(frame[:len(frame)-1])
	assert.ErrorIs(t, readErr, protocol.ErrFrameTruncated)
}

func TestDecodeUnknownMessageTypeIsVersionMismatch(t *testing.T) {
	var frame, err = protocol.WriteFrame(0x99, []byte{1})
	require.NoError(t, err)

	_, _, _, decErr := protocol.Decode(frame)
	assert.ErrorIs(t, decErr, protocol.ErrVersionMismatch)
}
