// Package protocol defines the wire-level message types of spec §6.1 and
// the framing/codec that serializes them. Message structs in this file are
// transport- and encoding-agnostic; protocol/framing.go and
// protocol/codec.go turn them into and out of bytes.
package protocol

import (
	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/vvector"
)

// MessageType is the single-byte wire discriminator of spec §6.1.
type MessageType byte

const (
	TypePing           MessageType = 0x10
	TypeAck            MessageType = 0x11
	TypePingReq        MessageType = 0x12
	TypeDigestRequest  MessageType = 0x20
	TypeDigestResponse MessageType = 0x21
	TypeDeltaRequest   MessageType = 0x30
	TypeDeltaResponse  MessageType = 0x31
)

func (t MessageType) String() string {
	switch t {
	case TypePing:
		return "Ping"
	case TypeAck:
		return "Ack"
	case TypePingReq:
		return "PingReq"
	case TypeDigestRequest:
		return "DigestRequest"
	case TypeDigestResponse:
		return "DigestResponse"
	case TypeDeltaRequest:
		return "DeltaRequest"
	case TypeDeltaResponse:
		return "DeltaResponse"
	default:
		return "Unknown"
	}
}

// Ping probes a peer directly, or on behalf of an indirect-probe
// originator: a relay sends it with its own Sender and the originator's
// Sequence.
type Ping struct {
	Sender      model.NodeId
	Sequence    uint32
	Incarnation uint64
}

// Ack acknowledges a Ping or a relayed PingReq.
type Ack struct {
	Sender      model.NodeId
	Sequence    uint32
	Incarnation uint64
}

// PingReq asks Sender's receiver to relay a Ping to Target and forward any
// Ack back to Sender (spec §4.7 indirect probe).
type PingReq struct {
	Sender   model.NodeId
	Sequence uint32
	Target   model.NodeId
}

// StreamDigest is one stream's version vector, as exchanged in a digest
// round (spec §4.5).
type StreamDigest struct {
	Stream model.StreamId
	VV     vvector.VersionVector
}

// ChannelDigest is one channel's per-stream digests.
type ChannelDigest struct {
	Channel model.ChannelId
	Streams map[model.StreamId]StreamDigest
}

// DigestRequest announces the sender's digests and solicits the peer's.
type DigestRequest struct {
	Sender  model.NodeId
	Digests map[model.ChannelId]ChannelDigest
}

// DigestResponse replies with the responder's own digests.
type DigestResponse struct {
	Sender  model.NodeId
	Digests map[model.ChannelId]ChannelDigest
}

// DeltaRequest asks for every entry of (Channel, Stream) with sequence
// greater than Since[author], per author.
type DeltaRequest struct {
	Sender  model.NodeId
	Channel model.ChannelId
	Stream  model.StreamId
	Since   vvector.VersionVector
}

// WireEntry is the wire representation of a model.LogEntry (spec §6.1's
// entries:[LogEntry{author, sequence, hlc{physical,logical}, payload}]).
type WireEntry struct {
	Author    model.NodeId
	Sequence  uint64
	Timestamp hlc.Clock
	Payload   []byte
}

// DeltaResponse carries the entries satisfying a DeltaRequest (or a
// push-on-pull delta the sender volunteered unsolicited).
type DeltaResponse struct {
	Sender  model.NodeId
	Channel model.ChannelId
	Stream  model.StreamId
	Entries []WireEntry
}
