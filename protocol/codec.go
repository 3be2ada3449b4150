package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/vvector"
)

// compressionThresholdBytes is the spec §6.4 cutoff: a DeltaResponse whose
// encoded entry payload is at or above this size is zstd-compressed before
// the 32 KiB cap of framing.go is enforced. Below it, the cost of a zstd
// frame header outweighs the savings.
const compressionThresholdBytes = 4096

// compressionFlag prefixes an encoded DeltaResponse payload, so Decode knows
// whether the remaining bytes are raw or zstd-compressed.
type compressionFlag byte

const (
	flagUncompressed compressionFlag = 0
	flagZstd         compressionFlag = 1
)

// codecPool holds the shared zstd encoder/decoder; both are safe for
// concurrent use once constructed, so one of each suffices per process.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	codecOnce   sync.Once
)

func codecs() (*zstd.Encoder, *zstd.Decoder) {
	codecOnce.Do(func() {
		zstdEncoder, _ = zstd.NewWriter(nil)
		zstdDecoder, _ = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder
}

// Encode serializes msg (one of the protocol message structs) into a
// [u32 len][u8 type][payload] frame, ready to hand to a MessagePort.
func Encode(msgType MessageType, msg any) ([]byte, error) {
	var payload, err = encodePayload(msgType, msg)
	if err != nil {
		return nil, errors.WithMessagef(err, "encode %s payload", msgType)
	}
	return WriteFrame(msgType, payload)
}

// Decode reads one frame from buf and returns the decoded message value
// (typed per msgType, see the switch below) along with bytes consumed.
func Decode(buf []byte) (msgType MessageType, msg any, consumed int, err error) {
	msgType, payload, consumed, err := ReadFrame(buf)
	if err != nil {
		return 0, nil, 0, err
	}
	msg, err = decodePayload(msgType, payload)
	if err != nil {
		return 0, nil, 0, errors.WithMessagef(err, "decode %s payload", msgType)
	}
	return msgType, msg, consumed, nil
}

func encodePayload(msgType MessageType, msg any) ([]byte, error) {
	var buf bytes.Buffer
	switch m := msg.(type) {
	case Ping:
		writeNodeId(&buf, m.Sender)
		writeU32(&buf, m.Sequence)
		writeU64(&buf, m.Incarnation)
	case Ack:
		writeNodeId(&buf, m.Sender)
		writeU32(&buf, m.Sequence)
		writeU64(&buf, m.Incarnation)
	case PingReq:
		writeNodeId(&buf, m.Sender)
		writeU32(&buf, m.Sequence)
		writeNodeId(&buf, m.Target)
	case DigestRequest:
		writeNodeId(&buf, m.Sender)
		writeDigests(&buf, m.Digests)
	case DigestResponse:
		writeNodeId(&buf, m.Sender)
		writeDigests(&buf, m.Digests)
	case DeltaRequest:
		writeNodeId(&buf, m.Sender)
		writeNodeId(&buf, m.Channel)
		writeNodeId(&buf, m.Stream)
		writeVersionVector(&buf, m.Since)
	case DeltaResponse:
		return encodeDeltaResponse(m)
	default:
		return nil, errors.Errorf("unsupported message value %T for type %s", msg, msgType)
	}
	return buf.Bytes(), nil
}

func decodePayload(msgType MessageType, payload []byte) (any, error) {
	var r = bytes.NewReader(payload)
	switch msgType {
	case TypePing:
		var m Ping
		var err error
		if m.Sender, err = readNodeId[model.NodeId](r); err != nil {
			return nil, err
		}
		if m.Sequence, err = readU32(r); err != nil {
			return nil, err
		}
		if m.Incarnation, err = readU64(r); err != nil {
			return nil, err
		}
		return m, nil
	case TypeAck:
		var m Ack
		var err error
		if m.Sender, err = readNodeId[model.NodeId](r); err != nil {
			return nil, err
		}
		if m.Sequence, err = readU32(r); err != nil {
			return nil, err
		}
		if m.Incarnation, err = readU64(r); err != nil {
			return nil, err
		}
		return m, nil
	case TypePingReq:
		var m PingReq
		var err error
		if m.Sender, err = readNodeId[model.NodeId](r); err != nil {
			return nil, err
		}
		if m.Sequence, err = readU32(r); err != nil {
			return nil, err
		}
		if m.Target, err = readNodeId[model.NodeId](r); err != nil {
			return nil, err
		}
		return m, nil
	case TypeDigestRequest:
		var m DigestRequest
		var err error
		if m.Sender, err = readNodeId[model.NodeId](r); err != nil {
			return nil, err
		}
		if m.Digests, err = readDigests(r); err != nil {
			return nil, err
		}
		return m, nil
	case TypeDigestResponse:
		var m DigestResponse
		var err error
		if m.Sender, err = readNodeId[model.NodeId](r); err != nil {
			return nil, err
		}
		if m.Digests, err = readDigests(r); err != nil {
			return nil, err
		}
		return m, nil
	case TypeDeltaRequest:
		var m DeltaRequest
		var err error
		if m.Sender, err = readNodeId[model.NodeId](r); err != nil {
			return nil, err
		}
		if m.Channel, err = readNodeId[model.ChannelId](r); err != nil {
			return nil, err
		}
		if m.Stream, err = readNodeId[model.StreamId](r); err != nil {
			return nil, err
		}
		if m.Since, err = readVersionVector(r); err != nil {
			return nil, err
		}
		return m, nil
	case TypeDeltaResponse:
		return decodeDeltaResponse(payload)
	default:
		return nil, errors.WithMessagef(ErrVersionMismatch, "type byte 0x%02x", byte(msgType))
	}
}

// encodeDeltaResponse encodes the header (sender/channel/stream) uncompressed,
// then the entries batch -- zstd-compressed when its raw size reaches
// compressionThresholdBytes, prefixed with a compressionFlag byte.
func encodeDeltaResponse(m DeltaResponse) ([]byte, error) {
	var header bytes.Buffer
	writeNodeId(&header, m.Sender)
	writeNodeId(&header, m.Channel)
	writeNodeId(&header, m.Stream)

	var entries bytes.Buffer
	writeU32(&entries, uint32(len(m.Entries)))
	for _, e := range m.Entries {
		writeWireEntry(&entries, e)
	}

	var enc, _ = codecs()
	var body = entries.Bytes()
	var flag = flagUncompressed
	if len(body) >= compressionThresholdBytes {
		flag = flagZstd
		body = enc.EncodeAll(body, nil)
	}

	var out bytes.Buffer
	out.Write(header.Bytes())
	out.WriteByte(byte(flag))
	out.Write(body)
	return out.Bytes(), nil
}

func decodeDeltaResponse(payload []byte) (DeltaResponse, error) {
	var r = bytes.NewReader(payload)
	var m DeltaResponse
	var err error
	if m.Sender, err = readNodeId[model.NodeId](r); err != nil {
		return m, err
	}
	if m.Channel, err = readNodeId[model.ChannelId](r); err != nil {
		return m, err
	}
	if m.Stream, err = readNodeId[model.StreamId](r); err != nil {
		return m, err
	}

	var flagByte byte
	if flagByte, err = r.ReadByte(); err != nil {
		return m, errors.Wrap(err, "read compression flag")
	}

	var rest = make([]byte, r.Len())
	if _, err = io.ReadFull(r, rest); err != nil {
		return m, errors.Wrap(err, "read entries body")
	}

	if compressionFlag(flagByte) == flagZstd {
		var _, dec = codecs()
		if rest, err = dec.DecodeAll(rest, nil); err != nil {
			return m, errors.Wrap(err, "zstd decompress entries body")
		}
	}

	var body = bytes.NewReader(rest)
	var count uint32
	if count, err = readU32(body); err != nil {
		return m, err
	}
	m.Entries = make([]WireEntry, count)
	for i := range m.Entries {
		if m.Entries[i], err = readWireEntry(body); err != nil {
			return m, err
		}
	}
	return m, nil
}

func writeDigests(buf *bytes.Buffer, digests map[model.ChannelId]ChannelDigest) {
	writeU32(buf, uint32(len(digests)))
	for channel, cd := range digests {
		writeNodeId(buf, channel)
		writeU32(buf, uint32(len(cd.Streams)))
		for stream, sd := range cd.Streams {
			writeNodeId(buf, stream)
			writeVersionVector(buf, sd.VV)
		}
	}
}

func readDigests(r *bytes.Reader) (map[model.ChannelId]ChannelDigest, error) {
	var count, err = readU32(r)
	if err != nil {
		return nil, err
	}
	var out = make(map[model.ChannelId]ChannelDigest, count)
	for i := uint32(0); i < count; i++ {
		var channel model.ChannelId
		if channel, err = readNodeId[model.ChannelId](r); err != nil {
			return nil, err
		}
		var streamCount uint32
		if streamCount, err = readU32(r); err != nil {
			return nil, err
		}
		var streams = make(map[model.StreamId]StreamDigest, streamCount)
		for j := uint32(0); j < streamCount; j++ {
			var stream model.StreamId
			if stream, err = readNodeId[model.StreamId](r); err != nil {
				return nil, err
			}
			var vv vvector.VersionVector
			if vv, err = readVersionVector(r); err != nil {
				return nil, err
			}
			streams[stream] = StreamDigest{Stream: stream, VV: vv}
		}
		out[channel] = ChannelDigest{Channel: channel, Streams: streams}
	}
	return out, nil
}

func writeVersionVector(buf *bytes.Buffer, vv vvector.VersionVector) {
	writeU32(buf, uint32(len(vv)))
	for author, seq := range vv {
		writeNodeId(buf, author)
		writeU64(buf, seq)
	}
}

func readVersionVector(r *bytes.Reader) (vvector.VersionVector, error) {
	var count, err = readU32(r)
	if err != nil {
		return nil, err
	}
	var vv = vvector.New()
	for i := uint32(0); i < count; i++ {
		var author model.NodeId
		if author, err = readNodeId[model.NodeId](r); err != nil {
			return nil, err
		}
		var seq uint64
		if seq, err = readU64(r); err != nil {
			return nil, err
		}
		vv[author] = seq
	}
	return vv, nil
}

func writeWireEntry(buf *bytes.Buffer, e WireEntry) {
	writeNodeId(buf, e.Author)
	writeU64(buf, e.Sequence)
	writeU64(buf, e.Timestamp.PhysicalMs)
	writeU32(buf, e.Timestamp.Logical)
	writeBytes(buf, e.Payload)
}

func readWireEntry(r *bytes.Reader) (WireEntry, error) {
	var e WireEntry
	var err error
	if e.Author, err = readNodeId[model.NodeId](r); err != nil {
		return e, err
	}
	if e.Sequence, err = readU64(r); err != nil {
		return e, err
	}
	if e.Timestamp.PhysicalMs, err = readU64(r); err != nil {
		return e, err
	}
	if e.Timestamp.Logical, err = readU32(r); err != nil {
		return e, err
	}
	if e.Payload, err = readBytesField(r); err != nil {
		return e, err
	}
	return e, nil
}

// --- primitive field helpers, all big-endian per spec §6.1 ---

func writeNodeId[T ~string](buf *bytes.Buffer, v T) {
	writeString(buf, string(v))
}

func readNodeId[T ~string](r *bytes.Reader) (T, error) {
	var s, err = readString(r)
	return T(s), err
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var b, err = readBytesField(r)
	return string(b), err
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readBytesField(r *bytes.Reader) ([]byte, error) {
	var n, err = readU32(r)
	if err != nil {
		return nil, err
	}
	var b = make([]byte, n)
	if _, err = io.ReadFull(r, b); err != nil {
		return nil, errors.Wrap(err, "read length-prefixed field")
	}
	return b, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errors.Wrap(err, "read u32")
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readU64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errors.Wrap(err, "read u64")
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}
