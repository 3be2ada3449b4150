package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/neutrinographics/gossip-sub004/model"
)

// MaxMessageBytes is the spec §6.4 maxMessageBytes default: any frame
// larger than this is rejected with model.MessageTooLarge.
const MaxMessageBytes = 32768

// ErrMessageTooLarge mirrors model.SyncErrorType.MessageTooLarge for
// callers that only need the sentinel, not a full model.SyncError.
var ErrMessageTooLarge = errors.New("message exceeds maxMessageBytes")

// ErrFrameTruncated is returned by ReadFrame when buf does not yet contain
// a complete frame (the caller should buffer more bytes and retry).
var ErrFrameTruncated = errors.New("frame truncated")

// ErrVersionMismatch mirrors model.SyncErrorType.VersionMismatch for an
// unrecognized message type byte (spec §6.1: "a version byte at message
// type position; version mismatch yields VersionMismatch").
var ErrVersionMismatch = errors.New("unrecognized message type")

// WriteFrame encodes the literal [u32 length_be][u8 type][payload] framing
// of spec §6.1: length is the byte count of (type byte + payload).
func WriteFrame(msgType MessageType, payload []byte) ([]byte, error) {
	var frameLen = 1 + len(payload)
	if frameLen > MaxMessageBytes {
		return nil, errors.WithMessagef(ErrMessageTooLarge, "frame of %d bytes exceeds %d", frameLen, MaxMessageBytes)
	}

	var out = make([]byte, 4+frameLen)
	binary.BigEndian.PutUint32(out[0:4], uint32(frameLen))
	out[4] = byte(msgType)
	copy(out[5:], payload)
	return out, nil
}

// ReadFrame decodes one frame from the front of buf, returning the message
// type, its payload, and the number of bytes consumed. It returns
// ErrFrameTruncated if buf does not yet hold a complete frame -- callers
// reading from a stream-oriented transport keep buffering and retrying.
func ReadFrame(buf []byte) (msgType MessageType, payload []byte, consumed int, err error) {
	if len(buf) < 4 {
		return 0, nil, 0, ErrFrameTruncated
	}
	var frameLen = binary.BigEndian.Uint32(buf[0:4])
	if frameLen == 0 {
		return 0, nil, 0, errors.New("zero-length frame")
	}
	if int(frameLen) > MaxMessageBytes {
		return 0, nil, 0, errors.WithMessagef(ErrMessageTooLarge, "declared frame length %d exceeds %d", frameLen, MaxMessageBytes)
	}
	if len(buf) < 4+int(frameLen) {
		return 0, nil, 0, ErrFrameTruncated
	}

	msgType = MessageType(buf[4])
	payload = buf[5 : 4+frameLen]
	consumed = 4 + int(frameLen)
	return msgType, payload, consumed, nil
}

// SizeBytesOverLimit reports whether a LogEntry's SizeBytes() alone already
// exceeds MaxMessageBytes -- used to reject an oversized local append
// before it is ever framed.
func SizeBytesOverLimit(entry model.LogEntry) bool {
	return entry.SizeBytes() > MaxMessageBytes
}
