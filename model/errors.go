package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// Domain errors are programming-invariant violations: the caller asked the
// operational API for something that can never be satisfied (spec §7).
// They are not recoverable and propagate directly to the caller, following
// the teacher's sentinel-error idiom (consumer/resolver.go's
// ErrResolverStopped).
var (
	ErrLocalNodeAsPeer      = errors.New("cannot add local node as a peer")
	ErrPeerNotFound         = errors.New("peer does not exist")
	ErrPeerAlreadyExists    = errors.New("peer already exists")
	ErrChannelNotFound      = errors.New("channel does not exist")
	ErrChannelAlreadyExists = errors.New("channel already exists")
	ErrStreamNotFound       = errors.New("stream does not exist")
	ErrDuplicateMember      = errors.New("node is already a member of the channel")
	ErrMemberNotFound       = errors.New("node is not a member of the channel")
)

// SyncErrorType enumerates the recoverable failure kinds a SyncError may
// carry (spec §7).
type SyncErrorType int

const (
	PeerUnreachable SyncErrorType = iota
	PeerTimeout
	MessageCorrupted
	MessageTooLarge
	VersionMismatch
	StorageFailure
	StorageFull
	TransformFailure
	ProtocolError
	BufferOverflow
	NotAMember
)

func (t SyncErrorType) String() string {
	switch t {
	case PeerUnreachable:
		return "PeerUnreachable"
	case PeerTimeout:
		return "PeerTimeout"
	case MessageCorrupted:
		return "MessageCorrupted"
	case MessageTooLarge:
		return "MessageTooLarge"
	case VersionMismatch:
		return "VersionMismatch"
	case StorageFailure:
		return "StorageFailure"
	case StorageFull:
		return "StorageFull"
	case TransformFailure:
		return "TransformFailure"
	case ProtocolError:
		return "ProtocolError"
	case BufferOverflow:
		return "BufferOverflow"
	case NotAMember:
		return "NotAMember"
	default:
		return "Unknown"
	}
}

// SyncErrorKind discriminates which aggregate a SyncError concerns. Go has
// no closed sum type cheap enough for a five-variant error to justify an
// interface-per-kind hierarchy (spec §9 "Polymorphism over error kinds"),
// so SyncError is instead one struct with a Kind tag and kind-specific
// optional fields, switched on by event handlers.
type SyncErrorKind int

const (
	PeerSyncError SyncErrorKind = iota
	ChannelSyncError
	StorageSyncError
	TransformSyncError
	BufferOverflowError
)

func (k SyncErrorKind) String() string {
	switch k {
	case PeerSyncError:
		return "PeerSyncError"
	case ChannelSyncError:
		return "ChannelSyncError"
	case StorageSyncError:
		return "StorageSyncError"
	case TransformSyncError:
		return "TransformSyncError"
	case BufferOverflowError:
		return "BufferOverflowError"
	default:
		return "Unknown"
	}
}

// SyncError is the expected, recoverable error family surfaced as a
// SyncErrorOccurred event rather than returned to an API caller (spec §7).
type SyncError struct {
	Type SyncErrorType

	ErrorKind SyncErrorKind
	Peer      NodeId
	Channel   ChannelId
	Stream    StreamId
	Author    NodeId
	Size      int
	Cause     error
}

func (e *SyncError) Error() string {
	var msg = fmt.Sprintf("%s: %s", e.ErrorKind, e.Type)
	if e.Peer != "" {
		msg += fmt.Sprintf(" peer=%s", e.Peer)
	}
	if e.Channel != "" {
		msg += fmt.Sprintf(" channel=%s", e.Channel)
	}
	if e.Stream != "" {
		msg += fmt.Sprintf(" stream=%s", e.Stream)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %s", e.Cause)
	}
	return msg
}

// Unwrap exposes Cause for errors.Is/errors.As and pkg/errors.Cause.
func (e *SyncError) Unwrap() error { return e.Cause }

// NewPeerSyncError reports a recoverable failure interacting with a peer.
func NewPeerSyncError(peer NodeId, typ SyncErrorType, cause error) *SyncError {
	return &SyncError{ErrorKind: PeerSyncError, Type: typ, Peer: peer, Cause: cause}
}

// NewChannelSyncError reports a recoverable failure scoped to a channel.
func NewChannelSyncError(channel ChannelId, typ SyncErrorType, cause error) *SyncError {
	return &SyncError{ErrorKind: ChannelSyncError, Type: typ, Channel: channel, Cause: cause}
}

// NewStorageSyncError reports a repository I/O failure.
func NewStorageSyncError(typ SyncErrorType, cause error) *SyncError {
	return &SyncError{ErrorKind: StorageSyncError, Type: typ, Cause: cause}
}

// NewTransformSyncError reports a failure decoding or transforming a
// protocol message, optionally scoped to a channel.
func NewTransformSyncError(channel ChannelId, cause error) *SyncError {
	return &SyncError{ErrorKind: TransformSyncError, Type: TransformFailure, Channel: channel, Cause: cause}
}

// NewBufferOverflowError reports an OutOfOrderBuffer eviction.
func NewBufferOverflowError(channel ChannelId, stream StreamId, author NodeId, size int) *SyncError {
	return &SyncError{
		ErrorKind: BufferOverflowError,
		Type:      BufferOverflow,
		Channel:   channel,
		Stream:    stream,
		Author:    author,
		Size:      size,
	}
}
