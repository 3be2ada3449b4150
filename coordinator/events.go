package coordinator

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/store"
	"github.com/neutrinographics/gossip-sub004/vvector"
)

// EventKind discriminates the domain-event stream the Coordinator
// publishes (spec §4.8). Go has no cheap closed sum type for a
// fifteen-variant event, so Event is one struct with a Kind tag and
// kind-specific optional fields -- the same "polymorphism over kinds"
// choice spec §9 already makes for model.SyncError.
type EventKind int

const (
	PeerAdded EventKind = iota
	PeerRemoved
	PeerStatusChanged
	PeerOperationSkipped
	ChannelCreated
	ChannelRemoved
	MemberAdded
	MemberRemoved
	StreamCreated
	EntryAppended
	EntriesMerged
	StreamCompacted
	BufferOverflowOccurred
	NonMemberEntriesRejected
	SyncErrorOccurred
)

func (k EventKind) String() string {
	switch k {
	case PeerAdded:
		return "PeerAdded"
	case PeerRemoved:
		return "PeerRemoved"
	case PeerStatusChanged:
		return "PeerStatusChanged"
	case PeerOperationSkipped:
		return "PeerOperationSkipped"
	case ChannelCreated:
		return "ChannelCreated"
	case ChannelRemoved:
		return "ChannelRemoved"
	case MemberAdded:
		return "MemberAdded"
	case MemberRemoved:
		return "MemberRemoved"
	case StreamCreated:
		return "StreamCreated"
	case EntryAppended:
		return "EntryAppended"
	case EntriesMerged:
		return "EntriesMerged"
	case StreamCompacted:
		return "StreamCompacted"
	case BufferOverflowOccurred:
		return "BufferOverflowOccurred"
	case NonMemberEntriesRejected:
		return "NonMemberEntriesRejected"
	case SyncErrorOccurred:
		return "SyncErrorOccurred"
	default:
		return "Unknown"
	}
}

// Event is one domain occurrence published by the Coordinator. Only the
// fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind EventKind
	AtMs uint64

	Peer       model.NodeId
	OldStatus  model.PeerStatus
	NewStatus  model.PeerStatus
	Reason     string

	Channel model.ChannelId
	Stream  model.StreamId
	Member  model.NodeId
	Author  model.NodeId

	Entry      model.LogEntry
	Entries    []model.LogEntry
	NewVersion vvector.VersionVector

	Compaction store.CompactionResult
	Overflow   store.OverflowEvent

	Err *model.SyncError
}

// DefaultEventBufferSize is the spec §6.4 eventBufferSize default: the
// per-subscriber channel capacity.
const DefaultEventBufferSize = 256

// Broadcaster fans Events out to any number of subscribers (spec §4.8). A
// subscriber whose channel is full has its oldest buffered event dropped to
// make room for the new one, with a logged warning -- the spec leaves the
// overflow policy implementation-defined but requires it be documented;
// drop-oldest (rather than drop-newest or block-the-publisher) keeps a slow
// subscriber from ever stalling the Coordinator's single owning goroutine.
type Broadcaster struct {
	mu      sync.Mutex
	bufSize int
	subs    map[chan Event]struct{}
}

// NewBroadcaster returns a Broadcaster whose subscriber channels have
// capacity bufSize (DefaultEventBufferSize if zero or negative).
func NewBroadcaster(bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = DefaultEventBufferSize
	}
	return &Broadcaster{bufSize: bufSize, subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener and returns its receive-only channel.
// Callers must eventually call Unsubscribe with the same channel to stop
// receiving and let the Broadcaster release it.
func (b *Broadcaster) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ch = make(chan Event, b.bufSize)
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel previously returned
// by Subscribe.
func (b *Broadcaster) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if sub == ch {
			delete(b.subs, sub)
			close(sub)
			return
		}
	}
}

// Publish fans e out to every current subscriber, dropping each
// subscriber's oldest buffered event (with a warning) if its channel is
// full.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub <- e:
		default:
			select {
			case <-sub:
				log.WithField("event", e.Kind).Warn("event subscriber buffer full, dropped oldest event")
			default:
			}
			select {
			case sub <- e:
			default:
				// Subscriber drained and refilled concurrently by a
				// non-Coordinator reader; give up on this event rather
				// than spin.
			}
		}
	}
}
