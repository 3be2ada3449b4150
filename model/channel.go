package model

import "github.com/neutrinographics/gossip-sub004/hlc"

// Stream is an ordered multi-log within a Channel: one append-only sequence
// per author. Streams carry no behavior of their own here; EntryStore and
// vvector.VersionVector implement the operations spec §3 describes for them.
// This type is the aggregate record a Channel holds per StreamId.
type Stream struct {
	ID ChannelStreamID
	// CreatedAtHlc stamps Stream creation for deterministic event ordering
	// and log-field correlation (SPEC_FULL.md §3.1 supplement).
	CreatedAtHlc hlc.Clock
}

// ChannelStreamID names a Stream scoped to its owning Channel -- the
// (channel, stream) pair every EntryStore operation is keyed by.
type ChannelStreamID struct {
	Channel ChannelId
	Stream  StreamId
}

// Channel is a named set of advisory members and the streams exchanged
// under it. Membership is advisory only (spec §3): entries from
// non-members are still accepted and merged, and surfaced via the
// NonMemberEntriesRejected observability event at the application's
// discretion, never filtered by the protocol itself.
type Channel struct {
	ID      ChannelId
	Members map[NodeId]struct{}
	Streams map[StreamId]*Stream
	// CreatedAtHlc stamps Channel creation (SPEC_FULL.md §3.1 supplement).
	CreatedAtHlc hlc.Clock
}

// NewChannel returns an empty Channel with no members or streams.
func NewChannel(id ChannelId, createdAt hlc.Clock) *Channel {
	return &Channel{
		ID:           id,
		Members:      make(map[NodeId]struct{}),
		Streams:      make(map[StreamId]*Stream),
		CreatedAtHlc: createdAt,
	}
}

// IsMember reports whether node is an advisory member of the channel.
func (c *Channel) IsMember(node NodeId) bool {
	_, ok := c.Members[node]
	return ok
}

// HasKnownMembership reports whether the channel currently has at least
// one member. This distinguishes "membership unknown, default to all local
// channels" from "membership known, but this peer shares none" for
// DigestEngine.computeLocalDigest (spec §4.5, §9 Open Question #2).
func (c *Channel) HasKnownMembership() bool {
	return len(c.Members) > 0
}

// EnsureStream returns the named Stream, creating it (with createdAt as its
// creation timestamp) if it does not yet exist. The second return value
// reports whether the Stream was newly created, so callers can decide
// whether to emit StreamCreated.
func (c *Channel) EnsureStream(id StreamId, createdAt hlc.Clock) (*Stream, bool) {
	if s, ok := c.Streams[id]; ok {
		return s, false
	}
	var s = &Stream{ID: ChannelStreamID{Channel: c.ID, Stream: id}, CreatedAtHlc: createdAt}
	c.Streams[id] = s
	return s, true
}
