package coordinator

import (
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
)

// AddPeer registers a remote node as a gossip peer (spec §4.8/§7). It
// rejects the local node itself and a peer already present.
func (c *Coordinator) AddPeer(id model.NodeId) (*model.Peer, error) {
	if id == c.local {
		return nil, model.ErrLocalNodeAsPeer
	}

	var peer *model.Peer
	var addErr error
	c.do(func(nowMs uint64) {
		peer, addErr = c.registry.AddPeer(id)
		if addErr != nil {
			return
		}
		c.publish(Event{Kind: PeerAdded, AtMs: nowMs, Peer: id})
	})
	return peer, addErr
}

// RemovePeer evicts a peer from the registry. It does not touch any
// already-merged entries attributed to that peer's author identity.
func (c *Coordinator) RemovePeer(id model.NodeId) error {
	var removeErr error
	c.do(func(nowMs uint64) {
		removeErr = c.registry.RemovePeer(id)
		if removeErr != nil {
			return
		}
		c.publish(Event{Kind: PeerRemoved, AtMs: nowMs, Peer: id})
	})
	return removeErr
}

// CreateChannel creates a new Channel with no members and no streams,
// persisting it via the configured ChannelRepository.
func (c *Coordinator) CreateChannel(id model.ChannelId) (*model.Channel, error) {
	var created *model.Channel
	var opErr error
	c.do(func(nowMs uint64) {
		if _, exists := c.channels[id]; exists {
			opErr = model.ErrChannelAlreadyExists
			return
		}
		var ch = model.NewChannel(id, c.clock.Now(nowMs))
		if err := c.channelRepo.Save(ch); err != nil {
			opErr = model.NewStorageSyncError(model.StorageFailure, err)
			return
		}
		c.channels[id] = ch
		created = ch
		c.publish(Event{Kind: ChannelCreated, AtMs: nowMs, Channel: id})
	})
	return created, opErr
}

// DeleteChannel removes a Channel and every stream recorded under it, both
// from the in-memory catalog and the backing EntryStore.
func (c *Coordinator) DeleteChannel(id model.ChannelId) error {
	var opErr error
	c.do(func(nowMs uint64) {
		if _, exists := c.channels[id]; !exists {
			opErr = model.ErrChannelNotFound
			return
		}
		if err := c.channelRepo.Delete(id); err != nil {
			opErr = model.NewStorageSyncError(model.StorageFailure, err)
			return
		}
		if err := c.store.ClearChannel(id); err != nil {
			opErr = model.NewStorageSyncError(model.StorageFailure, err)
			return
		}
		delete(c.channels, id)
		c.publish(Event{Kind: ChannelRemoved, AtMs: nowMs, Channel: id})
	})
	return opErr
}

// AddMember adds node to channel's advisory membership (spec §3: advisory
// only, never enforced by the protocol itself).
func (c *Coordinator) AddMember(channel model.ChannelId, node model.NodeId) error {
	var opErr error
	c.do(func(nowMs uint64) {
		var ch, exists = c.channels[channel]
		if !exists {
			opErr = model.ErrChannelNotFound
			return
		}
		if ch.IsMember(node) {
			opErr = model.ErrDuplicateMember
			return
		}
		ch.Members[node] = struct{}{}
		if err := c.channelRepo.Save(ch); err != nil {
			opErr = model.NewStorageSyncError(model.StorageFailure, err)
			return
		}
		c.publish(Event{Kind: MemberAdded, AtMs: nowMs, Channel: channel, Member: node})
	})
	return opErr
}

// RemoveMember removes node from channel's advisory membership.
func (c *Coordinator) RemoveMember(channel model.ChannelId, node model.NodeId) error {
	var opErr error
	c.do(func(nowMs uint64) {
		var ch, exists = c.channels[channel]
		if !exists {
			opErr = model.ErrChannelNotFound
			return
		}
		if !ch.IsMember(node) {
			opErr = model.ErrMemberNotFound
			return
		}
		delete(ch.Members, node)
		if err := c.channelRepo.Save(ch); err != nil {
			opErr = model.NewStorageSyncError(model.StorageFailure, err)
			return
		}
		c.publish(Event{Kind: MemberRemoved, AtMs: nowMs, Channel: channel, Member: node})
	})
	return opErr
}

// Append appends a new entry authored by the local node to the named
// stream within channel, creating the stream (and emitting StreamCreated)
// on first use. An oversized payload is rejected directly rather than
// surfaced as a SyncError, since it can never succeed and the caller needs
// to know before anything is attempted (spec §6.4 maxMessageBytes).
func (c *Coordinator) Append(channel model.ChannelId, stream model.StreamId, payload []byte) (model.LogEntry, error) {
	var entry model.LogEntry
	var opErr error
	c.do(func(nowMs uint64) {
		var ch, exists = c.channels[channel]
		if !exists {
			opErr = model.ErrChannelNotFound
			return
		}

		var key = model.ChannelStreamID{Channel: channel, Stream: stream}
		var seq = c.store.LatestSequence(key, c.local) + 1
		var ts = c.clock.Now(nowMs)

		entry = model.LogEntry{Author: c.local, Sequence: seq, Timestamp: ts, Payload: payload}
		if protocol.SizeBytesOverLimit(entry) {
			opErr = protocol.ErrMessageTooLarge
			entry = model.LogEntry{}
			return
		}

		var _, created = ch.EnsureStream(stream, ts)
		if created {
			if err := c.channelRepo.Save(ch); err != nil {
				opErr = model.NewStorageSyncError(model.StorageFailure, err)
				entry = model.LogEntry{}
				return
			}
			c.publish(Event{Kind: StreamCreated, AtMs: nowMs, Channel: channel, Stream: stream})
		}

		if _, err := c.store.Append(key, entry); err != nil {
			opErr = model.NewStorageSyncError(model.StorageFailure, err)
			entry = model.LogEntry{}
			return
		}
		c.publish(Event{Kind: EntryAppended, AtMs: nowMs, Channel: channel, Stream: stream, Author: c.local, Entry: entry})
	})
	return entry, opErr
}
