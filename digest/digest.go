// Package digest implements the DigestEngine of spec §4.5: computing a
// node's batched per-channel, per-stream version-vector digest, and
// diffing two digests to produce the delta work list an anti-entropy
// round needs.
package digest

import (
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/store"
	"github.com/neutrinographics/gossip-sub004/vvector"
)

// ChannelCatalog is the read-only view of local channels a DigestEngine
// needs: membership (to scope digests per peer) and the stream set (to
// enumerate what to digest).
type ChannelCatalog interface {
	AllChannels() []*model.Channel
}

// Engine is the reference DigestEngine.
type Engine struct {
	catalog ChannelCatalog
	store   *store.EntryStore
}

// New returns an Engine reading channel membership from catalog and
// version vectors from entryStore.
func New(catalog ChannelCatalog, entryStore *store.EntryStore) *Engine {
	return &Engine{catalog: catalog, store: entryStore}
}

// ComputeLocalDigest returns the local node's digest scoped to peer: every
// local channel the peer is a known member of, plus (per spec §4.5's
// resolved Open Question) every channel whose membership is entirely
// unknown -- but never a channel with a known membership record that
// excludes peer.
func (e *Engine) ComputeLocalDigest(peer model.NodeId) map[model.ChannelId]protocol.ChannelDigest {
	var out = make(map[model.ChannelId]protocol.ChannelDigest)

	for _, ch := range e.catalog.AllChannels() {
		if ch.HasKnownMembership() && !ch.IsMember(peer) {
			continue
		}

		var streams = make(map[model.StreamId]protocol.StreamDigest, len(ch.Streams))
		for sid := range ch.Streams {
			var key = model.ChannelStreamID{Channel: ch.ID, Stream: sid}
			streams[sid] = protocol.StreamDigest{Stream: sid, VV: e.store.GetVersionVector(key)}
		}
		out[ch.ID] = protocol.ChannelDigest{Channel: ch.ID, Streams: streams}
	}
	return out
}

// Gap is one (channel, stream) the diffing node lacks entries for, along
// with the version vector (Since) it already holds -- exactly the
// arguments a DeltaRequest needs.
type Gap struct {
	Channel model.ChannelId
	Stream  model.StreamId
	Since   vvector.VersionVector
}

// Diff compares local's digest against a peer's remote digest and returns
// the list of (channel, stream) pairs where remote holds sequences local's
// version vector does not yet cover (spec §4.5 "diff(local, remote)").
// Channels/streams absent from local are treated as an all-zero version
// vector (local has nothing yet).
func Diff(local, remote map[model.ChannelId]protocol.ChannelDigest) []Gap {
	var gaps []Gap

	for cid, remoteChannel := range remote {
		var localChannel, hasLocalChannel = local[cid]

		for sid, remoteStream := range remoteChannel.Streams {
			var localVV vvector.VersionVector
			if hasLocalChannel {
				if localStream, ok := localChannel.Streams[sid]; ok {
					localVV = localStream.VV
				}
			}
			if localVV == nil {
				localVV = vvector.New()
			}

			if owesSomething(localVV, remoteStream.VV) {
				gaps = append(gaps, Gap{Channel: cid, Stream: sid, Since: localVV})
			}
		}
	}
	return gaps
}

// owesSomething reports whether remote holds, for any author, a sequence
// higher than local's recorded high-water mark.
func owesSomething(local, remote vvector.VersionVector) bool {
	for author, remoteSeq := range remote {
		if remoteSeq > local.Get(author) {
			return true
		}
	}
	return false
}
