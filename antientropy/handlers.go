package antientropy

import (
	log "github.com/sirupsen/logrus"

	"github.com/neutrinographics/gossip-sub004/digest"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/store"
)

// HandleDigestRequest answers an inbound DigestRequest from peer: it
// replies with the local digest and proactively pushes DeltaResponses for
// any gap small enough to push unsolicited (spec §4.6 "push-on-pull"),
// leaving larger gaps for the peer's own DeltaRequest.
func (e *Engine) HandleDigestRequest(peer model.NodeId, msg protocol.DigestRequest) error {
	var localDigest = e.digestEng.ComputeLocalDigest(peer)
	if err := e.transport.SendDigestResponse(peer, protocol.DigestResponse{Sender: e.local, Digests: localDigest}); err != nil {
		return err
	}

	var gaps = digest.Diff(msg.Digests, localDigest) // What peer owes itself is what WE can push: entries local has that peer's digest shows it lacks.
	for _, gap := range gaps {
		var key = model.ChannelStreamID{Channel: gap.Channel, Stream: gap.Stream}
		var entries = e.store.EntriesSince(key, gap.Since)
		if len(entries) == 0 || len(entries) > e.cfg.MaxPushEntries {
			continue // Large gaps are left for the peer's own DeltaRequest.
		}
		if err := e.transport.SendDeltaResponse(peer, protocol.DeltaResponse{
			Sender: e.local, Channel: gap.Channel, Stream: gap.Stream, Entries: toWire(entries),
		}); err != nil {
			log.WithFields(log.Fields{"peer": peer, "channel": gap.Channel, "stream": gap.Stream, "error": err}).
				Warn("push-on-pull delta send failed")
		}
	}
	return nil
}

// HandleDigestResponse processes an inbound DigestResponse for an
// AwaitingDigestResponse round: it computes the diff against the round's
// own local digest and sends a DeltaRequest for every gap, then
// transitions to AwaitingDeltas.
func (e *Engine) HandleDigestResponse(peer model.NodeId, msg protocol.DigestResponse) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var r, ok = e.rounds[peer]
	if !ok {
		return nil // Stray/late response for a round we've already abandoned.
	}
	r.mustState(stateAwaitingDigestResponse)

	var gaps = digest.Diff(r.localDigest, msg.Digests)
	r.expectedDeltas = make(map[model.ChannelStreamID]struct{}, len(gaps))
	for _, gap := range gaps {
		var key = model.ChannelStreamID{Channel: gap.Channel, Stream: gap.Stream}
		r.expectedDeltas[key] = struct{}{}
		if err := e.transport.SendDeltaRequest(peer, protocol.DeltaRequest{
			Sender: e.local, Channel: gap.Channel, Stream: gap.Stream, Since: gap.Since,
		}); err != nil {
			log.WithFields(log.Fields{"peer": peer, "channel": gap.Channel, "stream": gap.Stream, "error": err}).
				Warn("delta request send failed")
		}
	}
	r.state = stateAwaitingDeltas

	if len(r.expectedDeltas) == 0 {
		delete(e.rounds, peer)
	}
	return nil
}

// HandleDeltaRequest answers an inbound DeltaRequest by returning every
// entry the local store holds for (channel, stream) with sequence greater
// than the requester's Since, chunked to respect maxMessageBytes (spec
// §4.6 "large deltas are chunked").
func (e *Engine) HandleDeltaRequest(peer model.NodeId, msg protocol.DeltaRequest) error {
	var key = model.ChannelStreamID{Channel: msg.Channel, Stream: msg.Stream}
	var entries = e.store.EntriesSince(key, msg.Since)

	for _, chunk := range chunkByByteBudget(entries, e.cfg.MaxMessageBytes) {
		if err := e.transport.SendDeltaResponse(peer, protocol.DeltaResponse{
			Sender: e.local, Channel: msg.Channel, Stream: msg.Stream, Entries: toWire(chunk),
		}); err != nil {
			return err
		}
	}
	return nil
}

// HandleDeltaResponse merges msg's entries into the EntryStore (buffering
// any that arrive ahead of a gap via OutOfOrderBuffer), and reports the
// merge outcome for the Coordinator to emit EntriesMerged. If this
// completes every delta stream the round expected, the round returns to
// Idle (is removed).
func (e *Engine) HandleDeltaResponse(peer model.NodeId, msg protocol.DeltaResponse) (MergeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var key = model.ChannelStreamID{Channel: msg.Channel, Stream: msg.Stream}
	var merged []model.LogEntry
	var overflows []store.OverflowEvent

	for _, wire := range msg.Entries {
		var entry = fromWire(wire)
		var ok, err = e.store.Append(key, entry)
		if err != nil {
			overflows = append(overflows, e.oob.Enqueue(key, entry)...)
			continue
		}
		if ok {
			merged = append(merged, entry)
			var drained = e.oob.Drain(key, entry.Author, entry.Sequence)
			for _, d := range drained {
				if _, err := e.store.Append(key, d); err == nil {
					merged = append(merged, d)
				}
			}
		}
	}

	if r, ok := e.rounds[peer]; ok {
		delete(r.expectedDeltas, key)
		if len(r.expectedDeltas) == 0 {
			delete(e.rounds, peer)
		}
	}

	return MergeResult{
		Channel:    msg.Channel,
		Stream:     msg.Stream,
		Entries:    merged,
		NewVersion: e.store.GetVersionVector(key),
		Overflows:  overflows,
	}, nil
}

func toWire(entries []model.LogEntry) []protocol.WireEntry {
	var out = make([]protocol.WireEntry, len(entries))
	for i, e := range entries {
		out[i] = protocol.WireEntry{Author: e.Author, Sequence: e.Sequence, Timestamp: e.Timestamp, Payload: e.Payload}
	}
	return out
}

func fromWire(w protocol.WireEntry) model.LogEntry {
	return model.LogEntry{Author: w.Author, Sequence: w.Sequence, Timestamp: w.Timestamp, Payload: w.Payload}
}

// chunkByByteBudget splits entries (assumed already in stream order) into
// chunks whose total SizeBytes stays within maxBytes, never splitting a
// single entry across chunks.
func chunkByByteBudget(entries []model.LogEntry, maxBytes int) [][]model.LogEntry {
	if len(entries) == 0 {
		return nil
	}
	var chunks [][]model.LogEntry
	var current []model.LogEntry
	var size int
	for _, e := range entries {
		if size > 0 && size+e.SizeBytes() > maxBytes {
			chunks = append(chunks, current)
			current = nil
			size = 0
		}
		current = append(current, e)
		size += e.SizeBytes()
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
