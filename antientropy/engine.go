// Package antientropy implements the AntiEntropyEngine of spec §4.6: one
// digest → delta → merge round per peer, driven as an explicit
// enum-driven state machine in the style of the teacher's appendFSM
// (broker/append_fsm.go) -- a roundState enum, a mustState assertion that
// logs-and-panics on an unreachable transition, rather than a
// goroutine-per-round design.
package antientropy

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"

	"github.com/neutrinographics/gossip-sub004/digest"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/rtt"
	"github.com/neutrinographics/gossip-sub004/store"
)

// roundState is the per-(peer, round) state, mirroring appendState's use
// of a small string enum.
type roundState string

const (
	stateIdle                   roundState = ""
	stateAwaitingDigestResponse roundState = "awaitingDigestResponse"
	stateAwaitingDeltas         roundState = "awaitingDeltas"
)

// Transport is the subset of MessagePort the engine needs.
type Transport interface {
	SendDigestRequest(to model.NodeId, msg protocol.DigestRequest) error
	SendDigestResponse(to model.NodeId, msg protocol.DigestResponse) error
	SendDeltaRequest(to model.NodeId, msg protocol.DeltaRequest) error
	SendDeltaResponse(to model.NodeId, msg protocol.DeltaResponse) error
}

// Config holds the spec §6.4 anti-entropy defaults.
type Config struct {
	MaxPushEntries int
	MaxMessageBytes int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{MaxPushEntries: 64, MaxMessageBytes: 32768}
}

// round is one (peer, round) instance of the state machine.
type round struct {
	peer           model.NodeId
	state          roundState
	localDigest    map[model.ChannelId]protocol.ChannelDigest
	expectedDeltas map[model.ChannelStreamID]struct{}
	deadlineMs     uint64
}

func (r *round) mustState(s roundState) {
	if r.state != s {
		log.WithFields(log.Fields{"peer": r.peer, "expect": s, "actual": r.state}).
			Panic("unexpected anti-entropy round state")
	}
}

// MergeResult reports one stream's worth of entries newly committed to the
// EntryStore during a round, for the Coordinator to translate into an
// EntriesMerged event (and, if any entries overflowed the OutOfOrderBuffer,
// BufferOverflowOccurred events).
type MergeResult struct {
	Channel    model.ChannelId
	Stream     model.StreamId
	Entries    []model.LogEntry
	NewVersion map[model.NodeId]uint64
	Overflows  []store.OverflowEvent
}

// Engine is the reference AntiEntropyEngine.
type Engine struct {
	mu sync.Mutex

	local     model.NodeId
	digestEng *digest.Engine
	store     *store.EntryStore
	oob       *store.OutOfOrderBuffer
	transport Transport
	rttTrackr *rtt.Tracker
	cfg       Config

	rounds map[model.NodeId]*round
}

// New returns an Engine for local, driving rounds over transport.
func New(local model.NodeId, digestEng *digest.Engine, entryStore *store.EntryStore, oob *store.OutOfOrderBuffer, transport Transport, tracker *rtt.Tracker, cfg Config) *Engine {
	return &Engine{
		local:     local,
		digestEng: digestEng,
		store:     entryStore,
		oob:       oob,
		transport: transport,
		rttTrackr: tracker,
		cfg:       cfg,
		rounds:    make(map[model.NodeId]*round),
	}
}

// InFlight reports whether a round with peer is currently active, for the
// scheduler's "excluding any peer with an in-flight round" rule.
func (e *Engine) InFlight(peer model.NodeId) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.rounds[peer]
	return ok
}

// StartRound begins a new round with peer: Idle → send DigestRequest →
// AwaitingDigestResponse. Returns an error if a round with peer is already
// in flight.
func (e *Engine) StartRound(peer model.NodeId, nowMs uint64, timeoutMs uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, inFlight := e.rounds[peer]; inFlight {
		return errors.Errorf("anti-entropy round already in flight with peer %s", peer)
	}

	var localDigest = e.digestEng.ComputeLocalDigest(peer)
	var r = &round{peer: peer, state: stateIdle, localDigest: localDigest, deadlineMs: nowMs + timeoutMs}
	r.mustState(stateIdle)

	if err := e.transport.SendDigestRequest(peer, protocol.DigestRequest{Sender: e.local, Digests: localDigest}); err != nil {
		return errors.WithMessage(err, "send DigestRequest")
	}
	r.state = stateAwaitingDigestResponse
	e.rounds[peer] = r
	return nil
}

// Tick abandons any round past its deadline, emitting the peer it was
// abandoned with (the Coordinator turns this into a PeerSyncError event;
// FailureDetector liveness is untouched, per spec §4.6).
func (e *Engine) Tick(nowMs uint64) []model.NodeId {
	e.mu.Lock()
	defer e.mu.Unlock()

	var abandoned []model.NodeId
	for peer, r := range e.rounds {
		if nowMs >= r.deadlineMs {
			delete(e.rounds, peer)
			abandoned = append(abandoned, peer)
			log.WithField("peer", peer).Warn("anti-entropy round abandoned: timeout")
		}
	}
	return abandoned
}
