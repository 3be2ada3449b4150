// Package swim implements the SWIM-style failure detector of spec §4.7:
// round-robin direct probing, indirect probing via random relays,
// suspicion with a timeout, and incarnation-based refutation.
//
// The detector never owns a goroutine or a real timer (spec §5's
// single-threaded cooperative model): Tick and the Handle* methods are
// driven by the Coordinator's single owning goroutine and take the current
// time explicitly, in the teacher's style of explicit wall-clock
// parameters (hlc.Generator.Now(wallMs)) rather than ambient time.Now()
// calls, so the whole state machine is deterministically testable with a
// fake clock.
//
// Grounding: the probe/suspect/refute state machine and its tick-driven
// scheduling follow hashicorp/memberlist's state.go (vendored in the
// pack's other_examples as moby-moby's copy) -- an explicit NodeStateType
// enum, a schedule()/triggerFunc-style periodic pump, and a sequence-keyed
// ackHandler registry -- adapted to the spec's direct/indirect/suspect
// state space. memberlist itself is never imported.
package swim

import (
	"math/rand"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/registry"
	"github.com/neutrinographics/gossip-sub004/rtt"
)

// Transport is the subset of MessagePort the detector needs to send probe
// traffic. The Coordinator's MessagePort-backed implementation satisfies
// this directly.
type Transport interface {
	SendPing(to model.NodeId, msg protocol.Ping) error
	SendAck(to model.NodeId, msg protocol.Ack) error
	SendPingReq(to model.NodeId, msg protocol.PingReq) error
}

// Config holds the spec §6.4 failure-detector defaults.
type Config struct {
	ProbeIntervalMs      uint64
	IndirectProbeCount   int
	SuspectTimeoutMs     uint64
	DirectProbeThreshold int
	RttMinMs             uint64
	RttMaxMs             uint64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		ProbeIntervalMs:      1000,
		IndirectProbeCount:   3,
		SuspectTimeoutMs:     5000,
		DirectProbeThreshold: 1,
		RttMinMs:             200,
		RttMaxMs:             2000,
	}
}

type pendingDirect struct {
	target     model.NodeId
	sequence   uint32
	deadlineMs uint64
	startedMs  uint64
}

type pendingIndirect struct {
	target     model.NodeId
	sequence   uint32
	relays     []model.NodeId
	deadlineMs uint64
	startedMs  uint64
	acked      bool
}

type suspicion struct {
	target     model.NodeId
	deadlineMs uint64
}

// pendingRelay is a relay's bookkeeping for one PingReq it forwarded: the
// (sequence, target) pair it sent on as a Ping, and the originator the
// eventual Ack from target must be forwarded back to (spec §4.7 indirect
// probe step 2/3; protocol.PingReq's doc comment: "forward any Ack back to
// Sender"). Without this, a relay has no way to route target's Ack back to
// whichever peer asked it to probe on their behalf.
type pendingRelay struct {
	originator model.NodeId
	target     model.NodeId
	sequence   uint32
	deadlineMs uint64
}

// Detector is the reference SWIM failure detector.
type Detector struct {
	mu sync.Mutex

	local     model.NodeId
	registry  *registry.Registry
	rttTrackr *rtt.Tracker
	transport Transport
	cfg       Config
	rng       *rand.Rand

	nextSeq uint32
	rrPos   int

	direct     *pendingDirect
	indirect   *pendingIndirect
	suspicions map[model.NodeId]*suspicion

	// relays holds one pendingRelay per PingReq this node is currently
	// relaying on another node's behalf, keyed by the sequence number the
	// originator assigned (and that this node echoes when it relays the
	// Ping to target, so target's Ack carries it back unchanged).
	relays map[uint32]*pendingRelay

	localIncarnation uint64
}

// NewDetector returns a Detector for local, operating over reg, using
// tracker for adaptive timeouts and transport to send probe traffic.
func NewDetector(local model.NodeId, reg *registry.Registry, tracker *rtt.Tracker, transport Transport, cfg Config) *Detector {
	return &Detector{
		local:      local,
		registry:   reg,
		rttTrackr:  tracker,
		transport:  transport,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(1)),
		suspicions: make(map[model.NodeId]*suspicion),
		relays:     make(map[uint32]*pendingRelay),
	}
}

// PendingStartedMs returns the wall-clock time a still-outstanding probe to
// sender with the given sequence number was sent, so a caller holding a
// matching Ack can compute an elapsed-time RTT sample before calling
// HandleAck (which consumes the pending probe). The second return value is
// false if no direct or indirect probe matches.
func (d *Detector) PendingStartedMs(sender model.NodeId, sequence uint32) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.direct != nil && d.direct.target == sender && d.direct.sequence == sequence {
		return d.direct.startedMs, true
	}
	if d.indirect != nil && d.indirect.target == sender && d.indirect.sequence == sequence {
		return d.indirect.startedMs, true
	}
	return 0, false
}

func (d *Detector) nextSequence() uint32 {
	d.nextSeq++
	return d.nextSeq
}

// LocalIncarnation returns the detector's current self-incarnation, bumped
// by Refute whenever a peer reports this node as Suspected/Unreachable.
func (d *Detector) LocalIncarnation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localIncarnation
}

// Refute bumps the local node's incarnation so subsequent Acks carry a
// higher incarnation than whatever suspicion triggered the refutation
// (spec §4.7 "self-refutation").
func (d *Detector) Refute() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localIncarnation++
	return d.localIncarnation
}

// Tick drives one unit of the detector's periodic work: expiring timed-out
// probes and suspicions, and -- if no probe is currently in flight --
// starting the next round-robin direct probe. It returns the status
// transitions produced (the Coordinator translates these into
// PeerStatusChanged events).
func (d *Detector) Tick(nowMs uint64) []registry.StatusTransition {
	d.mu.Lock()
	defer d.mu.Unlock()

	var transitions []registry.StatusTransition

	transitions = append(transitions, d.expireDirectLocked(nowMs)...)
	transitions = append(transitions, d.expireIndirectLocked(nowMs)...)
	transitions = append(transitions, d.expireSuspicionsLocked(nowMs)...)
	d.expireRelaysLocked(nowMs)

	if d.direct == nil && d.indirect == nil {
		d.startNextDirectProbeLocked(nowMs)
	}
	return transitions
}

func (d *Detector) startNextDirectProbeLocked(nowMs uint64) {
	var candidates = d.registry.ProbeTargets()
	if len(candidates) == 0 {
		return
	}
	if d.rrPos >= len(candidates) {
		d.rrPos = 0
	}
	var target = candidates[d.rrPos]
	d.rrPos++

	var seq = d.nextSequence()
	var timeoutMs = uint64(d.rttTrackr.SuggestedTimeout(target.Metrics.Rtt).Milliseconds())
	if timeoutMs < d.cfg.RttMinMs {
		timeoutMs = d.cfg.RttMinMs
	}
	if timeoutMs > d.cfg.RttMaxMs {
		timeoutMs = d.cfg.RttMaxMs
	}

	d.direct = &pendingDirect{target: target.ID, sequence: seq, deadlineMs: nowMs + timeoutMs, startedMs: nowMs}

	if err := d.transport.SendPing(target.ID, protocol.Ping{Sender: d.local, Sequence: seq, Incarnation: d.localIncarnation}); err != nil {
		log.WithFields(log.Fields{"peer": target.ID, "error": err}).Warn("failed to send direct probe ping")
	}
}

func (d *Detector) expireDirectLocked(nowMs uint64) []registry.StatusTransition {
	if d.direct == nil || nowMs < d.direct.deadlineMs {
		return nil
	}
	var target = d.direct.target
	d.direct = nil

	var count, err = d.registry.RecordFailedProbe(target)
	if err != nil {
		return nil
	}
	log.WithFields(log.Fields{"peer": target, "failedProbeCount": count}).Debug("direct probe timed out")

	if count >= d.cfg.DirectProbeThreshold {
		d.startIndirectProbeLocked(target, nowMs)
	}
	return nil
}

func (d *Detector) startIndirectProbeLocked(target model.NodeId, nowMs uint64) {
	var candidates []model.NodeId
	for _, p := range d.registry.Reachable() {
		if p.ID != target {
			candidates = append(candidates, p.ID)
		}
	}
	d.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if len(candidates) > d.cfg.IndirectProbeCount {
		candidates = candidates[:d.cfg.IndirectProbeCount]
	}

	var seq = d.nextSequence()
	var directTimeoutMs = d.cfg.RttMinMs
	if p, ok := d.registry.Get(target); ok {
		directTimeoutMs = uint64(d.rttTrackr.SuggestedTimeout(p.Metrics.Rtt).Milliseconds())
	}
	d.indirect = &pendingIndirect{target: target, sequence: seq, relays: candidates, deadlineMs: nowMs + 3*directTimeoutMs, startedMs: nowMs}

	if len(candidates) == 0 {
		// No relays available: fail straight to suspicion next tick.
		return
	}
	for _, relay := range candidates {
		if err := d.transport.SendPingReq(relay, protocol.PingReq{Sender: d.local, Sequence: seq, Target: target}); err != nil {
			log.WithFields(log.Fields{"relay": relay, "target": target, "error": err}).Warn("failed to send indirect probe request")
		}
	}
}

func (d *Detector) expireIndirectLocked(nowMs uint64) []registry.StatusTransition {
	if d.indirect == nil || nowMs < d.indirect.deadlineMs {
		return nil
	}
	var target = d.indirect.target
	var acked = d.indirect.acked
	d.indirect = nil

	if acked {
		return nil
	}

	// No direct or relayed ack: begin suspicion.
	var transition, err = d.registry.TransitionStatus(target, model.Suspected, currentIncarnation(d.registry, target))
	if err != nil {
		return nil
	}
	d.suspicions[target] = &suspicion{target: target, deadlineMs: nowMs + d.cfg.SuspectTimeoutMs}
	if transition.Changed {
		return []registry.StatusTransition{transition}
	}
	return nil
}

func (d *Detector) expireSuspicionsLocked(nowMs uint64) []registry.StatusTransition {
	var transitions []registry.StatusTransition
	for target, s := range d.suspicions {
		if nowMs < s.deadlineMs {
			continue
		}
		delete(d.suspicions, target)

		var transition, err = d.registry.TransitionStatus(target, model.Unreachable, currentIncarnation(d.registry, target))
		if err != nil {
			continue
		}
		if transition.Changed {
			log.WithField("peer", target).Warn("peer marked unreachable: suspicion timed out without refutation")
			transitions = append(transitions, transition)
		}
	}
	return transitions
}

// expireRelaysLocked discards relay bookkeeping for PingReqs whose target
// never acked in time, so a silent target doesn't leak an entry in d.relays
// forever. There is nothing further to do on expiry: the originator's own
// pendingIndirect already times out independently via expireIndirectLocked.
func (d *Detector) expireRelaysLocked(nowMs uint64) {
	for seq, r := range d.relays {
		if nowMs >= r.deadlineMs {
			delete(d.relays, seq)
		}
	}
}

func currentIncarnation(reg *registry.Registry, id model.NodeId) uint64 {
	if p, ok := reg.Get(id); ok {
		return p.Incarnation
	}
	return 0
}
