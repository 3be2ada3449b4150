package swim

import (
	log "github.com/sirupsen/logrus"

	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/registry"
)

// HandlePing answers a direct or relayed probe with an Ack, piggy-backing
// the local incarnation so the prober can detect a stale suspicion.
func (d *Detector) HandlePing(msg protocol.Ping) {
	d.mu.Lock()
	var incarnation = d.localIncarnation
	d.mu.Unlock()

	if err := d.transport.SendAck(msg.Sender, protocol.Ack{Sender: d.local, Sequence: msg.Sequence, Incarnation: incarnation}); err != nil {
		log.WithFields(log.Fields{"peer": msg.Sender, "error": err}).Warn("failed to send ping ack")
	}
}

// HandlePingReq relays a Ping to Target on behalf of msg.Sender, recording
// the (sequence, originator) pair so that a subsequent HandleAck from
// Target can forward the Ack back to msg.Sender (spec §4.7 indirect probe
// steps 2/3; protocol.PingReq's doc comment: "forward any Ack back to
// Sender"). The relay entry is reaped by Detector.Tick if Target never
// acks.
func (d *Detector) HandlePingReq(msg protocol.PingReq, nowMs uint64) {
	d.mu.Lock()
	var incarnation = d.localIncarnation
	var timeoutMs = d.cfg.RttMaxMs
	if p, ok := d.registry.Get(msg.Target); ok {
		timeoutMs = uint64(d.rttTrackr.SuggestedTimeout(p.Metrics.Rtt).Milliseconds())
	}
	d.relays[msg.Sequence] = &pendingRelay{
		originator: msg.Sender,
		target:     msg.Target,
		sequence:   msg.Sequence,
		deadlineMs: nowMs + timeoutMs,
	}
	d.mu.Unlock()

	if err := d.transport.SendPing(msg.Target, protocol.Ping{Sender: d.local, Sequence: msg.Sequence, Incarnation: incarnation}); err != nil {
		log.WithFields(log.Fields{"target": msg.Target, "error": err}).Warn("failed to relay indirect probe ping")
	}
}

// HandleAck processes an Ack from msg.Sender. It is one of four things:
// a forward for a PingReq this node is relaying on another node's behalf
// (checked first, since a relay never has a pendingDirect/pendingIndirect
// of its own for msg.Sender), the answer to this node's own in-flight
// direct probe, the answer to this node's own in-flight indirect probe, or
// neither (a stray/late ack, ignored). For the non-relay cases it applies
// the incarnation-refutation rule (spec §4.7 "Suspicion and incarnation")
// and returns the resulting status transition, if any.
func (d *Detector) HandleAck(msg protocol.Ack, sampleRttMs float64, nowMs uint64) registry.StatusTransition {
	d.mu.Lock()

	if relay, ok := d.relays[msg.Sequence]; ok && relay.target == msg.Sender {
		delete(d.relays, msg.Sequence)
		d.mu.Unlock()

		var fwd = protocol.Ack{Sender: msg.Sender, Sequence: msg.Sequence, Incarnation: msg.Incarnation}
		if err := d.transport.SendAck(relay.originator, fwd); err != nil {
			log.WithFields(log.Fields{"peer": relay.originator, "error": err}).Warn("failed to forward relayed ack")
		}
		return registry.StatusTransition{}
	}

	defer d.mu.Unlock()

	var matchedDirect = d.direct != nil && d.direct.target == msg.Sender && d.direct.sequence == msg.Sequence
	var matchedIndirect = d.indirect != nil && d.indirect.target == msg.Sender && d.indirect.sequence == msg.Sequence

	if !matchedDirect && !matchedIndirect {
		return registry.StatusTransition{}
	}

	if matchedDirect {
		d.direct = nil
	}
	if matchedIndirect {
		d.indirect.acked = true
	}

	var rttEstimate = d.rttTrackr.Observe(peerRtt(d.registry, msg.Sender), sampleRttMs)
	if err := d.registry.RecordContact(msg.Sender, nowMs, rttEstimate); err != nil {
		log.WithFields(log.Fields{"peer": msg.Sender, "error": err}).Debug("ack from unknown peer")
		return registry.StatusTransition{}
	}

	delete(d.suspicions, msg.Sender)

	var transition, err = d.registry.TransitionStatus(msg.Sender, model.Reachable, msg.Incarnation)
	if err != nil {
		return registry.StatusTransition{}
	}
	return transition
}

func peerRtt(reg *registry.Registry, id model.NodeId) *model.RttEstimate {
	if p, ok := reg.Get(id); ok {
		return p.Metrics.Rtt
	}
	return nil
}
