// Package registry implements the PeerRegistry of spec §3/§4.7: the
// authoritative, replace-by-key record of every known peer's liveness
// status, incarnation, and metrics. Status is mutated only by the SWIM
// failure detector; every other caller observes it read-only.
package registry

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"

	"github.com/neutrinographics/gossip-sub004/model"
)

// PeerRepository is the persistence capability a Registry is built on
// (spec §6.3).
type PeerRepository interface {
	FindByID(id model.NodeId) (*model.Peer, error)
	Save(peer *model.Peer) error
	Delete(id model.NodeId) error
	FindAll() ([]*model.Peer, error)
	FindReachable() ([]*model.Peer, error)
	Exists(id model.NodeId) (bool, error)
	Count() (int, error)
}

// Registry is the mutex-guarded reference PeerRegistry. Peers are never
// mutated in place: every update replaces the stored *model.Peer by key,
// per spec §3 "Lifecycle".
type Registry struct {
	mu    sync.RWMutex
	local model.NodeId
	repo  PeerRepository
	peers map[model.NodeId]*model.Peer
}

// New returns a Registry for localID, backed by repo. repo may be nil for
// a purely in-memory registry (used pervasively by component tests).
func New(localID model.NodeId, repo PeerRepository) *Registry {
	return &Registry{
		local: localID,
		repo:  repo,
		peers: make(map[model.NodeId]*model.Peer),
	}
}

// AddPeer registers a new Reachable peer. It is a DomainError
// (model.ErrLocalNodeAsPeer / model.ErrPeerAlreadyExists) to add the local
// node itself or a peer already present.
func (r *Registry) AddPeer(id model.NodeId) (*model.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == r.local {
		return nil, model.ErrLocalNodeAsPeer
	}
	if _, exists := r.peers[id]; exists {
		return nil, model.ErrPeerAlreadyExists
	}

	var p = model.NewPeer(id)
	if r.repo != nil {
		if err := r.repo.Save(p); err != nil {
			return nil, errors.WithMessage(err, "PeerRepository.Save")
		}
	}
	r.peers[id] = p
	log.WithField("peer", id).Info("peer added")
	return p, nil
}

// RemovePeer deregisters a peer. model.ErrPeerNotFound is a DomainError if
// id is unknown.
func (r *Registry) RemovePeer(id model.NodeId) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[id]; !exists {
		return model.ErrPeerNotFound
	}
	if r.repo != nil {
		if err := r.repo.Delete(id); err != nil {
			return errors.WithMessage(err, "PeerRepository.Delete")
		}
	}
	delete(r.peers, id)
	log.WithField("peer", id).Info("peer removed")
	return nil
}

// Get returns the current snapshot for id, or (nil, false) if unknown.
func (r *Registry) Get(id model.NodeId) (*model.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var p, ok = r.peers[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// All returns a stable-ordered snapshot of every known peer.
func (r *Registry) All() []*model.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out = make([]*model.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reachable returns a stable-ordered snapshot of every peer currently
// Reachable, for the anti-entropy scheduler and indirect-probe relay
// selection (spec §4.6/§4.7).
func (r *Registry) Reachable() []*model.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Peer
	for _, p := range r.peers {
		if p.Status == model.Reachable {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProbeTargets returns a stable-ordered snapshot of every peer eligible for
// direct probing: Reachable or Suspected (spec §4.7 "While Suspected,
// continue direct probes") -- but never Unreachable.
func (r *Registry) ProbeTargets() []*model.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Peer
	for _, p := range r.peers {
		if p.Status != model.Unreachable {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StatusTransition is the outcome of a call to TransitionStatus: the old
// and new status, suitable for emitting a PeerStatusChanged event.
type StatusTransition struct {
	Peer   model.NodeId
	Old    model.PeerStatus
	New    model.PeerStatus
	Changed bool
}

// TransitionStatus replaces id's status (and, if given, incarnation) with
// newStatus/newIncarnation, applying the monotonic-incarnation rule: a
// lower incoming incarnation than currently known is ignored (the update
// is stale) and TransitionStatus reports Changed=false. Called exclusively
// by the FailureDetector (spec §3 "status is mutated only by the
// FailureDetector").
func (r *Registry) TransitionStatus(id model.NodeId, newStatus model.PeerStatus, newIncarnation uint64) (StatusTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p, ok = r.peers[id]
	if !ok {
		return StatusTransition{}, model.ErrPeerNotFound
	}
	if newIncarnation < p.Incarnation {
		return StatusTransition{Peer: id, Old: p.Status, New: p.Status}, nil
	}

	var old = p.Status
	var clone = p.Clone()
	clone.Status = newStatus
	clone.Incarnation = newIncarnation
	if err := r.replaceLocked(clone); err != nil {
		return StatusTransition{}, err
	}

	if old != newStatus {
		log.WithFields(log.Fields{"peer": id, "from": old.String(), "to": newStatus.String()}).
			Info("peer status changed")
	}
	return StatusTransition{Peer: id, Old: old, New: newStatus, Changed: old != newStatus}, nil
}

// RecordContact updates id's lastContactMs, resets failedProbeCount, and
// (if rtt is non-nil) replaces its RTT estimate, after a successful direct
// or indirect probe acknowledgment.
func (r *Registry) RecordContact(id model.NodeId, nowMs uint64, rtt *model.RttEstimate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p, ok = r.peers[id]
	if !ok {
		return model.ErrPeerNotFound
	}
	var clone = p.Clone()
	clone.LastContactMs = nowMs
	clone.FailedProbeCount = 0
	if rtt != nil {
		clone.Metrics.Rtt = rtt
	}
	return r.replaceLocked(clone)
}

// RecordFailedProbe increments id's failedProbeCount and returns the new
// count, for the FailureDetector's directProbeThreshold comparison.
func (r *Registry) RecordFailedProbe(id model.NodeId) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p, ok = r.peers[id]
	if !ok {
		return 0, model.ErrPeerNotFound
	}
	var clone = p.Clone()
	clone.FailedProbeCount++
	if err := r.replaceLocked(clone); err != nil {
		return 0, err
	}
	return clone.FailedProbeCount, nil
}

// RecordMessage accumulates lifetime and sliding-window traffic counters
// for id after sending or receiving a protocol message.
func (r *Registry) RecordMessage(id model.NodeId, sent bool, bytes int, nowMs uint64, windowMs uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p, ok = r.peers[id]
	if !ok {
		return model.ErrPeerNotFound
	}
	var clone = p.Clone()
	if sent {
		clone.Metrics.MessagesSent++
		clone.Metrics.BytesSent += uint64(bytes)
	} else {
		clone.Metrics.MessagesReceived++
		clone.Metrics.BytesReceived += uint64(bytes)
	}
	if nowMs-clone.Metrics.Window.WindowStartMs >= windowMs {
		clone.Metrics.Window.WindowStartMs = nowMs
		clone.Metrics.Window.MessagesInWindow = 0
	}
	clone.Metrics.Window.MessagesInWindow++
	return r.replaceLocked(clone)
}

// RecordAntiEntropy stamps id's lastAntiEntropyMs after a completed round.
func (r *Registry) RecordAntiEntropy(id model.NodeId, nowMs uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p, ok = r.peers[id]
	if !ok {
		return model.ErrPeerNotFound
	}
	var clone = p.Clone()
	clone.LastAntiEntropyMs = nowMs
	return r.replaceLocked(clone)
}

func (r *Registry) replaceLocked(p *model.Peer) error {
	if r.repo != nil {
		if err := r.repo.Save(p); err != nil {
			return errors.WithMessage(err, "PeerRepository.Save")
		}
	}
	r.peers[p.ID] = p
	return nil
}
