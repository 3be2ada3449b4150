// Package memrepo provides the in-memory PeerRepository reference
// implementation of registry.PeerRepository. The registry unit tests use no
// repository at all (registry.New with a nil repo).
package memrepo

import (
	"sync"

	"github.com/neutrinographics/gossip-sub004/model"
)

// PeerRepository is a mutex-guarded, process-local registry.PeerRepository.
type PeerRepository struct {
	mu    sync.Mutex
	peers map[model.NodeId]*model.Peer
}

// New returns an empty in-memory PeerRepository.
func New() *PeerRepository {
	return &PeerRepository{peers: make(map[model.NodeId]*model.Peer)}
}

func (r *PeerRepository) FindByID(id model.NodeId) (*model.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p, ok = r.peers[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (r *PeerRepository) Save(peer *model.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers[peer.ID] = peer.Clone()
	return nil
}

func (r *PeerRepository) Delete(id model.NodeId) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.peers, id)
	return nil
}

func (r *PeerRepository) FindAll() ([]*model.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out = make([]*model.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (r *PeerRepository) FindReachable() ([]*model.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Peer
	for _, p := range r.peers {
		if p.Status == model.Reachable {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (r *PeerRepository) Exists(id model.NodeId) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var _, ok = r.peers[id]
	return ok, nil
}

func (r *PeerRepository) Count() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.peers), nil
}
