package etcdrepo

import (
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/neutrinographics/gossip-sub004/model"
)

// PeerRepository is a registry.PeerRepository backed by etcd, keyed under
// prefix+"/peers/<id>". Suitable for any deployment size: a Peer record is
// small and bounded regardless of how many entries flow through the
// channels it participates in.
type PeerRepository struct {
	cli    *clientv3.Client
	prefix string
}

// NewPeerRepository returns a PeerRepository storing keys under
// prefix+"/peers/".
func NewPeerRepository(cli *clientv3.Client, prefix string) *PeerRepository {
	return &PeerRepository{cli: cli, prefix: prefix}
}

func (r *PeerRepository) key(id model.NodeId) string {
	return fmt.Sprintf("%s/peers/%s", r.prefix, id)
}

func (r *PeerRepository) FindByID(id model.NodeId) (*model.Peer, error) {
	var p model.Peer
	var found, err = get(r.cli, r.key(id), &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (r *PeerRepository) Save(peer *model.Peer) error {
	return put(r.cli, r.key(peer.ID), peer)
}

func (r *PeerRepository) Delete(id model.NodeId) error {
	return del(r.cli, r.key(id))
}

func (r *PeerRepository) FindAll() ([]*model.Peer, error) {
	var peers, err = getPrefix[model.Peer](r.cli, r.prefix+"/peers/")
	if err != nil {
		return nil, err
	}
	var out = make([]*model.Peer, len(peers))
	for i := range peers {
		out[i] = &peers[i]
	}
	return out, nil
}

func (r *PeerRepository) FindReachable() ([]*model.Peer, error) {
	var all, err = r.FindAll()
	if err != nil {
		return nil, err
	}
	var out []*model.Peer
	for _, p := range all {
		if p.Status == model.Reachable {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *PeerRepository) Exists(id model.NodeId) (bool, error) {
	var p model.Peer
	return get(r.cli, r.key(id), &p)
}

func (r *PeerRepository) Count() (int, error) {
	return countPrefix(r.cli, r.prefix+"/peers/")
}
