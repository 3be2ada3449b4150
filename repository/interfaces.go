// Package repository defines the persistence capabilities of spec §6.3
// that sit outside EntryStore/PeerRegistry's own repository interfaces:
// a node's durable identity and clock state, and a Channel catalog's
// backing store. Two backend families implement these interfaces:
// repository/memrepo (in-memory, default) and storage/etcdrepo
// (etcd-backed, for deployments that already run etcd for coordination).
package repository

import (
	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
)

// LocalNodeRepository persists the identity and generator state a node
// must recover across restarts: its NodeId, HLC generator state, and SWIM
// incarnation counter (spec §6.3).
type LocalNodeRepository interface {
	GetNodeID() (model.NodeId, bool, error)
	SaveNodeID(id model.NodeId) error
	GenerateNodeID() model.NodeId

	GetClockState() (hlc.Clock, bool, error)
	SaveClockState(c hlc.Clock) error

	GetIncarnation() (uint64, bool, error)
	SaveIncarnation(incarnation uint64) error
}

// ChannelRepository persists Channel aggregates (spec §6.3). Callers must
// see stable aggregate identity across repeated FindByID calls -- the
// in-memory caching decorator in repository/cache.go guarantees this over
// a backend (such as storage/etcdrepo) that would otherwise decode a fresh
// *model.Channel value on every read.
type ChannelRepository interface {
	FindByID(id model.ChannelId) (*model.Channel, error)
	Save(ch *model.Channel) error
	Delete(id model.ChannelId) error
	ListIDs() ([]model.ChannelId, error)
	Exists(id model.ChannelId) (bool, error)
	Count() (int, error)
}
