// Package memrepo provides the in-memory reference implementations of
// repository.LocalNodeRepository and repository.ChannelRepository, the
// default backends used by tests and single-process deployments.
package memrepo

import (
	"sync"

	"github.com/google/uuid"

	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
)

// LocalNodeRepository is a mutex-guarded, process-local
// repository.LocalNodeRepository. Nothing it holds survives a process
// restart -- that is the point of pairing it with storage/etcdrepo for any
// deployment that needs a node to recover its identity across restarts.
type LocalNodeRepository struct {
	mu          sync.Mutex
	nodeID      model.NodeId
	hasNodeID   bool
	clock       hlc.Clock
	hasClock    bool
	incarnation uint64
	hasIncarn   bool
}

// NewLocalNodeRepository returns an empty in-memory LocalNodeRepository.
func NewLocalNodeRepository() *LocalNodeRepository {
	return &LocalNodeRepository{}
}

func (r *LocalNodeRepository) GetNodeID() (model.NodeId, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodeID, r.hasNodeID, nil
}

func (r *LocalNodeRepository) SaveNodeID(id model.NodeId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodeID, r.hasNodeID = id, true
	return nil
}

// GenerateNodeID mints a fresh identity via RFC 4122 v4 UUID, the same
// scheme the pack's federation handshake code uses for peer identity
// (google/uuid). It does not persist the result; callers call SaveNodeID
// to do that explicitly, mirroring LocalNodeRepository's other get/save
// pairs.
func (r *LocalNodeRepository) GenerateNodeID() model.NodeId {
	return model.NodeId(uuid.NewString())
}

func (r *LocalNodeRepository) GetClockState() (hlc.Clock, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock, r.hasClock, nil
}

func (r *LocalNodeRepository) SaveClockState(c hlc.Clock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock, r.hasClock = c, true
	return nil
}

func (r *LocalNodeRepository) GetIncarnation() (uint64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.incarnation, r.hasIncarn, nil
}

func (r *LocalNodeRepository) SaveIncarnation(incarnation uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incarnation, r.hasIncarn = incarnation, true
	return nil
}
