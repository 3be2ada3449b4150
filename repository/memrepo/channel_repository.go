package memrepo

import (
	"sync"

	"github.com/neutrinographics/gossip-sub004/model"
)

// ChannelRepository is a mutex-guarded, process-local
// repository.ChannelRepository.
type ChannelRepository struct {
	mu       sync.Mutex
	channels map[model.ChannelId]*model.Channel
}

// NewChannelRepository returns an empty in-memory ChannelRepository.
func NewChannelRepository() *ChannelRepository {
	return &ChannelRepository{channels: make(map[model.ChannelId]*model.Channel)}
}

func (r *ChannelRepository) FindByID(id model.ChannelId) (*model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[id], nil
}

func (r *ChannelRepository) Save(ch *model.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID] = ch
	return nil
}

func (r *ChannelRepository) Delete(id model.ChannelId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
	return nil
}

func (r *ChannelRepository) ListIDs() ([]model.ChannelId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out = make([]model.ChannelId, 0, len(r.channels))
	for id := range r.channels {
		out = append(out, id)
	}
	return out, nil
}

func (r *ChannelRepository) Exists(id model.ChannelId) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var _, ok = r.channels[id]
	return ok, nil
}

func (r *ChannelRepository) Count() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels), nil
}
