package repository

import (
	"sync"

	"github.com/neutrinographics/gossip-sub004/model"
)

// CachingChannelRepository wraps a ChannelRepository with an in-memory
// identity map, guaranteeing the stable aggregate identity spec §6.3
// requires: two FindByID calls for the same ChannelId return the same
// *model.Channel pointer, so a caller's in-place membership mutation is
// visible to every other holder of that pointer without a Save round-trip.
// This mirrors EntryStore's own cache-in-front-of-repo structure
// (store/entry_store.go's streamState map) applied to Channel aggregates.
type CachingChannelRepository struct {
	mu       sync.Mutex
	backing  ChannelRepository
	channels map[model.ChannelId]*model.Channel
}

// NewCachingChannelRepository wraps backing with an identity-map cache.
func NewCachingChannelRepository(backing ChannelRepository) *CachingChannelRepository {
	return &CachingChannelRepository{
		backing:  backing,
		channels: make(map[model.ChannelId]*model.Channel),
	}
}

func (c *CachingChannelRepository) FindByID(id model.ChannelId) (*model.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.channels[id]; ok {
		return ch, nil
	}
	var ch, err = c.backing.FindByID(id)
	if err != nil || ch == nil {
		return ch, err
	}
	c.channels[id] = ch
	return ch, nil
}

func (c *CachingChannelRepository) Save(ch *model.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.backing.Save(ch); err != nil {
		return err
	}
	c.channels[ch.ID] = ch
	return nil
}

func (c *CachingChannelRepository) Delete(id model.ChannelId) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.backing.Delete(id); err != nil {
		return err
	}
	delete(c.channels, id)
	return nil
}

func (c *CachingChannelRepository) ListIDs() ([]model.ChannelId, error) {
	return c.backing.ListIDs()
}

func (c *CachingChannelRepository) Exists(id model.ChannelId) (bool, error) {
	c.mu.Lock()
	if _, ok := c.channels[id]; ok {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()
	return c.backing.Exists(id)
}

func (c *CachingChannelRepository) Count() (int, error) {
	return c.backing.Count()
}
