package repository_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/repository"
)

// decodingChannelRepository stands in for storage/etcdrepo.ChannelRepository:
// every FindByID deserializes a fresh *model.Channel, the way a JSON-decoding
// backend would, rather than returning a shared pointer.
type decodingChannelRepository struct {
	saved map[model.ChannelId]model.Channel
}

func newDecodingChannelRepository() *decodingChannelRepository {
	return &decodingChannelRepository{saved: make(map[model.ChannelId]model.Channel)}
}

func (r *decodingChannelRepository) FindByID(id model.ChannelId) (*model.Channel, error) {
	var snapshot, ok = r.saved[id]
	if !ok {
		return nil, nil
	}
	var decoded = snapshot
	return &decoded, nil
}

func (r *decodingChannelRepository) Save(ch *model.Channel) error {
	r.saved[ch.ID] = *ch
	return nil
}

func (r *decodingChannelRepository) Delete(id model.ChannelId) error {
	delete(r.saved, id)
	return nil
}

func (r *decodingChannelRepository) ListIDs() ([]model.ChannelId, error) {
	var ids = make([]model.ChannelId, 0, len(r.saved))
	for id := range r.saved {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *decodingChannelRepository) Exists(id model.ChannelId) (bool, error) {
	var _, ok = r.saved[id]
	return ok, nil
}

func (r *decodingChannelRepository) Count() (int, error) {
	return len(r.saved), nil
}

func TestCachingChannelRepositoryReturnsStableIdentity(t *testing.T) {
	var backing = newDecodingChannelRepository()
	var ch = model.NewChannel("room-1", hlc.Clock{})
	require.NoError(t, backing.Save(ch))

	var cache = repository.NewCachingChannelRepository(backing)

	var first, err = cache.FindByID("room-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	var second, err2 = cache.FindByID("room-1")
	require.NoError(t, err2)

	assert.Same(t, first, second, "repeated FindByID calls must return the same *model.Channel")

	// Mutating the cached pointer must be visible to any other holder of it.
	first.Members["peer-a"] = struct{}{}
	assert.Contains(t, second.Members, model.NodeId("peer-a"))
}

func TestCachingChannelRepositorySavePopulatesIdentityMap(t *testing.T) {
	var backing = newDecodingChannelRepository()
	var cache = repository.NewCachingChannelRepository(backing)

	var ch = model.NewChannel("room-2", hlc.Clock{})
	require.NoError(t, cache.Save(ch))

	var found, err = cache.FindByID("room-2")
	require.NoError(t, err)
	assert.Same(t, ch, found, "Save should seed the identity map so a later FindByID skips the backing decode")
}

func TestCachingChannelRepositoryDeleteEvictsIdentityMap(t *testing.T) {
	var backing = newDecodingChannelRepository()
	var cache = repository.NewCachingChannelRepository(backing)

	var ch = model.NewChannel("room-3", hlc.Clock{})
	require.NoError(t, cache.Save(ch))
	require.NoError(t, cache.Delete("room-3"))

	var found, err = cache.FindByID("room-3")
	require.NoError(t, err)
	assert.Nil(t, found)
}
