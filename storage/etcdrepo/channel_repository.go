package etcdrepo

import (
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/neutrinographics/gossip-sub004/model"
)

// ChannelRepository is a repository.ChannelRepository backed by etcd, keyed
// under prefix+"/channels/<id>". Streams hold no entries of their own
// (EntryStore owns those); a Channel record stays small regardless of log
// volume.
type ChannelRepository struct {
	cli    *clientv3.Client
	prefix string
}

// NewChannelRepository returns a ChannelRepository storing keys under
// prefix+"/channels/".
func NewChannelRepository(cli *clientv3.Client, prefix string) *ChannelRepository {
	return &ChannelRepository{cli: cli, prefix: prefix}
}

func (r *ChannelRepository) key(id model.ChannelId) string {
	return fmt.Sprintf("%s/channels/%s", r.prefix, id)
}

func (r *ChannelRepository) FindByID(id model.ChannelId) (*model.Channel, error) {
	var ch model.Channel
	var found, err = get(r.cli, r.key(id), &ch)
	if err != nil || !found {
		return nil, err
	}
	return &ch, nil
}

func (r *ChannelRepository) Save(ch *model.Channel) error {
	return put(r.cli, r.key(ch.ID), ch)
}

func (r *ChannelRepository) Delete(id model.ChannelId) error {
	return del(r.cli, r.key(id))
}

func (r *ChannelRepository) ListIDs() ([]model.ChannelId, error) {
	var channels, err = getPrefix[model.Channel](r.cli, r.prefix+"/channels/")
	if err != nil {
		return nil, err
	}
	var out = make([]model.ChannelId, len(channels))
	for i, ch := range channels {
		out[i] = ch.ID
	}
	return out, nil
}

func (r *ChannelRepository) Exists(id model.ChannelId) (bool, error) {
	var ch model.Channel
	return get(r.cli, r.key(id), &ch)
}

func (r *ChannelRepository) Count() (int, error) {
	return countPrefix(r.cli, r.prefix+"/channels/")
}
