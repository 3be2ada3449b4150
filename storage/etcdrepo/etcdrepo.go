// Package etcdrepo implements the repository interfaces of spec §6.3 over
// etcd, so a deployment can survive process restarts without standing up a
// database. It intentionally does not reach for the teacher's
// allocator.KeySpace/Decoder machinery (consumer/key_space.go,
// consumer/resolver.go): that machinery decodes Etcd values as Gazette's
// own protobuf ShardSpec/ConsumerSpec/ReplicaStatus messages and watches a
// shared allocator.State, neither of which this module has any equivalent
// of. Instead this package follows the teacher's plainer clientv3.Client
// usage (a *clientv3.Client field, context-scoped calls, pkg/errors
// wrapping) and JSON-encodes each aggregate directly -- the one place this
// module reaches for stdlib encoding/json rather than a protobuf codec,
// because none of these aggregates are protobuf messages and generating
// .pb.go bindings for them would require running protoc, which this
// exercise forbids running.
package etcdrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultRequestTimeout bounds every etcd round trip this package makes.
const DefaultRequestTimeout = 5 * time.Second

func put(cli *clientv3.Client, key string, value any) error {
	var encoded, err = json.Marshal(value)
	if err != nil {
		return errors.WithMessagef(err, "marshal %s", key)
	}
	var ctx, cancel = context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	if _, err := cli.Put(ctx, key, string(encoded)); err != nil {
		return errors.WithMessagef(err, "etcd Put %s", key)
	}
	return nil
}

func get(cli *clientv3.Client, key string, out any) (found bool, err error) {
	var ctx, cancel = context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	var resp, getErr = cli.Get(ctx, key)
	if getErr != nil {
		return false, errors.WithMessagef(getErr, "etcd Get %s", key)
	}
	if len(resp.Kvs) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(resp.Kvs[0].Value, out); err != nil {
		return false, errors.WithMessagef(err, "unmarshal %s", key)
	}
	return true, nil
}

func del(cli *clientv3.Client, key string) error {
	var ctx, cancel = context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	if _, err := cli.Delete(ctx, key); err != nil {
		return errors.WithMessagef(err, "etcd Delete %s", key)
	}
	return nil
}

func getPrefix[T any](cli *clientv3.Client, prefix string) ([]T, error) {
	var ctx, cancel = context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	var resp, err = cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.WithMessagef(err, "etcd Get prefix %s", prefix)
	}
	var out = make([]T, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var v T
		if err := json.Unmarshal(kv.Value, &v); err != nil {
			return nil, errors.WithMessagef(err, "unmarshal %s", string(kv.Key))
		}
		out = append(out, v)
	}
	return out, nil
}

func countPrefix(cli *clientv3.Client, prefix string) (int, error) {
	var ctx, cancel = context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()
	var resp, err = cli.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, errors.WithMessagef(err, "etcd Get count %s", prefix)
	}
	return int(resp.Count), nil
}
