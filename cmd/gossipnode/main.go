package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/neutrinographics/gossip-sub004/config"
	"github.com/neutrinographics/gossip-sub004/coordinator"
	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/internal/bootstrap"
	"github.com/neutrinographics/gossip-sub004/metrics"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/registry"
	regmemrepo "github.com/neutrinographics/gossip-sub004/registry/memrepo"
	"github.com/neutrinographics/gossip-sub004/repository"
	"github.com/neutrinographics/gossip-sub004/repository/memrepo"
	"github.com/neutrinographics/gossip-sub004/storage/etcdrepo"
	"github.com/neutrinographics/gossip-sub004/transport/grpcport"
	"github.com/neutrinographics/gossip-sub004/transport/wsport"
)

var cfg = new(config.Config)

// openStorage constructs the ChannelRepository/LocalNodeRepository/PeerRepository
// triple cfg.Storage selects, the same construction cmdRun.Execute and the
// admin sub-commands (cmdPeerAdd, cmdChannelCreate) both need.
func openStorage() (repository.ChannelRepository, repository.LocalNodeRepository, registry.PeerRepository, error) {
	switch cfg.Storage.Kind {
	case "memory":
		log.Warn("storage.kind=memory: repository writes are process-local and invisible to a separately running node")
		return memrepo.NewChannelRepository(), memrepo.NewLocalNodeRepository(), regmemrepo.New(), nil
	case "etcd":
		var cli, err = clientv3.New(clientv3.Config{
			Endpoints:   cfg.Storage.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, nil, nil, errors.WithMessage(err, "connect to etcd")
		}
		return etcdrepo.NewChannelRepository(cli, cfg.Storage.EtcdKeyPrefix),
			etcdrepo.NewLocalNodeRepository(cli, cfg.Storage.EtcdKeyPrefix),
			etcdrepo.NewPeerRepository(cli, cfg.Storage.EtcdKeyPrefix),
			nil
	default:
		return nil, nil, nil, errors.Errorf("unknown storage kind %q", cfg.Storage.Kind)
	}
}

type cmdRun struct {
	Peers       []string `long:"peer" description:"id@host:port of a peer to dial at startup; repeatable"`
	MetricsAddr string   `long:"metrics-addr" default:":9090" description:"address the Prometheus /metrics endpoint listens on"`
}

// Execute starts the node, dials any startup peers, and blocks until an
// interrupt or termination signal is received. wsport.Port.Dial and
// grpcport.Port.Dial take different argument shapes (a URL vs. a bare
// dial target), so the dial closure is built once per transport kind
// instead of trying to unify the two signatures.
func (cmd *cmdRun) Execute([]string) error {
	bootstrap.Must(cfg.Validate(), "invalid configuration")
	configureLogging(cfg.Log)

	var channelRepo, localNodeRepo, peerRepo, storageErr = openStorage()
	bootstrap.Must(storageErr, "open storage backend")

	var local = resolveLocalNodeID(localNodeRepo)
	log.WithField("node", local).Info("resolved local node identity")

	var transport coordinator.MessagePort
	var dial func(addr string, peer model.NodeId) error

	switch cfg.Transport.Kind {
	case "ws":
		var wp = wsport.NewPort(local)
		var mux = http.NewServeMux()
		mux.HandleFunc("/gossip", func(w http.ResponseWriter, r *http.Request) {
			if err := wp.Accept(w, r); err != nil {
				log.WithField("error", err).Warn("websocket accept failed")
			}
		})
		go func() {
			bootstrap.Must(http.ListenAndServe(cfg.Transport.ListenAddr, mux), "websocket transport listener exited")
		}()
		transport = wp
		dial = func(addr string, peer model.NodeId) error {
			return wp.Dial(context.Background(), "ws://"+addr+"/gossip", peer)
		}
	case "grpc":
		var gp = grpcport.NewPort(local)
		var lis, err = net.Listen("tcp", cfg.Transport.ListenAddr)
		bootstrap.Must(err, "listen for grpc transport")
		go func() {
			if err := gp.Serve(lis); err != nil {
				log.WithField("error", err).Error("grpc transport listener exited")
			}
		}()
		transport = gp
		dial = func(addr string, peer model.NodeId) error {
			return gp.Dial(context.Background(), addr, peer)
		}
	default:
		return errors.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}

	var m = metrics.NewMetrics()

	var node, err = coordinator.New(local, peerRepo, channelRepo, nil, localNodeRepo, transport, cfg.CoordinatorConfig())
	bootstrap.Must(err, "construct coordinator")
	node.Start()

	var events = node.Events().Subscribe()
	go func() {
		for e := range events {
			m.Observe(e)
		}
	}()

	for _, spec := range cmd.Peers {
		var id, addr, ok = strings.Cut(spec, "@")
		if !ok {
			log.WithField("peer", spec).Warn("malformed --peer, expected id@host:port")
			continue
		}
		if _, err := node.AddPeer(model.NodeId(id)); err != nil {
			log.WithFields(log.Fields{"peer": id, "error": err}).Warn("failed to register startup peer")
			continue
		}
		if err := dial(addr, model.NodeId(id)); err != nil {
			log.WithFields(log.Fields{"peer": id, "addr": addr, "error": err}).Warn("failed to dial startup peer")
		}
	}

	var metricsMux = http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		bootstrap.Must(http.ListenAndServe(cmd.MetricsAddr, metricsMux), "metrics listener exited")
	}()

	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	node.Stop()
	return nil
}

// resolveLocalNodeID honors an explicitly configured node id, otherwise
// recovers a previously persisted one, otherwise mints and persists a
// fresh one -- mirroring repository.LocalNodeRepository's documented
// get/generate/save convention.
func resolveLocalNodeID(repo repository.LocalNodeRepository) model.NodeId {
	if cfg.Node.ID != "" {
		var id = model.NodeId(cfg.Node.ID)
		bootstrap.Must(repo.SaveNodeID(id), "persist configured node id")
		return id
	}

	var id, found, err = repo.GetNodeID()
	bootstrap.Must(err, "load persisted node id")
	if found {
		return id
	}

	id = repo.GenerateNodeID()
	bootstrap.Must(repo.SaveNodeID(id), "persist generated node id")
	return id
}

// cmdPeerAdd implements `peer add`, an offline admin command that writes a
// new model.Peer straight into the configured PeerRepository, for a
// deployment that provisions peer membership ahead of a node coming up
// rather than dialing --peer at startup.
type cmdPeerAdd struct {
	Args struct {
		ID string `positional-arg-name:"node-id" required:"1"`
	} `positional-args:"yes"`
	Label []string `long:"label" description:"key=value advisory label; repeatable"`
}

func (cmd *cmdPeerAdd) Execute([]string) error {
	bootstrap.Must(cfg.Validate(), "invalid configuration")
	configureLogging(cfg.Log)

	var id = model.NodeId(cmd.Args.ID)
	bootstrap.Must(id.Validate(), "invalid node id")

	var _, _, peerRepo, err = openStorage()
	bootstrap.Must(err, "open storage backend")

	if exists, err := peerRepo.Exists(id); err != nil {
		return errors.WithMessage(err, "check for existing peer")
	} else if exists {
		return errors.Errorf("peer %q already exists", id)
	}

	var peer = model.NewPeer(id)
	for _, kv := range cmd.Label {
		var k, v, ok = strings.Cut(kv, "=")
		if !ok {
			log.WithField("label", kv).Warn("malformed --label, expected key=value; skipped")
			continue
		}
		peer.Labels[k] = v
	}

	bootstrap.Must(peerRepo.Save(peer), "persist peer")
	log.WithField("peer", id).Info("peer added to repository")
	return nil
}

// cmdChannelCreate implements `channel create`, an offline admin command
// that writes a new model.Channel straight into the configured
// ChannelRepository, mirroring coordinator.Coordinator.CreateChannel's
// Save-then-publish shape minus the event publication a standalone process
// has no subscriber for.
type cmdChannelCreate struct {
	Args struct {
		ID string `positional-arg-name:"channel-id" required:"1"`
	} `positional-args:"yes"`
	Member []string `long:"member" description:"node id granted advisory membership; repeatable"`
}

func (cmd *cmdChannelCreate) Execute([]string) error {
	bootstrap.Must(cfg.Validate(), "invalid configuration")
	configureLogging(cfg.Log)

	var id = model.ChannelId(cmd.Args.ID)

	var channelRepo, _, _, err = openStorage()
	bootstrap.Must(err, "open storage backend")

	if exists, err := channelRepo.Exists(id); err != nil {
		return errors.WithMessage(err, "check for existing channel")
	} else if exists {
		return errors.Errorf("channel %q already exists", id)
	}

	var clock = hlc.NewGenerator(hlc.Zero, 0)
	var ch = model.NewChannel(id, clock.Now(uint64(time.Now().UnixMilli())))
	for _, m := range cmd.Member {
		ch.Members[model.NodeId(m)] = struct{}{}
	}

	bootstrap.Must(channelRepo.Save(ch), "persist channel")
	log.WithField("channel", id).Info("channel created")
	return nil
}

func configureLogging(c config.LogConfig) {
	if c.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	var level, err = log.ParseLevel(c.Level)
	bootstrap.Must(err, "parse log level")
	log.SetLevel(level)
}

func main() {
	var parser = flags.NewParser(cfg, flags.Default)

	var _, err = parser.AddCommand("run", "Run a gossip node",
		"Start this process as a gossip node, accepting peer connections and serving anti-entropy and failure-detection traffic until terminated.",
		&cmdRun{})
	bootstrap.Must(err, "failed to add run command")

	var peerCmd, peerErr = parser.AddCommand("peer", "Manage peer repository state", "Offline peer-repository administration, operating directly against the configured storage backend.", &struct{}{})
	bootstrap.Must(peerErr, "failed to add peer command")
	_, err = peerCmd.AddCommand("add", "Add a peer", "Register a peer in the configured PeerRepository without requiring a running node.", &cmdPeerAdd{})
	bootstrap.Must(err, "failed to add peer add command")

	var channelCmd, channelErr = parser.AddCommand("channel", "Manage channel repository state", "Offline channel-repository administration, operating directly against the configured storage backend.", &struct{}{})
	bootstrap.Must(channelErr, "failed to add channel command")
	_, err = channelCmd.AddCommand("create", "Create a channel", "Create a channel in the configured ChannelRepository without requiring a running node.", &cmdChannelCreate{})
	bootstrap.Must(err, "failed to add channel create command")

	bootstrap.MustParseArgs(parser)
}
