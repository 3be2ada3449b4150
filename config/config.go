// Package config defines the gossipnode process's command-line and
// environment configuration surface, grouped the way the teacher's own
// examples/word-count/wordcountctl/main.go groups its Config struct:
// nested structs tagged group/namespace/env-namespace, parsed by
// github.com/jessevdk/go-flags and overridable by environment variables.
package config

import (
	"github.com/pkg/errors"

	"github.com/neutrinographics/gossip-sub004/antientropy"
	"github.com/neutrinographics/gossip-sub004/coordinator"
	"github.com/neutrinographics/gossip-sub004/swim"
)

// NodeConfig identifies this process within the gossip mesh.
type NodeConfig struct {
	ID string `long:"id" description:"this node's identity; generated and persisted on first run if empty"`
}

// TransportConfig selects and configures the wire transport a gossipnode
// process listens on and dials peers over.
type TransportConfig struct {
	Kind       string `long:"kind" choice:"ws" choice:"grpc" default:"ws" description:"transport implementation"`
	ListenAddr string `long:"listen-addr" default:":7946" description:"address this node accepts inbound peer connections on"`
}

// StorageConfig selects and configures the repositories backing Channel,
// peer, and local-identity state.
type StorageConfig struct {
	Kind           string   `long:"kind" choice:"memory" choice:"etcd" default:"memory" description:"repository backend"`
	EtcdEndpoints  []string `long:"etcd-endpoint" description:"etcd client endpoints; repeatable (required when kind=etcd)"`
	EtcdKeyPrefix  string   `long:"etcd-key-prefix" default:"/gossip" description:"key prefix under which all repository keys are written"`
}

// SwimConfig exposes swim.Config's fields as flags, mirroring
// swim.DefaultConfig()'s defaults.
type SwimConfig struct {
	ProbeIntervalMs      uint64 `long:"probe-interval-ms" default:"1000" description:"interval between direct probe rounds"`
	IndirectProbeCount   int    `long:"indirect-probe-count" default:"3" description:"number of relays used for an indirect probe"`
	SuspectTimeoutMs     uint64 `long:"suspect-timeout-ms" default:"5000" description:"time a Suspected peer is given to refute before being marked Unreachable"`
	DirectProbeThreshold int    `long:"direct-probe-threshold" default:"1" description:"consecutive direct probe failures before falling back to indirect probing"`
	RttMinMs             uint64 `long:"rtt-min-ms" default:"200" description:"floor applied to an RTT sample used as a probe timeout"`
	RttMaxMs             uint64 `long:"rtt-max-ms" default:"2000" description:"ceiling applied to an RTT sample used as a probe timeout"`
}

// AntiEntropyConfig exposes antientropy.Config and antientropy.SchedulerConfig's
// fields as flags.
type AntiEntropyConfig struct {
	MaxPushEntries   int    `long:"max-push-entries" default:"64" description:"largest gap, in entries, pushed unsolicited in reply to a digest request"`
	MaxMessageBytes  int    `long:"max-message-bytes" default:"32768" description:"byte budget (summed entry SizeBytes) of one DeltaResponse chunk; the frame size cap itself is fixed at protocol.MaxMessageBytes"`
	GossipIntervalMs uint64 `long:"gossip-interval-ms" default:"5000" description:"interval between anti-entropy rounds"`
	Fanout           int    `long:"fanout" default:"3" description:"number of peers selected per anti-entropy round"`
}

// EngineConfig exposes the remaining coordinator.Config fields not owned by
// SwimConfig or AntiEntropyConfig.
type EngineConfig struct {
	RttMinSampleMs        uint64 `long:"rtt-min-sample-ms" default:"50" description:"floor applied to a raw RTT sample before smoothing"`
	RttMaxSampleMs        uint64 `long:"rtt-max-sample-ms" default:"30000" description:"ceiling applied to a raw RTT sample before smoothing"`
	OobMaxBufferPerAuthor int    `long:"oob-max-buffer-per-author" default:"1000" description:"maximum out-of-order entries buffered per author awaiting a gap fill"`
	OobMaxTotalBuffer     int    `long:"oob-max-total-buffer" default:"10000" description:"maximum out-of-order entries buffered across all authors"`
	MaxClockSkewMs        uint64 `long:"max-clock-skew-ms" default:"60000" description:"maximum tolerated physical-clock skew in a remote timestamp"`
	EventBufferSize       int    `long:"event-buffer-size" default:"256" description:"size of each Broadcaster subscriber's event channel"`
}

// LogConfig controls the process-wide logrus configuration.
type LogConfig struct {
	Level string `long:"level" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info" description:"minimum logged level"`
	JSON  bool   `long:"json" description:"emit logs as JSON instead of logrus's default text formatter"`
}

// Config is the full gossipnode process configuration, parsed by
// cmd/gossipnode/main.go's flags.Parser.
type Config struct {
	Node        NodeConfig        `group:"Node Identity" namespace:"node" env-namespace:"NODE"`
	Transport   TransportConfig   `group:"Transport" namespace:"transport" env-namespace:"TRANSPORT"`
	Storage     StorageConfig     `group:"Storage" namespace:"storage" env-namespace:"STORAGE"`
	Swim        SwimConfig        `group:"Failure Detector" namespace:"swim" env-namespace:"SWIM"`
	AntiEntropy AntiEntropyConfig `group:"Anti-Entropy" namespace:"anti-entropy" env-namespace:"ANTI_ENTROPY"`
	Engine      EngineConfig      `group:"Engine" namespace:"engine" env-namespace:"ENGINE"`
	Log         LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

// Validate rejects combinations Parse alone cannot catch, such as an etcd
// backend with no endpoints configured.
func (c *Config) Validate() error {
	if c.Storage.Kind == "etcd" && len(c.Storage.EtcdEndpoints) == 0 {
		return errors.New("storage.etcd-endpoint is required when storage.kind=etcd")
	}
	if c.Engine.RttMinSampleMs > c.Engine.RttMaxSampleMs {
		return errors.New("engine.rtt-min-sample-ms must not exceed engine.rtt-max-sample-ms")
	}
	if c.Swim.RttMinMs > c.Swim.RttMaxMs {
		return errors.New("swim.rtt-min-ms must not exceed swim.rtt-max-ms")
	}
	return nil
}

// CoordinatorConfig translates the parsed flags into a coordinator.Config,
// starting from coordinator.DefaultConfig() so any field this package
// doesn't expose as a flag still carries its documented default.
func (c *Config) CoordinatorConfig() coordinator.Config {
	var cfg = coordinator.DefaultConfig()

	cfg.Swim = swim.Config{
		ProbeIntervalMs:      c.Swim.ProbeIntervalMs,
		IndirectProbeCount:   c.Swim.IndirectProbeCount,
		SuspectTimeoutMs:     c.Swim.SuspectTimeoutMs,
		DirectProbeThreshold: c.Swim.DirectProbeThreshold,
		RttMinMs:             c.Swim.RttMinMs,
		RttMaxMs:             c.Swim.RttMaxMs,
	}
	cfg.AntiEntropy = antientropy.Config{
		MaxPushEntries:  c.AntiEntropy.MaxPushEntries,
		MaxMessageBytes: c.AntiEntropy.MaxMessageBytes,
	}
	cfg.Scheduler = antientropy.SchedulerConfig{
		GossipIntervalMs: c.AntiEntropy.GossipIntervalMs,
		Fanout:           c.AntiEntropy.Fanout,
	}
	cfg.RttMinSampleMs = c.Engine.RttMinSampleMs
	cfg.RttMaxSampleMs = c.Engine.RttMaxSampleMs
	cfg.OobMaxBufferPerAuthor = c.Engine.OobMaxBufferPerAuthor
	cfg.OobMaxTotalBuffer = c.Engine.OobMaxTotalBuffer
	cfg.MaxClockSkewMs = c.Engine.MaxClockSkewMs
	cfg.EventBufferSize = c.Engine.EventBufferSize

	return cfg
}
