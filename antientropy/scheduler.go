package antientropy

import (
	"math/rand"

	"github.com/neutrinographics/gossip-sub004/model"
)

// SchedulerConfig holds the spec §6.4 round-scheduling defaults.
type SchedulerConfig struct {
	GossipIntervalMs uint64
	Fanout           int
}

// DefaultSchedulerConfig returns the spec's documented defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{GossipIntervalMs: 5000, Fanout: 3}
}

// Scheduler drives fixed-interval anti-entropy rounds: each interval it
// selects up to Fanout peers uniformly at random from the reachable set,
// excluding any peer with an in-flight round, and starts a round with each
// (spec §4.6 "Scheduling").
type Scheduler struct {
	engine *Engine
	cfg    SchedulerConfig
	rng    *rand.Rand

	nextFireMs uint64
}

// NewScheduler returns a Scheduler driving engine at cfg's interval/fanout.
func NewScheduler(engine *Engine, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{engine: engine, cfg: cfg, rng: rand.New(rand.NewSource(1))}
}

// Tick starts a new gossip round (selecting peers from reachable) if the
// configured interval has elapsed since the last fire, returning the peers
// a round was started with. roundTimeoutMs is the per-peer round timeout,
// typically RttTracker.SuggestedTimeout(peer).
func (s *Scheduler) Tick(nowMs uint64, reachable []*model.Peer, roundTimeoutMs func(model.NodeId) uint64) []model.NodeId {
	if nowMs < s.nextFireMs {
		return nil
	}
	s.nextFireMs = nowMs + s.cfg.GossipIntervalMs

	var candidates []model.NodeId
	for _, p := range reachable {
		if !s.engine.InFlight(p.ID) {
			candidates = append(candidates, p.ID)
		}
	}
	s.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if len(candidates) > s.cfg.Fanout {
		candidates = candidates[:s.cfg.Fanout]
	}

	var started []model.NodeId
	for _, peer := range candidates {
		if err := s.engine.StartRound(peer, nowMs, roundTimeoutMs(peer)); err == nil {
			started = append(started, peer)
		}
	}
	return started
}
