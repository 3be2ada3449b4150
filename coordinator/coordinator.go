// Package coordinator implements the Coordinator of spec §4.8: the
// single-threaded cooperative owner of every other component (HLC
// generator, PeerRegistry, EntryStore, OutOfOrderBuffer, DigestEngine,
// AntiEntropyEngine/Scheduler, SWIM Detector). It exposes the system's only
// public operational API and publishes every domain event on a
// Broadcaster.
//
// All mutation of shared state happens on one owning goroutine (runLoop),
// matching the teacher's preference for an owning goroutine over ambient
// locking wherever an aggregate has a clear owner, and Go's usual "don't
// communicate by sharing memory" idiom -- grounded on consumer/service.go's
// QueueTasks/Stopping() lifecycle pair, adapted from a task.Group-driven
// design to an explicit command channel since this package has no
// allocator.State to watch.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/trace"

	"github.com/neutrinographics/gossip-sub004/antientropy"
	"github.com/neutrinographics/gossip-sub004/digest"
	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/protocol"
	"github.com/neutrinographics/gossip-sub004/registry"
	"github.com/neutrinographics/gossip-sub004/repository"
	"github.com/neutrinographics/gossip-sub004/rtt"
	"github.com/neutrinographics/gossip-sub004/store"
	"github.com/neutrinographics/gossip-sub004/swim"
)

// Config aggregates every tunable of spec §6.4 into the one object the
// Coordinator is constructed with.
type Config struct {
	AntiEntropy antientropy.Config
	Scheduler   antientropy.SchedulerConfig
	Swim        swim.Config

	RttMinSampleMs uint64
	RttMaxSampleMs uint64

	OobMaxBufferPerAuthor int
	OobMaxTotalBuffer     int

	MaxClockSkewMs uint64

	EventBufferSize int
}

// DefaultConfig returns every component's spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		AntiEntropy:           antientropy.DefaultConfig(),
		Scheduler:             antientropy.DefaultSchedulerConfig(),
		Swim:                  swim.DefaultConfig(),
		RttMinSampleMs:        rtt.DefaultMinSampleMs,
		RttMaxSampleMs:        rtt.DefaultMaxSampleMs,
		OobMaxBufferPerAuthor: store.DefaultMaxBufferPerAuthor,
		OobMaxTotalBuffer:     store.DefaultMaxTotalBuffer,
		MaxClockSkewMs:        hlc.DefaultMaxSkewMs,
		EventBufferSize:       DefaultEventBufferSize,
	}
}

// command is one unit of work dispatched onto the owning goroutine. fn
// receives the wall-clock time (in milliseconds) at which it runs, the same
// explicit-time convention every component below the Coordinator uses.
type command struct {
	fn   func(nowMs uint64)
	done chan struct{}
}

// Coordinator is the single-threaded cooperative owner described in
// SPEC_FULL.md §4.8/§5. Every exported method (see api.go) dispatches a
// closure onto runLoop via cmdCh and blocks for it to execute, so callers never
// touch PeerRegistry/EntryStore/OutOfOrderBuffer/channel state directly.
type Coordinator struct {
	local model.NodeId

	clock    *hlc.Generator
	registry *registry.Registry
	store    *store.EntryStore
	oob      *store.OutOfOrderBuffer

	digestEng *digest.Engine
	aeEngine  *antientropy.Engine
	scheduler *antientropy.Scheduler
	detector  *swim.Detector
	rttTrackr *rtt.Tracker

	channelRepo   repository.ChannelRepository
	localNodeRepo repository.LocalNodeRepository
	channels      map[model.ChannelId]*model.Channel

	// roundTraces holds one golang.org/x/net/trace.Trace per anti-entropy
	// round currently in flight, keyed by peer. Only the owning goroutine
	// touches it, same as every other field below this point.
	roundTraces map[model.NodeId]trace.Trace

	transport MessagePort
	events    *Broadcaster
	cfg       Config

	cmdCh  chan command
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stoppingCh chan struct{}
	stopOnce   sync.Once
}

// New constructs a Coordinator for local, wiring every component over the
// given repositories and transport. peerRepo/entryRepo may be nil for a
// purely in-memory deployment (as store/memrepo and registry/memrepo
// already allow); channelRepo and localNodeRepo are required so the
// Coordinator has somewhere to recover Channel and identity state from.
func New(
	local model.NodeId,
	peerRepo registry.PeerRepository,
	channelRepo repository.ChannelRepository,
	entryRepo store.EntryRepository,
	localNodeRepo repository.LocalNodeRepository,
	transport MessagePort,
	cfg Config,
) (*Coordinator, error) {
	var persistedClock, _, err = localNodeRepo.GetClockState()
	if err != nil {
		return nil, errors.WithMessage(err, "LocalNodeRepository.GetClockState")
	}

	var c = &Coordinator{
		local:         local,
		clock:         hlc.NewGenerator(persistedClock, cfg.MaxClockSkewMs),
		registry:      registry.New(local, peerRepo),
		store:         store.NewEntryStore(entryRepo),
		oob:           store.NewOutOfOrderBuffer(cfg.OobMaxBufferPerAuthor, cfg.OobMaxTotalBuffer),
		rttTrackr:     rtt.NewTracker(cfg.RttMinSampleMs, cfg.RttMaxSampleMs),
		channelRepo:   repository.NewCachingChannelRepository(channelRepo),
		localNodeRepo: localNodeRepo,
		channels:      make(map[model.ChannelId]*model.Channel),
		roundTraces:   make(map[model.NodeId]trace.Trace),
		transport:     transport,
		events:        NewBroadcaster(cfg.EventBufferSize),
		cfg:           cfg,
		cmdCh:         make(chan command),
		stoppingCh:    make(chan struct{}),
	}

	if err := c.loadChannels(); err != nil {
		return nil, err
	}

	var adapter = &portAdapter{port: transport}
	c.digestEng = digest.New(c, c.store)
	c.aeEngine = antientropy.New(local, c.digestEng, c.store, c.oob, adapter, c.rttTrackr, cfg.AntiEntropy)
	c.scheduler = antientropy.NewScheduler(c.aeEngine, cfg.Scheduler)
	c.detector = swim.NewDetector(local, c.registry, c.rttTrackr, adapter, cfg.Swim)

	return c, nil
}

func (c *Coordinator) loadChannels() error {
	var ids, err = c.channelRepo.ListIDs()
	if err != nil {
		return errors.WithMessage(err, "ChannelRepository.ListIDs")
	}
	for _, id := range ids {
		var ch, err = c.channelRepo.FindByID(id)
		if err != nil {
			return errors.WithMessagef(err, "ChannelRepository.FindByID(%s)", id)
		}
		if ch != nil {
			c.channels[id] = ch
		}
	}
	return nil
}

// AllChannels implements digest.ChannelCatalog: the DigestEngine scans
// every currently-known channel when computing a per-peer digest.
func (c *Coordinator) AllChannels() []*model.Channel {
	var out = make([]*model.Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// Events returns the Coordinator's event Broadcaster for subscribers.
func (c *Coordinator) Events() *Broadcaster { return c.events }

// Stopping returns a channel closed once Stop begins, the way
// consumer/service.go's Service.Stopping() signals long-lived callers to
// wind down.
func (c *Coordinator) Stopping() <-chan struct{} { return c.stoppingCh }

func (c *Coordinator) nowMs() uint64 { return uint64(time.Now().UnixMilli()) }

// do dispatches fn onto the owning goroutine and blocks until it has run.
func (c *Coordinator) do(fn func(nowMs uint64)) {
	var cmd = command{fn: fn, done: make(chan struct{})}
	select {
	case c.cmdCh <- cmd:
		<-cmd.done
	case <-c.ctx.Done():
	}
}

// enqueue dispatches fn onto the owning goroutine without waiting for it to
// run, for the ticker and inbound-message producers below.
func (c *Coordinator) enqueue(fn func(nowMs uint64)) {
	select {
	case c.cmdCh <- command{fn: fn, done: make(chan struct{})}:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) publish(e Event) { c.events.Publish(e) }

// Start launches the Coordinator's owning goroutine plus the probe ticker,
// round scheduler ticker, and inbound-message reader (spec §4.8's
// QueueTasks-style lifecycle).
func (c *Coordinator) Start() {
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(4)
	go c.runLoop()
	go c.probeTickerLoop()
	go c.roundTickerLoop()
	go c.inboundLoop()
}

// Stop cancels the owning goroutine and its producers, waiting -- bounded
// by 2·maxRoundTimeout, where a round timeout is at most the RTT tracker's
// ceiling (RttMaxSampleMs) -- for them to exit before returning. Rounds
// still in flight are abandoned, not awaited.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stoppingCh) })
	c.cancel()

	var maxRoundMs = c.cfg.RttMaxSampleMs
	if maxRoundMs == 0 {
		maxRoundMs = rtt.DefaultMaxSampleMs
	}
	var grace = time.Duration(2*maxRoundMs) * time.Millisecond
	var done = make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn("coordinator shutdown grace period elapsed with goroutines still running")
	}
}

func (c *Coordinator) runLoop() {
	defer c.wg.Done()
	for {
		select {
		case cmd := <-c.cmdCh:
			cmd.fn(c.nowMs())
			close(cmd.done)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) probeTickerLoop() {
	defer c.wg.Done()
	var interval = time.Duration(c.cfg.Swim.ProbeIntervalMs) * time.Millisecond
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.enqueue(c.onProbeTick)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) roundTickerLoop() {
	defer c.wg.Done()
	var interval = time.Duration(c.cfg.Scheduler.GossipIntervalMs) * time.Millisecond
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.enqueue(c.onRoundTick)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) inboundLoop() {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-c.transport.Incoming():
			if !ok {
				return
			}
			c.enqueue(func(nowMs uint64) { c.handleInbound(msg) })
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) onProbeTick(nowMs uint64) {
	for _, tr := range c.detector.Tick(nowMs) {
		c.publishTransition(nowMs, tr)
	}
}

func (c *Coordinator) onRoundTick(nowMs uint64) {
	for _, peer := range c.aeEngine.Tick(nowMs) {
		c.tracef(peer, "round abandoned: timed out awaiting a response")
		c.finishTrace(peer)
		c.publish(Event{
			Kind: SyncErrorOccurred, AtMs: nowMs, Peer: peer,
			Err: model.NewPeerSyncError(peer, model.PeerTimeout, errors.New("anti-entropy round abandoned")),
		})
	}

	var started = c.scheduler.Tick(nowMs, c.registry.Reachable(), c.roundTimeoutForPeer)
	for _, peer := range started {
		c.startTrace(peer)
		c.tracef(peer, "round started")
		log.WithField("peer", peer).Debug("anti-entropy round started")
	}
}

// startTrace opens a golang.org/x/net/trace.Trace for a newly-started
// anti-entropy round with peer, grounded on the teacher's addTrace
// helper (consumer/service.go, consumer/resolver.go): a per-operation
// trace.Trace surfaced on /debug/requests, lazily printed rather than
// logged, so tracing an idle system costs nothing. Any trace already open
// for peer (there should never be one -- the scheduler excludes peers
// with an in-flight round) is finished first rather than leaked.
func (c *Coordinator) startTrace(peer model.NodeId) {
	if _, ok := c.roundTraces[peer]; ok {
		c.finishTrace(peer)
	}
	c.roundTraces[peer] = trace.New("gossip.antientropy", string(peer))
}

// tracef lazily appends format to peer's in-flight round trace, a no-op
// if no round is currently open for peer.
func (c *Coordinator) tracef(peer model.NodeId, format string, args ...any) {
	if tr, ok := c.roundTraces[peer]; ok {
		tr.LazyPrintf(format, args...)
	}
}

// finishTrace closes and forgets peer's in-flight round trace, if any.
func (c *Coordinator) finishTrace(peer model.NodeId) {
	if tr, ok := c.roundTraces[peer]; ok {
		tr.Finish()
		delete(c.roundTraces, peer)
	}
}

// roundTimeoutForPeer sizes a round's abandonment deadline from the peer's
// RTT estimate, the same adaptive-timeout source the SWIM detector uses.
func (c *Coordinator) roundTimeoutForPeer(id model.NodeId) uint64 {
	var peer, ok = c.registry.Get(id)
	if !ok {
		return uint64(c.rttTrackr.SuggestedTimeout(nil).Milliseconds())
	}
	return uint64(c.rttTrackr.SuggestedTimeout(peer.Metrics.Rtt).Milliseconds())
}

func (c *Coordinator) publishTransition(nowMs uint64, tr registry.StatusTransition) {
	if !tr.Changed {
		c.publish(Event{Kind: PeerOperationSkipped, AtMs: nowMs, Peer: tr.Peer, Reason: "stale incarnation"})
		return
	}
	c.publish(Event{Kind: PeerStatusChanged, AtMs: nowMs, Peer: tr.Peer, OldStatus: tr.Old, NewStatus: tr.New})
}

// handleInbound decodes msg and routes it to the owning component. It runs
// on the owning goroutine (dispatched via enqueue in inboundLoop), so every
// Handle* call below is free to mutate shared state directly.
func (c *Coordinator) handleInbound(msg InboundMessage) {
	var msgType, decoded, _, err = protocol.Decode(msg.Bytes)
	if err != nil {
		c.publish(Event{
			Kind: SyncErrorOccurred, AtMs: msg.ReceivedAtMs, Peer: msg.Sender,
			Err: model.NewPeerSyncError(msg.Sender, model.MessageCorrupted, err),
		})
		return
	}

	switch m := decoded.(type) {
	case protocol.Ping:
		c.detector.HandlePing(m)
	case protocol.Ack:
		var sampleMs = float64(c.cfg.Swim.RttMinMs)
		if startedMs, ok := c.detector.PendingStartedMs(m.Sender, m.Sequence); ok && msg.ReceivedAtMs >= startedMs {
			sampleMs = float64(msg.ReceivedAtMs - startedMs)
		}
		var tr = c.detector.HandleAck(m, sampleMs, msg.ReceivedAtMs)
		c.publishTransition(msg.ReceivedAtMs, tr)
	case protocol.PingReq:
		c.detector.HandlePingReq(m, msg.ReceivedAtMs)
	case protocol.DigestRequest:
		c.tracef(msg.Sender, "received digest request")
		if err := c.aeEngine.HandleDigestRequest(msg.Sender, m); err != nil {
			c.publishSyncError(msg.ReceivedAtMs, msg.Sender, err)
		}
	case protocol.DigestResponse:
		c.tracef(msg.Sender, "received digest response")
		if err := c.aeEngine.HandleDigestResponse(msg.Sender, m); err != nil {
			c.tracef(msg.Sender, "digest response rejected: %v", err)
			c.publishSyncError(msg.ReceivedAtMs, msg.Sender, err)
		}
	case protocol.DeltaRequest:
		c.tracef(msg.Sender, "received delta request")
		if err := c.aeEngine.HandleDeltaRequest(msg.Sender, m); err != nil {
			c.publishSyncError(msg.ReceivedAtMs, msg.Sender, err)
		}
	case protocol.DeltaResponse:
		c.handleDeltaResponse(msg, m)
	default:
		c.publish(Event{
			Kind: SyncErrorOccurred, AtMs: msg.ReceivedAtMs, Peer: msg.Sender,
			Err: model.NewPeerSyncError(msg.Sender, model.ProtocolError, errors.Errorf("unhandled message type %s", msgType)),
		})
	}

	if peer, ok := c.registry.Get(msg.Sender); ok {
		_ = peer
		_ = c.registry.RecordMessage(msg.Sender, false, len(msg.Bytes), msg.ReceivedAtMs, c.cfg.Swim.ProbeIntervalMs)
	}
}

func (c *Coordinator) handleDeltaResponse(msg InboundMessage, m protocol.DeltaResponse) {
	c.tracef(msg.Sender, "received delta response: %d entries", len(m.Entries))
	var result, err = c.aeEngine.HandleDeltaResponse(msg.Sender, m)
	if err != nil {
		c.tracef(msg.Sender, "delta response rejected: %v", err)
		c.finishTrace(msg.Sender)
		c.publishSyncError(msg.ReceivedAtMs, msg.Sender, err)
		return
	}
	c.tracef(msg.Sender, "merged %d entries", len(result.Entries))
	if !c.aeEngine.InFlight(msg.Sender) {
		c.tracef(msg.Sender, "round completed")
		c.finishTrace(msg.Sender)
	}

	for _, ov := range result.Overflows {
		c.publish(Event{
			Kind: BufferOverflowOccurred, AtMs: msg.ReceivedAtMs,
			Channel: ov.Channel, Stream: ov.Stream, Author: ov.Author,
			Overflow: ov,
		})
	}

	if len(result.Entries) == 0 {
		return
	}

	if ch, ok := c.channels[result.Channel]; ok && ch.HasKnownMembership() {
		for _, e := range result.Entries {
			if !ch.IsMember(e.Author) {
				c.publish(Event{
					Kind: NonMemberEntriesRejected, AtMs: msg.ReceivedAtMs,
					Channel: result.Channel, Stream: result.Stream, Author: e.Author,
				})
			}
		}
	}

	c.publish(Event{
		Kind: EntriesMerged, AtMs: msg.ReceivedAtMs,
		Channel: result.Channel, Stream: result.Stream,
		Entries: result.Entries, NewVersion: result.NewVersion,
	})
	_ = c.registry.RecordAntiEntropy(msg.Sender, msg.ReceivedAtMs)
}

func (c *Coordinator) publishSyncError(nowMs uint64, peer model.NodeId, err error) {
	c.publish(Event{
		Kind: SyncErrorOccurred, AtMs: nowMs, Peer: peer,
		Err: model.NewPeerSyncError(peer, model.ProtocolError, err),
	})
}
