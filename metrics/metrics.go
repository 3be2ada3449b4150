// Package metrics exposes the Coordinator's event stream as Prometheus
// collectors, following the Generativebots-ocx-backend-go-svc
// escrow.Metrics convention: one struct of promauto-registered
// Vec collectors, a NewMetrics constructor, and an Observe method plus a
// handful of Record* methods translating domain state into metric mutations
// rather than scattering prometheus calls through coordinator/ itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/neutrinographics/gossip-sub004/coordinator"
	"github.com/neutrinographics/gossip-sub004/model"
)

// Metrics holds every Prometheus collector this module exposes.
type Metrics struct {
	PeerStatus *prometheus.GaugeVec

	AntiEntropyRounds     *prometheus.CounterVec
	BufferOverflows       *prometheus.CounterVec
	NonMemberEntries      *prometheus.CounterVec
	SyncErrors            *prometheus.CounterVec
	EntriesAppended       *prometheus.CounterVec
	EntriesMerged         *prometheus.CounterVec
	StreamCompactions     *prometheus.CounterVec
	RttEstimateMs         *prometheus.GaugeVec
	OobBufferOccupancy    *prometheus.GaugeVec
	MessageBytesSent      *prometheus.CounterVec
	MessageBytesReceived  *prometheus.CounterVec
}

// NewMetrics registers and returns every collector this package exposes.
func NewMetrics() *Metrics {
	return &Metrics{
		PeerStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gossip_peer_status",
				Help: "Current SWIM status per peer (0=Reachable, 1=Suspected, 2=Unreachable)",
			},
			[]string{"peer"},
		),
		AntiEntropyRounds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_anti_entropy_rounds_total",
				Help: "Total number of anti-entropy rounds by outcome",
			},
			[]string{"peer", "outcome"}, // outcome: completed, abandoned
		),
		BufferOverflows: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_buffer_overflows_total",
				Help: "Total number of OutOfOrderBuffer evictions",
			},
			[]string{"channel", "stream"},
		),
		NonMemberEntries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_non_member_entries_total",
				Help: "Total number of merged entries authored by a non-member",
			},
			[]string{"channel"},
		),
		SyncErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_sync_errors_total",
				Help: "Total number of recoverable SyncErrors by type",
			},
			[]string{"kind", "type"},
		),
		EntriesAppended: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_entries_appended_total",
				Help: "Total number of locally-authored entries appended",
			},
			[]string{"channel", "stream"},
		),
		EntriesMerged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_entries_merged_total",
				Help: "Total number of remote entries merged via anti-entropy",
			},
			[]string{"channel", "stream"},
		),
		StreamCompactions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_stream_compactions_total",
				Help: "Total number of stream compaction passes",
			},
			[]string{"channel", "stream"},
		),
		RttEstimateMs: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gossip_peer_rtt_estimate_milliseconds",
				Help: "Smoothed round-trip-time estimate per peer",
			},
			[]string{"peer"},
		),
		OobBufferOccupancy: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gossip_oob_buffer_entries",
				Help: "Current OutOfOrderBuffer occupancy per author",
			},
			[]string{"channel", "stream", "author"},
		),
		MessageBytesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_message_bytes_sent_total",
				Help: "Total protocol bytes sent per peer",
			},
			[]string{"peer"},
		),
		MessageBytesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossip_message_bytes_received_total",
				Help: "Total protocol bytes received per peer",
			},
			[]string{"peer"},
		),
	}
}

func peerStatusValue(s model.PeerStatus) float64 {
	switch s {
	case model.Reachable:
		return 0
	case model.Suspected:
		return 1
	case model.Unreachable:
		return 2
	default:
		return -1
	}
}

// Observe applies e's effect to the relevant collectors. Subscribe returns
// events in publication order, so a single goroutine ranging over
// coordinator.Broadcaster.Subscribe() and calling Observe per event keeps
// every collector consistent with the Coordinator's own state.
func (m *Metrics) Observe(e coordinator.Event) {
	switch e.Kind {
	case coordinator.PeerStatusChanged:
		m.PeerStatus.WithLabelValues(string(e.Peer)).Set(peerStatusValue(e.NewStatus))
	case coordinator.BufferOverflowOccurred:
		m.BufferOverflows.WithLabelValues(string(e.Channel), string(e.Stream)).Inc()
	case coordinator.NonMemberEntriesRejected:
		m.NonMemberEntries.WithLabelValues(string(e.Channel)).Inc()
	case coordinator.SyncErrorOccurred:
		if e.Err != nil {
			m.SyncErrors.WithLabelValues(e.Err.ErrorKind.String(), e.Err.Type.String()).Inc()
		}
	case coordinator.EntryAppended:
		m.EntriesAppended.WithLabelValues(string(e.Channel), string(e.Stream)).Inc()
	case coordinator.EntriesMerged:
		m.EntriesMerged.WithLabelValues(string(e.Channel), string(e.Stream)).Add(float64(len(e.Entries)))
	case coordinator.StreamCompacted:
		m.StreamCompactions.WithLabelValues(string(e.Channel), string(e.Stream)).Inc()
	}
}

// RecordRtt updates the smoothed round-trip-time gauge for peer.
func (m *Metrics) RecordRtt(peer model.NodeId, srttMs float64) {
	m.RttEstimateMs.WithLabelValues(string(peer)).Set(srttMs)
}

// RecordOobOccupancy sets the current buffered-entry count for
// (channel, stream, author).
func (m *Metrics) RecordOobOccupancy(channel model.ChannelId, stream model.StreamId, author model.NodeId, count int) {
	m.OobBufferOccupancy.WithLabelValues(string(channel), string(stream), string(author)).Set(float64(count))
}

// RecordMessageBytes accrues sent/received byte counters for peer.
func (m *Metrics) RecordMessageBytes(peer model.NodeId, sent bool, n int) {
	if sent {
		m.MessageBytesSent.WithLabelValues(string(peer)).Add(float64(n))
	} else {
		m.MessageBytesReceived.WithLabelValues(string(peer)).Add(float64(n))
	}
}
