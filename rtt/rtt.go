// Package rtt implements the RFC 6298 EWMA round-trip-time estimator used by
// the SWIM failure detector and anti-entropy scheduler to size probe and
// round timeouts per peer (spec §3/§4.7).
package rtt

import (
	"time"

	"github.com/neutrinographics/gossip-sub004/model"
)

// Defaults mirror spec §6.4's rtt* configuration keys.
const (
	DefaultMinSampleMs   = 50
	DefaultMaxSampleMs   = 30000
	DefaultInitialSrttMs = 1000
	DefaultInitialVarMs  = 500
)

// Tracker bounds every model.RttEstimate it produces to [minMs, maxMs] and
// derives suggested timeouts from it, per spec §4.7. A nil *model.RttEstimate
// denotes "no sample observed yet".
type Tracker struct {
	minMs float64
	maxMs float64
}

// NewTracker returns a Tracker clamping samples and suggested timeouts to
// [minMs, maxMs]. Zero values select the spec defaults.
func NewTracker(minMs, maxMs uint64) *Tracker {
	if minMs == 0 {
		minMs = DefaultMinSampleMs
	}
	if maxMs == 0 {
		maxMs = DefaultMaxSampleMs
	}
	return &Tracker{minMs: float64(minMs), maxMs: float64(maxMs)}
}

func (t *Tracker) clamp(v float64) float64 {
	if v < t.minMs {
		return t.minMs
	}
	if v > t.maxMs {
		return t.maxMs
	}
	return v
}

// Observe folds a new round-trip sample (in milliseconds) into prev (which
// may be nil, meaning no prior sample) and returns the updated estimate. The
// first-ever sample seeds srtt=s, rttvar=s/2 (RFC 6298 §2); every subsequent
// sample applies the EWMA update rttvar = ¾·rttvar + ¼·|srtt−s|,
// srtt = ⅞·srtt + ⅛·s.
func (t *Tracker) Observe(prev *model.RttEstimate, sampleMs float64) *model.RttEstimate {
	var s = t.clamp(sampleMs)

	if prev == nil {
		return &model.RttEstimate{SrttMs: s, RttVarMs: s / 2}
	}

	var rttvar = 0.75*prev.RttVarMs + 0.25*abs(prev.SrttMs-s)
	var srtt = t.clamp(0.875*prev.SrttMs + 0.125*s)
	return &model.RttEstimate{SrttMs: srtt, RttVarMs: rttvar}
}

// SuggestedTimeout returns srtt + 4·rttvar as a time.Duration, clamped to
// [minMs, maxMs]. A nil estimate (no samples yet) yields the configured
// minimum.
func (t *Tracker) SuggestedTimeout(est *model.RttEstimate) time.Duration {
	if est == nil {
		return time.Duration(t.minMs) * time.Millisecond
	}
	var suggested = t.clamp(est.SrttMs + 4*est.RttVarMs)
	return time.Duration(suggested) * time.Millisecond
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
