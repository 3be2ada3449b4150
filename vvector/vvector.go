// Package vvector implements VersionVector: a per-author map to the highest
// contiguous sequence number observed for that author within a stream. See
// spec §3 and §4.4.
package vvector

import "github.com/neutrinographics/gossip-sub004/model"

// VersionVector maps NodeId to the highest contiguous sequence number
// observed for that author. An absent author is equivalent to 0. The zero
// value (nil) can be read with Get but not written to; New returns a
// writable empty VersionVector.
type VersionVector map[model.NodeId]uint64

// New returns an empty VersionVector.
func New() VersionVector {
	return make(VersionVector)
}

// Get returns the vector's value for author, or 0 if author is absent.
func (v VersionVector) Get(author model.NodeId) uint64 {
	return v[author]
}

// UpdateIfGreater sets v[author] = sequence iff sequence is strictly greater
// than the current value, preserving the monotonically-non-decreasing
// invariant (spec §3).
func (v VersionVector) UpdateIfGreater(author model.NodeId, sequence uint64) {
	if sequence > v[author] {
		v[author] = sequence
	}
}

// Clone returns an independent copy of v.
func (v VersionVector) Clone() VersionVector {
	var out = make(VersionVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Merge returns a new VersionVector holding, for every author present in
// either v or other, the greater of the two values (per-key max).
func Merge(v, other VersionVector) VersionVector {
	var out = make(VersionVector, len(v)+len(other))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range other {
		if val > out[k] {
			out[k] = val
		}
	}
	return out
}

// Gap names an author for whom the local vector is ahead of a remote one,
// and the exact sequence range the remote lacks.
type Gap struct {
	Author       model.NodeId
	SinceExclusive uint64 // Remote's highest known sequence for Author.
	ThroughInclusive uint64 // Local's highest known sequence for Author.
}

// Difference returns, for every author where local is strictly ahead of
// remote, the Gap describing what local owes remote. This is the
// "L owes R" computation of spec §4.4; the inverse (what R owes L) is
// Difference(remote, local).
func Difference(local, remote VersionVector) []Gap {
	var gaps []Gap
	for author, localSeq := range local {
		var remoteSeq = remote[author]
		if localSeq > remoteSeq {
			gaps = append(gaps, Gap{
				Author:           author,
				SinceExclusive:   remoteSeq,
				ThroughInclusive: localSeq,
			})
		}
	}
	return gaps
}

// Equal reports whether v and other hold the same (author, sequence) pairs,
// ignoring entries whose value is 0 (an absent author is indistinguishable
// from one explicitly mapped to 0).
func Equal(v, other VersionVector) bool {
	for k, val := range v {
		if val != 0 && other[k] != val {
			return false
		}
	}
	for k, val := range other {
		if val != 0 && v[k] != val {
			return false
		}
	}
	return true
}
