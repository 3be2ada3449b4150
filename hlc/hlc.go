// Package hlc implements a Hybrid Logical Clock: a monotonic, causality
// preserving timestamp generator that tolerates bounded clock skew between
// nodes. See spec §4.1.
package hlc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Clock is a (physical, logical) timestamp, totally ordered by lexicographic
// comparison of its two fields. The zero value is the identity element.
type Clock struct {
	PhysicalMs uint64
	Logical    uint32
}

// Zero is the identity Clock, earlier than every Clock produced by now() or
// merge().
var Zero = Clock{}

// Less reports whether c sorts strictly before other.
func (c Clock) Less(other Clock) bool {
	if c.PhysicalMs != other.PhysicalMs {
		return c.PhysicalMs < other.PhysicalMs
	}
	return c.Logical < other.Logical
}

// Compare returns -1, 0 or 1 as c is less than, equal to, or greater than other.
func (c Clock) Compare(other Clock) int {
	switch {
	case c.PhysicalMs < other.PhysicalMs:
		return -1
	case c.PhysicalMs > other.PhysicalMs:
		return 1
	case c.Logical < other.Logical:
		return -1
	case c.Logical > other.Logical:
		return 1
	default:
		return 0
	}
}

func (c Clock) String() string {
	return fmt.Sprintf("%d.%d", c.PhysicalMs, c.Logical)
}

// ErrClockSkewExceeded is returned by Merge when the remote physical time is
// further ahead of wall-clock time than the configured skew budget allows.
// The local clock is left unmodified.
var ErrClockSkewExceeded = errors.New("ClockSkewExceeded")

// DefaultMaxSkewMs is the spec's default maximum tolerated clock skew, 60s.
const DefaultMaxSkewMs = 60_000

// Generator generates and merges HLC timestamps for a single node. It is not
// safe for concurrent use; callers (the Coordinator) serialize access the
// same way every other piece of per-node state is serialized (spec §5).
type Generator struct {
	lastPhysical uint64
	lastLogical  uint32
	maxSkewMs    uint64
}

// NewGenerator returns a Generator recovered from persisted state (both zero
// for a fresh node), enforcing maxSkewMs on subsequent Merge calls. A zero
// maxSkewMs selects DefaultMaxSkewMs.
func NewGenerator(persisted Clock, maxSkewMs uint64) *Generator {
	if maxSkewMs == 0 {
		maxSkewMs = DefaultMaxSkewMs
	}
	return &Generator{
		lastPhysical: persisted.PhysicalMs,
		lastLogical:  persisted.Logical,
		maxSkewMs:    maxSkewMs,
	}
}

// State returns the Generator's current (physical, logical) pair, suitable
// for persisting via LocalNodeRepository.saveClockState.
func (g *Generator) State() Clock {
	return Clock{PhysicalMs: g.lastPhysical, Logical: g.lastLogical}
}

// Now produces the next Clock for a local event observed at wall-clock time
// wallMs, and persists the resulting state as the Generator's new baseline.
func (g *Generator) Now(wallMs uint64) Clock {
	var p = wallMs
	if g.lastPhysical > p {
		p = g.lastPhysical
	}

	var logical uint32
	if p == g.lastPhysical {
		logical = g.lastLogical + 1
	} else {
		logical = 0
	}

	g.lastPhysical, g.lastLogical = p, logical
	return Clock{PhysicalMs: p, Logical: logical}
}

// Merge incorporates a Clock observed on an inbound message (remote),
// generated no later than wall-clock time wallMs, into this Generator's
// state, and returns the resulting Clock. It fails with
// ErrClockSkewExceeded, leaving state unchanged, if remote.PhysicalMs is
// further ahead of wallMs than the configured skew budget.
func (g *Generator) Merge(remote Clock, wallMs uint64) (Clock, error) {
	if remote.PhysicalMs > wallMs && remote.PhysicalMs-wallMs > g.maxSkewMs {
		return Clock{}, ErrClockSkewExceeded
	}

	var p = wallMs
	if g.lastPhysical > p {
		p = g.lastPhysical
	}
	if remote.PhysicalMs > p {
		p = remote.PhysicalMs
	}

	var logical uint32
	switch {
	case p == g.lastPhysical && p == remote.PhysicalMs:
		logical = maxU32(g.lastLogical, remote.Logical) + 1
	case p == g.lastPhysical:
		logical = g.lastLogical + 1
	case p == remote.PhysicalMs:
		logical = remote.Logical + 1
	default:
		logical = 0
	}

	g.lastPhysical, g.lastLogical = p, logical
	return Clock{PhysicalMs: p, Logical: logical}, nil
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
