package store

import (
	"sort"

	"github.com/neutrinographics/gossip-sub004/hlc"
	"github.com/neutrinographics/gossip-sub004/model"
)

// PolicyKind enumerates the three retention policies spec §4.9 allows.
type PolicyKind int

const (
	// KeepNewestCount retains the N most recent entries (by stream order),
	// dropping the rest.
	KeepNewestCount PolicyKind = iota
	// DropOlderThan drops entries whose Timestamp is older than a cutoff.
	DropOlderThan
	// ByteBudget drops the oldest entries until the stream's total
	// SizeBytes is within budget.
	ByteBudget
)

// CompactionPolicy configures one compaction pass over a single stream.
type CompactionPolicy struct {
	Kind PolicyKind

	KeepNewest   int        // Used when Kind == KeepNewestCount.
	OlderThan    hlc.Clock  // Used when Kind == DropOlderThan: drop Timestamp < OlderThan.
	ByteBudgetBytes int     // Used when Kind == ByteBudget.
}

// CompactionResult reports the outcome of a compaction pass (spec §4.9).
type CompactionResult struct {
	RemovedCount int
	KeptCount    int
	FreedBytes   int
}

// Compact applies policy to (channel, stream), removing selected entries
// from s and rebuilding the sequence cache. Per spec §4.9, every compacted
// author's version-vector entry is pinned at its pre-compaction value (a
// tombstone) via EntryStore.RestoreTombstone, so live anti-entropy never
// re-requests sequences this pass intentionally dropped.
func Compact(s *EntryStore, key model.ChannelStreamID, policy CompactionPolicy) (CompactionResult, error) {
	var all = s.AllEntries(key)
	if len(all) == 0 {
		return CompactionResult{}, nil
	}

	var preCompactionMax = make(map[model.NodeId]uint64, len(all))
	for _, e := range all {
		if e.Sequence > preCompactionMax[e.Author] {
			preCompactionMax[e.Author] = e.Sequence
		}
	}

	var toRemove = selectForRemoval(all, policy)
	if len(toRemove) == 0 {
		return CompactionResult{KeptCount: len(all)}, nil
	}

	var ids = make([]model.LogEntryId, 0, len(toRemove))
	var freed int
	for _, e := range toRemove {
		ids = append(ids, e.ID())
		freed += e.SizeBytes()
	}

	if err := s.RemoveEntries(key, ids); err != nil {
		return CompactionResult{}, err
	}
	for author, seq := range preCompactionMax {
		s.RestoreTombstone(key, author, seq)
	}

	return CompactionResult{
		RemovedCount: len(toRemove),
		KeptCount:    len(all) - len(toRemove),
		FreedBytes:   freed,
	}, nil
}

func selectForRemoval(all []model.LogEntry, policy CompactionPolicy) []model.LogEntry {
	// all is already in the stream's materialized (timestamp) order.
	switch policy.Kind {
	case KeepNewestCount:
		if policy.KeepNewest >= len(all) {
			return nil
		}
		return append([]model.LogEntry(nil), all[:len(all)-policy.KeepNewest]...)

	case DropOlderThan:
		var cut []model.LogEntry
		for _, e := range all {
			if e.Timestamp.Less(policy.OlderThan) {
				cut = append(cut, e)
			}
		}
		return cut

	case ByteBudget:
		var total int
		for _, e := range all {
			total += e.SizeBytes()
		}
		if total <= policy.ByteBudgetBytes {
			return nil
		}
		// Drop oldest-first (all is already oldest-first within timestamp
		// order) until within budget.
		var ordered = append([]model.LogEntry(nil), all...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

		var cut []model.LogEntry
		for _, e := range ordered {
			if total <= policy.ByteBudgetBytes {
				break
			}
			cut = append(cut, e)
			total -= e.SizeBytes()
		}
		return cut

	default:
		return nil
	}
}
