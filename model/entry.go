package model

import "github.com/neutrinographics/gossip-sub004/hlc"

// LogEntry is an immutable unit of the append-only log. Entries are never
// mutated after insertion into an EntryStore; updates replace the value by
// key (spec §3 "Lifecycle").
type LogEntry struct {
	Author    NodeId
	Sequence  uint64 // >= 1.
	Timestamp hlc.Clock
	Payload   []byte
}

// ID returns the entry's derived (author, sequence) identity.
func (e LogEntry) ID() LogEntryId {
	return LogEntryId{Author: e.Author, Sequence: e.Sequence}
}

// entryHeaderBytes is the fixed per-entry overhead counted by SizeBytes:
// 8 bytes for Sequence, 8 for Timestamp.PhysicalMs, 4 for Timestamp.Logical.
// See SPEC_FULL.md §3.1 for the resolution of this previously-open question.
const entryHeaderBytes = 8 + 8 + 4

// SizeBytes returns the entry's accounted size for byte-budget compaction:
// payload bytes, plus the fixed (sequence, hlc) header, plus the author
// identifier's encoded length. This is a header-inclusive definition,
// chosen because the store must retain the full entry (not just the
// payload) to preserve ordering and identity.
func (e LogEntry) SizeBytes() int {
	return len(e.Payload) + entryHeaderBytes + len(e.Author)
}

// Less orders entries the way a Stream's materialized view is ordered:
// by Timestamp, then by (Author, Sequence) as a tie-break (spec §3).
func (e LogEntry) Less(other LogEntry) bool {
	if cmp := e.Timestamp.Compare(other.Timestamp); cmp != 0 {
		return cmp < 0
	}
	if e.Author != other.Author {
		return e.Author < other.Author
	}
	return e.Sequence < other.Sequence
}
