// Package store implements the per-stream EntryStore and OutOfOrderBuffer of
// spec §4.2/§4.3: an append-only log keyed by (channel, stream, author,
// sequence), with a dense-sequence invariant enforced at commit time and a
// bounded holding area for gap-straddling entries.
package store

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/vvector"
)

// EntryRepository is the persistence capability an EntryStore is built on
// (spec §6.3). The in-memory implementation lives in store/memrepo;
// storage/etcdrepo provides no EntryRepository.
type EntryRepository interface {
	Append(key model.ChannelStreamID, entry model.LogEntry) error
	AppendAll(key model.ChannelStreamID, entries []model.LogEntry) error
	Entries(key model.ChannelStreamID) ([]model.LogEntry, error)
	RemoveEntries(key model.ChannelStreamID, ids []model.LogEntryId) error
	ClearStream(key model.ChannelStreamID) error
	ClearChannel(channel model.ChannelId) error
}

// streamState holds the materialized, timestamp-ordered entry list for one
// (channel, stream) together with the per-author max-contiguous-sequence
// cache that makes latestSequence and getVersionVector O(1)/O(authors).
type streamState struct {
	entries []model.LogEntry // Sorted by model.LogEntry.Less.
	byID    map[model.LogEntryId]int // Index into entries, for idempotence checks.
	maxSeq  map[model.NodeId]uint64  // Highest contiguous sequence per author.
}

func newStreamState() *streamState {
	return &streamState{
		byID:   make(map[model.LogEntryId]int),
		maxSeq: make(map[model.NodeId]uint64),
	}
}

// EntryStore is the mutex-guarded reference EntryStore implementation.
// Concurrency is not actually exercised in normal operation -- the
// Coordinator serializes all access on its single owning goroutine (spec
// §5) -- but the mutex makes the type safe to share with test helpers
// without re-litigating that invariant in every caller.
type EntryStore struct {
	mu      sync.Mutex
	streams map[model.ChannelStreamID]*streamState
	repo    EntryRepository
}

// NewEntryStore returns an EntryStore backed by repo. repo may be nil, in
// which case the EntryStore is purely in-memory (used pervasively by tests
// of components that sit above EntryStore).
func NewEntryStore(repo EntryRepository) *EntryStore {
	return &EntryStore{
		streams: make(map[model.ChannelStreamID]*streamState),
		repo:    repo,
	}
}

func (s *EntryStore) stateFor(key model.ChannelStreamID) *streamState {
	var st, ok = s.streams[key]
	if !ok {
		st = newStreamState()
		s.streams[key] = st
	}
	return st
}

// Append inserts entry into (channel, stream) in timestamp-sorted position.
// It is idempotent on (author, sequence): re-appending an already-stored
// entry is a no-op returning (false, nil). It requires the dense-sequence
// invariant (spec §3): entry.Sequence must equal latestSequence(author)+1,
// or the call returns ErrSequenceGap without mutating anything -- gap
// handling is the OutOfOrderBuffer's job, one layer up.
func (s *EntryStore) Append(key model.ChannelStreamID, entry model.LogEntry) (inserted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st = s.stateFor(key)
	if _, exists := st.byID[entry.ID()]; exists {
		return false, nil
	}
	if expected := st.maxSeq[entry.Author] + 1; entry.Sequence != expected {
		return false, errors.Wrapf(ErrSequenceGap, "author %s: got seq %d, expected %d",
			entry.Author, entry.Sequence, expected)
	}

	if s.repo != nil {
		if err := s.repo.Append(key, entry); err != nil {
			return false, errors.WithMessage(err, "EntryRepository.Append")
		}
	}

	s.insertLocked(st, entry)
	return true, nil
}

func (s *EntryStore) insertLocked(st *streamState, entry model.LogEntry) {
	var idx = sort.Search(len(st.entries), func(i int) bool {
		return entry.Less(st.entries[i])
	})
	st.entries = append(st.entries, model.LogEntry{})
	copy(st.entries[idx+1:], st.entries[idx:])
	st.entries[idx] = entry

	for id := range st.byID {
		if st.byID[id] >= idx {
			st.byID[id]++
		}
	}
	st.byID[entry.ID()] = idx
	st.maxSeq[entry.Author] = entry.Sequence
}

// AppendAll appends entries one at a time, in the order given, each
// individually idempotent. It stops at (and returns) the first error,
// matching the spec's "each entry individually idempotent" contract --
// callers that need all-or-nothing semantics should pre-sort and retry
// from the reported gap.
func (s *EntryStore) AppendAll(key model.ChannelStreamID, entries []model.LogEntry) (insertedCount int, err error) {
	for _, e := range entries {
		var ok bool
		if ok, err = s.Append(key, e); err != nil {
			return insertedCount, err
		} else if ok {
			insertedCount++
		}
	}
	return insertedCount, nil
}

// EntriesSince returns every stored entry in (channel, stream) whose
// sequence exceeds the caller's versionVector entry for its author.
func (s *EntryStore) EntriesSince(key model.ChannelStreamID, since vvector.VersionVector) []model.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st, ok = s.streams[key]
	if !ok {
		return nil
	}
	var out []model.LogEntry
	for _, e := range st.entries {
		if e.Sequence > since.Get(e.Author) {
			out = append(out, e)
		}
	}
	return out
}

// EntriesForAuthorAfter returns the ordered subsequence of author's entries
// in (channel, stream) with sequence > after.
func (s *EntryStore) EntriesForAuthorAfter(key model.ChannelStreamID, author model.NodeId, after uint64) []model.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st, ok = s.streams[key]
	if !ok {
		return nil
	}
	var out []model.LogEntry
	for _, e := range st.entries {
		if e.Author == author && e.Sequence > after {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// LatestSequence returns the highest contiguous sequence stored for author
// in (channel, stream), O(1) from the max-sequence cache.
func (s *EntryStore) LatestSequence(key model.ChannelStreamID, author model.NodeId) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st, ok = s.streams[key]
	if !ok {
		return 0
	}
	return st.maxSeq[author]
}

// GetVersionVector returns a snapshot VersionVector of (channel, stream):
// for each author, the highest contiguous sequence observed -- gap-aware,
// per spec §4.2 (an author holding 1,2,4 reports 2, not 4).
func (s *EntryStore) GetVersionVector(key model.ChannelStreamID) vvector.VersionVector {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st, ok = s.streams[key]
	if !ok {
		return vvector.New()
	}
	var out = vvector.New()
	for author, seq := range st.maxSeq {
		out[author] = seq
	}
	return out
}

// AllEntries returns a snapshot copy of every entry currently stored for
// (channel, stream), in the stream's materialized (timestamp) order.
func (s *EntryStore) AllEntries(key model.ChannelStreamID) []model.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st, ok = s.streams[key]
	if !ok {
		return nil
	}
	var out = make([]model.LogEntry, len(st.entries))
	copy(out, st.entries)
	return out
}

// RemoveEntries deletes the named entries from (channel, stream) and
// rebuilds the max-sequence cache from what remains: each author's cached
// value becomes the highest sequence still stored for it, and an author
// with nothing left has no entry (spec §4.2). Used by compaction; never used
// by normal append/merge flow, which never deletes.
func (s *EntryStore) RemoveEntries(key model.ChannelStreamID, ids []model.LogEntryId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st, ok = s.streams[key]
	if !ok {
		return nil
	}

	var remove = make(map[model.LogEntryId]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}

	if s.repo != nil {
		if err := s.repo.RemoveEntries(key, ids); err != nil {
			return errors.WithMessage(err, "EntryRepository.RemoveEntries")
		}
	}

	var kept = st.entries[:0]
	for _, e := range st.entries {
		if _, gone := remove[e.ID()]; !gone {
			kept = append(kept, e)
		}
	}
	s.streams[key] = rebuildStreamState(kept)
	return nil
}

// rebuildStreamState reconstructs byID and maxSeq (the contiguous-prefix
// cache) from a kept entry slice, preserving compacted authors' tombstone
// value: an author with no remaining entries simply has no maxSeq entry,
// which compaction.go re-applies explicitly to preserve the pre-compaction
// version-vector value (spec §4.9).
func rebuildStreamState(entries []model.LogEntry) *streamState {
	var st = newStreamState()
	st.entries = entries
	for i, e := range entries {
		st.byID[e.ID()] = i
		if prev := st.maxSeq[e.Author]; e.Sequence > prev {
			// Only true if entries remain contiguous from 1; compaction
			// call sites restore the tombstone explicitly afterward.
			st.maxSeq[e.Author] = e.Sequence
		}
	}
	return st
}

// RestoreTombstone pins (channel, stream)'s cached max-sequence for author
// to seq, regardless of what remains physically stored. Compaction calls
// this after RemoveEntries to honor spec §4.9: a compacted author's
// version-vector entry must stay at its pre-compaction value so that live
// anti-entropy never re-requests sequences the store intentionally dropped.
func (s *EntryStore) RestoreTombstone(key model.ChannelStreamID, author model.NodeId, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st = s.stateFor(key)
	if seq > st.maxSeq[author] {
		st.maxSeq[author] = seq
	}
}

// ClearStream removes all entries and cached state for (channel, stream).
func (s *EntryStore) ClearStream(key model.ChannelStreamID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.ClearStream(key); err != nil {
			return errors.WithMessage(err, "EntryRepository.ClearStream")
		}
	}
	delete(s.streams, key)
	return nil
}

// ClearChannel removes all entries and cached state for every stream of
// channel.
func (s *EntryStore) ClearChannel(channel model.ChannelId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.ClearChannel(channel); err != nil {
			return errors.WithMessage(err, "EntryRepository.ClearChannel")
		}
	}
	for key := range s.streams {
		if key.Channel == channel {
			delete(s.streams, key)
		}
	}
	return nil
}

// ErrSequenceGap is returned by Append when entry.Sequence skips ahead of
// the contiguous prefix already held for its author. Callers (the
// Coordinator, via OutOfOrderBuffer) are expected to hold the entry until
// the gap closes, not to retry Append directly.
var ErrSequenceGap = errors.New("sequence gap: entry cannot be committed directly")
