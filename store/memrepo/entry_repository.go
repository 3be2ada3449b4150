// Package memrepo provides the in-memory EntryRepository reference
// implementation of the store.EntryRepository capability (spec §6.3),
// following the teacher's habit of an in-process fixture store for
// component tests (consumer/replica_test.go's test fixture). The store
// package's own tests build EntryStore with a nil repository instead.
package memrepo

import (
	"sync"

	"github.com/neutrinographics/gossip-sub004/model"
)

// EntryRepository is a mutex-guarded, process-local store.EntryRepository.
// It never fails; it exists to exercise the EntryStore/EntryRepository
// seam, not to model I/O errors.
type EntryRepository struct {
	mu      sync.Mutex
	entries map[model.ChannelStreamID]map[model.LogEntryId]model.LogEntry
}

// New returns an empty in-memory EntryRepository.
func New() *EntryRepository {
	return &EntryRepository{entries: make(map[model.ChannelStreamID]map[model.LogEntryId]model.LogEntry)}
}

func (r *EntryRepository) bucket(key model.ChannelStreamID) map[model.LogEntryId]model.LogEntry {
	var b, ok = r.entries[key]
	if !ok {
		b = make(map[model.LogEntryId]model.LogEntry)
		r.entries[key] = b
	}
	return b
}

func (r *EntryRepository) Append(key model.ChannelStreamID, entry model.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bucket(key)[entry.ID()] = entry
	return nil
}

func (r *EntryRepository) AppendAll(key model.ChannelStreamID, entries []model.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b = r.bucket(key)
	for _, e := range entries {
		b[e.ID()] = e
	}
	return nil
}

func (r *EntryRepository) Entries(key model.ChannelStreamID) ([]model.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b = r.entries[key]
	var out = make([]model.LogEntry, 0, len(b))
	for _, e := range b {
		out = append(out, e)
	}
	return out, nil
}

func (r *EntryRepository) RemoveEntries(key model.ChannelStreamID, ids []model.LogEntryId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b = r.entries[key]
	for _, id := range ids {
		delete(b, id)
	}
	return nil
}

func (r *EntryRepository) ClearStream(key model.ChannelStreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

func (r *EntryRepository) ClearChannel(channel model.ChannelId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.entries {
		if key.Channel == channel {
			delete(r.entries, key)
		}
	}
	return nil
}
