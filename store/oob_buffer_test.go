package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/store"
)

func TestDrainPromotesOnlyContiguousRun(t *testing.T) {
	var b = store.NewOutOfOrderBuffer(0, 0)

	b.Enqueue(key(), entry("a", 2, 100))
	b.Enqueue(key(), entry("a", 3, 101))
	b.Enqueue(key(), entry("a", 5, 103)) // Gap at 4: not promoted this round.

	var drained = b.Drain(key(), "a", 1)
	require.Len(t, drained, 2)
	assert.Equal(t, uint64(2), drained[0].Sequence)
	assert.Equal(t, uint64(3), drained[1].Sequence)
	assert.Equal(t, 1, b.Count(key(), "a"), "sequence 5 stays buffered behind its gap")
}

func TestDrainIsPerAuthorOnly(t *testing.T) {
	var b = store.NewOutOfOrderBuffer(0, 0)
	b.Enqueue(key(), entry("a", 2, 100))
	b.Enqueue(key(), entry("b", 2, 100))

	var drained = b.Drain(key(), "a", 1)
	require.Len(t, drained, 1)
	assert.Equal(t, 1, b.Count(key(), "b"), "draining author a must not touch author b's buffer")
}

func TestPerAuthorCapEvictsLargestSequenceFirst(t *testing.T) {
	var b = store.NewOutOfOrderBuffer(2, 0)

	b.Enqueue(key(), entry("a", 2, 100))
	b.Enqueue(key(), entry("a", 3, 101))
	var events = b.Enqueue(key(), entry("a", 4, 102))

	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].DroppedCount)
	assert.Equal(t, 2, b.Count(key(), "a"))

	var drained = b.Drain(key(), "a", 1)
	assert.Equal(t, uint64(2), drained[0].Sequence)
	assert.Equal(t, uint64(3), drained[1].Sequence, "sequence 4 -- the largest -- was the one evicted")
}

func TestGlobalCapEvictsFromLargestAuthorBuffer(t *testing.T) {
	var b = store.NewOutOfOrderBuffer(0, 3)

	// Author "a" accumulates 3 buffered entries (sequences 2,3,4: gap at 1).
	b.Enqueue(key(), entry("a", 2, 100))
	b.Enqueue(key(), entry("a", 3, 101))
	b.Enqueue(key(), entry("a", 4, 102))
	assert.Equal(t, 3, b.Total())

	// Author "b"'s first buffered entry pushes total to 4, over the global
	// cap of 3 -- eviction must come from "a" (the larger buffer), not "b".
	var events = b.Enqueue(key(), entry("b", 2, 100))

	assert.Equal(t, 3, b.Total())
	require.NotEmpty(t, events)
	assert.Equal(t, 1, b.Count(key(), "b"), "the newly arrived author's own entry is not the eviction victim")
	assert.Equal(t, 2, b.Count(key(), "a"))
}

func TestEnqueueIsIdempotentOnSequence(t *testing.T) {
	var b = store.NewOutOfOrderBuffer(0, 0)
	b.Enqueue(key(), entry("a", 2, 100))
	b.Enqueue(key(), entry("a", 2, 100))

	assert.Equal(t, 1, b.Count(key(), "a"))
	assert.Equal(t, 1, b.Total())
}
