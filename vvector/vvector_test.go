package vvector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neutrinographics/gossip-sub004/vvector"
)

func TestUpdateIfGreater(t *testing.T) {
	var v = vvector.New()
	v.UpdateIfGreater("a", 3)
	v.UpdateIfGreater("a", 2) // Lower, ignored.
	v.UpdateIfGreater("a", 5)

	assert.Equal(t, uint64(5), v.Get("a"))
	assert.Equal(t, uint64(0), v.Get("missing"))
}

func TestMergeTakesPerKeyMax(t *testing.T) {
	var a = vvector.VersionVector{"x": 3, "y": 9}
	var b = vvector.VersionVector{"x": 5, "z": 1}

	var merged = vvector.Merge(a, b)
	assert.Equal(t, uint64(5), merged.Get("x"))
	assert.Equal(t, uint64(9), merged.Get("y"))
	assert.Equal(t, uint64(1), merged.Get("z"))
}

func TestDifferenceIsWhatLocalOwesRemote(t *testing.T) {
	var local = vvector.VersionVector{"a": 10, "b": 2}
	var remote = vvector.VersionVector{"a": 4}

	var gaps = vvector.Difference(local, remote)
	assert.ElementsMatch(t, []vvector.Gap{
		{Author: "a", SinceExclusive: 4, ThroughInclusive: 10},
		{Author: "b", SinceExclusive: 0, ThroughInclusive: 2},
	}, gaps)
}

func TestDifferenceIsAsymmetric(t *testing.T) {
	var local = vvector.VersionVector{"a": 4}
	var remote = vvector.VersionVector{"a": 10}

	// Local owes remote nothing here; remote is ahead.
	assert.Empty(t, vvector.Difference(local, remote))
	assert.Len(t, vvector.Difference(remote, local), 1)
}

func TestEqualIgnoresExplicitZero(t *testing.T) {
	var a = vvector.VersionVector{"x": 0}
	var b = vvector.VersionVector{}
	assert.True(t, vvector.Equal(a, b))
}

func TestCloneIsIndependent(t *testing.T) {
	var a = vvector.VersionVector{"x": 1}
	var b = a.Clone()
	b.UpdateIfGreater("x", 2)

	assert.Equal(t, uint64(1), a.Get("x"))
	assert.Equal(t, uint64(2), b.Get("x"))
}
