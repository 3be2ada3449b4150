package hlc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/hlc"
)

func TestNowIsMonotonic(t *testing.T) {
	var g = hlc.NewGenerator(hlc.Zero, 0)

	var t1 = g.Now(1000)
	var t2 = g.Now(1000) // Same wall time; logical must advance.
	var t3 = g.Now(999)  // Wall time regressed; physical must not.

	assert.True(t, t1.Less(t2))
	assert.True(t, t2.Less(t3))
	assert.Equal(t, uint64(1000), t3.PhysicalMs)
}

func TestNowAdvancesPhysicalResetsLogical(t *testing.T) {
	var g = hlc.NewGenerator(hlc.Zero, 0)

	g.Now(1000)
	g.Now(1000)
	var t3 = g.Now(2000)

	assert.Equal(t, hlc.Clock{PhysicalMs: 2000, Logical: 0}, t3)
}

func TestMergeTakesMaxPhysicalAndBumpsLogical(t *testing.T) {
	var g = hlc.NewGenerator(hlc.Clock{PhysicalMs: 500, Logical: 3}, 0)

	var merged, err = g.Merge(hlc.Clock{PhysicalMs: 500, Logical: 7}, 400)
	require.NoError(t, err)
	assert.Equal(t, hlc.Clock{PhysicalMs: 500, Logical: 8}, merged)
}

func TestMergeRemoteAheadOfLocal(t *testing.T) {
	var g = hlc.NewGenerator(hlc.Clock{PhysicalMs: 100, Logical: 9}, 0)

	var merged, err = g.Merge(hlc.Clock{PhysicalMs: 900, Logical: 2}, 100)
	require.NoError(t, err)
	assert.Equal(t, hlc.Clock{PhysicalMs: 900, Logical: 3}, merged)
}

func TestMergeRejectsExcessiveSkew(t *testing.T) {
	var g = hlc.NewGenerator(hlc.Zero, 0)

	// wall=1000, remote.physical=1_200_000_000 -- far beyond the 60s default budget.
	var before = g.State()
	var _, err = g.Merge(hlc.Clock{PhysicalMs: 1_200_000_000}, 1000)

	require.ErrorIs(t, err, hlc.ErrClockSkewExceeded)
	assert.Equal(t, before, g.State(), "clock state must be unchanged on rejected merge")
}

func TestCausalitySuccessiveLocalEventsStrictlyIncrease(t *testing.T) {
	var g = hlc.NewGenerator(hlc.Zero, 0)

	var e1 = g.Now(1000)
	var e2, err = g.Merge(e1, 1000) // e2 observes e1.
	require.NoError(t, err)

	assert.True(t, e1.Less(e2))
}
