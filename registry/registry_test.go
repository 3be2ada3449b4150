package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutrinographics/gossip-sub004/model"
	"github.com/neutrinographics/gossip-sub004/registry"
)

func TestAddPeerRejectsLocalNode(t *testing.T) {
	var r = registry.New("local", nil)
	_, err := r.AddPeer("local")
	assert.ErrorIs(t, err, model.ErrLocalNodeAsPeer)
}

func TestAddPeerRejectsDuplicate(t *testing.T) {
	var r = registry.New("local", nil)
	_, err := r.AddPeer("a")
	require.NoError(t, err)

	_, err = r.AddPeer("a")
	assert.ErrorIs(t, err, model.ErrPeerAlreadyExists)
}

func TestRemovePeerRequiresExisting(t *testing.T) {
	var r = registry.New("local", nil)
	assert.ErrorIs(t, r.RemovePeer("ghost"), model.ErrPeerNotFound)
}

func TestNewPeerStartsReachable(t *testing.T) {
	var r = registry.New("local", nil)
	p, err := r.AddPeer("a")
	require.NoError(t, err)
	assert.Equal(t, model.Reachable, p.Status)
}

func TestTransitionStatusIgnoresStaleIncarnation(t *testing.T) {
	var r = registry.New("local", nil)
	_, err := r.AddPeer("a")
	require.NoError(t, err)

	_, err = r.TransitionStatus("a", model.Suspected, 5)
	require.NoError(t, err)

	var transition, err2 = r.TransitionStatus("a", model.Reachable, 3)
	require.NoError(t, err2)
	assert.False(t, transition.Changed, "an older incarnation must not override newer state")

	p, _ := r.Get("a")
	assert.Equal(t, model.Suspected, p.Status)
}

func TestTransitionStatusAppliesNewerIncarnation(t *testing.T) {
	var r = registry.New("local", nil)
	_, err := r.AddPeer("a")
	require.NoError(t, err)

	_, err = r.TransitionStatus("a", model.Suspected, 1)
	require.NoError(t, err)

	var transition, err2 = r.TransitionStatus("a", model.Reachable, 2)
	require.NoError(t, err2)
	assert.True(t, transition.Changed)
	assert.Equal(t, model.Reachable, transition.New)
}

func TestRecordContactResetsFailedProbeCount(t *testing.T) {
	var r = registry.New("local", nil)
	_, err := r.AddPeer("a")
	require.NoError(t, err)

	_, err = r.RecordFailedProbe("a")
	require.NoError(t, err)
	_, err = r.RecordFailedProbe("a")
	require.NoError(t, err)

	require.NoError(t, r.RecordContact("a", 1000, nil))
	p, _ := r.Get("a")
	assert.Equal(t, 0, p.FailedProbeCount)
	assert.Equal(t, uint64(1000), p.LastContactMs)
}

func TestReachableFiltersByStatus(t *testing.T) {
	var r = registry.New("local", nil)
	_, _ = r.AddPeer("a")
	_, _ = r.AddPeer("b")
	_, err := r.TransitionStatus("b", model.Unreachable, 1)
	require.NoError(t, err)

	var reachable = r.Reachable()
	require.Len(t, reachable, 1)
	assert.Equal(t, model.NodeId("a"), reachable[0].ID)
}

func TestGetReturnsIndependentClone(t *testing.T) {
	var r = registry.New("local", nil)
	_, _ = r.AddPeer("a")

	p1, _ := r.Get("a")
	p1.FailedProbeCount = 99

	p2, _ := r.Get("a")
	assert.Equal(t, 0, p2.FailedProbeCount, "mutating a returned snapshot must not affect the registry")
}
