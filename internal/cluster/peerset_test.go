package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/coordinator/internal/cluster"
)

func threeNodeSet(t *testing.T) *cluster.PeerSet {
	t.Helper()
	all := []cluster.Peer{
		{ID: "node1", Address: "127.0.0.1:9001"},
		{ID: "node2", Address: "127.0.0.1:9002"},
		{ID: "node3", Address: "127.0.0.1:9003"},
	}
	set, err := cluster.NewPeerSet("node1", all)
	require.NoError(t, err)
	return set
}

func TestNewPeerSetRejectsUnknownSelf(t *testing.T) {
	_, err := cluster.NewPeerSet("ghost", []cluster.Peer{{ID: "node1", Address: "127.0.0.1:9001"}})
	assert.Error(t, err)
}

func TestPeerSetOthersExcludesSelf(t *testing.T) {
	set := threeNodeSet(t)
	others := set.Others()
	require.Len(t, others, 2)
	for _, p := range others {
		assert.NotEqual(t, "node1", p.ID)
	}
}

func TestPeerSetMajority(t *testing.T) {
	set := threeNodeSet(t)
	assert.Equal(t, 3, set.Size())
	assert.False(t, set.Majority(1))
	assert.True(t, set.Majority(2))
	assert.True(t, set.Majority(3))
}

func TestPeerSetLookup(t *testing.T) {
	set := threeNodeSet(t)
	p, ok := set.Lookup("node2")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9002", p.Address)

	_, ok = set.Lookup("ghost")
	assert.False(t, ok)
}
