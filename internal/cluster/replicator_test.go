package cluster_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/coordinator/internal/cluster"
	"github.com/relaychat/coordinator/internal/wire"
)

func openOpLog(t *testing.T) *cluster.OpLog {
	t.Helper()
	l, err := cluster.OpenOpLog(filepath.Join(t.TempDir(), "oplog.ndjson"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func newTestReplicator(t *testing.T, selfID string, peers []cluster.Peer, apply cluster.Applier) *cluster.Replicator {
	t.Helper()
	set, err := cluster.NewPeerSet(selfID, peers)
	require.NoError(t, err)
	return cluster.NewReplicator(selfID, set, apply, openOpLog(t))
}

func noopApply([]byte) ([]byte, error) { return []byte("ok"), nil }

func threePeers() []cluster.Peer {
	return []cluster.Peer{
		{ID: "node1", Address: "127.0.0.1:19001"},
		{ID: "node2", Address: "127.0.0.1:19002"},
		{ID: "node3", Address: "127.0.0.1:19003"},
	}
}

func TestHandleVoteRequestGrantsOncePerTerm(t *testing.T) {
	r := newTestReplicator(t, "node1", threePeers(), noopApply)

	reply := r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerRequestVote, Term: 1, ServerID: "node2"})
	require.NotNil(t, reply)
	assert.True(t, reply.Granted)

	// A different candidate in the same term must be refused.
	reply = r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerRequestVote, Term: 1, ServerID: "node3"})
	require.NotNil(t, reply)
	assert.False(t, reply.Granted)

	// Re-requesting for the already-voted candidate in the same term still
	// grants (idempotent retry of a dropped reply).
	reply = r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerRequestVote, Term: 1, ServerID: "node2"})
	require.NotNil(t, reply)
	assert.True(t, reply.Granted)

	// A higher term resets the vote and is granted to whoever asks first.
	reply = r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerRequestVote, Term: 2, ServerID: "node3"})
	require.NotNil(t, reply)
	assert.True(t, reply.Granted)
}

func TestHandleHeartbeatAdoptsHigherTermAsBackup(t *testing.T) {
	r := newTestReplicator(t, "node1", threePeers(), noopApply)

	reply := r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerHeartbeat, Term: 5, ServerID: "node2"})
	assert.Nil(t, reply)

	role, term, primaryID, selfID := r.Status()
	assert.Equal(t, "backup", role)
	assert.Equal(t, uint64(5), term)
	assert.Equal(t, "node2", primaryID)
	assert.Equal(t, "node1", selfID)
}

func TestHandleReplicateRequiresMatchingPrimaryAndTerm(t *testing.T) {
	var applied []string
	apply := func(raw []byte) ([]byte, error) {
		applied = append(applied, string(raw))
		return []byte("ok"), nil
	}
	r := newTestReplicator(t, "node1", threePeers(), apply)

	r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerHeartbeat, Term: 3, ServerID: "node2"})

	// A REPLICATE from an id other than the known primary must not apply.
	r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerReplicate, Term: 3, ServerID: "node3", Operation: "rogue"})
	assert.Empty(t, applied)

	// REPLICATE from the known primary at the current term applies.
	reply := r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerReplicate, Term: 3, ServerID: "node2", Operation: "write-1"})
	require.NotNil(t, reply)
	assert.Equal(t, wire.PeerReplicateAck, reply.Type)
	require.Len(t, applied, 1)
	assert.Equal(t, "write-1", applied[0])

	// A stale term from the same primary is rejected.
	r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerReplicate, Term: 1, ServerID: "node2", Operation: "stale"})
	assert.Len(t, applied, 1)
}

func TestHandleForwardRejectsWhenNotPrimary(t *testing.T) {
	r := newTestReplicator(t, "node1", threePeers(), noopApply)
	// node1 starts out a candidate with no primary, so it is not primary.
	reply := r.HandlePeerMessage(wire.PeerMessage{Type: wire.PeerForward, ServerID: "node2", Operation: "op"})
	require.NotNil(t, reply)
	assert.Equal(t, wire.PeerForwardReply, reply.Type)
	assert.Empty(t, reply.Operation)
}

func TestHandleClientOperationAppliesDirectlyAsPrimary(t *testing.T) {
	var applied []string
	apply := func(raw []byte) ([]byte, error) {
		applied = append(applied, string(raw))
		return []byte(`{"type":"S","payload":"ok"}`), nil
	}

	// A single-member peer set reaches primary via bootstrap self-promotion
	// without needing any peer traffic, giving a deterministic way to reach
	// the primary role for this test.
	solo, err := cluster.NewPeerSet("node1", []cluster.Peer{{ID: "node1", Address: "127.0.0.1:0"}})
	require.NoError(t, err)
	r := cluster.NewReplicator("node1", solo, apply, openOpLog(t))
	r.Start()
	t.Cleanup(r.Stop)

	require.Eventually(t, func() bool {
		role, _, _, _ := r.Status()
		return role == "primary"
	}, 7*time.Second, 50*time.Millisecond)

	resp, err := r.HandleClientOperation([]byte(`{"type":"M","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"S","payload":"ok"}`, string(resp))
	require.Len(t, applied, 1)
}

func TestSoloClusterBootstrapsSelfAsPrimary(t *testing.T) {
	solo, err := cluster.NewPeerSet("solo", []cluster.Peer{{ID: "solo", Address: "127.0.0.1:0"}})
	require.NoError(t, err)
	r := cluster.NewReplicator("solo", solo, noopApply, openOpLog(t))
	r.Start()
	t.Cleanup(r.Stop)

	require.Eventually(t, func() bool {
		role, _, primaryID, _ := r.Status()
		return role == "primary" && primaryID == "solo"
	}, 7*time.Second, 50*time.Millisecond)
}
