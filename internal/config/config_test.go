package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/coordinator/internal/config"
)

func TestLoadFromFlags(t *testing.T) {
	args := []string{
		"--server-id", "node1",
		"--client-port", "8081",
		"--replication-port", "8091",
		"--replicas", "node1=localhost:8091,node2=localhost:8092",
	}
	cfg, err := config.Load(args)
	require.NoError(t, err)

	assert.Equal(t, "node1", cfg.ServerID)
	assert.Equal(t, "0.0.0.0:8081", cfg.ClientAddr())
	assert.Equal(t, "0.0.0.0:8091", cfg.ReplicationAddr())
	require.Len(t, cfg.Peers(), 2)
}

func TestLoadRejectsMissingSelfInReplicaList(t *testing.T) {
	args := []string{
		"--server-id", "node3",
		"--replicas", "node1=localhost:8091,node2=localhost:8092",
	}
	_, err := config.Load(args)
	assert.Error(t, err)
}

func TestLoadRejectsEmptyReplicaList(t *testing.T) {
	_, err := config.Load([]string{"--server-id", "node1"})
	assert.Error(t, err)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	contents := `
server_id: node1
client_port: 8081
replication_port: 8091
replicas:
  - id: node1
    address: localhost:8091
  - id: node2
    address: localhost:8092
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "node1", cfg.ServerID)
	assert.Equal(t, "0.0.0.0:8081", cfg.ClientAddr())
	require.Len(t, cfg.Peers(), 2)
}
