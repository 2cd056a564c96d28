// Package config loads server startup configuration, either from CLI
// flags (the default, following cmd/server's flag-based configuration) or
// from an optional YAML file for static cluster definitions.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relaychat/coordinator/internal/cluster"
)

// Config holds everything cmd/server needs to wire up a replica.
type Config struct {
	ServerID        string        `yaml:"server_id"`
	Host            string        `yaml:"host"`
	ClientPort      int           `yaml:"client_port"`
	ReplicationPort int           `yaml:"replication_port"`
	DataDir         string        `yaml:"data_dir"`
	StatusAddr      string        `yaml:"status_addr"`
	Replicas        []ReplicaSpec `yaml:"replicas"`
}

// ReplicaSpec is one entry of the fixed replica set.
type ReplicaSpec struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"` // host:replication_port
}

// Peers converts the configured replica list to cluster.Peer values.
func (c Config) Peers() []cluster.Peer {
	out := make([]cluster.Peer, 0, len(c.Replicas))
	for _, r := range c.Replicas {
		out = append(out, cluster.Peer{ID: r.ID, Address: r.Address})
	}
	return out
}

// ClientAddr is the host:port the client Acceptor should bind.
func (c Config) ClientAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.ClientPort)
}

// ReplicationAddr is the host:port the PeerListener should bind.
func (c Config) ReplicationAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.ReplicationPort)
}

// Load parses os.Args[1:] into a Config. If --config names a YAML file, it
// is read first and CLI flags other than --config are ignored; otherwise
// every field comes from flags.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "path to a YAML cluster config file (overrides the flags below)")
		serverID   = fs.String("server-id", "", "this replica's unique id")
		host       = fs.String("host", "0.0.0.0", "address to bind listeners on")
		clientPort = fs.Int("client-port", 8081, "client-facing TCP port")
		replPort   = fs.Int("replication-port", 8090, "replication TCP port")
		dataDir    = fs.String("data-dir", "./data", "directory for the users/messages collection files")
		statusAddr = fs.String("status-addr", "", "optional host:port for the /status HTTP endpoint")
		replicas   = fs.String("replicas", "", "comma-separated id=host:port entries for every replica, including self")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		return loadYAML(*configPath)
	}

	specs, err := parseReplicas(*replicas)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ServerID:        *serverID,
		Host:            *host,
		ClientPort:      *clientPort,
		ReplicationPort: *replPort,
		DataDir:         *dataDir,
		StatusAddr:      *statusAddr,
		Replicas:        specs,
	}
	return cfg, cfg.validate()
}

func parseReplicas(raw string) ([]ReplicaSpec, error) {
	if raw == "" {
		return nil, nil
	}
	var specs []ReplicaSpec
	for _, entry := range strings.Split(raw, ",") {
		idAddr := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(idAddr) != 2 || idAddr[0] == "" || idAddr[1] == "" {
			return nil, fmt.Errorf("invalid --replicas entry %q, want id=host:port", entry)
		}
		specs = append(specs, ReplicaSpec{ID: idAddr[0], Address: idAddr[1]})
	}
	return specs, nil
}

func loadYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.ServerID == "" {
		return fmt.Errorf("server id is required")
	}
	if len(c.Replicas) == 0 {
		return fmt.Errorf("at least one replica (including self) is required")
	}
	found := false
	for _, r := range c.Replicas {
		if r.ID == c.ServerID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("server id %q not present in replica list", c.ServerID)
	}
	return nil
}
