package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	RoleLeader   = "leader"
	RoleFollower = "follower"

	TransportGRPC = "grpc"
	TransportHTTP = "http"

	OverflowBlock  = "block"
	OverflowReject = "reject"

	// MaxSimulatedDelay bounds the artificial per-delivery latency.
	MaxSimulatedDelay = time.Second
)

// Peer represents a replica the leader replicates to. Addr is a host:port
// for the gRPC transport and a base URL for the HTTP transport.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// NodeConfig identifies this process and where it listens.
type NodeConfig struct {
	ID       string `yaml:"id"`
	Role     string `yaml:"role"`
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// DelayConfig configures the simulated network latency.
type DelayConfig struct {
	Enabled bool          `yaml:"enabled"`
	Min     time.Duration `yaml:"min"`
	Max     time.Duration `yaml:"max"`
}

// ReplicationConfig configures fan-out and the merge policy.
type ReplicationConfig struct {
	Peers []Peer `yaml:"peers"`
	// WriteQuorum is the number of peer acks a write needs. nil selects a
	// majority of the peers, or 0 without peers.
	WriteQuorum *int          `yaml:"write_quorum"`
	Versioned   bool          `yaml:"versioned"`
	Transport   string        `yaml:"transport"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	ConnIdleTTL time.Duration `yaml:"conn_idle_ttl"`
	Delay       DelayConfig   `yaml:"delay"`
}

// DispatchConfig sizes the delivery worker pool.
type DispatchConfig struct {
	CoreWorkers   int           `yaml:"core_workers"`
	MaxWorkers    int           `yaml:"max_workers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	KeepAlive     time.Duration `yaml:"keep_alive"`
	Overflow      string        `yaml:"overflow"`
}

// ProbeConfig configures the peer liveness prober.
type ProbeConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	SuspectAfter time.Duration `yaml:"suspect_after"`
	DeadAfter    time.Duration `yaml:"dead_after"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// Config holds the node configuration.
type Config struct {
	Node            NodeConfig        `yaml:"node"`
	Replication     ReplicationConfig `yaml:"replication"`
	Dispatch        DispatchConfig    `yaml:"dispatch"`
	Probe           ProbeConfig       `yaml:"probe"`
	Log             LogConfig         `yaml:"log"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
}

// Default returns a leader configuration with no peers.
func Default() *Config {
	c := &Config{Dispatch: defaultDispatch()}
	c.applyDefaults()
	return c
}

// defaultDispatch seeds the pool sizes before the YAML is decoded, so an
// explicit 0 in the file survives.
func defaultDispatch() DispatchConfig {
	return DispatchConfig{
		CoreWorkers:   100,
		MaxWorkers:    150,
		QueueCapacity: 500,
	}
}

// Load reads the YAML file at path (skipped when path is empty), fills in
// defaults, applies REPLICATOR_* environment overrides and validates.
func Load(path string) (*Config, error) {
	c := Config{Dispatch: defaultDispatch()}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	c.applyDefaults()
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Node.ID == "" {
		c.Node.ID = "node-1"
	}
	if c.Node.Role == "" {
		c.Node.Role = RoleLeader
	}
	if c.Node.GRPCAddr == "" {
		c.Node.GRPCAddr = ":7070"
	}
	if c.Node.HTTPAddr == "" {
		c.Node.HTTPAddr = ":8080"
	}
	if c.Replication.Transport == "" {
		c.Replication.Transport = TransportGRPC
	}
	if c.Replication.SendTimeout == 0 {
		c.Replication.SendTimeout = 2 * time.Second
	}
	if c.Replication.ConnIdleTTL == 0 {
		c.Replication.ConnIdleTTL = 5 * time.Minute
	}
	if c.Replication.Delay.Max == 0 {
		c.Replication.Delay.Max = MaxSimulatedDelay
	}
	if c.Dispatch.KeepAlive == 0 {
		c.Dispatch.KeepAlive = time.Minute
	}
	if c.Dispatch.Overflow == "" {
		c.Dispatch.Overflow = OverflowBlock
	}
	if c.Probe.Interval == 0 {
		c.Probe.Interval = time.Second
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = 500 * time.Millisecond
	}
	if c.Probe.SuspectAfter == 0 {
		c.Probe.SuspectAfter = 3 * time.Second
	}
	if c.Probe.DeadAfter == 0 {
		c.Probe.DeadAfter = 10 * time.Second
	}
	if c.Log.Env == "" {
		c.Log.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Node.ID) == "" {
		return invalid("node.id", c.Node.ID, "must not be empty")
	}
	switch c.Node.Role {
	case RoleLeader, RoleFollower:
	default:
		return invalid("node.role", c.Node.Role, "must be leader or follower")
	}
	switch c.Replication.Transport {
	case TransportGRPC, TransportHTTP:
	default:
		return invalid("replication.transport", c.Replication.Transport, "must be grpc or http")
	}

	seen := make(map[string]bool, len(c.Replication.Peers))
	for _, p := range c.Replication.Peers {
		if p.ID == "" || p.Addr == "" {
			return invalid("replication.peers", p.ID+"="+p.Addr, "peer ID and address cannot be empty")
		}
		if p.ID == c.Node.ID {
			return invalid("replication.peers", p.ID, "a node cannot replicate to itself")
		}
		if seen[p.ID] {
			return invalid("replication.peers", p.ID, "duplicate peer id")
		}
		seen[p.ID] = true
	}

	if c.Replication.SendTimeout < 0 {
		return invalid("replication.send_timeout", c.Replication.SendTimeout.String(), "must not be negative")
	}
	d := c.Replication.Delay
	if d.Min < 0 || d.Max < 0 || d.Max > MaxSimulatedDelay || d.Min > d.Max {
		return invalid("replication.delay", fmt.Sprintf("%s..%s", d.Min, d.Max),
			fmt.Sprintf("must satisfy 0 <= min <= max <= %s", MaxSimulatedDelay))
	}

	p := c.Dispatch
	if p.CoreWorkers < 1 {
		return invalid("dispatch.core_workers", fmt.Sprint(p.CoreWorkers), "must be at least 1")
	}
	if p.MaxWorkers < p.CoreWorkers {
		return invalid("dispatch.max_workers", fmt.Sprint(p.MaxWorkers), "must be >= core_workers")
	}
	if p.QueueCapacity < 0 {
		return invalid("dispatch.queue_capacity", fmt.Sprint(p.QueueCapacity), "must not be negative")
	}
	switch p.Overflow {
	case OverflowBlock, OverflowReject:
	default:
		return invalid("dispatch.overflow", p.Overflow, "must be block or reject")
	}
	return nil
}

// InitialWriteQuorum resolves the configured quorum, defaulting to a majority
// of the peers, or 0 when there are none.
func (c *Config) InitialWriteQuorum() int {
	if c.Replication.WriteQuorum != nil {
		return *c.Replication.WriteQuorum
	}
	if len(c.Replication.Peers) == 0 {
		return 0
	}
	return len(c.Replication.Peers)/2 + 1
}

// IsLeader reports whether this node accepts client writes.
func (c *Config) IsLeader() bool {
	return c.Node.Role == RoleLeader
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])
		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{ID: id, Addr: addr})
	}

	return peers, nil
}
