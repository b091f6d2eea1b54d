// Package it runs whole clusters in one process for end-to-end tests.
package it

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"replicator/internal/api"
	"replicator/internal/config"
	"replicator/internal/node"
)

// Options shapes a test cluster.
type Options struct {
	Followers   int
	WriteQuorum int
	Versioned   bool
	Transport   string
	Delay       config.DelayConfig
	Logger      *zap.Logger
}

// Member is one running node of a cluster.
type Member struct {
	ID     string
	Node   *node.Node
	Client *api.Client
	done   chan error
}

// Cluster is a leader and its followers, all on loopback ports.
type Cluster struct {
	Leader    *Member
	Followers []*Member

	cancel context.CancelFunc
	mu     sync.Mutex
	nodes  []*Member
}

func nodeConfig(id, role string, opts Options) *config.Config {
	cfg := config.Default()
	cfg.Node.ID = id
	cfg.Node.Role = role
	cfg.Node.GRPCAddr = "127.0.0.1:0"
	cfg.Node.HTTPAddr = "127.0.0.1:0"
	cfg.Replication.Versioned = opts.Versioned
	if opts.Transport != "" {
		cfg.Replication.Transport = opts.Transport
	}
	cfg.Replication.Delay = opts.Delay
	cfg.Dispatch.CoreWorkers = 8
	cfg.Dispatch.MaxWorkers = 16
	cfg.Dispatch.QueueCapacity = 64
	cfg.Probe.Enabled = false
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

// StartCluster starts the followers, then a leader that replicates to them.
func StartCluster(ctx context.Context, opts Options) (*Cluster, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Cluster{cancel: cancel}

	peers := make([]config.Peer, 0, opts.Followers)
	for i := 1; i <= opts.Followers; i++ {
		id := fmt.Sprintf("follower-%d", i)
		m, err := c.start(runCtx, nodeConfig(id, config.RoleFollower, opts), opts.Logger)
		if err != nil {
			c.Stop()
			return nil, err
		}
		c.Followers = append(c.Followers, m)

		addr := m.Node.GRPCAddr()
		if opts.Transport == config.TransportHTTP {
			addr = "http://" + m.Node.HTTPAddr()
		}
		peers = append(peers, config.Peer{ID: id, Addr: addr})
	}

	cfg := nodeConfig("leader", config.RoleLeader, opts)
	cfg.Replication.Peers = peers
	q := opts.WriteQuorum
	cfg.Replication.WriteQuorum = &q
	leader, err := c.start(runCtx, cfg, opts.Logger)
	if err != nil {
		c.Stop()
		return nil, err
	}
	c.Leader = leader

	for _, m := range c.All() {
		if err := waitForReady(ctx, m, 10*time.Second); err != nil {
			c.Stop()
			return nil, err
		}
	}
	return c, nil
}

func (c *Cluster) start(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Member, error) {
	n, err := node.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", cfg.Node.ID, err)
	}
	if err := n.Listen(); err != nil {
		return nil, fmt.Errorf("node %s: %w", cfg.Node.ID, err)
	}
	m := &Member{
		ID:     cfg.Node.ID,
		Node:   n,
		Client: api.NewClient(n.HTTPAddr(), nil),
		done:   make(chan error, 1),
	}
	go func() { m.done <- n.Run(ctx) }()

	c.mu.Lock()
	c.nodes = append(c.nodes, m)
	c.mu.Unlock()
	return m, nil
}

// waitForReady polls /readyz until the node answers.
func waitForReady(ctx context.Context, m *Member, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		rctx, cancel := context.WithTimeout(ctx, time.Second)
		err := m.Client.Ready(rctx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for node %s to be ready: %w", m.ID, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// All returns every member, leader last.
func (c *Cluster) All() []*Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Member(nil), c.nodes...)
}

// Drain waits for the leader's outstanding deliveries.
func (c *Cluster) Drain(ctx context.Context) error {
	return c.Leader.Node.Coordinator().Drain(ctx)
}

// Stop shuts every node down and waits for them.
func (c *Cluster) Stop() error {
	c.cancel()
	var errs []error
	for _, m := range c.All() {
		select {
		case err := <-m.done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.ID, err))
			}
		case <-time.After(10 * time.Second):
			errs = append(errs, fmt.Errorf("%s: did not stop", m.ID))
		}
	}
	return errors.Join(errs...)
}

// StopFollower shuts one follower down, leaving the rest running.
func (c *Cluster) StopFollower(ctx context.Context, m *Member) error {
	return m.Node.Shutdown(ctx)
}
