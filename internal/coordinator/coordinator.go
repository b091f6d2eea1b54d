package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"replicator/internal/clock"
	"replicator/internal/config"
	"replicator/internal/metrics"
	"replicator/internal/quorum"
	"replicator/internal/replication"
	"replicator/internal/storage"
)

// Dispatcher runs delivery tasks asynchronously. *workerpool.Pool satisfies it.
type Dispatcher interface {
	Submit(ctx context.Context, task func()) error
}

// Settings exposes the run-time write quorum. *config.Runtime satisfies it.
type Settings interface {
	WriteQuorum() int
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Store     storage.Store
	Clock     clock.Clock
	Transport replication.Transport
	Pool      Dispatcher
	Peers     []config.Peer
	Settings  Settings
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Result describes a successful write.
type Result struct {
	Key       string
	Timestamp time.Time
	Outcome   quorum.Outcome
}

// PendingWrite is a write with deliveries still running.
type PendingWrite struct {
	ID        uint64
	Key       string
	Timestamp time.Time
	Remaining int
}

// Coordinator accepts writes on the leader.
type Coordinator struct {
	store     storage.Store
	clock     clock.Clock
	transport replication.Transport
	pool      Dispatcher
	peers     []config.Peer
	settings  Settings
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu       sync.Mutex
	nextID   uint64
	writes   map[uint64]*PendingWrite
	inflight int
	drained  chan struct{}
}

// New creates a Coordinator. Store, Transport, Pool and Settings are required.
func New(d Deps) *Coordinator {
	if d.Clock == nil {
		d.Clock = clock.NewMonotonic()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	peers := make([]config.Peer, len(d.Peers))
	copy(peers, d.Peers)
	return &Coordinator{
		store:     d.Store,
		clock:     d.Clock,
		transport: d.Transport,
		pool:      d.Pool,
		peers:     peers,
		settings:  d.Settings,
		metrics:   d.Metrics,
		log:       d.Logger,
		writes:    make(map[uint64]*PendingWrite),
	}
}

// Peers returns the fixed replica set.
func (c *Coordinator) Peers() []config.Peer {
	out := make([]config.Peer, len(c.peers))
	copy(out, c.peers)
	return out
}

// Write stores key=value locally, replicates it to every peer and blocks until
// the write quorum is reached or missed. Cancelling ctx abandons the wait but
// not the deliveries.
func (c *Coordinator) Write(ctx context.Context, key, value string) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	start := time.Now()

	// The threshold is read once so a concurrent change only affects later writes.
	required := c.settings.WriteQuorum()
	ts := c.clock.Now()
	c.store.Put(key, value, ts)

	msg := replication.NewMessage(key, value, ts)
	tracker := quorum.NewTracker(required, len(c.peers))
	w := c.begin(key, ts, len(c.peers))

	// Deliveries outlive the caller's wait.
	sendCtx := context.WithoutCancel(ctx)
	for _, peer := range c.peers {
		c.metrics.DeliveryStarted()
		task := func() {
			ok := c.transport.Send(sendCtx, peer, msg)
			late := tracker.Record(ok)
			result := metrics.DeliveryOK
			if !ok {
				result = metrics.DeliveryFailed
			}
			c.metrics.DeliveryFinished(peer.ID, result, late)
			c.finish(w)
		}
		if err := c.pool.Submit(ctx, task); err != nil {
			c.log.Warn("delivery not dispatched",
				zap.String("key", key),
				zap.String("peer", peer.ID),
				zap.Error(err))
			late := tracker.Record(false)
			c.metrics.DeliveryFinished(peer.ID, metrics.DeliveryRejected, late)
			c.finish(w)
		}
	}

	decision, err := tracker.Wait(ctx)
	outcome := tracker.Outcome()
	if err != nil {
		c.metrics.ObserveWrite(metrics.ResultError, time.Since(start))
		return Result{Key: key, Timestamp: ts, Outcome: outcome},
			fmt.Errorf("write %q: waiting for quorum: %w", key, err)
	}

	if decision == quorum.Failure {
		c.metrics.ObserveWrite(metrics.ResultQuorumFailure, time.Since(start))
		c.log.Warn("write missed quorum",
			zap.String("key", key),
			zap.Time("ts", ts),
			zap.Stringer("outcome", outcome))
		return Result{}, &QuorumError{Key: key, Outcome: outcome}
	}

	c.metrics.ObserveWrite(metrics.ResultSuccess, time.Since(start))
	c.log.Debug("write committed",
		zap.String("key", key),
		zap.Time("ts", ts),
		zap.Stringer("outcome", outcome))
	return Result{Key: key, Timestamp: ts, Outcome: outcome}, nil
}

func (c *Coordinator) begin(key string, ts time.Time, deliveries int) *PendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	w := &PendingWrite{ID: c.nextID, Key: key, Timestamp: ts, Remaining: deliveries}
	if deliveries > 0 {
		c.writes[w.ID] = w
		c.inflight += deliveries
	}
	return w
}

func (c *Coordinator) finish(w *PendingWrite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.Remaining--
	if w.Remaining == 0 {
		delete(c.writes, w.ID)
	}
	c.inflight--
	if c.inflight == 0 && c.drained != nil {
		close(c.drained)
		c.drained = nil
	}
}

// InFlight returns the number of deliveries not yet completed.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// PendingWrites lists writes that still have deliveries running.
func (c *Coordinator) PendingWrites() []PendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingWrite, 0, len(c.writes))
	for _, w := range c.writes {
		out = append(out, *w)
	}
	return out
}

// Drain blocks until every dispatched delivery has completed or ctx ends.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	if c.inflight == 0 {
		c.mu.Unlock()
		return nil
	}
	if c.drained == nil {
		c.drained = make(chan struct{})
	}
	ch := c.drained
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %d deliveries still in flight: %w", c.InFlight(), ctx.Err())
	}
}

// Get reads the leader's own store.
func (c *Coordinator) Get(key string) string {
	v, _ := c.store.Get(key)
	return v
}

// DumpValues returns the leader's key -> value table.
func (c *Coordinator) DumpValues() map[string]string {
	return c.store.DumpValues()
}

// DumpTimestamps returns the leader's key -> Unix milliseconds table.
func (c *Coordinator) DumpTimestamps() map[string]int64 {
	return c.store.DumpTimestamps()
}
