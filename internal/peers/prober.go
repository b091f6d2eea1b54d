package peers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"replicator/internal/config"
	"replicator/internal/metrics"
)

// Status is the liveness state of a peer.
type Status int

const (
	Alive Status = iota
	Suspect
	Dead
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Member is one peer as seen by the prober.
type Member struct {
	ID        string    `json:"id"`
	Addr      string    `json:"addr"`
	Status    Status    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
	LastError string    `json:"last_error,omitempty"`
}

// ProbeFunc checks one peer. A nil error means the peer answered.
type ProbeFunc func(ctx context.Context, peer config.Peer) error

// Options tunes a Prober. Zero values get defaults.
type Options struct {
	Interval     time.Duration
	Timeout      time.Duration
	SuspectAfter time.Duration
	DeadAfter    time.Duration
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Prober runs the liveness loop for a fixed peer set.
type Prober struct {
	mu      sync.RWMutex
	peers   []config.Peer
	members map[string]*Member
	probe   ProbeFunc
	opts    Options
	now     func() time.Time
	log     *zap.Logger

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	stopped   bool
	wg        sync.WaitGroup
}

// NewProber creates a prober. Every peer starts Alive.
func NewProber(peers []config.Peer, probe ProbeFunc, opts Options) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = opts.Interval
	}
	if opts.SuspectAfter <= 0 {
		opts.SuspectAfter = 3 * time.Second
	}
	if opts.DeadAfter <= opts.SuspectAfter {
		opts.DeadAfter = opts.SuspectAfter * 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	p := &Prober{
		peers:   append([]config.Peer(nil), peers...),
		members: make(map[string]*Member, len(peers)),
		probe:   probe,
		opts:    opts,
		now:     time.Now,
		log:     opts.Logger,
	}
	start := p.now()
	for _, peer := range peers {
		p.members[peer.ID] = &Member{ID: peer.ID, Addr: peer.Addr, Status: Alive, LastSeen: start}
		opts.Metrics.SetPeerUp(peer.ID, true)
	}
	return p
}

// Start launches the probe loop. It does nothing once Stop was called or
// when the loop already runs.
func (p *Prober) Start(ctx context.Context) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.stopped || p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ProbeOnce(ctx)
			}
		}
	}()
}

// Stop ends the probe loop and waits for it.
func (p *Prober) Stop() {
	p.lifecycle.Lock()
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	p.lifecycle.Unlock()
	p.wg.Wait()
}

// ProbeOnce probes every peer concurrently, then re-evaluates timeouts.
func (p *Prober) ProbeOnce(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(8)
	for _, peer := range p.peers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
			defer cancel()
			p.record(peer.ID, p.probe(pctx, peer))
			return nil
		})
	}
	_ = g.Wait()
	p.CheckTimeouts()
}

func (p *Prober) record(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.members[id]
	if !ok {
		return
	}
	if err != nil {
		m.LastError = err.Error()
		return
	}
	m.LastError = ""
	m.LastSeen = p.now()
	if m.Status != Alive {
		p.log.Info("peer is alive", zap.String("peer", id), zap.Stringer("was", m.Status))
		m.Status = Alive
		p.opts.Metrics.SetPeerUp(id, true)
	}
}

// CheckTimeouts demotes peers that have not answered for SuspectAfter or
// DeadAfter.
func (p *Prober) CheckTimeouts() {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, m := range p.members {
		elapsed := now.Sub(m.LastSeen)
		next := m.Status
		switch {
		case elapsed > p.opts.DeadAfter:
			next = Dead
		case elapsed > p.opts.SuspectAfter:
			next = Suspect
		}
		if next == m.Status || next == Alive {
			continue
		}
		p.log.Warn("peer status changed",
			zap.String("peer", id),
			zap.Stringer("from", m.Status),
			zap.Stringer("to", next),
			zap.Duration("silent_for", elapsed),
			zap.String("last_error", m.LastError))
		m.Status = next
		p.opts.Metrics.SetPeerUp(id, false)
	}
}

// Snapshot returns the members in configuration order.
func (p *Prober) Snapshot() []Member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Member, 0, len(p.peers))
	for _, peer := range p.peers {
		out = append(out, *p.members[peer.ID])
	}
	return out
}

// Counts returns how many peers are in each status.
func (p *Prober) Counts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := map[string]int{Alive.String(): 0, Suspect.String(): 0, Dead.String(): 0}
	for _, m := range p.members {
		counts[m.Status.String()]++
	}
	return counts
}
