package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"replicator/internal/api"
	"replicator/internal/clock"
	"replicator/internal/config"
	"replicator/internal/coordinator"
	"replicator/internal/metrics"
	"replicator/internal/peers"
	"replicator/internal/replication"
	"replicator/internal/storage"
	"replicator/internal/workerpool"
)

// Node is a single leader or follower process.
type Node struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *storage.InMemoryStore
	settings *config.Runtime
	metrics  *metrics.Metrics

	// Leader only.
	pool      *workerpool.Pool
	transport replication.Transport
	coord     *coordinator.Coordinator
	prober    *peers.Prober

	// Follower only.
	applier *replication.Applier

	clients    *replication.ClientManager
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server

	grpcLis net.Listener
	httpLis net.Listener

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a node from cfg. Nothing listens until Listen or Run.
func New(cfg *config.Config, log *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("node", cfg.Node.ID), zap.String("role", cfg.Node.Role))

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		log:      log,
		store:    storage.NewInMemoryStore(),
		settings: config.NewRuntime(cfg.InitialWriteQuorum(), cfg.Replication.Versioned),
		metrics:  m,
		clients:  replication.NewClientManager(cfg.Replication.ConnIdleTTL, log.Named("clients")),
		health:   health.NewServer(),
	}

	if cfg.IsLeader() {
		n.buildLeader()
	} else {
		n.applier = replication.NewApplier(n.store, n.settings.Versioned, m, log.Named("applier"))
	}

	n.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(n.grpcServer, n.health)
	if n.applier != nil {
		replication.RegisterReplicationServer(n.grpcServer, n.applier)
	}
	reflection.Register(n.grpcServer)

	opts := api.Options{
		NodeID:   cfg.Node.ID,
		Role:     cfg.Node.Role,
		Store:    n.store,
		Applier:  n.applier,
		Settings: n.settings,
		Metrics:  m,
		Logger:   log.Named("http"),
	}
	if n.coord != nil {
		opts.Writer = n.coord
	}
	if n.prober != nil {
		opts.Peers = func() any { return n.prober.Snapshot() }
	}
	n.httpServer = &http.Server{
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := n.registerGauges(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) buildLeader() {
	cfg := n.cfg
	d := cfg.Dispatch
	n.pool = workerpool.New(workerpool.Config{
		CoreWorkers:   d.CoreWorkers,
		MaxWorkers:    d.MaxWorkers,
		QueueCapacity: d.QueueCapacity,
		KeepAlive:     d.KeepAlive,
		Overflow:      workerpool.Overflow(d.Overflow),
	}, n.log.Named("pool"))

	var probe peers.ProbeFunc
	switch cfg.Replication.Transport {
	case config.TransportHTTP:
		n.transport = replication.NewHTTPTransport(nil, cfg.Replication.SendTimeout, n.log.Named("transport"))
		probe = peers.HTTPReadyProbe(nil)
	default:
		n.transport = replication.NewGRPCTransport(n.clients, cfg.Replication.SendTimeout, n.log.Named("transport"))
		probe = peers.GRPCHealthProbe(n.clients)
	}
	if delay := cfg.Replication.Delay; delay.Enabled {
		n.transport = replication.WithDelay(n.transport, delay.Min, delay.Max)
		n.log.Warn("simulated replication delay enabled",
			zap.Duration("min", delay.Min), zap.Duration("max", delay.Max))
	}

	n.coord = coordinator.New(coordinator.Deps{
		Store:     n.store,
		Clock:     clock.NewMonotonic(),
		Transport: n.transport,
		Pool:      n.pool,
		Peers:     cfg.Replication.Peers,
		Settings:  n.settings,
		Metrics:   n.metrics,
		Logger:    n.log.Named("coordinator"),
	})

	if cfg.Probe.Enabled && len(cfg.Replication.Peers) > 0 {
		n.prober = peers.NewProber(cfg.Replication.Peers, probe, peers.Options{
			Interval:     cfg.Probe.Interval,
			Timeout:      cfg.Probe.Timeout,
			SuspectAfter: cfg.Probe.SuspectAfter,
			DeadAfter:    cfg.Probe.DeadAfter,
			Metrics:      n.metrics,
			Logger:       n.log.Named("peers"),
		})
	}
}

type gauge struct {
	name, help string
	fn         func() float64
}

func (n *Node) registerGauges() error {
	gauges := []gauge{
		{"write_quorum", "Current write quorum threshold", func() float64 { return float64(n.settings.WriteQuorum()) }},
		{"store_keys", "Keys held by this node", func() float64 { return float64(n.store.Len()) }},
	}
	if n.pool != nil {
		gauges = append(gauges,
			gauge{"pool_queue_depth", "Deliveries waiting in the pool queue", func() float64 { return float64(n.pool.Stats().Queued) }},
			gauge{"pool_workers", "Live delivery workers", func() float64 { return float64(n.pool.Stats().Workers) }},
			gauge{"pending_writes", "Writes with deliveries still running", func() float64 { return float64(len(n.coord.PendingWrites())) }},
		)
	}
	for _, g := range gauges {
		if err := n.metrics.GaugeFunc(g.name, g.help, g.fn); err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
	}
	return nil
}

// Listen binds the gRPC and HTTP listeners. Run calls it if needed.
func (n *Node) Listen() error {
	if n.grpcLis == nil {
		lis, err := net.Listen("tcp", n.cfg.Node.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", n.cfg.Node.GRPCAddr, err)
		}
		n.grpcLis = lis
	}
	if n.httpLis == nil {
		lis, err := net.Listen("tcp", n.cfg.Node.HTTPAddr)
		if err != nil {
			_ = n.grpcLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", n.cfg.Node.HTTPAddr, err)
		}
		n.httpLis = lis
	}
	return nil
}

// GRPCAddr returns the bound gRPC address, or the configured one before Listen.
func (n *Node) GRPCAddr() string {
	if n.grpcLis != nil {
		return n.grpcLis.Addr().String()
	}
	return n.cfg.Node.GRPCAddr
}

// HTTPAddr returns the bound HTTP address, or the configured one before Listen.
func (n *Node) HTTPAddr() string {
	if n.httpLis != nil {
		return n.httpLis.Addr().String()
	}
	return n.cfg.Node.HTTPAddr
}

// Run serves until ctx is cancelled or a server fails, then shuts down.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.log.Info("grpc listening", zap.String("addr", n.GRPCAddr()))
		if err := n.grpcServer.Serve(n.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n.log.Info("http listening", zap.String("addr", n.HTTPAddr()))
		if err := n.httpServer.Serve(n.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	if n.prober != nil {
		n.prober.Start(gctx)
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), n.cfg.ShutdownTimeout)
		defer cancel()
		return n.Shutdown(sctx)
	})

	n.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	n.log.Info("node started",
		zap.Int("peers", len(n.cfg.Replication.Peers)),
		zap.Int("write_quorum", n.settings.WriteQuorum()),
		zap.Bool("versioned", n.settings.Versioned()),
		zap.String("transport", n.cfg.Replication.Transport))

	return g.Wait()
}

// Shutdown stops the node: HTTP first so no new writes arrive, then
// in-flight deliveries, the pool and finally gRPC.
func (n *Node) Shutdown(ctx context.Context) error {
	n.shutdownOnce.Do(func() {
		n.shutdownErr = n.shutdown(ctx)
	})
	return n.shutdownErr
}

func (n *Node) shutdown(ctx context.Context) error {
	n.log.Info("shutting down")
	n.health.Shutdown()
	var errs []error

	if n.prober != nil {
		n.prober.Stop()
	}
	if err := n.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if n.coord != nil {
		if err := n.coord.Drain(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if n.pool != nil {
		if err := n.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.clients.Close()

	stopped := make(chan struct{})
	go func() {
		n.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		n.grpcServer.Stop()
		<-stopped
	}
	return errors.Join(errs...)
}

// Store returns the node's replica store.
func (n *Node) Store() storage.Store { return n.store }

// Settings returns the run-time replication settings.
func (n *Node) Settings() *config.Runtime { return n.settings }

// Coordinator returns the write coordinator, nil on followers.
func (n *Node) Coordinator() *coordinator.Coordinator { return n.coord }

// Metrics returns the node's collectors.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Prober returns the peer prober, nil when probing is disabled.
func (n *Node) Prober() *peers.Prober { return n.prober }
