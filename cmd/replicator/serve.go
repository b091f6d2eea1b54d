package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"replicator/internal/config"
	"replicator/internal/node"
	"replicator/internal/observability/logger"
)

type serveFlags struct {
	configPath  string
	role        string
	nodeID      string
	grpcAddr    string
	httpAddr    string
	peers       string
	writeQuorum string
	versioned   bool
	transport   string
}

func newServeCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}

			logger.Init(logger.Config{
				Env:    cfg.Log.Env,
				Level:  cfg.Log.Level,
				NodeID: cfg.Node.ID,
				Role:   cfg.Node.Role,
			})
			defer func() { _ = logger.Sync() }()
			log := logger.L()

			n, err := node.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := n.Run(ctx); err != nil {
				log.Error("node stopped with error", zap.Error(err))
				return err
			}
			log.Info("node stopped")
			return nil
		},
	}

	f.bind(cmd.Flags())
	return cmd
}

func (f *serveFlags) bind(fl *pflag.FlagSet) {
	fl.StringVarP(&f.configPath, "config", "c", envOr("REPLICATOR_CONFIG", ""), "YAML config file (env REPLICATOR_CONFIG)")
	fl.StringVar(&f.role, "role", "", "leader or follower")
	fl.StringVar(&f.nodeID, "node-id", "", "node identifier")
	fl.StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC listen address")
	fl.StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address")
	fl.StringVar(&f.peers, "peers", "", "followers as id=addr,id=addr")
	fl.StringVar(&f.writeQuorum, "write-quorum", "", "acks required per write (default: majority of peers)")
	fl.BoolVar(&f.versioned, "versioned", false, "merge replicated writes by timestamp")
	fl.StringVar(&f.transport, "transport", "", "grpc or http")
}

// apply overrides cfg with the flags that were set explicitly.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("role") {
		cfg.Node.Role = f.role
	}
	if changed("node-id") {
		cfg.Node.ID = f.nodeID
	}
	if changed("grpc-addr") {
		cfg.Node.GRPCAddr = f.grpcAddr
	}
	if changed("http-addr") {
		cfg.Node.HTTPAddr = f.httpAddr
	}
	if changed("peers") {
		peers, err := config.ParsePeers(f.peers)
		if err != nil {
			return err
		}
		cfg.Replication.Peers = peers
	}
	if changed("write-quorum") {
		q, err := config.ParseWriteQuorum(f.writeQuorum)
		if err != nil {
			return err
		}
		cfg.Replication.WriteQuorum = &q
	}
	if changed("versioned") {
		cfg.Replication.Versioned = f.versioned
	}
	if changed("transport") {
		cfg.Replication.Transport = f.transport
	}
	return cfg.Validate()
}
