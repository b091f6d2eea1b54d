package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"replicator/internal/config"
	"replicator/internal/coordinator"
	"replicator/internal/metrics"
	"replicator/internal/replication"
	"replicator/internal/storage"
)

// Writer accepts client writes. *coordinator.Coordinator satisfies it.
type Writer interface {
	Write(ctx context.Context, key, value string) (coordinator.Result, error)
}

// Options wires the router to a node.
type Options struct {
	NodeID   string
	Role     string
	Store    storage.Store
	Writer   Writer               // leader only
	Applier  *replication.Applier // follower only
	Settings *config.Runtime
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// Peers reports peer liveness for /readyz. Optional.
	Peers func() any
}

// NewRouter builds the HTTP handler for a node.
func NewRouter(o Options) http.Handler {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	h := &handlers{opts: o}

	r := chi.NewRouter()
	r.Use(
		WithRequestID(),
		WithLogging(o.Logger, o.Metrics),
		WithRecover(),
	)

	r.Get("/readyz", h.readyz)
	if o.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.Metrics.Handler())
	}

	r.Post("/write", h.leaderOnly(h.write))
	r.Get("/config", h.getConfig)
	r.Post("/config", h.leaderOnly(h.setConfig))
	r.Post(replication.ReplicatePath, h.followerOnly(h.replicate))

	r.Get("/dump", h.dump)
	r.Get("/dump-versions", h.dumpVersions)
	r.Get("/{key}", h.get)
	return r
}

func (h *handlers) leaderOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.Role != config.RoleLeader || h.opts.Writer == nil {
			WriteError(w, ErrWrongRole.WithDetail("only the leader accepts this request"))
			return
		}
		next(w, r)
	}
}

func (h *handlers) followerOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.Role != config.RoleFollower || h.opts.Applier == nil {
			WriteError(w, ErrWrongRole.WithDetail("only followers accept replicated writes"))
			return
		}
		next(w, r)
	}
}
