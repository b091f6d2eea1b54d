package replication

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"replicator/internal/metrics"
	"replicator/internal/storage"
)

var (
	// ErrEmptyKey is returned for a replicated write without a key.
	ErrEmptyKey = errors.New("replication: key cannot be empty")
	// ErrMissingTimestamp is returned for a replicated write the coordinator
	// never stamped.
	ErrMissingTimestamp = errors.New("replication: timestamp missing")
)

// Applier merges replicated writes into the local store. It serves both
// the gRPC service and the HTTP /replicate route.
type Applier struct {
	store     storage.Store
	versioned func() bool
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewApplier creates an Applier. versioned is read on every message so a
// policy change takes effect immediately.
func NewApplier(store storage.Store, versioned func() bool, m *metrics.Metrics, log *zap.Logger) *Applier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Applier{store: store, versioned: versioned, metrics: m, log: log}
}

// Apply merges msg and reports whether it replaced the stored entry.
func (a *Applier) Apply(msg Message) (bool, error) {
	if msg.Key == "" {
		return false, ErrEmptyKey
	}
	if msg.Timestamp <= 0 {
		return false, ErrMissingTimestamp
	}
	applied := a.store.Merge(msg.Key, msg.Value, msg.Time(), a.versioned())
	a.metrics.ObserveMerge(applied)
	a.log.Debug("replicated write",
		zap.String("key", msg.Key),
		zap.Time("ts", msg.Time()),
		zap.Bool("applied", applied))
	return applied, nil
}

// Replicate implements ReplicationServer.
func (a *Applier) Replicate(ctx context.Context, msg *Message) (*Ack, error) {
	if msg == nil {
		return nil, status.Error(codes.InvalidArgument, "empty message")
	}
	applied, err := a.Apply(*msg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &Ack{Applied: applied}, nil
}
