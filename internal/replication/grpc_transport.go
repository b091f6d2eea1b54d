package replication

import (
	"context"
	"time"

	"go.uber.org/zap"

	"replicator/internal/config"
)

// GRPCTransport sends messages over the replication gRPC service.
type GRPCTransport struct {
	clients *ClientManager
	timeout time.Duration
	log     *zap.Logger
}

// NewGRPCTransport creates a transport that bounds each delivery by timeout.
func NewGRPCTransport(clients *ClientManager, timeout time.Duration, log *zap.Logger) *GRPCTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &GRPCTransport{clients: clients, timeout: timeout, log: log}
}

// Send implements Transport.
func (t *GRPCTransport) Send(ctx context.Context, peer config.Peer, msg Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("replicate panicked", zap.String("peer", peer.ID), zap.Any("panic", r))
			ok = false
		}
	}()

	client, err := t.clients.Client(peer.Addr)
	if err != nil {
		t.log.Warn("replicate: no client", zap.String("peer", peer.ID), zap.Error(err))
		return false
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	ack, err := client.Replicate(ctx, &msg)
	if err != nil {
		t.log.Debug("replicate failed",
			zap.String("peer", peer.ID),
			zap.String("key", msg.Key),
			zap.Error(err))
		return false
	}
	return ack != nil
}

// Close releases cached connections.
func (t *GRPCTransport) Close() error {
	t.clients.Close()
	return nil
}
