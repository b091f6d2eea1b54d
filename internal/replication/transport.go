package replication

import (
	"context"

	"replicator/internal/config"
)

// Transport delivers replicated writes to peers.
//
// Send returns true only when the peer acknowledged msg. Every fault
// (dial, timeout, non-success reply, cancelled ctx) is reported as false.
// Send never retries.
type Transport interface {
	Send(ctx context.Context, peer config.Peer, msg Message) bool
	Close() error
}
