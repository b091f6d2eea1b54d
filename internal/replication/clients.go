package replication

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

var errManagerClosed = errors.New("client manager closed")

// ClientManager caches one gRPC connection per peer address. A connection
// not used for the idle TTL is evicted and closed.
type ClientManager struct {
	mu     sync.Mutex
	closed bool
	conns  *cache.Cache
	dials  singleflight.Group
	opts   []grpc.DialOption
	log    *zap.Logger
}

// NewClientManager creates a manager. opts are appended to the default
// insecure transport credentials.
func NewClientManager(idleTTL time.Duration, log *zap.Logger, opts ...grpc.DialOption) *ClientManager {
	if log == nil {
		log = zap.NewNop()
	}
	if idleTTL <= 0 {
		idleTTL = 5 * time.Minute
	}
	cleanup := idleTTL / 2
	if cleanup < 10*time.Millisecond {
		cleanup = 10 * time.Millisecond
	}
	cm := &ClientManager{
		conns: cache.New(idleTTL, cleanup),
		opts: append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}, opts...),
		log: log,
	}
	cm.conns.OnEvicted(func(addr string, v any) {
		if conn, ok := v.(*grpc.ClientConn); ok {
			cm.log.Debug("closing idle connection", zap.String("addr", addr))
			_ = conn.Close()
		}
	})
	return cm
}

func (cm *ClientManager) lookup(addr string) (*grpc.ClientConn, bool) {
	v, ok := cm.conns.Get(addr)
	if !ok {
		return nil, false
	}
	conn := v.(*grpc.ClientConn)
	if conn.GetState() == connectivity.Shutdown {
		return nil, false
	}
	// Touch to push back the idle deadline.
	cm.conns.SetDefault(addr, conn)
	return conn, true
}

// Conn returns the connection for addr, creating it on first use. Concurrent
// first calls for one address share a single dial.
func (cm *ClientManager) Conn(addr string) (*grpc.ClientConn, error) {
	if conn, ok := cm.lookup(addr); ok {
		return conn, nil
	}

	v, err, _ := cm.dials.Do(addr, func() (any, error) {
		if conn, ok := cm.lookup(addr); ok {
			return conn, nil
		}
		conn, err := grpc.NewClient(addr, cm.opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
		}

		cm.mu.Lock()
		defer cm.mu.Unlock()
		if cm.closed {
			_ = conn.Close()
			return nil, errManagerClosed
		}
		cm.conns.SetDefault(addr, conn)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*grpc.ClientConn), nil
}

// Client returns a replication client for addr.
func (cm *ClientManager) Client(addr string) (ReplicationClient, error) {
	conn, err := cm.Conn(addr)
	if err != nil {
		return nil, err
	}
	return NewReplicationClient(conn), nil
}

// Len returns the number of cached connections.
func (cm *ClientManager) Len() int {
	return cm.conns.ItemCount()
}

// Close closes every cached connection. Later calls to Conn fail.
func (cm *ClientManager) Close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.closed = true
	for addr := range cm.conns.Items() {
		cm.conns.Delete(addr)
	}
}
