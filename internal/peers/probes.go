package peers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"replicator/internal/config"
	"replicator/internal/replication"
)

// GRPCHealthProbe checks a peer through the standard gRPC health service,
// reusing the replication connection cache.
func GRPCHealthProbe(clients *replication.ClientManager) ProbeFunc {
	return func(ctx context.Context, peer config.Peer) error {
		conn, err := clients.Conn(peer.Addr)
		if err != nil {
			return err
		}
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("health status %s", resp.GetStatus())
		}
		return nil
	}
}

// HTTPReadyProbe checks a peer through its /readyz route.
func HTTPReadyProbe(client *http.Client) ProbeFunc {
	if client == nil {
		client = &http.Client{}
	}
	return func(ctx context.Context, peer config.Peer) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, replication.BaseURL(peer.Addr)+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("readyz returned %d", resp.StatusCode)
		}
		return nil
	}
}
