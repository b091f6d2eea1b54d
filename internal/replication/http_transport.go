package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"replicator/internal/config"
)

// ReplicatePath is the follower route that accepts replicated writes.
const ReplicatePath = "/replicate"

// HTTPTransport posts messages as JSON to the follower HTTP API.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
	log     *zap.Logger
}

// NewHTTPTransport creates a transport. A nil client gets a default one.
func NewHTTPTransport(client *http.Client, timeout time.Duration, log *zap.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPTransport{client: client, timeout: timeout, log: log}
}

// BaseURL turns a peer address into a URL with a scheme.
func BaseURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, peer config.Peer, msg Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("replicate panicked", zap.String("peer", peer.ID), zap.Any("panic", r))
			ok = false
		}
	}()

	body, err := json.Marshal(msg.JSON())
	if err != nil {
		t.log.Error("replicate: encode", zap.Error(err))
		return false
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, BaseURL(peer.Addr)+ReplicatePath, bytes.NewReader(body))
	if err != nil {
		t.log.Warn("replicate: bad request", zap.String("peer", peer.ID), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Debug("replicate failed", zap.String("peer", peer.ID), zap.String("key", msg.Key), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.log.Debug("replicate rejected",
			zap.String("peer", peer.ID),
			zap.String("key", msg.Key),
			zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

// Close releases idle keep-alive connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
