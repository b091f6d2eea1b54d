package peers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"replicator/internal/config"
	"replicator/internal/replication"
)

type fakeProbe struct {
	mu   sync.Mutex
	down map[string]bool
}

func (f *fakeProbe) set(id string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[id] = down
}

func (f *fakeProbe) probe(_ context.Context, peer config.Peer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[peer.ID] {
		return errors.New("connection refused")
	}
	return nil
}

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestProber(peers []config.Peer) (*Prober, *fakeProbe, *fakeNow) {
	fp := &fakeProbe{down: map[string]bool{}}
	clock := &fakeNow{t: time.Unix(1000, 0)}
	p := NewProber(peers, fp.probe, Options{
		Interval:     time.Second,
		SuspectAfter: 3 * time.Second,
		DeadAfter:    10 * time.Second,
	})
	p.now = clock.now
	for _, m := range p.members {
		m.LastSeen = clock.now()
	}
	return p, fp, clock
}

func statusOf(p *Prober, id string) Status {
	for _, m := range p.Snapshot() {
		if m.ID == id {
			return m.Status
		}
	}
	return -1
}

func TestProber_StateTransitions(t *testing.T) {
	peers := []config.Peer{{ID: "f1", Addr: "a"}, {ID: "f2", Addr: "b"}}
	p, fp, clock := newTestProber(peers)
	fp.set("f2", true)

	p.ProbeOnce(context.Background())
	assert.Equal(t, Alive, statusOf(p, "f2"), "one missed probe is not enough")

	clock.advance(4 * time.Second)
	p.ProbeOnce(context.Background())
	assert.Equal(t, Alive, statusOf(p, "f1"))
	assert.Equal(t, Suspect, statusOf(p, "f2"))

	clock.advance(7 * time.Second)
	p.ProbeOnce(context.Background())
	assert.Equal(t, Dead, statusOf(p, "f2"))
	assert.Equal(t, map[string]int{"ALIVE": 1, "SUSPECT": 0, "DEAD": 1}, p.Counts())

	fp.set("f2", false)
	p.ProbeOnce(context.Background())
	assert.Equal(t, Alive, statusOf(p, "f2"))
}

func TestProber_SnapshotKeepsOrderAndError(t *testing.T) {
	peers := []config.Peer{{ID: "f3", Addr: "c"}, {ID: "f1", Addr: "a"}, {ID: "f2", Addr: "b"}}
	p, fp, _ := newTestProber(peers)
	fp.set("f1", true)
	p.ProbeOnce(context.Background())

	snap := p.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"f3", "f1", "f2"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
	assert.Equal(t, "connection refused", snap[1].LastError)
	assert.Empty(t, snap[0].LastError)
}

func TestProber_StartStop(t *testing.T) {
	var calls sync.WaitGroup
	calls.Add(1)
	var once sync.Once
	probe := func(context.Context, config.Peer) error {
		once.Do(calls.Done)
		return nil
	}
	p := NewProber([]config.Peer{{ID: "f1", Addr: "a"}}, probe, Options{Interval: 10 * time.Millisecond})
	p.Start(context.Background())
	calls.Wait()
	p.Stop()
}

func TestProber_StopRacingStart(t *testing.T) {
	for range 50 {
		probe := func(context.Context, config.Peer) error { return nil }
		p := NewProber([]config.Peer{{ID: "f1", Addr: "a"}}, probe, Options{Interval: time.Millisecond})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			p.Stop()
		}()
		p.Start(ctx)
		<-done
		p.Stop()
	}
}

func TestProber_StartAfterStopIsNoop(t *testing.T) {
	var calls int
	var mu sync.Mutex
	probe := func(context.Context, config.Peer) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}
	p := NewProber([]config.Peer{{ID: "f1", Addr: "a"}}, probe, Options{Interval: time.Millisecond})
	p.Stop()
	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestStatus_JSON(t *testing.T) {
	b, err := Suspect.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "SUSPECT", string(b))
}

func TestHTTPReadyProbe(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readyz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	probe := HTTPReadyProbe(nil)
	assert.NoError(t, probe(context.Background(), config.Peer{ID: "up", Addr: up.URL}))
	assert.Error(t, probe(context.Background(), config.Peer{ID: "down", Addr: down.URL}))
}

func TestGRPCHealthProbe(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	cm := replication.NewClientManager(time.Minute, nil, grpc.WithContextDialer(
		func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	defer cm.Close()

	probe := GRPCHealthProbe(cm)
	peer := config.Peer{ID: "f1", Addr: "passthrough:///bufnet"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, probe(ctx, peer))

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Error(t, probe(ctx, peer))
}
