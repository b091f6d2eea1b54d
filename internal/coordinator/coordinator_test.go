package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicator/internal/clock"
	"replicator/internal/config"
	"replicator/internal/quorum"
	"replicator/internal/replication"
	"replicator/internal/storage"
	"replicator/internal/workerpool"
)

type delivery struct {
	peer   string
	msg    replication.Message
	ctxErr error
}

// fakeTransport applies delivered messages to one store per peer. reply
// decides each outcome and may block.
type fakeTransport struct {
	reply func(peer config.Peer, msg replication.Message) bool

	mu     sync.Mutex
	sent   []delivery
	stores map[string]*storage.InMemoryStore
}

func newFakeTransport(reply func(config.Peer, replication.Message) bool) *fakeTransport {
	return &fakeTransport{reply: reply, stores: make(map[string]*storage.InMemoryStore)}
}

func (f *fakeTransport) Send(ctx context.Context, peer config.Peer, msg replication.Message) bool {
	ok := true
	if f.reply != nil {
		ok = f.reply(peer, msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{peer: peer.ID, msg: msg, ctxErr: ctx.Err()})
	if ok {
		s, found := f.stores[peer.ID]
		if !found {
			s = storage.NewInMemoryStore()
			f.stores[peer.ID] = s
		}
		s.Merge(msg.Key, msg.Value, msg.Time(), true)
	}
	return ok
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.sent...)
}

func (f *fakeTransport) peerValue(peer, key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stores[peer]; ok {
		return s.Value(key)
	}
	return ""
}

func testPeers(n int) []config.Peer {
	peers := make([]config.Peer, n)
	for i := range peers {
		id := fmt.Sprintf("f%d", i+1)
		peers[i] = config.Peer{ID: id, Addr: id}
	}
	return peers
}

type fixture struct {
	coord    *Coordinator
	store    *storage.InMemoryStore
	settings *config.Runtime
}

func newFixture(t *testing.T, peers, writeQuorum int, tr replication.Transport) *fixture {
	t.Helper()
	pool := workerpool.New(workerpool.Config{CoreWorkers: 8, MaxWorkers: 16, QueueCapacity: 64}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	f := &fixture{
		store:    storage.NewInMemoryStore(),
		settings: config.NewRuntime(writeQuorum, true),
	}
	f.coord = New(Deps{
		Store:     f.store,
		Transport: tr,
		Pool:      pool,
		Peers:     testPeers(peers),
		Settings:  f.settings,
	})
	return f
}

func drain(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Drain(ctx))
}

// failing returns a reply func that fails the given peers. Failures block
// until release is closed so that successes are recorded first.
func failing(release <-chan struct{}, ids ...string) func(config.Peer, replication.Message) bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(p config.Peer, _ replication.Message) bool {
		if !set[p.ID] {
			return true
		}
		if release != nil {
			<-release
		}
		return false
	}
}

func TestWrite_ScenarioA_ThreeOfFiveSucceed(t *testing.T) {
	release := make(chan struct{})
	tr := newFakeTransport(failing(release, "f4", "f5"))
	fx := newFixture(t, 5, 3, tr)

	res, err := fx.coord.Write(context.Background(), "k", "v")
	require.NoError(t, err)
	assert.Equal(t, quorum.Success, res.Outcome.Decision)
	assert.Equal(t, 3, res.Outcome.Acks)

	close(release)
	drain(t, fx.coord)
	assert.Len(t, tr.deliveries(), 5)
	assert.Equal(t, 0, fx.coord.InFlight())
}

func TestWrite_ScenarioB_ThreeOfFiveFail(t *testing.T) {
	tr := newFakeTransport(failing(nil, "f1", "f2", "f3"))
	fx := newFixture(t, 5, 3, tr)

	_, err := fx.coord.Write(context.Background(), "k", "v")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuorumFailure))

	var qe *QuorumError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "k", qe.Key)
	assert.True(t, qe.Outcome.Failed)

	// No rollback on the leader.
	assert.Equal(t, "v", fx.coord.Get("k"))
	drain(t, fx.coord)
}

func TestWrite_FailsOnFirstFailureDespiteAcks(t *testing.T) {
	release := make(chan struct{})
	reply := func(p config.Peer, _ replication.Message) bool {
		switch p.ID {
		case "f3":
			return false
		case "f4", "f5":
			<-release
		}
		return true
	}
	tr := newFakeTransport(reply)
	fx := newFixture(t, 5, 3, tr)

	_, err := fx.coord.Write(context.Background(), "k", "v")
	require.ErrorIs(t, err, ErrQuorumFailure)

	var qe *QuorumError
	require.ErrorAs(t, err, &qe)
	assert.LessOrEqual(t, qe.Outcome.Acks, 2)
	assert.Equal(t, quorum.ReasonDeliveryFailed, qe.Outcome.Reason)

	close(release)
	drain(t, fx.coord)
}

func TestWrite_QuorumAbovePeerCountFailsOnExhaustion(t *testing.T) {
	tr := newFakeTransport(nil)
	fx := newFixture(t, 3, 4, tr)

	_, err := fx.coord.Write(context.Background(), "k", "v")
	var qe *QuorumError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, quorum.ReasonExhausted, qe.Outcome.Reason)
	assert.Equal(t, 3, qe.Outcome.Acks)
}

func TestWrite_ZeroQuorumDoesNotWait(t *testing.T) {
	release := make(chan struct{})
	tr := newFakeTransport(func(config.Peer, replication.Message) bool {
		<-release
		return true
	})
	fx := newFixture(t, 3, 0, tr)

	res, err := fx.coord.Write(context.Background(), "k", "v")
	require.NoError(t, err)
	assert.Equal(t, quorum.ReasonTrivial, res.Outcome.Reason)
	assert.Equal(t, 3, fx.coord.InFlight())

	pending := fx.coord.PendingWrites()
	require.Len(t, pending, 1)
	assert.Equal(t, "k", pending[0].Key)
	assert.Equal(t, 3, pending[0].Remaining)

	close(release)
	drain(t, fx.coord)
	assert.Empty(t, fx.coord.PendingWrites())
}

func TestWrite_QuorumChangeAppliesToLaterWrites(t *testing.T) {
	release := make(chan struct{})
	var firstSends atomic.Int64
	reply := func(p config.Peer, msg replication.Message) bool {
		if msg.Key != "first" {
			return true
		}
		firstSends.Add(1)
		if p.ID == "f1" {
			<-release
			return true
		}
		<-release
		return false
	}
	tr := newFakeTransport(reply)
	fx := newFixture(t, 3, 1, tr)

	done := make(chan error, 1)
	go func() {
		_, err := fx.coord.Write(context.Background(), "first", "v")
		done <- err
	}()
	require.Eventually(t, func() bool { return firstSends.Load() == 3 }, 2*time.Second, 5*time.Millisecond)

	prev := fx.settings.SetWriteQuorum(3)
	assert.Equal(t, 1, prev)

	res, err := fx.coord.Write(context.Background(), "second", "v")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Outcome.Required)

	close(release)
	// The first write still needs one ack; whichever of f1's ack or a failure
	// lands first decides it, but never a threshold of 3.
	err = <-done
	if err != nil {
		var qe *QuorumError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, 1, qe.Outcome.Required)
	}
	drain(t, fx.coord)
}

func TestWrite_SameTimestampEverywhere(t *testing.T) {
	tr := newFakeTransport(nil)
	fx := newFixture(t, 3, 3, tr)
	manual := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 42, time.UTC))
	fx.coord.clock = manual

	res, err := fx.coord.Write(context.Background(), "k", "v")
	require.NoError(t, err)
	assert.True(t, manual.Now().Equal(res.Timestamp))

	local, ok := fx.store.Entry("k")
	require.True(t, ok)
	for _, d := range tr.deliveries() {
		assert.Equal(t, clock.ToWire(local.Timestamp), d.msg.Timestamp, d.peer)
		assert.Equal(t, "v", d.msg.Value)
	}
}

type rejectingPool struct{}

func (rejectingPool) Submit(context.Context, func()) error { return workerpool.ErrSaturated }

func TestWrite_RejectedDeliveryCountsAsFailure(t *testing.T) {
	store := storage.NewInMemoryStore()
	c := New(Deps{
		Store:     store,
		Transport: newFakeTransport(nil),
		Pool:      rejectingPool{},
		Peers:     testPeers(3),
		Settings:  config.NewRuntime(1, true),
	})

	_, err := c.Write(context.Background(), "k", "v")
	require.ErrorIs(t, err, ErrQuorumFailure)
	assert.Equal(t, 0, c.InFlight())
	assert.Equal(t, "v", c.Get("k"))
}

func TestWrite_CallerCancelDoesNotCancelDeliveries(t *testing.T) {
	release := make(chan struct{})
	tr := newFakeTransport(func(config.Peer, replication.Message) bool {
		<-release
		return true
	})
	fx := newFixture(t, 2, 2, tr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := fx.coord.Write(ctx, "k", "v")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrQuorumFailure))

	close(release)
	drain(t, fx.coord)
	for _, d := range tr.deliveries() {
		assert.NoError(t, d.ctxErr)
	}
	assert.Equal(t, "v", tr.peerValue("f1", "k"))
}

func TestWrite_ScenarioC_OutOfOrderArrival(t *testing.T) {
	holdFirst := make(chan struct{})
	tr := newFakeTransport(func(_ config.Peer, msg replication.Message) bool {
		if msg.Value == "v1" {
			<-holdFirst
		}
		return true
	})
	fx := newFixture(t, 1, 0, tr)

	_, err := fx.coord.Write(context.Background(), "k", "v1")
	require.NoError(t, err)
	_, err = fx.coord.Write(context.Background(), "k", "v2")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.peerValue("f1", "k") == "v2" }, 2*time.Second, 5*time.Millisecond)
	close(holdFirst)
	drain(t, fx.coord)

	assert.Equal(t, "v2", tr.peerValue("f1", "k"))
	assert.Equal(t, "v2", fx.coord.Get("k"))
}

func TestWrite_ConcurrentWrites(t *testing.T) {
	tr := newFakeTransport(nil)
	fx := newFixture(t, 3, 2, tr)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.coord.Write(context.Background(), fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	drain(t, fx.coord)

	assert.Equal(t, 10, fx.store.Len())
	for _, p := range testPeers(3) {
		for i := 0; i < 10; i++ {
			assert.Equal(t, fmt.Sprintf("value-%d", i), tr.peerValue(p.ID, fmt.Sprintf("key-%d", i)))
		}
	}
}

func TestWrite_EmptyKey(t *testing.T) {
	fx := newFixture(t, 1, 1, newFakeTransport(nil))
	_, err := fx.coord.Write(context.Background(), "", "v")
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.Equal(t, 0, fx.store.Len())
}

func TestDrain_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	tr := newFakeTransport(func(config.Peer, replication.Message) bool {
		<-release
		return true
	})
	fx := newFixture(t, 2, 0, tr)

	_, err := fx.coord.Write(context.Background(), "k", "v")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, fx.coord.Drain(ctx), context.DeadlineExceeded)

	close(release)
	drain(t, fx.coord)
}

func TestDump_PassThrough(t *testing.T) {
	fx := newFixture(t, 1, 1, newFakeTransport(nil))
	_, err := fx.coord.Write(context.Background(), "a", "1")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"a": "1"}, fx.coord.DumpValues())
	assert.Contains(t, fx.coord.DumpTimestamps(), "a")
	assert.Equal(t, "", fx.coord.Get("missing"))
}
