package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shutdown(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestPool_RunsEveryTask(t *testing.T) {
	p := New(Config{CoreWorkers: 4, MaxWorkers: 8, QueueCapacity: 16}, nil)

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	shutdown(t, p)

	assert.Equal(t, int64(200), ran.Load())
	assert.Equal(t, uint64(200), p.Stats().Completed)
}

// saturate fills a 1-core, 2-max, 1-slot pool: one task on the core worker,
// one in the queue, one on a temporary worker.
func saturate(t *testing.T, p *Pool, release <-chan struct{}) {
	t.Helper()
	started := make(chan struct{}, 3)
	block := func() {
		started <- struct{}{}
		<-release
	}
	require.NoError(t, p.Submit(context.Background(), block))
	<-started
	require.NoError(t, p.Submit(context.Background(), block))
	require.NoError(t, p.Submit(context.Background(), block))
	<-started
	require.Equal(t, 2, p.Stats().Workers)
	require.Equal(t, 1, p.Stats().Queued)
}

func TestPool_GrowsThenRejects(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 2, QueueCapacity: 1, Overflow: OverflowReject}, nil)
	release := make(chan struct{})
	saturate(t, p, release)

	err := p.Submit(context.Background(), func() {})
	require.ErrorIs(t, err, ErrSaturated)
	assert.Equal(t, uint64(1), p.Stats().Rejected)

	close(release)
	shutdown(t, p)
}

func TestPool_BlockWaitsForSpace(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 2, QueueCapacity: 1, Overflow: OverflowBlock}, nil)
	release := make(chan struct{})
	saturate(t, p, release)

	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit(context.Background(), func() {})
	}()

	select {
	case err := <-submitted:
		t.Fatalf("submit returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-submitted)
	shutdown(t, p)
}

func TestPool_BlockHonoursContext(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 2, QueueCapacity: 1}, nil)
	release := make(chan struct{})
	saturate(t, p, release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	shutdown(t, p)
}

func TestPool_ShutdownDrainsQueue(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 1, QueueCapacity: 10}, nil)
	gate := make(chan struct{})
	var ran atomic.Int64

	require.NoError(t, p.Submit(context.Background(), func() { <-gate; ran.Add(1) }))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func() { ran.Add(1) }))
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(gate)
	}()
	shutdown(t, p)

	assert.Equal(t, int64(6), ran.Load())
	assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrClosed)
}

func TestPool_ShutdownUnblocksWaitingSubmit(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 2, QueueCapacity: 1}, nil)
	release := make(chan struct{})
	saturate(t, p, release)

	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit(context.Background(), func() {})
	}()
	time.Sleep(20 * time.Millisecond)

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- p.Shutdown(context.Background())
	}()

	require.ErrorIs(t, <-submitted, ErrClosed)
	close(release)
	require.NoError(t, <-shutdownDone)
}

func TestPool_RecoversPanics(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 1, QueueCapacity: 4}, nil)
	done := make(chan struct{})

	require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
	shutdown(t, p)
	assert.Equal(t, uint64(1), p.Stats().Panics)
}

func TestPool_TemporaryWorkersExpire(t *testing.T) {
	p := New(Config{CoreWorkers: 1, MaxWorkers: 2, QueueCapacity: 1, KeepAlive: 30 * time.Millisecond}, nil)
	release := make(chan struct{})
	saturate(t, p, release)
	close(release)

	require.Eventually(t, func() bool {
		return p.Stats().Workers == 1
	}, 2*time.Second, 10*time.Millisecond)
	shutdown(t, p)
}

func TestConfig_Normalized(t *testing.T) {
	c := Config{CoreWorkers: 0, MaxWorkers: -1, QueueCapacity: -3, Overflow: "drop"}.normalized()
	assert.Equal(t, 1, c.CoreWorkers)
	assert.Equal(t, 1, c.MaxWorkers)
	assert.Equal(t, 0, c.QueueCapacity)
	assert.Equal(t, time.Minute, c.KeepAlive)
	assert.Equal(t, OverflowBlock, c.Overflow)

	d := DefaultConfig()
	assert.Equal(t, 100, d.CoreWorkers)
	assert.Equal(t, 150, d.MaxWorkers)
	assert.Equal(t, 500, d.QueueCapacity)
}
