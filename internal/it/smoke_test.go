package it

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicator/internal/api"
	"replicator/internal/config"
)

func startCluster(t *testing.T, opts Options) *Cluster {
	t.Helper()
	if testing.Short() {
		t.Skip("cluster test skipped in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c, err := StartCluster(ctx, opts)
	require.NoError(t, err, "failed to start cluster")
	t.Cleanup(func() { assert.NoError(t, c.Stop()) })
	return c
}

func drainCluster(t *testing.T, c *Cluster) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Drain(ctx))
}

func TestSmoke_WriteReplicatesToFollowers(t *testing.T) {
	for _, transport := range []string{config.TransportGRPC, config.TransportHTTP} {
		t.Run(transport, func(t *testing.T) {
			c := startCluster(t, Options{Followers: 5, WriteQuorum: 3, Versioned: true, Transport: transport})
			ctx := context.Background()

			res, err := c.Leader.Client.Write(ctx, "test-key", "test-value")
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.Acks, 3)

			v, err := c.Leader.Client.Get(ctx, "test-key")
			require.NoError(t, err)
			assert.Equal(t, "test-value", v)

			drainCluster(t, c)
			for _, f := range c.Followers {
				v, err := f.Client.Get(ctx, "test-key")
				require.NoError(t, err)
				assert.Equal(t, "test-value", v, f.ID)
			}
		})
	}
}

func TestSmoke_ConcurrentWrites(t *testing.T) {
	c := startCluster(t, Options{Followers: 5, WriteQuorum: 3, Versioned: true})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Leader.Client.Write(ctx, fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	drainCluster(t, c)

	leaderDump, err := c.Leader.Client.Dump(ctx)
	require.NoError(t, err)
	require.Len(t, leaderDump, 10)
	for _, f := range c.Followers {
		dump, err := f.Client.Dump(ctx)
		require.NoError(t, err)
		assert.Equal(t, leaderDump, dump, f.ID)
	}
}

func TestSmoke_RepeatedWritesConverge(t *testing.T) {
	c := startCluster(t, Options{
		Followers:   3,
		WriteQuorum: 1,
		Versioned:   true,
		Delay:       config.DelayConfig{Enabled: true, Min: 0, Max: 20 * time.Millisecond},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Leader.Client.Write(ctx, "hot", fmt.Sprintf("v%d", i))
		}(i)
	}
	wg.Wait()
	drainCluster(t, c)

	// Followers merge by timestamp, so they agree whatever the arrival order.
	first := c.Followers[0]
	want, err := first.Client.Get(ctx, "hot")
	require.NoError(t, err)
	require.NotEmpty(t, want)
	wantVersions, err := first.Client.DumpVersions(ctx)
	require.NoError(t, err)

	for _, f := range c.Followers[1:] {
		v, err := f.Client.Get(ctx, "hot")
		require.NoError(t, err)
		assert.Equal(t, want, v, f.ID)

		versions, err := f.Client.DumpVersions(ctx)
		require.NoError(t, err)
		assert.Equal(t, wantVersions["hot"], versions["hot"], f.ID)
	}
}

func TestSmoke_QuorumFailureKeepsLeaderWrite(t *testing.T) {
	c := startCluster(t, Options{Followers: 3, WriteQuorum: 3, Versioned: true})
	ctx := context.Background()

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.StopFollower(sctx, c.Followers[0]))

	_, err := c.Leader.Client.Write(ctx, "k", "v")
	var appErr *api.AppError
	require.True(t, errors.As(err, &appErr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)

	v, err := c.Leader.Client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestSmoke_FollowerRejectsWrites(t *testing.T) {
	c := startCluster(t, Options{Followers: 1, WriteQuorum: 1})

	_, err := c.Followers[0].Client.Write(context.Background(), "k", "v")
	var appErr *api.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusMethodNotAllowed, appErr.HTTPStatus)
}

func TestSmoke_QuorumConfigRoundTrip(t *testing.T) {
	c := startCluster(t, Options{Followers: 2, WriteQuorum: 2})
	ctx := context.Background()

	cfg, err := c.Leader.Client.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WriteQuorum)

	require.NoError(t, c.Leader.Client.SetWriteQuorum(ctx, 3))
	_, err = c.Leader.Client.Write(ctx, "k", "v")
	require.Error(t, err, "three acks cannot come from two followers")

	require.NoError(t, c.Leader.Client.SetWriteQuorum(ctx, 1))
	_, err = c.Leader.Client.Write(ctx, "k", "v2")
	require.NoError(t, err)
}
