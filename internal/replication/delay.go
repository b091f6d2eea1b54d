package replication

import (
	"context"
	"math/rand/v2"
	"time"

	"replicator/internal/config"
)

type delayed struct {
	next   Transport
	lo, hi time.Duration
}

// WithDelay wraps next so that every delivery first sleeps for a random
// duration in [lo, hi]. Both bounds are clamped to [0, MaxSimulatedDelay].
// It exists to observe quorum behaviour under latency.
func WithDelay(next Transport, lo, hi time.Duration) Transport {
	lo = clampDelay(lo)
	hi = clampDelay(hi)
	if hi < lo {
		lo, hi = hi, lo
	}
	return &delayed{next: next, lo: lo, hi: hi}
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > config.MaxSimulatedDelay {
		return config.MaxSimulatedDelay
	}
	return d
}

func (d *delayed) pick() time.Duration {
	if d.hi == d.lo {
		return d.lo
	}
	return d.lo + rand.N(d.hi-d.lo+1)
}

func (d *delayed) Send(ctx context.Context, peer config.Peer, msg Message) bool {
	if wait := d.pick(); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
	return d.next.Send(ctx, peer, msg)
}

func (d *delayed) Close() error {
	return d.next.Close()
}
