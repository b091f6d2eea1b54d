package config

import "sync/atomic"

// Runtime holds the replication settings that can change while the node is
// serving. Each write reads the quorum once when it starts, so a change only
// affects writes issued after it.
type Runtime struct {
	writeQuorum atomic.Int64
	versioned   atomic.Bool
}

// NewRuntime creates runtime settings with the given initial values.
func NewRuntime(writeQuorum int, versioned bool) *Runtime {
	r := &Runtime{}
	r.writeQuorum.Store(int64(writeQuorum))
	r.versioned.Store(versioned)
	return r
}

// WriteQuorum returns the current threshold.
func (r *Runtime) WriteQuorum() int {
	return int(r.writeQuorum.Load())
}

// SetWriteQuorum replaces the threshold and returns the previous one.
func (r *Runtime) SetWriteQuorum(n int) int {
	return int(r.writeQuorum.Swap(int64(n)))
}

// Versioned reports whether replicas merge with last-write-wins.
func (r *Runtime) Versioned() bool {
	return r.versioned.Load()
}

// SetVersioned switches the merge policy.
func (r *Runtime) SetVersioned(v bool) {
	r.versioned.Store(v)
}
