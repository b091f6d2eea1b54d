package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrSaturated is returned by Submit under OverflowReject when the queue
	// is full and no worker can be added.
	ErrSaturated = errors.New("workerpool: saturated")
	// ErrClosed is returned by Submit once Shutdown has started.
	ErrClosed = errors.New("workerpool: closed")
)

// Overflow selects what Submit does when the pool is saturated.
type Overflow string

const (
	OverflowBlock  Overflow = "block"
	OverflowReject Overflow = "reject"
)

// Config sizes a Pool.
type Config struct {
	CoreWorkers   int
	MaxWorkers    int
	QueueCapacity int
	KeepAlive     time.Duration
	Overflow      Overflow
}

// DefaultConfig matches the executor sizing the service has always shipped with.
func DefaultConfig() Config {
	return Config{
		CoreWorkers:   100,
		MaxWorkers:    150,
		QueueCapacity: 500,
		KeepAlive:     time.Minute,
		Overflow:      OverflowBlock,
	}
}

func (c Config) normalized() Config {
	if c.CoreWorkers < 1 {
		c.CoreWorkers = 1
	}
	if c.MaxWorkers < c.CoreWorkers {
		c.MaxWorkers = c.CoreWorkers
	}
	if c.QueueCapacity < 0 {
		c.QueueCapacity = 0
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = time.Minute
	}
	if c.Overflow != OverflowReject {
		c.Overflow = OverflowBlock
	}
	return c
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Queued    int
	Workers   int
	Busy      int
	Completed uint64
	Rejected  uint64
	Panics    uint64
}

// Pool is a bounded goroutine pool.
type Pool struct {
	cfg   Config
	log   *zap.Logger
	tasks chan func()
	quit  chan struct{}

	mu      sync.Mutex
	closed  bool
	workers int

	senders sync.WaitGroup
	wg      sync.WaitGroup
	once    sync.Once
	done    chan struct{}

	busy      atomic.Int64
	completed atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64
}

// New starts the core workers and returns the pool.
func New(cfg Config, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.normalized()
	p := &Pool{
		cfg:   cfg,
		log:   log,
		tasks: make(chan func(), cfg.QueueCapacity),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	p.mu.Lock()
	for i := 0; i < cfg.CoreWorkers; i++ {
		p.spawnLocked(nil, false)
	}
	p.mu.Unlock()
	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// Submit hands task to the pool. It returns nil once the task is queued or
// assigned to a worker; the task itself runs later.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	if task == nil {
		return errors.New("workerpool: nil task")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.senders.Add(1)
	p.mu.Unlock()
	defer p.senders.Done()

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	if p.grow(task) {
		return nil
	}

	if p.cfg.Overflow == OverflowReject {
		p.rejected.Add(1)
		return ErrSaturated
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("workerpool: waiting for queue space: %w", ctx.Err())
	}
}

func (p *Pool) grow(first func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.workers >= p.cfg.MaxWorkers {
		return false
	}
	p.spawnLocked(first, true)
	return true
}

// spawnLocked must be called with p.mu held.
func (p *Pool) spawnLocked(first func(), temporary bool) {
	p.workers++
	p.wg.Add(1)
	go p.worker(first, temporary)
}

func (p *Pool) worker(first func(), temporary bool) {
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
		p.wg.Done()
	}()

	if first != nil {
		p.run(first)
	}

	if !temporary {
		for task := range p.tasks {
			p.run(task)
		}
		return
	}

	idle := time.NewTimer(p.cfg.KeepAlive)
	defer idle.Stop()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
			idle.Reset(p.cfg.KeepAlive)
		case <-idle.C:
			return
		}
	}
}

func (p *Pool) run(task func()) {
	p.busy.Add(1)
	defer p.busy.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
	p.completed.Add(1)
}

// Shutdown stops accepting tasks, lets the workers drain what is already
// queued and waits for them to exit or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.quit)
		p.mu.Unlock()

		go func() {
			p.senders.Wait()
			close(p.tasks)
			p.wg.Wait()
			close(p.done)
		}()
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workerpool: shutdown: %w", ctx.Err())
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()
	return Stats{
		Queued:    len(p.tasks),
		Workers:   workers,
		Busy:      int(p.busy.Load()),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
	}
}
