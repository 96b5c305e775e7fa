// Package pool provides the worker pool that executes backend invocations
// for the dispatcher with bounded goroutine usage.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context)

// InvocationPool runs backend invocations on a bounded set of lazily
// spawned worker goroutines. Admission limits are enforced upstream by the
// broker's gates; the pool only bounds goroutine count, so its capacity
// must cover the sum of per-class concurrency caps (the broker validates
// this at construction).
type InvocationPool struct {
	maxWorkers  int
	taskQueue   chan taskWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type taskWrapper struct {
	task Task
	ctx  context.Context
}

// Config configures the pool.
type Config struct {
	MaxWorkers   int           `json:"max_workers"`
	QueueSize    int           `json:"queue_size"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	PanicHandler func(any)     `json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  32,
		QueueSize:   256,
		IdleTimeout: 60 * time.Second,
	}
}

// New creates an invocation pool. Zero-valued fields fall back to defaults.
func New(config Config) *InvocationPool {
	def := DefaultConfig()
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = def.MaxWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	return &InvocationPool{
		maxWorkers:   config.MaxWorkers,
		taskQueue:    make(chan taskWrapper, config.QueueSize),
		idleTimeout:  config.IdleTimeout,
		panicHandler: config.PanicHandler,
	}
}

// Submit hands a task to the pool. It never blocks; when both the queue and
// the worker budget are exhausted it returns ErrPoolFull and the caller
// decides how to run the task instead.
func (p *InvocationPool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)

	wrapper := taskWrapper{task: task, ctx: ctx}

	select {
	case p.taskQueue <- wrapper:
		p.ensureWorker()
		return nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.taskQueue <- wrapper:
				return nil
			default:
			}
		}
		return ErrPoolFull
	}
}

func (p *InvocationPool) ensureWorker() {
	// Spawn when every existing worker is busy and budget remains.
	if p.activeCount.Load() >= p.workerCount.Load() {
		p.trySpawnWorker()
	}
}

func (p *InvocationPool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *InvocationPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.taskQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			p.run(wrapper)
			p.activeCount.Add(-1)
			p.completed.Add(1)

			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// Idle, shrink down to a single standing worker.
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *InvocationPool) run(wrapper taskWrapper) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
		}
	}()

	wrapper.task(wrapper.ctx)
}

// Close stops intake and waits for queued tasks to drain.
func (p *InvocationPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.taskQueue)
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *InvocationPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
}
