// Package worker runs background tasks on a fixed set of supervised goroutines.
// Every task outcome, including panics, is logged and reported on Results.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrPoolFull   = errors.New("worker pool queue is full")
)

// PanicError carries a recovered panic value out of a task
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Task is one unit of background work
type Task struct {
	Name string
	Run  func(ctx context.Context) error
	// OnError, when set, is called with the run error or a *PanicError
	OnError func(err error)
}

// Result reports how a task ended
type Result struct {
	Task     string
	Err      error
	Duration time.Duration
}

// Stats is a snapshot of pool counters
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Panicked  uint64 `json:"panicked"`
}

type Pool struct {
	name    string
	size    int
	logger  *zap.Logger
	tasks   chan Task
	results chan Result

	mu      sync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

// NewPool creates a pool of size workers with room for queue waiting tasks
func NewPool(name string, size, queue int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		name:    name,
		size:    size,
		logger:  logger.With(zap.String("pool", name)),
		tasks:   make(chan Task, queue),
		results: make(chan Result, queue+size),
	}
}

// Start launches the workers. Tasks receive a context derived from ctx that is
// cancelled when Stop gives up waiting.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	wctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(wctx, i)
	}
	p.logger.Info("Worker pool started", zap.Int("workers", p.size), zap.Int("queue", cap(p.tasks)))
}

// Submit enqueues t without blocking
func (p *Pool) Submit(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %q has no run function", t.Name)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- t:
		p.submitted.Add(1)
		return nil
	default:
		return ErrPoolFull
	}
}

// Results delivers task outcomes. Delivery is best effort: when nobody reads,
// results are dropped once the buffer is full. Closed after Stop drains.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Stop closes intake, lets queued and running tasks finish, and waits for the
// workers. If ctx expires first, running tasks are cancelled and ctx.Err is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		close(p.results)
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.results)
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Worker pool stopped", zap.Uint64("succeeded", p.succeeded.Load()), zap.Uint64("failed", p.failed.Load()))
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("Worker pool stop timed out, cancelling running tasks", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// Stats returns current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.size,
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		res := p.run(ctx, t)
		select {
		case p.results <- res:
		default:
		}
	}
	p.logger.Debug("Worker exited", zap.Int("worker", id))
}

func (p *Pool) run(ctx context.Context, t Task) (res Result) {
	start := time.Now()
	res.Task = t.Name
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Value: r, Stack: string(debug.Stack())}
			res.Err = perr
			p.panicked.Add(1)
			p.logger.Error("Task panicked",
				zap.String("task", t.Name),
				zap.Any("panic", r),
				zap.String("stack", perr.Stack),
			)
		}
		res.Duration = time.Since(start)
		if res.Err == nil {
			p.succeeded.Add(1)
			return
		}
		p.failed.Add(1)
		if _, isPanic := res.Err.(*PanicError); !isPanic {
			p.logger.Error("Task failed", zap.String("task", t.Name), zap.Error(res.Err), zap.Duration("duration", res.Duration))
		}
		if t.OnError != nil {
			p.notify(t, res.Err)
		}
	}()
	res.Err = t.Run(ctx)
	return res
}

// notify runs the failure hook, which must not take the worker down with it
func (p *Pool) notify(t Task, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task error hook panicked", zap.String("task", t.Name), zap.Any("panic", r))
		}
	}()
	t.OnError(err)
}
