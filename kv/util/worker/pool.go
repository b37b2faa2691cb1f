package worker

import (
	"sync"

	"github.com/pingcap-incubator/tinydoc/pkg/errcode"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Task is a unit of work run by a Pool.
type Task func()

// Unlimited lets a pool grow one goroutine per concurrently queued task.
const Unlimited = 0

// Options configure a Pool.
type Options struct {
	Name string
	// MaxGoroutines bounds the number of workers, Unlimited if zero.
	MaxGoroutines int
	// OnCreate runs at the start of every worker goroutine, if set.
	OnCreate func(name string)
}

type poolState int

const (
	statePreStart poolState = iota
	stateRunning
	stateShuttingDown
	stateShutdown
)

// Pool runs tasks on a set of named worker goroutines. Tasks scheduled
// before Start are queued and run once the pool starts. After Shutdown no
// new task is accepted, but queued tasks still run before Join returns.
type Pool struct {
	opts Options

	mu      sync.Mutex
	cond    *sync.Cond
	state   poolState
	pending []Task
	idle    int
	wg      sync.WaitGroup

	workers   atomic.Int64
	active    atomic.Int64
	completed atomic.Uint64
}

// NewPool creates a pool that is not started yet.
func NewPool(opts Options) *Pool {
	p := &Pool{opts: opts}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.opts.Name
}

// Start launches workers for the queued tasks. Starting twice is an error.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != statePreStart {
		return errcode.Errorf(errcode.InternalError, "pool %s already started", p.opts.Name)
	}
	p.state = stateRunning
	for i := 0; i < len(p.pending) && p.canSpawnLocked(); i++ {
		p.spawnLocked()
	}
	log.Info("worker pool started", zap.String("name", p.opts.Name))
	return nil
}

// Schedule queues task. It fails with ShutdownInProgress once the pool is
// shutting down.
func (p *Pool) Schedule(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state >= stateShuttingDown {
		return errcode.Errorf(errcode.ShutdownInProgress, "pool %s is shutting down", p.opts.Name)
	}
	p.pending = append(p.pending, task)
	if p.state != stateRunning {
		return nil
	}
	// A signalled worker stays counted in idle until it wakes up, so only
	// queued tasks beyond the idle workers need a new goroutine.
	if len(p.pending) > p.idle && p.canSpawnLocked() {
		p.spawnLocked()
	} else {
		p.cond.Signal()
	}
	return nil
}

func (p *Pool) canSpawnLocked() bool {
	return p.opts.MaxGoroutines == Unlimited || int(p.workers.Load()) < p.opts.MaxGoroutines
}

func (p *Pool) spawnLocked() {
	p.workers.Inc()
	p.wg.Add(1)
	go p.work()
}

func (p *Pool) work() {
	defer p.wg.Done()
	defer p.workers.Dec()
	if p.opts.OnCreate != nil {
		p.opts.OnCreate(p.opts.Name)
	}
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.active.Inc()
		task()
		p.active.Dec()
		p.completed.Inc()
	}
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) == 0 {
		if p.state >= stateShuttingDown {
			return nil, false
		}
		p.idle++
		p.cond.Wait()
		p.idle--
	}
	task := p.pending[0]
	p.pending[0] = nil
	p.pending = p.pending[1:]
	return task, true
}

// Shutdown stops accepting tasks. Workers exit once the queue is drained.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state >= stateShuttingDown {
		return
	}
	if p.state == statePreStart && len(p.pending) > 0 {
		// Run whatever was queued before Start.
		for i := 0; i < len(p.pending) && p.canSpawnLocked(); i++ {
			p.spawnLocked()
		}
	}
	p.state = stateShuttingDown
	p.cond.Broadcast()
}

// Join waits for every worker to exit. Shutdown must have been called.
func (p *Pool) Join() {
	p.wg.Wait()
	p.mu.Lock()
	p.state = stateShutdown
	p.mu.Unlock()
	log.Info("worker pool stopped",
		zap.String("name", p.opts.Name),
		zap.Uint64("completed", p.completed.Load()))
}

// Stop shuts the pool down and waits for it.
func (p *Pool) Stop() {
	p.Shutdown()
	p.Join()
}

// Workers returns the number of live worker goroutines.
func (p *Pool) Workers() int64 {
	return p.workers.Load()
}

// Active returns the number of tasks being run.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// Completed returns the number of tasks that finished.
func (p *Pool) Completed() uint64 {
	return p.completed.Load()
}
