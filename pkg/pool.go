package dupwalk

import (
	"runtime"
	"sync"
)

// WorkerPool runs submitted tasks on a fixed number of goroutines.
// The backlog is unbounded so one pool can always submit to another without blocking.
type WorkerPool struct {
	name    string
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	backlog []func()
	closed  bool
	wg      sync.WaitGroup
}

// DefaultPoolSize is max(1, NumCPU-1)
func DefaultPoolSize() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// NewWorkerPool starts numWorkers goroutines; numWorkers <= 0 selects DefaultPoolSize
func NewWorkerPool(name string, numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = DefaultPoolSize()
	}
	pool := &WorkerPool{
		name:    name,
		workers: numWorkers,
	}
	pool.cond = sync.NewCond(&pool.mu)

	for i := 0; i < numWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	VerboseLog(2, "worker pool %s started with %d workers", name, numWorkers)
	return pool
}

// Name returns the pool name given at construction
func (p *WorkerPool) Name() string { return p.name }

// Workers returns the goroutine count
func (p *WorkerPool) Workers() int { return p.workers }

// Submit queues a task. It never blocks; it fails only after Shutdown.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.backlog = append(p.backlog, task)
	p.cond.Signal()
	return nil
}

// Pending returns the number of queued tasks not yet picked up
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

// Shutdown stops accepting work, lets workers finish the backlog and waits for them
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	p.wg.Wait()
	VerboseLog(2, "worker pool %s stopped", p.name)
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.backlog) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.backlog) == 0 {
			// closed and drained
			p.mu.Unlock()
			return
		}
		task := p.backlog[0]
		p.backlog[0] = nil
		p.backlog = p.backlog[1:]
		p.mu.Unlock()

		task()
	}
}

// Pools groups the two pools every dupwalk run needs
type Pools struct {
	IO            *WorkerPool // file reads and digesting
	Orchestration *WorkerPool // store lookups, folder completion, drain callbacks
}

// NewPools creates both pools; zero sizes select DefaultPoolSize
func NewPools(ioWorkers, orchestrationWorkers int) *Pools {
	return &Pools{
		IO:            NewWorkerPool("io", ioWorkers),
		Orchestration: NewWorkerPool("orchestration", orchestrationWorkers),
	}
}

// Shutdown stops both pools. Tasks still in flight that submit across pools
// after this point get ErrPoolClosed, so callers wait on the walker first.
func (p *Pools) Shutdown() {
	p.Orchestration.Shutdown()
	p.IO.Shutdown()
}
