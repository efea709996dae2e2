// Package pool implements Theron's dynamic worker pool and its manager
// thread (spec.md section 4.5): a target thread count negotiated between
// independent callers via SetMinThreads/SetMaxThreads, workers that
// self-terminate when the pool is over target, and a manager goroutine that
// spawns workers up to target whenever it's told to.
package pool

import (
	"sync"

	"github.com/phuhao00/theron/allocator"
	"github.com/phuhao00/theron/workqueue"
)

// Worker is one worker goroutine's private state: its local work-queue
// slot and its per-worker caching allocator (spec.md section 4.1's "no
// locking; owned by the worker thread").
type Worker struct {
	ID        int
	Local     *workqueue.LocalSlot
	Allocator *allocator.Local
}

// DispatchFunc processes exactly one scheduled mailbox. It is supplied by
// the framework that owns this Pool, so Pool itself never depends on the
// framework, directory, or envelope packages -- avoiding an import cycle
// while keeping the dispatch loop's logic where spec.md section 4.7
// describes it, in the framework's façade.
type DispatchFunc func(w *Worker, mailboxIndex uint32)

// RetireFunc is called once for each worker as it exits, after it has
// popped its last mailbox and before its goroutine returns. A framework
// uses this to drain a retiring worker's per-thread allocator cache back
// into the framework's shared allocator (spec.md section 4.9 step 2's
// "drain every live thread cache"), so blocks a short-lived worker cached
// don't vanish with it.
type RetireFunc func(w *Worker)

// Pool is a dynamically sized worker pool plus its manager thread.
type Pool struct {
	queue    *workqueue.Queue
	dispatch DispatchFunc
	newAlloc func() *allocator.Local
	onRetire RetireFunc

	mu            sync.Mutex
	managerCond   *sync.Cond
	numThreads    int
	targetThreads int
	peakThreads   int
	minThreads    int
	maxThreads    int // user-settable ceiling, <= hardCap
	hardCap       int // MAX_THREADS_PER_FRAMEWORK
	nextWorkerID  int
	workers       map[int]*Worker
	stopped       bool

	wg        sync.WaitGroup // workers
	managerWg sync.WaitGroup
}

// New constructs a pool bound to queue, dispatching scheduled mailboxes via
// dispatch, and able to scale between 1 and hardCap worker goroutines. Each
// worker gets its own caching allocator built by newAlloc (nil uses
// allocator defaults). initialThreadCount seeds target_threads (clamped to
// [1, hardCap]) but workers aren't spawned until Start is called.
func New(queue *workqueue.Queue, dispatch DispatchFunc, newAlloc func() *allocator.Local, onRetire RetireFunc, initialThreadCount, hardCap int) *Pool {
	if hardCap <= 0 {
		hardCap = 1024
	}
	if initialThreadCount <= 0 {
		initialThreadCount = 1
	}
	if initialThreadCount > hardCap {
		initialThreadCount = hardCap
	}
	if newAlloc == nil {
		newAlloc = func() *allocator.Local {
			return allocator.NewLocal(nil, 0, 0)
		}
	}
	p := &Pool{
		queue:         queue,
		dispatch:      dispatch,
		newAlloc:      newAlloc,
		onRetire:      onRetire,
		targetThreads: initialThreadCount,
		minThreads:    initialThreadCount,
		maxThreads:    hardCap,
		hardCap:       hardCap,
		workers:       make(map[int]*Worker),
	}
	p.managerCond = sync.NewCond(&p.mu)
	return p
}

// Start launches the manager goroutine, which immediately spawns workers up
// to the current target.
func (p *Pool) Start() {
	p.managerWg.Add(1)
	go p.runManager()
}

func (p *Pool) runManager() {
	defer p.managerWg.Done()
	for {
		p.mu.Lock()
		for p.numThreads >= p.targetThreads && !p.stopped {
			p.managerCond.Wait()
		}
		if p.stopped && p.numThreads >= p.targetThreads {
			p.mu.Unlock()
			return
		}
		needed := p.targetThreads - p.numThreads
		p.mu.Unlock()

		for i := 0; i < needed; i++ {
			p.spawnWorker()
		}
	}
}

func (p *Pool) spawnWorker() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	id := p.nextWorkerID
	p.nextWorkerID++
	w := &Worker{
		ID:        id,
		Local:     workqueue.NewLocalSlot(),
		Allocator: p.newAlloc(),
	}
	p.workers[id] = w
	p.numThreads++
	if p.numThreads > p.peakThreads {
		p.peakThreads = p.numThreads
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runWorker(w)
	}()
}

func (p *Pool) runWorker(w *Worker) {
	defer p.retire(w)
	for {
		p.mu.Lock()
		if p.numThreads > p.targetThreads {
			p.numThreads--
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		index, ok := p.queue.Pop(w.Local)
		if !ok {
			continue
		}
		p.dispatch(w, index)
	}
}

func (p *Pool) retire(w *Worker) {
	if p.onRetire != nil {
		p.onRetire(w)
	}
	p.mu.Lock()
	delete(p.workers, w.ID)
	p.mu.Unlock()
}

// clampTarget enforces spec.md section 4.5's "[1, MAX_THREADS_PER_FRAMEWORK]".
func (p *Pool) clampTarget(n int) int {
	if n < 1 {
		n = 1
	}
	if n > p.hardCap {
		n = p.hardCap
	}
	return n
}

// SetMinThreads raises target_threads to n if n is greater than the
// current target; it never lowers it (spec.md section 4.5). Always records
// n as the current minimum (get_min_threads returns the last value passed
// here).
func (p *Pool) SetMinThreads(n int) {
	n = p.clampTarget(n)
	p.mu.Lock()
	p.minThreads = n
	raise := n > p.targetThreads
	if raise {
		p.targetThreads = n
	}
	p.mu.Unlock()
	if raise {
		p.managerCond.Signal()
	}
}

// SetMaxThreads lowers target_threads to n if n is less than the current
// target (spec.md section 4.5); sleeping workers are woken via the work
// queue's condition so they can observe and enact the new, lower limit.
func (p *Pool) SetMaxThreads(n int) {
	n = p.clampTarget(n)
	p.mu.Lock()
	p.maxThreads = n
	lower := n < p.targetThreads
	if lower {
		p.targetThreads = n
	}
	p.mu.Unlock()
	if lower {
		p.queue.PulseAll()
	}
}

// GetNumThreads returns the current worker count.
func (p *Pool) GetNumThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numThreads
}

// GetPeakThreads returns the highest worker count observed so far.
func (p *Pool) GetPeakThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peakThreads
}

// GetMinThreads returns the last value passed to SetMinThreads (or the
// construction-time initial thread count if SetMinThreads was never
// called).
func (p *Pool) GetMinThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minThreads
}

// GetMaxThreads returns the last value passed to SetMaxThreads (or the
// hard cap if SetMaxThreads was never called).
func (p *Pool) GetMaxThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxThreads
}

// ResetCounters zeroes the per-worker counter array (spec.md section 4.5).
// Theron's counters live on the work queue; this simply delegates.
func (p *Pool) ResetCounters() {
	p.queue.Reset()
}

// Stop implements spec.md section 4.9 steps 3-4: signal every worker to
// stop by driving target_threads to zero and pulsing the work condition,
// then join every worker and the manager goroutine. Workers that have
// already popped a mailbox finish dispatching it before observing the new
// target and exiting.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.targetThreads = 0
	p.mu.Unlock()

	p.queue.PulseAll()
	p.managerCond.Signal()

	p.wg.Wait()
	p.managerWg.Wait()
}
