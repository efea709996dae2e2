// Package workqueue implements Theron's two-tier work queue (spec.md
// section 4.4): one shared FIFO of scheduled mailboxes, guarded by a mutex
// and condition variable, plus a one-slot local tier per worker that only
// its owning worker goroutine ever reads or writes.
//
// Queue items are directory indices (uint32), not mailbox pointers: the
// directory is the single source of truth for resolving an index back to
// its *mailbox.Mailbox and *directory.Entry, which keeps the queue itself
// free of any dependency on actor lifecycle.
package workqueue

import (
	"sync"
	"sync/atomic"
)

// LocalSlot is a per-worker, single-entry register. It carries no lock:
// spec.md section 4.4 is explicit that only the owning worker goroutine
// ever touches it, so synchronizing it would be pure overhead.
type LocalSlot struct {
	mailbox uint32
	full    bool
}

// set stores index in the slot, returning whatever was previously held so
// the caller can evict it to the shared tier.
func (l *LocalSlot) set(index uint32) (evicted uint32, hadPrevious bool) {
	if l.full {
		evicted, hadPrevious = l.mailbox, true
	}
	l.mailbox = index
	l.full = true
	return evicted, hadPrevious
}

func (l *LocalSlot) take() (index uint32, ok bool) {
	if !l.full {
		return 0, false
	}
	index, l.full = l.mailbox, false
	return index, true
}

// Counters are the work-queue-scoped counters spec.md section 4.4 and
// section 6 name: local_push, shared_push, yield, messages_processed, and
// mailbox_queue_max (the high-water mark of the shared tier's length).
type Counters struct {
	LocalPush         uint64
	SharedPush        uint64
	Yields            uint64
	MessagesProcessed uint64
	MailboxQueueMax   uint64
}

// Queue is the two-tier work queue's shared tier plus its counters. A
// Queue is shared by every worker of one Framework; each worker additionally
// owns its own *LocalSlot.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond
	fifo []uint32

	localPush         uint64
	sharedPush        uint64
	yields            uint64
	messagesProcessed uint64
	mailboxQueueMax   uint64
}

// New returns an empty work queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// NewLocalSlot returns a fresh, empty local tier for one worker.
func NewLocalSlot() *LocalSlot {
	return &LocalSlot{}
}

// Push implements spec.md section 4.4's push policy. local is the calling
// worker's own slot, or nil if the caller isn't a worker of this queue's
// framework. tail requests tail-affinity (placement in the local slot);
// when the local slot is already occupied, its previous occupant is
// evicted to the shared tier so at most one mailbox is ever held locally.
func (q *Queue) Push(local *LocalSlot, index uint32, tail bool) {
	if local != nil && tail {
		evicted, hadPrevious := local.set(index)
		atomic.AddUint64(&q.localPush, 1)
		if hadPrevious {
			q.pushShared(evicted)
		}
		return
	}
	q.pushShared(index)
}

func (q *Queue) pushShared(index uint32) {
	q.mu.Lock()
	q.fifo = append(q.fifo, index)
	if n := uint64(len(q.fifo)); n > q.mailboxQueueMax {
		q.mailboxQueueMax = n
	}
	q.mu.Unlock()

	atomic.AddUint64(&q.sharedPush, 1)
	q.cond.Signal()
}

// Pop implements spec.md section 4.4's pop policy: the local slot first,
// then the shared tier, blocking on the condition variable when both are
// empty. A false return means the caller was woken with nothing to do --
// either a spurious wake or a shutdown pulse -- and should re-consult its
// own running/target-thread state before calling Pop again.
func (q *Queue) Pop(local *LocalSlot) (uint32, bool) {
	if local != nil {
		if index, ok := local.take(); ok {
			return index, true
		}
	}

	q.mu.Lock()
	if len(q.fifo) == 0 {
		atomic.AddUint64(&q.yields, 1)
		q.cond.Wait()
	}
	if len(q.fifo) == 0 {
		q.mu.Unlock()
		return 0, false
	}
	index := q.fifo[0]
	q.fifo[0] = 0
	q.fifo = q.fifo[1:]
	q.mu.Unlock()
	return index, true
}

// PulseAll wakes every worker currently blocked in Pop, used by the worker
// pool to make sleeping workers observe a reduced thread-count target
// (spec.md section 4.5: "pulse the work condition so sleeping workers wake
// and observe the limit").
func (q *Queue) PulseAll() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// RecordProcessed increments messages_processed. Called by the dispatch
// loop exactly when it finds a non-nil head envelope (spec.md section 4.7
// step 5).
func (q *Queue) RecordProcessed() {
	atomic.AddUint64(&q.messagesProcessed, 1)
}

// Snapshot returns a point-in-time copy of every counter this queue tracks.
func (q *Queue) Snapshot() Counters {
	q.mu.Lock()
	max := q.mailboxQueueMax
	q.mu.Unlock()
	return Counters{
		LocalPush:         atomic.LoadUint64(&q.localPush),
		SharedPush:        atomic.LoadUint64(&q.sharedPush),
		Yields:            atomic.LoadUint64(&q.yields),
		MessagesProcessed: atomic.LoadUint64(&q.messagesProcessed),
		MailboxQueueMax:   max,
	}
}

// Reset zeroes every counter (spec.md section 6: reset_counters).
func (q *Queue) Reset() {
	atomic.StoreUint64(&q.localPush, 0)
	atomic.StoreUint64(&q.sharedPush, 0)
	atomic.StoreUint64(&q.yields, 0)
	atomic.StoreUint64(&q.messagesProcessed, 0)
	q.mu.Lock()
	q.mailboxQueueMax = 0
	q.mu.Unlock()
}
