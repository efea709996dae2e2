// Package mailbox implements the per-actor FIFO cell described in spec.md
// sections 3 and 4.3: one per actor, holding a FIFO of pending envelopes, a
// lock, and a "scheduled" bit.
//
// Design rule (spec.md section 4.3): at most one mailbox-processing action
// per scheduling -- the dispatcher pops exactly one message per scheduling,
// then re-queues the mailbox if it is still non-empty. Mailbox itself only
// provides the FIFO and the scheduled bit; the "at most once in the work
// queue" invariant is enforced by the caller (workqueue + dispatch) reading
// and flipping that bit under this same lock.
package mailbox

import (
	"sync"

	"github.com/phuhao00/theron/envelope"
)

// Mailbox is a FIFO of pending envelopes guarded by a single mutex, plus a
// scheduled bit observed and flipped under that same lock.
type Mailbox struct {
	mu        sync.Mutex
	fifo      []*envelope.Envelope
	scheduled bool
}

// New returns an empty, unscheduled mailbox.
func New() *Mailbox {
	return &Mailbox{}
}

// Push appends env to the FIFO and reports whether the mailbox was empty
// before the push (the caller uses this to decide whether a new scheduling
// is needed).
func (m *Mailbox) Push(env *envelope.Envelope) (wasEmpty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasEmpty = len(m.fifo) == 0
	m.fifo = append(m.fifo, env)
	return wasEmpty
}

// Pop removes and returns the head envelope, or nil if the FIFO is empty.
func (m *Mailbox) Pop() *envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popLocked()
}

func (m *Mailbox) popLocked() *envelope.Envelope {
	if len(m.fifo) == 0 {
		return nil
	}
	env := m.fifo[0]
	m.fifo[0] = nil
	m.fifo = m.fifo[1:]
	return env
}

// Head peeks at the head envelope without removing it, or returns nil if
// the FIFO is empty. Tolerates concurrent drains: a caller that read a
// non-nil Head may still find the FIFO empty by the time it re-locks to Pop
// (spec.md section 4.7 step 3, "tolerate it").
func (m *Mailbox) Head() *envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.fifo) == 0 {
		return nil
	}
	return m.fifo[0]
}

// Count returns the number of envelopes currently queued.
func (m *Mailbox) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fifo)
}

// MarkScheduled sets the scheduled bit and reports its previous value.
func (m *Mailbox) MarkScheduled() (wasScheduled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasScheduled = m.scheduled
	m.scheduled = true
	return wasScheduled
}

// ClearScheduled clears the scheduled bit.
func (m *Mailbox) ClearScheduled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = false
}

// IsScheduled reports the current value of the scheduled bit.
func (m *Mailbox) IsScheduled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled
}

// PushAndSchedule appends env to the FIFO and, in the same critical
// section, flips the scheduled bit from false to true if it was clear,
// reporting whether the caller must now push this mailbox onto the work
// queue (spec.md section 4.6 steps 7-8: "observe prior empty-and-unscheduled
// state; set scheduled true if it was false").
func (m *Mailbox) PushAndSchedule(env *envelope.Envelope) (shouldSchedule bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fifo = append(m.fifo, env)
	if m.scheduled {
		return false
	}
	m.scheduled = true
	return true
}

// PopAndReschedule removes the head envelope (which the dispatcher has just
// finished processing) and, in the same critical section, decides whether
// the mailbox needs to stay scheduled: it does iff the FIFO is still
// non-empty after the pop. This one call implements spec.md section 4.7
// steps 10-12 atomically, closing the race where a push between "pop head"
// and "check empty" would otherwise strand a message with scheduled=false.
func (m *Mailbox) PopAndReschedule() (needsReschedule bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.popLocked()
	if len(m.fifo) > 0 {
		m.scheduled = true
		return true
	}
	m.scheduled = false
	return false
}
