// Package directory implements Theron's paged, index-addressable mailbox
// directory (spec.md sections 3 and 4.2): a structure mapping a compact
// mailbox index to an Entry -- the actor registration record -- with a
// per-entry lock, a pin count, and a free list so released indices are
// recycled rather than leaked.
//
// Pages are allocated on demand and never freed during the directory's
// life (spec.md section 3: "this avoids page-migration races"); a released
// index's slot is simply cleared and returned to the free list.
package directory

import (
	"sync"
	"sync/atomic"

	"github.com/phuhao00/theron/handler"
	"github.com/phuhao00/theron/mailbox"
)

// PageSize is the number of entry slots per page.
const PageSize = 1024

// Entry is the actor registration record a directory slot owns: spec.md
// section 3's "{ mailbox_index, actor_ptr, framework_ref, ref_count,
// handler_table, default_handler, fallback_parent }".
type Entry struct {
	Index    uint32
	Mailbox  *mailbox.Mailbox
	Name     string
	refCount int64 // atomic; relaxed increment, release decrement, acquire on zero-observation
	gcOnce   sync.Once

	// Actor, Table, and Default are set by RegisterActor before the entry
	// is published (Directory.Bind) and read by the dispatch loop. Garbage
	// collection later sets Actor to nil inside CollectOnce. The directory
	// takes no lock around reads or writes of these fields.
	Actor   handler.Actor
	Table   handler.Table
	Default handler.Default
}

// IncRef increments the entry's reference count. Relaxed: ordering against
// other fields doesn't matter for an increment, only that it isn't lost.
func (e *Entry) IncRef() {
	atomic.AddInt64(&e.refCount, 1)
}

// DecRef decrements the reference count and reports whether this decrement
// observed it reach zero. Per spec.md section 4.8, a decrement-to-zero must
// be followed by an acquire fence (satisfied here by the atomic load backing
// the CAS-free AddInt64 return value, which Go's memory model gives
// sequentially-consistent semantics for) before the caller schedules the
// mailbox's final processing.
func (e *Entry) DecRef() (reachedZero bool) {
	return atomic.AddInt64(&e.refCount, -1) == 0
}

// RefCount returns the current reference count (acquire semantics via
// atomic load).
func (e *Entry) RefCount() int64 {
	return atomic.LoadInt64(&e.refCount)
}

// CollectOnce runs fn exactly once for this entry's lifetime, no matter how
// many times it's called. A zero-crossing ref count can be observed by more
// than one dispatch invocation racing a rescheduled mailbox (see mailbox's
// PopAndReschedule/MarkScheduled pair); CollectOnce is what keeps the actual
// collection work -- OnActorStop, clearing Actor -- from running twice for
// the same entry when that happens.
func (e *Entry) CollectOnce(fn func()) {
	e.gcOnce.Do(fn)
}

// slot is one directory page's storage cell: the entry pointer plus the
// lock and pin count spec.md section 4.2 assigns to "the entry's lock".
type slot struct {
	mu       sync.Mutex
	entry    *Entry
	pinCount int32
}

// Directory is the paged mailbox directory. The zero value is not usable;
// construct with New.
type Directory struct {
	mu    sync.Mutex // guards pages growth and the free list only
	pages [][]*slot
	free  []uint32
	next  uint32
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{}
}

func (d *Directory) pageOf(index uint32) (page int, offset int) {
	return int(index) / PageSize, int(index) % PageSize
}

func (d *Directory) slotAt(index uint32) *slot {
	page, offset := d.pageOf(index)
	d.mu.Lock()
	defer d.mu.Unlock()
	if page >= len(d.pages) {
		return nil
	}
	return d.pages[page][offset]
}

func (d *Directory) ensurePage(page int) {
	for page >= len(d.pages) {
		newPage := make([]*slot, PageSize)
		for i := range newPage {
			newPage[i] = &slot{}
		}
		d.pages = append(d.pages, newPage)
	}
}

// Reserve allocates a fresh index, pulling from the free list first and
// extending the directory by a page only when the free list is empty
// (spec.md section 4.2: O(1) amortized). Reserve imposes no index limit of
// its own, so ok is always true; the framework enforces Config.MaxActors
// before calling it.
func (d *Directory) Reserve() (index uint32, ok bool) {
	d.mu.Lock()
	if n := len(d.free); n > 0 {
		index = d.free[n-1]
		d.free = d.free[:n-1]
		d.mu.Unlock()
		return index, true
	}
	index = d.next
	d.next++
	page, _ := d.pageOf(index)
	d.ensurePage(page)
	d.mu.Unlock()
	return index, true
}

// Bind publishes entry at index, making it visible to Get. Called once by
// the framework immediately after Reserve, before the address is handed
// back to the registering caller.
func (d *Directory) Bind(index uint32, entry *Entry) {
	s := d.slotAt(index)
	if s == nil {
		return
	}
	entry.Index = index
	s.mu.Lock()
	s.entry = entry
	s.mu.Unlock()
}

// Get returns a stable reference to the entry at index, or nil if the page
// doesn't exist yet or the slot is currently unoccupied (spec.md section
// 4.2: "a missing page on get returns a null-valued entry").
func (d *Directory) Get(index uint32) *Entry {
	s := d.slotAt(index)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

// Pin increments index's pin count under its slot lock, preventing Release
// from completing until a matching Unpin. Used while a caller (e.g. the
// dispatch loop mid-scheduling) needs the entry to stay valid across a
// window that isn't already covered by holding the *Entry pointer itself.
func (d *Directory) Pin(index uint32) {
	s := d.slotAt(index)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.pinCount++
	s.mu.Unlock()
}

// Unpin decrements index's pin count.
func (d *Directory) Unpin(index uint32) {
	s := d.slotAt(index)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.pinCount > 0 {
		s.pinCount--
	}
	s.mu.Unlock()
}

// Release clears the slot at index and returns it to the free list, but
// only once the entry's pin count is zero; otherwise it reports false and
// does nothing, and the caller (garbage collection in the dispatch loop)
// is expected to retry once whatever holds the pin releases it. Release is
// idempotent: a second call against an index already cleared (whether by a
// prior Release or because the slot was never bound) reports false instead
// of appending index to the free list a second time, which would otherwise
// let two future Reserve calls hand the same index to two different actors.
func (d *Directory) Release(index uint32) (ok bool) {
	s := d.slotAt(index)
	if s == nil {
		return false
	}
	s.mu.Lock()
	if s.entry == nil {
		s.mu.Unlock()
		return false
	}
	if s.pinCount != 0 {
		s.mu.Unlock()
		return false
	}
	s.entry = nil
	s.mu.Unlock()

	d.mu.Lock()
	d.free = append(d.free, index)
	d.mu.Unlock()
	return true
}
