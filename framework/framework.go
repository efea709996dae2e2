// Package framework implements Theron's façade (spec.md section 1): the
// type an embedding application constructs once per in-process runtime,
// registers actors and receivers against, and sends through. It wires
// together directory, mailbox, workqueue, pool, envelope, and allocator
// into the send/dispatch/gc/shutdown pipeline spec.md sections 4.6-4.9
// describe, and owns the optional collaborators (handler.Fallback,
// foreign.Hook) those sections name but don't implement.
package framework

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/phuhao00/theron/address"
	"github.com/phuhao00/theron/allocator"
	"github.com/phuhao00/theron/directory"
	"github.com/phuhao00/theron/envelope"
	"github.com/phuhao00/theron/foreign"
	"github.com/phuhao00/theron/handler"
	"github.com/phuhao00/theron/mailbox"
	"github.com/phuhao00/theron/pool"
	"github.com/phuhao00/theron/receiver"
	"github.com/phuhao00/theron/workqueue"
)

// defaultPayloadSize is used when a payload's reflect.Type.Size() can't be
// computed (nil values, unsized kinds) -- the envelope's Size field is
// informational bookkeeping for the arena's size class, not a correctness
// requirement, so a reasonable constant is enough when reflection can't
// help (spec.md section 4.6: the sender "declares" a size, it isn't asked
// to prove one).
const defaultPayloadSize = 64

// Config bundles the construction-time knobs spec.md section 6 lists for a
// Framework: its own address fields, the initial/max worker counts, actor
// capacity, and the caching allocator's pool bounds.
type Config struct {
	Host           uint16
	Process        uint16
	FrameworkIndex uint16

	MaxActors    uint32
	MaxReceivers uint32

	InitialThreadCount     int
	MaxThreadsPerFramework int

	MaxPools  int
	MaxBlocks int

	// Debug selects behavior when Shutdown detects leaked, un-destroyed
	// envelopes (spec.md section 4.9 step 5's "assert in debug builds,
	// leak silently in release builds" -- Theron has no build-tag split,
	// so Debug is the runtime equivalent): true panics, false logs.
	Debug bool
}

func (c Config) withDefaults() Config {
	if c.MaxActors == 0 {
		c.MaxActors = address.MaxIndex
	}
	if c.MaxReceivers == 0 {
		c.MaxReceivers = address.MaxIndex
	}
	if c.InitialThreadCount <= 0 {
		c.InitialThreadCount = 1
	}
	return c
}

// Framework is Theron's in-process actor runtime: one directory, one work
// queue, one dynamic worker pool, and the collaborators wired in via
// SetFallbackHandler/SetForeignHook.
type Framework struct {
	cfg Config

	dir         *directory.Directory
	queue       *workqueue.Queue
	pool        *pool.Pool
	sharedAlloc *allocator.Shared

	fallback atomic.Pointer[handler.Fallback]
	foreign  atomic.Pointer[foreign.Hook]

	receiversMu       sync.Mutex
	receivers         map[uint32]receiver.Receiver
	nextReceiverIndex uint32

	registrationClosed atomic.Bool
	liveActors         int64 // atomic
	liveEnvelopes      int64 // atomic

	shutdownWg sync.WaitGroup
}

// New constructs a Framework and starts its worker pool. Call
// RegisterActor/RegisterReceiver to populate it and Send/TailSend to drive
// messages through it; call Shutdown exactly once to drain it.
func New(cfg Config) *Framework {
	cfg = cfg.withDefaults()

	f := &Framework{
		cfg:         cfg,
		dir:         directory.New(),
		queue:       workqueue.New(),
		sharedAlloc: allocator.NewShared(nil, cfg.MaxPools, cfg.MaxBlocks),
		receivers:   make(map[uint32]receiver.Receiver),
	}

	newAlloc := func() *allocator.Local {
		return allocator.NewLocal(nil, cfg.MaxPools, cfg.MaxBlocks)
	}
	onRetire := func(w *pool.Worker) {
		w.Allocator.Drain(f.sharedAlloc)
	}
	f.pool = pool.New(f.queue, f.dispatchOne, newAlloc, onRetire, cfg.InitialThreadCount, cfg.MaxThreadsPerFramework)
	f.pool.Start()

	return f
}

// SetFallbackHandler installs the framework-scoped handler invoked for
// undeliverable and unhandled messages (spec.md section 6). Passing nil
// restores the no-op default.
func (f *Framework) SetFallbackHandler(fb handler.Fallback) {
	if fb == nil {
		f.fallback.Store(nil)
		return
	}
	f.fallback.Store(&fb)
}

func (f *Framework) fallbackHandler() handler.Fallback {
	if p := f.fallback.Load(); p != nil {
		return *p
	}
	return noopFallback{}
}

type noopFallback struct{}

func (noopFallback) Undeliverable(context.Context, address.Address, address.Address, handler.TypeTag, error) {
}
func (noopFallback) Unhandled(context.Context, address.Address, address.Address, handler.TypeTag, interface{}) {
}

// SetForeignHook installs the collaborator used to deliver to addresses
// naming a framework other than this one (spec.md section 1's explicitly
// out-of-scope cross-process transport; see the foreign package). Passing
// nil disables foreign delivery -- such sends resolve to Undeliverable.
func (f *Framework) SetForeignHook(hook foreign.Hook) {
	if hook == nil {
		f.foreign.Store(nil)
		return
	}
	f.foreign.Store(&hook)
}

// RegisterReceiver adds a passive message sink, returning the Address other
// actors use to Send to it (framework index 0, per spec.md section 3).
func (f *Framework) RegisterReceiver(r receiver.Receiver) (address.Address, error) {
	f.receiversMu.Lock()
	defer f.receiversMu.Unlock()
	if uint32(f.nextReceiverIndex) >= f.cfg.MaxReceivers {
		return address.Null, ErrReceiversExhausted
	}
	index := f.nextReceiverIndex
	f.nextReceiverIndex++
	f.receivers[index] = r
	return address.New(f.cfg.Host, f.cfg.Process, uint16(address.ReceiverFramework), index), nil
}

// RegisterActor binds actor under a fresh mailbox, returning its Address
// and the directory entry the caller uses for DeregisterActor/Release.
// name is optional ("" is accepted) and is only recorded as the entry's
// Name; RegisterActor publishes it nowhere. The nameregistry package is the
// separate collaborator that makes a name resolvable cluster-wide.
func (f *Framework) RegisterActor(actor handler.Actor, table handler.Table, def handler.Default, name string) (address.Address, *directory.Entry, error) {
	if f.registrationClosed.Load() {
		return address.Null, nil, ErrRegistrationClosed
	}
	if uint64(atomic.LoadInt64(&f.liveActors)) >= uint64(f.cfg.MaxActors) {
		return address.Null, nil, ErrRegistrationExhausted
	}

	index, ok := f.dir.Reserve()
	if !ok {
		return address.Null, nil, ErrRegistrationExhausted
	}

	entry := &directory.Entry{
		Mailbox: mailbox.New(),
		Name:    name,
		Actor:   actor,
		Table:   table,
		Default: def,
	}
	entry.IncRef()
	f.dir.Bind(index, entry)

	atomic.AddInt64(&f.liveActors, 1)
	f.shutdownWg.Add(1)

	addr := address.New(f.cfg.Host, f.cfg.Process, f.cfg.FrameworkIndex, index)
	return addr, entry, nil
}

// DeregisterActor is a synchronous test/administrative hook: it releases
// entry's directory slot immediately, bypassing the normal
// reference-count-to-zero garbage-collection path. It fails if entry is
// still referenced or pinned.
func (f *Framework) DeregisterActor(entry *directory.Entry) error {
	if entry.RefCount() != 0 {
		return ErrStillReferenced
	}
	if !f.dir.Release(entry.Index) {
		return ErrPinned
	}
	atomic.AddInt64(&f.liveActors, -1)
	f.shutdownWg.Done()
	return nil
}

// Release drops one external reference to entry (spec.md section 4.8:
// "addresses handed to callers outside the framework own a reference").
// Reaching zero schedules the mailbox one final time so the dispatch loop
// performs the actual garbage collection, even if the mailbox is empty.
func (f *Framework) Release(entry *directory.Entry) {
	if !entry.DecRef() {
		return
	}
	if entry.Mailbox.MarkScheduled() {
		return // already scheduled; the pending run will observe ref_count == 0
	}
	f.queue.Push(nil, entry.Index, false)
}

// Send delivers value to to's mailbox or receiver, queuing the destination
// onto the shared work-tier. It returns false if the message could not be
// delivered at all (see handler.Fallback.Undeliverable for why).
func (f *Framework) Send(ctx context.Context, from, to address.Address, tag handler.TypeTag, cc handler.CopyConstructor, value interface{}) bool {
	return f.sendImpl(ctx, from, to, tag, cc, value, false)
}

// TailSend delivers value the same way Send does, but requests tail-call
// affinity: if the caller is running inside one of this Framework's own
// worker goroutines, the destination mailbox is placed in that worker's
// local slot instead of the shared tier (spec.md section 4.4), favoring
// cache locality for reply-to-sender patterns. Outside a worker goroutine
// it behaves exactly like Send.
//
// The local slot holds one mailbox: when a handler tail-sends twice, only
// the second destination stays in the slot and the first is moved to the
// shared tier.
func (f *Framework) TailSend(ctx context.Context, from, to address.Address, tag handler.TypeTag, cc handler.CopyConstructor, value interface{}) bool {
	return f.sendImpl(ctx, from, to, tag, cc, value, true)
}

func (f *Framework) sendImpl(ctx context.Context, from, to address.Address, tag handler.TypeTag, cc handler.CopyConstructor, value interface{}, tail bool) bool {
	w, isWorker := workerFromContext(ctx)

	var alloc envelope.Allocator
	var local *workqueue.LocalSlot
	if isWorker {
		alloc = w.Allocator
		local = w.Local
	} else {
		alloc = f.sharedAlloc
	}

	size := estimateSize(value)
	env, err := envelope.New(alloc, tag, from, size, cc, value)
	if err != nil {
		f.fallbackHandler().Undeliverable(ctx, from, to, tag, fmt.Errorf("%w: %v", ErrAllocationExhausted, err))
		return false
	}
	atomic.AddInt64(&f.liveEnvelopes, 1)

	switch {
	case to.IsNull():
		f.destroy(env, alloc)
		f.fallbackHandler().Undeliverable(ctx, from, to, tag, ErrUnknownDestination)
		return false

	case to.IsReceiver():
		f.receiversMu.Lock()
		r, ok := f.receivers[to.Index()]
		f.receiversMu.Unlock()
		if !ok {
			f.destroy(env, alloc)
			f.fallbackHandler().Undeliverable(ctx, from, to, tag, ErrUnknownDestination)
			return false
		}
		// Ownership passes to the receiver, which destroys env itself.
		atomic.AddInt64(&f.liveEnvelopes, -1)
		r.Push(env)
		return true

	case to.Framework() != f.cfg.FrameworkIndex || to.Host() != f.cfg.Host || to.Process() != f.cfg.Process:
		hookPtr := f.foreign.Load()
		if hookPtr == nil {
			f.destroy(env, alloc)
			f.fallbackHandler().Undeliverable(ctx, from, to, tag, ErrNoForeignHook)
			return false
		}
		// The hook takes ownership of env whether or not delivery succeeds.
		atomic.AddInt64(&f.liveEnvelopes, -1)
		if err := (*hookPtr).DeliverForeign(to.Framework(), to.Index(), env); err != nil {
			f.fallbackHandler().Undeliverable(ctx, from, to, tag, err)
			return false
		}
		return true

	default:
		entry := f.dir.Get(to.Index())
		if entry == nil {
			f.destroy(env, alloc)
			f.fallbackHandler().Undeliverable(ctx, from, to, tag, ErrUnknownDestination)
			return false
		}
		if entry.Mailbox.PushAndSchedule(env) {
			f.queue.Push(local, to.Index(), tail)
		}
		return true
	}
}

func (f *Framework) destroy(env *envelope.Envelope, alloc envelope.Allocator) {
	env.Destroy(alloc)
	atomic.AddInt64(&f.liveEnvelopes, -1)
}

// estimateSize approximates a payload's byte footprint for the envelope's
// informational Size field. Go's boxed interface{} values have no literal
// byte size the way the spec's originating source does; reflect.Type.Size
// gives a best-effort stand-in, falling back to a constant when reflection
// can't help (nil, interfaces-of-interfaces, unsized kinds).
func estimateSize(value interface{}) uint32 {
	if value == nil {
		return defaultPayloadSize
	}
	t := reflect.TypeOf(value)
	if t == nil {
		return defaultPayloadSize
	}
	size := t.Size()
	if size == 0 || size > uint64(^uint32(0)) {
		return defaultPayloadSize
	}
	return uint32(size)
}

// dispatchOne processes exactly one scheduled mailbox: it is the
// pool.DispatchFunc this Framework supplies to its worker pool (spec.md
// section 4.7).
func (f *Framework) dispatchOne(w *pool.Worker, index uint32) {
	entry := f.dir.Get(index)
	if entry == nil {
		return
	}

	head := entry.Mailbox.Head()
	if head != nil {
		f.queue.RecordProcessed()
	}

	ctx := withWorker(context.Background(), w)
	selfAddr := address.New(f.cfg.Host, f.cfg.Process, f.cfg.FrameworkIndex, index)

	if head != nil {
		if entry.Actor != nil {
			matched, err := false, error(nil)
			if entry.Table != nil {
				matched, err = entry.Table.Handle(ctx, entry.Actor, head.TypeTag, head.Sender, head.Payload)
			}
			if err != nil {
				log.Printf("framework: handler for tag %d on %s returned error: %v", head.TypeTag, selfAddr, err)
			}
			if !matched {
				if entry.Default != nil {
					if err := entry.Default(ctx, entry.Actor, head.TypeTag, head.Sender, head.Payload); err != nil {
						log.Printf("framework: default handler on %s returned error: %v", selfAddr, err)
					}
				} else {
					f.fallbackHandler().Unhandled(ctx, head.Sender, selfAddr, head.TypeTag, head.Payload)
				}
			}
		} else {
			f.fallbackHandler().Undeliverable(ctx, head.Sender, selfAddr, head.TypeTag, ErrNoActorRegistered)
		}

		head.Destroy(w.Allocator)
		atomic.AddInt64(&f.liveEnvelopes, -1)
	}

	// PopAndReschedule clears the mailbox's scheduled bit under its own
	// lock the instant the FIFO empties. That opens a window for a
	// concurrent Release, decrementing ref_count to zero on another
	// goroutine, to observe the mailbox as unscheduled and push index onto
	// the queue a second time while this call is still deciding whether to
	// collect -- triggering a second, concurrent dispatchOne for the same
	// index. Pin keeps index from being handed back out by Reserve while
	// that decision is in flight; garbageCollect's idempotent
	// Directory.Release and Entry.CollectOnce absorb whatever duplicate
	// collection attempt the race still lets through.
	f.dir.Pin(index)
	needsReschedule := entry.Mailbox.PopAndReschedule()
	shouldCollect := !needsReschedule && entry.RefCount() == 0
	f.dir.Unpin(index)

	if needsReschedule {
		f.queue.Push(nil, index, false)
		return
	}

	if shouldCollect {
		f.garbageCollect(entry)
	}
}

// actorStopper is an optional interface an Actor may implement to run
// cleanup exactly once, right before its mailbox is released.
type actorStopper interface {
	OnActorStop()
}

func (f *Framework) garbageCollect(entry *directory.Entry) {
	if entry.RefCount() != 0 {
		return // a reference was taken between the zero-observation and here
	}
	entry.CollectOnce(func() {
		if stopper, ok := entry.Actor.(actorStopper); ok {
			stopper.OnActorStop()
		}
		entry.Actor = nil
	})
	if f.dir.Release(entry.Index) {
		atomic.AddInt64(&f.liveActors, -1)
		f.shutdownWg.Done()
	}
}

// GetNumThreads, GetPeakThreads, GetMinThreads, GetMaxThreads, and
// SetMinThreads/SetMaxThreads delegate directly to the worker pool
// (spec.md section 4.5's public surface).
func (f *Framework) GetNumThreads() int  { return f.pool.GetNumThreads() }
func (f *Framework) GetPeakThreads() int { return f.pool.GetPeakThreads() }
func (f *Framework) GetMinThreads() int  { return f.pool.GetMinThreads() }
func (f *Framework) GetMaxThreads() int  { return f.pool.GetMaxThreads() }
func (f *Framework) SetMinThreads(n int) { f.pool.SetMinThreads(n) }
func (f *Framework) SetMaxThreads(n int) { f.pool.SetMaxThreads(n) }

// Counters is the set of work-queue counters exposed to callers (spec.md
// section 6).
type Counters = workqueue.Counters

// GetCounters returns a point-in-time snapshot of every tracked counter.
func (f *Framework) GetCounters() Counters {
	return f.queue.Snapshot()
}

// ResetCounters zeroes every tracked counter.
func (f *Framework) ResetCounters() {
	f.queue.Reset()
}

// LiveActors reports the number of actors currently registered.
func (f *Framework) LiveActors() int64 {
	return atomic.LoadInt64(&f.liveActors)
}

// Shutdown implements spec.md section 4.9: close registration, wait for
// every actor to be garbage collected, stop the worker pool (draining each
// worker's allocator cache into the shared allocator as it retires), drain
// the shared allocator itself, and finally check for leaked envelopes.
func (f *Framework) Shutdown() {
	f.registrationClosed.Store(true)
	f.shutdownWg.Wait()
	f.pool.Stop()
	f.sharedAlloc.Drain()

	if leaked := atomic.LoadInt64(&f.liveEnvelopes); leaked != 0 {
		msg := fmt.Sprintf("framework: %d envelope(s) leaked past shutdown", leaked)
		if f.cfg.Debug {
			panic(msg)
		}
		log.Println(msg)
	}
}
