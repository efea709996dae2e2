package framework

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phuhao00/theron/address"
	"github.com/phuhao00/theron/directory"
	"github.com/phuhao00/theron/envelope"
	"github.com/phuhao00/theron/handler"
	"github.com/phuhao00/theron/receiver"
)

const (
	tagValue handler.TypeTag = iota + 1
	tagQuery
	tagDone
	tagPing
)

func newTestFramework(t *testing.T) *Framework {
	t.Helper()
	f := New(Config{
		Host:                   1,
		Process:                1,
		FrameworkIndex:         1,
		InitialThreadCount:     2,
		MaxThreadsPerFramework: 16,
	})
	t.Cleanup(f.Shutdown)
	return f
}

func TestEcho(t *testing.T) {
	f := newTestFramework(t)

	received := make(chan interface{}, 1)
	froms := make(chan address.Address, 1)
	rAddr, err := f.RegisterReceiver(receiver.Func(func(env *envelope.Envelope) {
		received <- env.Payload
		froms <- env.Sender
		env.Destroy(f.sharedAlloc)
	}))
	require.NoError(t, err)

	addr, entry, err := f.RegisterActor(struct{}{}, nil, nil, "")
	require.NoError(t, err)
	defer f.Release(entry)
	entry.Table = handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		if tag != tagValue {
			return false, nil
		}
		f.Send(ctx, addr, sender, tagValue, nil, payload)
		return true, nil
	})

	f.Send(context.Background(), rAddr, addr, tagValue, nil, uint32(42))

	select {
	case v := <-received:
		assert.Equal(t, uint32(42), v)
		assert.Equal(t, addr, <-froms)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo reply")
	}
}

type counterActor struct {
	total int32
}

func TestCounter(t *testing.T) {
	f := newTestFramework(t)

	received := make(chan interface{}, 1)
	rAddr, err := f.RegisterReceiver(receiver.Func(func(env *envelope.Envelope) {
		received <- env.Payload
		env.Destroy(f.sharedAlloc)
	}))
	require.NoError(t, err)

	a := &counterActor{}
	addr, entry, err := f.RegisterActor(a, nil, nil, "")
	require.NoError(t, err)
	defer f.Release(entry)
	entry.Table = handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		switch tag {
		case tagValue:
			a.total += payload.(int32)
			return true, nil
		case tagQuery:
			f.Send(ctx, addr, sender, tagQuery, nil, a.total)
			return true, nil
		}
		return false, nil
	})

	ctx := context.Background()
	for _, v := range []int32{1, 2, 3} {
		f.Send(ctx, rAddr, addr, tagValue, nil, v)
	}
	f.Send(ctx, rAddr, addr, tagQuery, nil, nil)

	select {
	case v := <-received:
		assert.Equal(t, int32(6), v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for counter reply")
	}
}

type orderingActor struct {
	seen []uint32
}

func TestOrderingPreservesPerSenderFIFO(t *testing.T) {
	f := newTestFramework(t)

	received := make(chan interface{}, 1)
	rAddr, err := f.RegisterReceiver(receiver.Func(func(env *envelope.Envelope) {
		received <- env.Payload
		env.Destroy(f.sharedAlloc)
	}))
	require.NoError(t, err)

	a := &orderingActor{}
	addr, entry, err := f.RegisterActor(a, nil, nil, "")
	require.NoError(t, err)
	defer f.Release(entry)
	entry.Table = handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		switch tag {
		case tagValue:
			a.seen = append(a.seen, payload.(uint32))
			return true, nil
		case tagDone:
			out := make([]uint32, len(a.seen))
			copy(out, a.seen)
			f.Send(ctx, addr, sender, tagDone, nil, out)
			return true, nil
		}
		return false, nil
	})

	ctx := context.Background()
	for v := uint32(0); v < 7; v++ {
		f.Send(ctx, rAddr, addr, tagValue, nil, v)
	}
	f.Send(ctx, rAddr, addr, tagDone, nil, nil)

	select {
	case v := <-received:
		assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6}, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ordering reply")
	}
}

type pingPongActor struct {
	peer      address.Address
	remaining *int
	done      chan struct{}
}

func TestTailSendAffinityStaysOnSingleWorker(t *testing.T) {
	f := New(Config{
		Host:                   1,
		Process:                1,
		FrameworkIndex:         1,
		InitialThreadCount:     1,
		MaxThreadsPerFramework: 1,
	})
	t.Cleanup(f.Shutdown)

	const roundTrips = 1000
	remaining := roundTrips * 2
	done := make(chan struct{})

	addrA, entryA, err := f.RegisterActor(nil, nil, nil, "")
	require.NoError(t, err)
	defer f.Release(entryA)
	addrB, entryB, err := f.RegisterActor(nil, nil, nil, "")
	require.NoError(t, err)
	defer f.Release(entryB)

	// Snapshot the counters in the last handler, before done is closed, so
	// the worker blocking for work after the final ping is not counted.
	var counters Counters

	a := &pingPongActor{peer: addrB, remaining: &remaining, done: done}
	b := &pingPongActor{peer: addrA, remaining: &remaining, done: done}
	table := func(self address.Address, pp *pingPongActor) handler.Table {
		return handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
			if tag != tagPing {
				return false, nil
			}
			*pp.remaining--
			if *pp.remaining <= 0 {
				counters = f.GetCounters()
				close(pp.done)
				return true, nil
			}
			f.TailSend(ctx, self, pp.peer, tagPing, nil, struct{}{})
			return true, nil
		})
	}
	entryA.Actor, entryA.Table = a, table(addrA, a)
	entryB.Actor, entryB.Table = b, table(addrB, b)

	f.TailSend(context.Background(), addrB, addrA, tagPing, nil, struct{}{})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("ping-pong never completed")
	}

	assert.LessOrEqual(t, counters.SharedPush, uint64(2), "almost every reply should stay in the local slot")
	assert.LessOrEqual(t, counters.Yields, uint64(1), "the worker blocks at most once, waiting for the very first message")
}

type gcActor struct {
	stopped chan struct{}
}

func (a *gcActor) OnActorStop() { close(a.stopped) }

func TestGarbageCollectionRunsAfterMailboxDrains(t *testing.T) {
	f := newTestFramework(t)

	stopped := make(chan struct{})
	a := &gcActor{stopped: stopped}
	addr, entry, err := f.RegisterActor(a, handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		return true, nil
	}), nil, "")
	require.NoError(t, err)

	f.Send(context.Background(), address.Null, addr, tagValue, nil, uint32(1))
	f.Release(entry)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("actor was never garbage collected")
	}

	// OnActorStop runs before the slot goes back to the free list, so wait
	// for the collection to finish as well.
	require.Eventually(t, func() bool { return f.LiveActors() == 0 }, 2*time.Second, time.Millisecond)

	// The directory slot must be free for reuse once GC has run.
	addr2, entry2, err := f.RegisterActor(struct{}{}, nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, addr.Index(), addr2.Index())
	f.Release(entry2)
}

// stopCountingActor increments stops exactly once per OnActorStop call so
// a concurrency test can catch a double garbage collection directly.
type stopCountingActor struct {
	stops *int32
}

func (a *stopCountingActor) OnActorStop() {
	atomic.AddInt32(a.stops, 1)
}

// TestConcurrentReleaseDuringDispatchNeverDoubleCollects races many
// Send+Release pairs against the dispatch loop's own garbage-collection
// decision for the same mailbox, reproducing the window where
// mailbox.PopAndReschedule clears the scheduled bit just as a concurrent
// Release's ref-count-to-zero transition pushes the same index again. If
// dispatchOne and Directory.Release aren't safe against that overlap, this
// either panics (a double shutdownWg.Done going negative), corrupts the
// free list (RegisterActor handing the same index to two actors), or runs
// OnActorStop more than once for some actor.
func TestConcurrentReleaseDuringDispatchNeverDoubleCollects(t *testing.T) {
	f := New(Config{
		Host:                   1,
		Process:                1,
		FrameworkIndex:         1,
		InitialThreadCount:     8,
		MaxThreadsPerFramework: 8,
	})
	t.Cleanup(f.Shutdown)

	const n = 500
	var stops int32
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		a := &stopCountingActor{stops: &stops}
		addr, entry, err := f.RegisterActor(a, handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
			return true, nil
		}), nil, "")
		require.NoError(t, err)

		go func(addr address.Address, entry *directory.Entry) {
			defer wg.Done()
			f.Send(context.Background(), address.Null, addr, tagValue, nil, uint32(1))
			f.Release(entry)
		}(addr, entry)
	}

	wg.Wait()

	deadline := time.After(5 * time.Second)
	for f.LiveActors() != 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all %d actors to be collected, %d still live", n, f.LiveActors())
		case <-time.After(10 * time.Millisecond):
		}
	}

	assert.Equal(t, int32(n), atomic.LoadInt32(&stops), "every actor must be stopped exactly once, never more")

	// Indices are recycled after collection, so uniqueness is checked on a
	// fresh batch that is all live at once: a free-list entry pushed twice by
	// the race above would hand one index to two of these actors.
	seen := make(map[uint32]int, n)
	entries := make([]*directory.Entry, 0, n)
	for i := 0; i < n; i++ {
		addr, entry, err := f.RegisterActor(struct{}{}, nil, nil, "")
		require.NoError(t, err)
		seen[addr.Index()]++
		entries = append(entries, entry)
	}
	for idx, count := range seen {
		assert.Equal(t, 1, count, "directory index %d was handed out more than once", idx)
	}
	for _, entry := range entries {
		f.Release(entry)
	}
}

func TestThreadResizingGrowsToServeConcurrentWork(t *testing.T) {
	f := New(Config{
		Host:                   1,
		Process:                1,
		FrameworkIndex:         1,
		InitialThreadCount:     1,
		MaxThreadsPerFramework: 32,
	})
	t.Cleanup(f.Shutdown)

	f.SetMinThreads(8)

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		addr, entry, err := f.RegisterActor(struct{}{}, handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
			time.Sleep(150 * time.Millisecond)
			wg.Done()
			return true, nil
		}), nil, "")
		require.NoError(t, err)
		defer f.Release(entry)
		f.Send(context.Background(), address.Null, addr, tagValue, nil, uint32(1))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all concurrent messages completed")
	}

	assert.GreaterOrEqual(t, f.GetPeakThreads(), 8)
}

func TestSendToNullAddressIsUndeliverable(t *testing.T) {
	f := newTestFramework(t)

	var gotReason error
	f.SetFallbackHandler(handler.FallbackFuncs{
		OnUndeliverable: func(ctx context.Context, from, to address.Address, tag handler.TypeTag, reason error) {
			gotReason = reason
		},
	})

	ok := f.Send(context.Background(), address.Null, address.Null, tagValue, nil, uint32(1))
	assert.False(t, ok)
	assert.ErrorIs(t, gotReason, ErrUnknownDestination)
}

func TestDeregisterActorFailsWhileReferenced(t *testing.T) {
	f := newTestFramework(t)
	_, entry, err := f.RegisterActor(struct{}{}, nil, nil, "")
	require.NoError(t, err)

	err = f.DeregisterActor(entry)
	assert.ErrorIs(t, err, ErrStillReferenced)

	f.Release(entry)
}

func TestShutdownWaitsForLiveActors(t *testing.T) {
	f := New(Config{Host: 1, Process: 1, FrameworkIndex: 1, InitialThreadCount: 1, MaxThreadsPerFramework: 4})

	_, entry, err := f.RegisterActor(struct{}{}, nil, nil, "")
	require.NoError(t, err)

	shutdownDone := make(chan struct{})
	go func() {
		f.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown must not return while an actor is still registered")
	case <-time.After(100 * time.Millisecond):
	}

	f.Release(entry)

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown never returned after the last actor was released")
	}
}
