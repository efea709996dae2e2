// theron-demo boots a single Theron Framework in-process and drives it
// through the handful of scenarios spec.md section 8 describes: echo,
// running counter, message ordering, tail-send affinity, actor GC, and
// dynamic thread resizing. It mirrors the teacher's server binaries'
// bootstrap shape (standard logger, one binary per concern) without any
// of their game-specific RPC plumbing.
package main

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/phuhao00/theron/address"
	"github.com/phuhao00/theron/allocator"
	"github.com/phuhao00/theron/envelope"
	"github.com/phuhao00/theron/framework"
	"github.com/phuhao00/theron/handler"
	"github.com/phuhao00/theron/help"
	"github.com/phuhao00/theron/receiver"
)

// actorNames mints the unique name handed to each RegisterActor call below,
// so every actor in the demo is reachable by name as well as by address.
var actorNames = help.NewIDGenerator(1)

func actorName(scenario string) string {
	return scenario + "-" + actorNames.GenerateIDString()
}

const (
	tagU32Value handler.TypeTag = iota + 1
	tagQuery
	tagDone
	tagPing
)

// demoAlloc is the allocator client-side (non-worker) receivers use to
// destroy the envelopes handed to them -- a receiver runs outside any
// Framework's worker pool, so it never has a *pool.Worker's per-thread
// cache to destroy through (spec.md section 4.6 step 2's "client thread"
// case).
var demoAlloc = allocator.NewShared(nil, 0, 0)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	f := framework.New(framework.Config{
		Host:                   1,
		Process:                1,
		FrameworkIndex:         1,
		InitialThreadCount:     1,
		MaxThreadsPerFramework: 64,
	})
	defer f.Shutdown()

	runEcho(f)
	runCounter(f)
	runOrdering(f)
	runTailSendAffinity()
	runGC(f)
	runThreadResizing()

	log.Println("theron-demo: all scenarios completed")
}

// receiverFunc adapts two channels into a receiver.Receiver: the payload
// goes to values, the sender address goes to froms.
func receiverFunc(values chan interface{}, froms chan address.Address) receiver.Receiver {
	return receiver.Func(func(env *envelope.Envelope) {
		values <- env.Payload
		froms <- env.Sender
		env.Destroy(demoAlloc)
	})
}

// echoActor replies to every u32 it receives with the same value.
type echoActor struct{}

func echoTable(f *framework.Framework, self address.Address) handler.Table {
	return handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		if tag != tagU32Value {
			return false, nil
		}
		f.Send(ctx, self, sender, tagU32Value, nil, payload)
		return true, nil
	})
}

func runEcho(f *framework.Framework) {
	received := make(chan interface{}, 1)
	from := make(chan address.Address, 1)
	rAddr, err := f.RegisterReceiver(receiverFunc(received, from))
	if err != nil {
		log.Fatalf("echo: register receiver: %v", err)
	}

	addr, entry, err := f.RegisterActor(echoActor{}, nil, nil, actorName("echo"))
	if err != nil {
		log.Fatalf("echo: register actor: %v", err)
	}
	entry.Table = echoTable(f, addr)

	f.Send(context.Background(), rAddr, addr, tagU32Value, nil, uint32(42))

	select {
	case v := <-received:
		sender := <-from
		if v != uint32(42) || sender != addr {
			log.Fatalf("echo: got (%v, %v), want (42, %v)", v, sender, addr)
		}
		log.Printf("echo: ok, got %v from %v", v, sender)
	case <-time.After(2 * time.Second):
		log.Fatal("echo: timed out waiting for reply")
	}

	f.Release(entry)
}

// counterActor keeps a running total of every int32 it sees, replying with
// it on tagQuery.
type counterActor struct {
	total int32
}

func counterTable(f *framework.Framework, self address.Address, a *counterActor) handler.Table {
	return handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		switch tag {
		case tagU32Value:
			a.total += payload.(int32)
			return true, nil
		case tagQuery:
			f.Send(ctx, self, sender, tagQuery, nil, a.total)
			return true, nil
		}
		return false, nil
	})
}

func runCounter(f *framework.Framework) {
	received := make(chan interface{}, 1)
	from := make(chan address.Address, 1)
	rAddr, err := f.RegisterReceiver(receiverFunc(received, from))
	if err != nil {
		log.Fatalf("counter: register receiver: %v", err)
	}

	a := &counterActor{}
	addr, entry, err := f.RegisterActor(a, nil, nil, actorName("counter"))
	if err != nil {
		log.Fatalf("counter: register actor: %v", err)
	}
	entry.Table = counterTable(f, addr, a)

	ctx := context.Background()
	for _, v := range []int32{1, 2, 3} {
		f.Send(ctx, rAddr, addr, tagU32Value, nil, v)
	}
	f.Send(ctx, rAddr, addr, tagQuery, nil, nil)

	select {
	case v := <-received:
		if v != int32(6) {
			log.Fatalf("counter: got %v, want 6", v)
		}
		log.Printf("counter: ok, total = %v", v)
	case <-time.After(2 * time.Second):
		log.Fatal("counter: timed out waiting for reply")
	}

	f.Release(entry)
}

// orderingActor appends every u32 it sees into a slice, replying with it on
// tagDone. Relies on the per-mailbox FIFO (spec.md section 4.4) to preserve
// send order.
type orderingActor struct {
	seen []uint32
}

func orderingTable(f *framework.Framework, self address.Address, a *orderingActor) handler.Table {
	return handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		switch tag {
		case tagU32Value:
			a.seen = append(a.seen, payload.(uint32))
			return true, nil
		case tagDone:
			out := make([]uint32, len(a.seen))
			copy(out, a.seen)
			f.Send(ctx, self, sender, tagDone, nil, out)
			return true, nil
		}
		return false, nil
	})
}

func runOrdering(f *framework.Framework) {
	received := make(chan interface{}, 1)
	from := make(chan address.Address, 1)
	rAddr, err := f.RegisterReceiver(receiverFunc(received, from))
	if err != nil {
		log.Fatalf("ordering: register receiver: %v", err)
	}

	a := &orderingActor{}
	addr, entry, err := f.RegisterActor(a, nil, nil, actorName("ordering"))
	if err != nil {
		log.Fatalf("ordering: register actor: %v", err)
	}
	entry.Table = orderingTable(f, addr, a)

	ctx := context.Background()
	for v := uint32(0); v < 7; v++ {
		f.Send(ctx, rAddr, addr, tagU32Value, nil, v)
	}
	f.Send(ctx, rAddr, addr, tagDone, nil, nil)

	select {
	case v := <-received:
		got := v.([]uint32)
		want := []uint32{0, 1, 2, 3, 4, 5, 6}
		ok := len(got) == len(want)
		for i := 0; ok && i < len(want); i++ {
			ok = got[i] == want[i]
		}
		if !ok {
			log.Fatalf("ordering: got %v, want %v", got, want)
		}
		log.Printf("ordering: ok, sequence = %v", got)
	case <-time.After(2 * time.Second):
		log.Fatal("ordering: timed out waiting for reply")
	}

	f.Release(entry)
}

// pingPongActor replies to every tagPing with tagPing via TailSend, so a
// single-worker framework settles two actors' round trips onto the
// worker's local work-queue slot (spec.md section 8's affinity case).
type pingPongActor struct {
	peer      address.Address
	remaining *int
	done      chan struct{}
}

func pingPongTable(f *framework.Framework, self address.Address, a *pingPongActor) handler.Table {
	return handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		if tag != tagPing {
			return false, nil
		}
		*a.remaining--
		if *a.remaining <= 0 {
			close(a.done)
			return true, nil
		}
		f.TailSend(ctx, self, a.peer, tagPing, nil, struct{}{})
		return true, nil
	})
}

func runTailSendAffinity() {
	demo := framework.New(framework.Config{
		Host:                   1,
		Process:                1,
		FrameworkIndex:         2,
		InitialThreadCount:     1,
		MaxThreadsPerFramework: 1,
	})
	defer demo.Shutdown()

	const roundTrips = 10000
	remaining := roundTrips * 2
	done := make(chan struct{})

	addrA, entryA, err := demo.RegisterActor(nil, nil, nil, actorName("pingpong-a"))
	if err != nil {
		log.Fatalf("tailsend: register A: %v", err)
	}
	addrB, entryB, err := demo.RegisterActor(nil, nil, nil, actorName("pingpong-b"))
	if err != nil {
		log.Fatalf("tailsend: register B: %v", err)
	}

	a := &pingPongActor{peer: addrB, remaining: &remaining, done: done}
	b := &pingPongActor{peer: addrA, remaining: &remaining, done: done}
	entryA.Actor, entryA.Table = a, pingPongTable(demo, addrA, a)
	entryB.Actor, entryB.Table = b, pingPongTable(demo, addrB, b)

	demo.TailSend(context.Background(), addrB, addrA, tagPing, nil, struct{}{})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Fatal("tailsend: timed out")
	}

	counters := demo.GetCounters()
	log.Printf("tailsend: ok, %d round trips, shared_pushes=%d yields=%d", roundTrips, counters.SharedPush, counters.Yields)

	demo.Release(entryA)
	demo.Release(entryB)
}

// gcActor exists only to prove OnActorStop runs exactly once, after its
// mailbox drains, once its last external reference is dropped.
type gcActor struct {
	stopped chan struct{}
}

func (a *gcActor) OnActorStop() {
	close(a.stopped)
}

func runGC(f *framework.Framework) {
	stopped := make(chan struct{})
	a := &gcActor{stopped: stopped}
	addr, entry, err := f.RegisterActor(a, handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		return true, nil
	}), nil, actorName("gc"))
	if err != nil {
		log.Fatalf("gc: register actor: %v", err)
	}

	f.Send(context.Background(), address.Null, addr, tagU32Value, nil, uint32(1))
	f.Release(entry) // drop the caller's reference while the message is in flight

	select {
	case <-stopped:
		log.Printf("gc: ok, actor %v stopped after its mailbox drained", addr)
	case <-time.After(2 * time.Second):
		log.Fatal("gc: actor was never stopped")
	}
}

// slowActor sleeps briefly on every message, long enough that eight
// concurrently submitted messages need eight workers to all finish promptly.
type slowActor struct{}

func slowTable(wg *sync.WaitGroup) handler.Table {
	return handler.TableFunc(func(ctx context.Context, actor handler.Actor, tag handler.TypeTag, sender address.Address, payload interface{}) (bool, error) {
		time.Sleep(200 * time.Millisecond)
		wg.Done()
		return true, nil
	})
}

// runThreadResizing starts a framework at one worker, raises the minimum to
// eight, and submits eight concurrent long-running messages to prove the
// pool actually grows to serve them.
func runThreadResizing() {
	demo := framework.New(framework.Config{
		Host:                   1,
		Process:                1,
		FrameworkIndex:         3,
		InitialThreadCount:     1,
		MaxThreadsPerFramework: 64,
	})
	defer demo.Shutdown()

	demo.SetMinThreads(8)

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)

	addrs := make([]address.Address, n)
	for i := 0; i < n; i++ {
		addr, entry, err := demo.RegisterActor(slowActor{}, slowTable(&wg), nil, actorName("resize"))
		if err != nil {
			log.Fatalf("resize: register actor %d: %v", i, err)
		}
		addrs[i] = addr
		defer demo.Release(entry)
	}

	ctx := context.Background()
	for _, addr := range addrs {
		demo.Send(ctx, address.Null, addr, tagU32Value, nil, uint32(1))
	}

	waitOk := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitOk)
	}()

	select {
	case <-waitOk:
	case <-time.After(5 * time.Second):
		log.Fatal("resize: timed out waiting for all replies")
	}

	peak := demo.GetPeakThreads()
	if peak < 8 {
		log.Fatalf("resize: peak threads = %d, want >= 8", peak)
	}
	log.Printf("resize: ok, peak threads = %d", peak)
}
