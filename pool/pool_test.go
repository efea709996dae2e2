package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phuhao00/theron/workqueue"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true within %s", timeout)
}

func TestPoolDispatchesPushedWork(t *testing.T) {
	q := workqueue.New()
	var processed int32
	p := New(q, func(w *Worker, index uint32) {
		atomic.AddInt32(&processed, 1)
	}, nil, nil, 2, 8)
	p.Start()
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return p.GetNumThreads() == 2 })

	for i := 0; i < 20; i++ {
		q.Push(nil, uint32(i), false)
	}

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&processed) == 20 })
}

func TestSetMinThreadsGrowsPool(t *testing.T) {
	q := workqueue.New()
	p := New(q, func(w *Worker, index uint32) {}, nil, nil, 1, 16)
	p.Start()
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return p.GetNumThreads() == 1 })

	p.SetMinThreads(6)
	waitFor(t, time.Second, func() bool { return p.GetNumThreads() >= 6 })
	assert.GreaterOrEqual(t, p.GetPeakThreads(), 6)
}

func TestSetMaxThreadsShrinksPool(t *testing.T) {
	q := workqueue.New()
	p := New(q, func(w *Worker, index uint32) {}, nil, nil, 6, 16)
	p.Start()
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return p.GetNumThreads() == 6 })

	p.SetMaxThreads(2)
	waitFor(t, time.Second, func() bool { return p.GetNumThreads() <= 2 })
}

func TestSetMinThreadsNeverLowersTarget(t *testing.T) {
	q := workqueue.New()
	p := New(q, func(w *Worker, index uint32) {}, nil, nil, 4, 16)
	p.Start()
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return p.GetNumThreads() == 4 })

	p.SetMinThreads(1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, p.GetNumThreads(), "SetMinThreads must never shrink the pool")
}

func TestStopJoinsAllWorkers(t *testing.T) {
	q := workqueue.New()
	p := New(q, func(w *Worker, index uint32) {}, nil, nil, 4, 16)
	p.Start()
	waitFor(t, time.Second, func() bool { return p.GetNumThreads() == 4 })

	p.Stop()
	assert.Equal(t, 0, p.GetNumThreads())
}

func TestRetireFuncCalledForEveryWorkerOnStop(t *testing.T) {
	q := workqueue.New()
	var retired int32
	var mu sync.Mutex
	seen := map[int]bool{}

	p := New(q, func(w *Worker, index uint32) {}, nil, func(w *Worker) {
		atomic.AddInt32(&retired, 1)
		mu.Lock()
		seen[w.ID] = true
		mu.Unlock()
	}, 3, 16)
	p.Start()
	waitFor(t, time.Second, func() bool { return p.GetNumThreads() == 3 })

	p.Stop()
	assert.Equal(t, int32(3), atomic.LoadInt32(&retired))
	assert.Len(t, seen, 3)
}

func TestWorkerHasOwnAllocatorAndLocalSlot(t *testing.T) {
	q := workqueue.New()
	seen := make(chan *Worker, 1)
	p := New(q, func(w *Worker, index uint32) {
		select {
		case seen <- w:
		default:
		}
	}, nil, nil, 1, 4)
	p.Start()
	defer p.Stop()

	q.Push(nil, 1, false)

	select {
	case w := <-seen:
		assert.NotNil(t, w.Allocator)
		assert.NotNil(t, w.Local)
	case <-time.After(time.Second):
		t.Fatal("dispatch never ran")
	}
}
