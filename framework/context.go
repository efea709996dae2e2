package framework

import (
	"context"

	"github.com/phuhao00/theron/pool"
)

// ctxKey is an unexported type so no other package can collide with
// Theron's context key (the standard idiom for context values).
type ctxKey struct{}

// withWorker attaches w to ctx. dispatchOne calls this before invoking a
// Table/Default/Fallback method, so a Send/TailSend issued from inside a
// handler observes the same worker's local work-queue slot and per-thread
// allocator cache -- Theron's idiomatic-Go stand-in for the thread-local
// sender context spec.md's design notes describe (no goroutine ever
// migrates mid-handler, so there is no staleness risk in carrying this
// through a context value rather than true thread-local storage).
func withWorker(ctx context.Context, w *pool.Worker) context.Context {
	return context.WithValue(ctx, ctxKey{}, w)
}

// workerFromContext recovers the worker attached by withWorker, if any.
func workerFromContext(ctx context.Context) (*pool.Worker, bool) {
	w, ok := ctx.Value(ctxKey{}).(*pool.Worker)
	return w, ok
}
