// Package handler defines the collaborator interfaces the dispatch engine
// consumes but never implements: the per-type message tag, the payload
// copy/drop callbacks, and the per-actor handler table. spec.md section 1
// deliberately keeps the user-visible actor base type and its
// handler-registration surface out of the core's scope; this package is the
// seam the core dispatches through.
package handler

import (
	"context"

	"github.com/phuhao00/theron/address"
)

// TypeTag opaquely identifies a message's wire/runtime type. The core never
// interprets it beyond equality comparison and map-keying.
type TypeTag uint32

// CopyConstructor copy-constructs a payload of a known TypeTag from src into
// a freshly allocated dst. It is supplied by the sender at send time
// (spec.md section 4.6 step 5) and must not retain src beyond the call.
type CopyConstructor func(dst, src interface{}) error

// Destructor releases any resources a payload holds before its envelope is
// returned to the allocator. Most payload types need no destructor; it is
// optional everywhere it's referenced.
type Destructor func(payload interface{})

// Actor is the opaque, already-resolved actor instance the dispatch loop
// hands to a Table. The core never looks inside it -- it just arranges for
// exactly one goroutine to call into Table.Handle with (actor, payload) at a
// time per mailbox.
type Actor interface{}

// Table is the per-actor collection of registered message handlers. Handle
// returns whether some registered handler matched tag; when it returns
// false the dispatcher falls through to the actor's Default handler, or,
// when the actor has none, to the framework's fallback handler.
//
// ctx carries the calling worker's identity (when the dispatcher is the
// caller, which it always is) so that a Send/TailSend issued from inside
// Handle picks the same worker's per-thread allocator cache and local work
// queue slot -- Theron's idiomatic-Go stand-in for the thread-local sender
// context spec.md's design notes call for.
type Table interface {
	Handle(ctx context.Context, actor Actor, tag TypeTag, sender address.Address, payload interface{}) (matched bool, err error)
}

// TableFunc adapts a single function to the Table interface, mirroring the
// teacher's ActorProcessor.ProcessMessage single-method shape
// (infra/actor/actor.go) but keyed by TypeTag instead of a type switch on
// proto.Message.
type TableFunc func(ctx context.Context, actor Actor, tag TypeTag, sender address.Address, payload interface{}) (bool, error)

// Handle implements Table.
func (f TableFunc) Handle(ctx context.Context, actor Actor, tag TypeTag, sender address.Address, payload interface{}) (bool, error) {
	return f(ctx, actor, tag, sender, payload)
}

// Default is the optional per-actor handler invoked when Table.Handle
// reports no match. It never returns "matched" -- by definition it always
// runs, or doesn't exist.
type Default func(ctx context.Context, actor Actor, tag TypeTag, sender address.Address, payload interface{}) error

// Fallback is the framework-scoped handler invoked for undeliverable or
// wholly unmatched messages (spec.md section 6 "Fallback handler"). Two
// forms: one that only sees the sender (delivery-failure case), and one
// that also sees the payload value (type-mismatch case already resolved to
// a mailbox).
type Fallback interface {
	// Undeliverable is invoked when the message could not reach a handler:
	// envelope construction failed, `to` did not resolve to any mailbox or
	// receiver, no foreign hook is installed or the hook failed, or the
	// mailbox's actor has already been collected. reason tells these cases
	// apart.
	Undeliverable(ctx context.Context, from, to address.Address, tag TypeTag, reason error)

	// Unhandled is invoked when a mailbox resolved and accepted the
	// message, but no registered handler (and no actor-level default)
	// matched its tag.
	Unhandled(ctx context.Context, from, to address.Address, tag TypeTag, payload interface{})
}

// FallbackFuncs adapts two functions to the Fallback interface.
type FallbackFuncs struct {
	OnUndeliverable func(ctx context.Context, from, to address.Address, tag TypeTag, reason error)
	OnUnhandled     func(ctx context.Context, from, to address.Address, tag TypeTag, payload interface{})
}

// Undeliverable implements Fallback.
func (f FallbackFuncs) Undeliverable(ctx context.Context, from, to address.Address, tag TypeTag, reason error) {
	if f.OnUndeliverable != nil {
		f.OnUndeliverable(ctx, from, to, tag, reason)
	}
}

// Unhandled implements Fallback.
func (f FallbackFuncs) Unhandled(ctx context.Context, from, to address.Address, tag TypeTag, payload interface{}) {
	if f.OnUnhandled != nil {
		f.OnUnhandled(ctx, from, to, tag, payload)
	}
}
