package framework

import "errors"

// Sentinel errors a Framework's public operations can return. Reason
// values passed to handler.Fallback.Undeliverable are drawn from this set
// too, so a fallback implementation can type-switch or errors.Is against
// them; the one exception is an error returned by a foreign.Hook, which is
// passed through unchanged.
var (
	ErrRegistrationClosed    = errors.New("framework: registration closed, shutdown in progress")
	ErrRegistrationExhausted = errors.New("framework: actor index space exhausted")
	ErrReceiversExhausted    = errors.New("framework: receiver index space exhausted")
	ErrStillReferenced       = errors.New("framework: actor still referenced")
	ErrPinned                = errors.New("framework: actor entry is pinned")
	ErrUnknownDestination    = errors.New("framework: destination does not resolve to any mailbox or receiver")
	ErrNoActorRegistered     = errors.New("framework: mailbox has no live actor")
	ErrAllocationExhausted   = errors.New("framework: envelope allocation failed")
	ErrNoForeignHook         = errors.New("framework: no foreign hook configured for cross-process delivery")
)
