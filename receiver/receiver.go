// Package receiver defines the boundary interface passive, non-actor
// client code presents to the sender path (spec.md section 6). Receivers
// are addressed via framework-index 0 and take envelope ownership by
// handoff; the core never implements one, only delivers to it.
package receiver

import "github.com/phuhao00/theron/envelope"

// Receiver is a passive message sink. Push transfers ownership of env to
// the receiver -- the receiver is responsible for eventually destroying it
// (typically after decoding Payload) via env.Destroy.
type Receiver interface {
	Push(env *envelope.Envelope)
}

// Func adapts a plain function to the Receiver interface.
type Func func(env *envelope.Envelope)

// Push implements Receiver.
func (f Func) Push(env *envelope.Envelope) {
	f(env)
}
