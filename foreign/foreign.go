// Package foreign defines the DeliverForeign collaborator hook spec.md
// sections 1 and 4.6 specify for cross-process delivery, plus concrete,
// optional implementations grounded on the teacher's infra/consul and
// infra/nsq clients (see SPEC_FULL.md's "DOMAIN STACK" section).
//
// Cross-process transport is explicitly out of the core's scope (spec.md
// section 1's non-goals); nothing here is required for the in-process
// invariants the core guarantees. A Framework with no Hook installed reports
// every send to a non-local actor address as undeliverable, with reason
// framework.ErrNoForeignHook.
package foreign

import "github.com/phuhao00/theron/envelope"

// Hook is the seam a Framework calls into when a destination address names
// a host, process, or framework index other than its own (and isn't a
// receiver). frameworkIndex
// and mailboxIndex are the destination's packed fields; env is already fully
// constructed -- the hook takes ownership and must eventually destroy it
// (through whatever allocator it was built with) once delivered or
// abandoned.
type Hook interface {
	DeliverForeign(frameworkIndex uint16, mailboxIndex uint32, env *envelope.Envelope) error
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(frameworkIndex uint16, mailboxIndex uint32, env *envelope.Envelope) error

// DeliverForeign implements Hook.
func (f HookFunc) DeliverForeign(frameworkIndex uint16, mailboxIndex uint32, env *envelope.Envelope) error {
	return f(frameworkIndex, mailboxIndex, env)
}
