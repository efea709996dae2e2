// Package envelope implements the message envelope described in spec.md
// sections 3 and 4.6: the heap cell combining a type tag, sender address,
// size/alignment descriptor, and payload, allocated by the sender and
// destroyed exactly once by the worker that dequeues it.
package envelope

import (
	"github.com/phuhao00/theron/address"
	"github.com/phuhao00/theron/allocator"
	"github.com/phuhao00/theron/handler"
)

// headerSize is the fixed-layout header Theron writes into the arena block
// it allocates for every envelope: an 8-byte sender address, a 4-byte type
// tag, and a 4-byte size field, each little-endian. The trailing arena space
// starts at byte 16 of the block.
const headerSize = 16

// Envelope is the unit the sender allocates and the dispatcher destroys.
// Payload is carried directly as an interface{} for handler dispatch
// (idiomatic Go avoids re-serializing in-process messages); arena is the
// allocator-backed byte block that exercises the caching allocator's size
// classing and also stores the header fields for parity with the C++
// source's inline layout.
type Envelope struct {
	TypeTag   handler.TypeTag
	Sender    address.Address
	Size      uint32 // payload size in bytes, as supplied by the caller
	Alignment uint32 // at least allocator.CachelineAlignment

	Payload interface{}

	arena    []byte
	arenaLen int // size passed in when the arena was allocated, needed to Free it
}

// New allocates an envelope's backing arena from alloc, writes the header,
// and copy-constructs payload into the envelope via cc. size is the
// caller-declared payload size in bytes (spec.md section 4.6's "numeric
// contract"); it need not match len(anything) exactly since Payload is a Go
// interface value, but it drives the arena's size class and is reported
// back in the Size field.
//
// alloc is any type satisfying the minimal allocate/free shape both
// allocator.Local and allocator.Shared implement; see the Allocator
// interface below.
func New(alloc Allocator, tag handler.TypeTag, sender address.Address, size uint32, cc handler.CopyConstructor, value interface{}) (*Envelope, error) {
	arenaLen := int(size) + headerSize
	arena := alloc.Allocate(arenaLen)

	env := &Envelope{
		TypeTag:   tag,
		Sender:    sender,
		Size:      size,
		Alignment: allocator.CachelineAlignment,
		arena:     arena,
		arenaLen:  arenaLen,
	}
	env.writeHeader()

	if cc != nil {
		var dst interface{} = value
		if err := cc(&dst, value); err != nil {
			alloc.Free(arena, arenaLen)
			return nil, err
		}
		env.Payload = dst
	} else {
		env.Payload = value
	}

	return env, nil
}

// Allocator is the minimal shape New needs; allocator.Local and
// allocator.Shared both satisfy it.
type Allocator interface {
	Allocate(size int) []byte
	Free(block []byte, size int)
}

func (e *Envelope) writeHeader() {
	b := e.arena
	if len(b) < headerSize {
		return
	}
	putU64(b[0:8], uint64(e.Sender))
	putU32(b[8:12], uint32(e.TypeTag))
	putU32(b[12:16], e.Size)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Destroy returns the envelope's arena to alloc. It must be called exactly
// once, by the worker that dequeued the envelope (spec.md section 4.6,
// "Destroyer path"). Payload is cleared so nothing retains the value past
// destruction.
func (e *Envelope) Destroy(alloc Allocator) {
	if e.arena != nil {
		alloc.Free(e.arena, e.arenaLen)
		e.arena = nil
	}
	e.Payload = nil
}
