// Package deadletter implements handler.Fallback by archiving
// undeliverable and unhandled messages to MongoDB, adapted from the
// teacher's infra/mongo client (infra/mongo/mongo.go). spec.md section 6
// requires a framework-scoped fallback handler for exactly these two
// cases; this is Theron's concrete, durable implementation of it, as
// opposed to the in-memory no-op a Framework falls back to when none is
// configured.
package deadletter

import (
	"context"
	"time"

	mongox "github.com/phuhao00/theron/infra/mongo"

	"github.com/phuhao00/theron/address"
	"github.com/phuhao00/theron/handler"
)

// Record is the document persisted for every fallback invocation. Payload
// is stored as the string the Archive's PayloadEncoder returns (empty when
// none was supplied) since not every payload type is guaranteed to be
// BSON-marshalable on its own.
type Record struct {
	Kind      string    `bson:"kind"` // "undeliverable" or "unhandled"
	From      uint64    `bson:"from"`
	To        uint64    `bson:"to"`
	Tag       uint32    `bson:"tag"`
	Reason    string    `bson:"reason,omitempty"`
	Payload   string    `bson:"payload,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
}

// PayloadEncoder renders a payload to a storable string. The zero value
// (nil) causes Archive to store Payload as empty.
type PayloadEncoder func(payload interface{}) string

// Archive is a handler.Fallback backed by Mongo. InsertTimeout bounds each
// individual insert so a slow or unreachable Mongo never stalls the worker
// that's reporting the fallback.
type Archive struct {
	client        *mongox.MongoClient
	encodePayload PayloadEncoder
	InsertTimeout time.Duration
}

// NewArchive wraps an already-connected Mongo client. encodePayload may be
// nil, in which case payloads are archived without their contents.
func NewArchive(client *mongox.MongoClient, encodePayload PayloadEncoder) *Archive {
	if encodePayload == nil {
		encodePayload = func(interface{}) string { return "" }
	}
	return &Archive{client: client, encodePayload: encodePayload, InsertTimeout: 2 * time.Second}
}

// Undeliverable implements handler.Fallback.
func (a *Archive) Undeliverable(ctx context.Context, from, to address.Address, tag handler.TypeTag, reason error) {
	rec := Record{
		Kind:      "undeliverable",
		From:      uint64(from),
		To:        uint64(to),
		Tag:       uint32(tag),
		Timestamp: time.Now(),
	}
	if reason != nil {
		rec.Reason = reason.Error()
	}
	a.insert(rec)
}

// Unhandled implements handler.Fallback.
func (a *Archive) Unhandled(ctx context.Context, from, to address.Address, tag handler.TypeTag, payload interface{}) {
	rec := Record{
		Kind:      "unhandled",
		From:      uint64(from),
		To:        uint64(to),
		Tag:       uint32(tag),
		Payload:   a.encodePayload(payload),
		Timestamp: time.Now(),
	}
	a.insert(rec)
}

func (a *Archive) insert(rec Record) {
	timeout := a.InsertTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	// Best-effort: the dispatcher that invoked us already has no recipient
	// for this message, so there's no one left to propagate an insert
	// failure to. The insert error is discarded and nothing logs it.
	_ = a.client.InsertConfig(ctx, rec)
}
