// NSQFallback adapts the teacher's infra/nsq producer (infra/nsq/nsq.go)
// into a best-effort side channel for envelopes a TCPTransport couldn't
// place directly: instead of dropping them as Undeliverable, a Framework
// configured with an NSQFallback publishes the encoded envelope to a
// per-destination-framework topic, for whatever out-of-band consumer
// (a log, an ops dashboard, a replay queue) cares to pick it up later.
//
// It does not itself implement Hook -- spec.md's fallback handler already
// covers "nothing could deliver this"; NSQFallback is meant to sit behind
// that handler (see handler.Fallback.Undeliverable) as an optional extra
// sink, not as a second delivery path competing with TCPTransport.
package foreign

import (
	"fmt"

	nsqx "github.com/phuhao00/theron/infra/nsq"

	"github.com/phuhao00/theron/address"
	"github.com/phuhao00/theron/handler"
)

// TopicPrefix namespaces the topics NSQFallback publishes to.
const TopicPrefix = "theron.undeliverable."

// NSQFallback publishes undeliverable-envelope records to NSQ for
// best-effort, asynchronous observation. Publish never blocks delivery --
// callers should treat a publish failure as "lost the audit trail", not as
// grounds to retry the original send.
type NSQFallback struct {
	producer *nsqx.Producer
	codec    Codec
}

// NewNSQFallback wraps an already-connected NSQ producer.
func NewNSQFallback(producer *nsqx.Producer, codec Codec) *NSQFallback {
	return &NSQFallback{producer: producer, codec: codec}
}

// topicFor names the topic a given destination framework's fallback
// records are published to.
func topicFor(to address.Address) string {
	return fmt.Sprintf("%s%d", TopicPrefix, to.Framework())
}

// Publish encodes payload with the configured codec and publishes it, along
// with the routing fields a consumer needs to make sense of it, to the
// destination framework's topic.
func (n *NSQFallback) Publish(from, to address.Address, tag handler.TypeTag, payload interface{}) error {
	body, err := n.codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("foreign: nsq fallback marshal: %w", err)
	}
	frame := make([]byte, 0, len(body)+20)
	frame = appendU64(frame, uint64(from))
	frame = appendU64(frame, uint64(to))
	frame = appendU32(frame, uint32(tag))
	frame = append(frame, body...)
	return n.producer.Publish(topicFor(to), frame)
}

// Stop releases the underlying NSQ producer.
func (n *NSQFallback) Stop() {
	n.producer.Stop()
}

func appendU64(b []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

func appendU32(b []byte, v uint32) []byte {
	for i := 0; i < 4; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}
