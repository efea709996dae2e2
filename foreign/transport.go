// TCPTransport is a one-way, fire-and-forget envelope carrier grounded on
// the teacher's length-prefixed RPC framing style: it implements Hook by
// marshaling an envelope's payload as protobuf and shipping it,
// frame-prefixed, to whichever process Registry resolves the destination
// frameworkIndex to.
//
// Unlike a request/response RPC, there is no response frame -- delivery
// here is the same "drop it in a mailbox and move on" semantics spec.md
// section 4.6 describes for local sends; the sender doesn't block on a
// remote handler running.
package foreign

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/phuhao00/theron/address"
	"github.com/phuhao00/theron/envelope"
	"github.com/phuhao00/theron/handler"
)

const (
	defaultMaxConnsPerPeer = 8
	defaultDialTimeout     = 5 * time.Second
)

// wireFrame is the on-the-wire envelope header, written big-endian ahead
// of the marshaled protobuf payload:
//
//	TotalFrameLength (int32)
//	MailboxIndex     (uint32)
//	TypeTag          (uint32)
//	Sender           (uint64)
//	PayloadLength    (int32)
//	Payload          ([]byte, protobuf)
type wireFrame struct {
	MailboxIndex uint32
	TypeTag      uint32
	Sender       uint64
}

// Codec marshals and unmarshals the payload types a Framework's actors
// exchange across process boundaries. ProtoCodec below is the
// protobuf-backed implementation; Theron's core never needs to know what's
// inside a payload otherwise.
type Codec interface {
	Marshal(payload interface{}) ([]byte, error)
	Unmarshal(tag handler.TypeTag, data []byte) (interface{}, error)
}

// ProtoCodec implements Codec for payloads that are already proto.Message
// values, using a caller-supplied factory keyed by TypeTag to allocate the
// right concrete type on the receiving side.
type ProtoCodec struct {
	NewMessage func(tag handler.TypeTag) (proto.Message, error)
}

// Marshal implements Codec.
func (c ProtoCodec) Marshal(payload interface{}) ([]byte, error) {
	msg, ok := payload.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("foreign: payload %T is not a proto.Message", payload)
	}
	return proto.Marshal(msg)
}

// Unmarshal implements Codec.
func (c ProtoCodec) Unmarshal(tag handler.TypeTag, data []byte) (interface{}, error) {
	msg, err := c.NewMessage(tag)
	if err != nil {
		return nil, err
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("foreign: unmarshal tag %d: %w", tag, err)
	}
	return msg, nil
}

// LocalDelivery is the callback a TCPTransport's server side invokes for
// each frame it receives: inject a freshly-built envelope into the local
// Framework at the given mailbox index, the same way a local Send would.
type LocalDelivery func(mailboxIndex uint32, tag handler.TypeTag, sender address.Address, payload interface{})

// TCPTransport implements foreign.Hook by dialing out to peers resolved via
// a Registry, and separately accepts inbound connections to feed a
// Framework's local mailboxes.
type TCPTransport struct {
	registry *Registry
	codec    Codec
	deliver  LocalDelivery
	alloc    envelope.Allocator

	listener net.Listener

	mu                  sync.Mutex
	pools               map[string]chan net.Conn
	maxConnsPerEndpoint int
	dialTimeout         time.Duration
}

// NewTCPTransport builds a transport bound to registry for peer discovery
// and codec for payload (de)serialization. deliver is called for every
// inbound frame once the listener is started with Listen.
func NewTCPTransport(registry *Registry, codec Codec, deliver LocalDelivery, alloc envelope.Allocator) *TCPTransport {
	return &TCPTransport{
		registry:            registry,
		codec:               codec,
		deliver:             deliver,
		alloc:               alloc,
		pools:               make(map[string]chan net.Conn),
		maxConnsPerEndpoint: defaultMaxConnsPerPeer,
		dialTimeout:         defaultDialTimeout,
	}
}

// Listen starts accepting inbound connections on addr and announces this
// process's address to the Registry under port. It returns once the
// listener is bound; connections are served on background goroutines.
func (t *TCPTransport) Listen(addr string, announceHost string, port int) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("foreign: listen on %s: %w", addr, err)
	}
	t.listener = ln
	go t.acceptLoop(ln)
	if t.registry != nil {
		if err := t.registry.Announce(announceHost, port); err != nil {
			log.Printf("foreign: consul announce failed: %v", err)
		}
	}
	return nil
}

// Close stops accepting new connections and withdraws this process's
// registry announcement.
func (t *TCPTransport) Close() error {
	if t.registry != nil {
		if err := t.registry.Withdraw(); err != nil {
			log.Printf("foreign: consul withdraw failed: %v", err)
		}
	}
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

func (t *TCPTransport) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("foreign: accept loop exiting: %v", err)
			return
		}
		go t.serveConn(conn)
	}
}

func (t *TCPTransport) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		frame, hdr, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("foreign: reading frame from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		payload, err := t.codec.Unmarshal(handler.TypeTag(hdr.TypeTag), frame)
		if err != nil {
			log.Printf("foreign: decoding frame from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		t.deliver(hdr.MailboxIndex, handler.TypeTag(hdr.TypeTag), address.Address(hdr.Sender), payload)
	}
}

// DeliverForeign implements foreign.Hook: it marshals env's payload, dials
// (or reuses a pooled connection to) the process Registry resolves
// frameworkIndex to, and writes one frame. The envelope is always destroyed
// before returning -- ownership does not survive the wire, only its
// decoded contents do.
func (t *TCPTransport) DeliverForeign(frameworkIndex uint16, mailboxIndex uint32, env *envelope.Envelope) error {
	payload, tag, sender := env.Payload, env.TypeTag, env.Sender
	defer env.Destroy(t.alloc)

	if t.registry == nil {
		return fmt.Errorf("foreign: no registry configured, cannot resolve framework %d", frameworkIndex)
	}
	endpoint, err := t.registry.Resolve(frameworkIndex)
	if err != nil {
		return err
	}

	data, err := t.codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("foreign: marshaling payload for framework %d: %w", frameworkIndex, err)
	}

	conn, err := t.getConn(endpoint)
	if err != nil {
		return err
	}

	hdr := wireFrame{MailboxIndex: mailboxIndex, TypeTag: uint32(tag), Sender: uint64(sender)}
	if err := writeFrame(conn, hdr, data); err != nil {
		conn.Close()
		return fmt.Errorf("foreign: writing frame to %s: %w", endpoint, err)
	}
	t.putConn(endpoint, conn)
	return nil
}

func (t *TCPTransport) getConn(endpoint string) (net.Conn, error) {
	t.mu.Lock()
	pool, ok := t.pools[endpoint]
	if !ok {
		pool = make(chan net.Conn, t.maxConnsPerEndpoint)
		t.pools[endpoint] = pool
	}
	t.mu.Unlock()

	select {
	case conn := <-pool:
		return conn, nil
	default:
		return net.DialTimeout("tcp", endpoint, t.dialTimeout)
	}
}

func (t *TCPTransport) putConn(endpoint string, conn net.Conn) {
	t.mu.Lock()
	pool := t.pools[endpoint]
	t.mu.Unlock()
	select {
	case pool <- conn:
	default:
		conn.Close()
	}
}

// writeFrame serializes hdr and payload into the wire format documented on
// wireFrame and writes it to w as a single length-prefixed frame.
func writeFrame(w io.Writer, hdr wireFrame, payload []byte) error {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.BigEndian, hdr.MailboxIndex); err != nil {
		return err
	}
	if err := binary.Write(&body, binary.BigEndian, hdr.TypeTag); err != nil {
		return err
	}
	if err := binary.Write(&body, binary.BigEndian, hdr.Sender); err != nil {
		return err
	}
	if err := binary.Write(&body, binary.BigEndian, int32(len(payload))); err != nil {
		return err
	}
	if _, err := body.Write(payload); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, int32(body.Len())); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// readFrame reads one length-prefixed frame from r and returns its payload
// bytes alongside the decoded header.
func readFrame(r io.Reader) ([]byte, wireFrame, error) {
	var totalLen int32
	if err := binary.Read(r, binary.BigEndian, &totalLen); err != nil {
		return nil, wireFrame{}, err
	}
	if totalLen <= 0 {
		return nil, wireFrame{}, fmt.Errorf("foreign: invalid frame length %d", totalLen)
	}
	body := make([]byte, totalLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, wireFrame{}, err
	}
	reader := bytes.NewReader(body)

	var hdr wireFrame
	if err := binary.Read(reader, binary.BigEndian, &hdr.MailboxIndex); err != nil {
		return nil, wireFrame{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &hdr.TypeTag); err != nil {
		return nil, wireFrame{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &hdr.Sender); err != nil {
		return nil, wireFrame{}, err
	}
	var payloadLen int32
	if err := binary.Read(reader, binary.BigEndian, &payloadLen); err != nil {
		return nil, wireFrame{}, err
	}
	if payloadLen < 0 {
		return nil, wireFrame{}, fmt.Errorf("foreign: invalid payload length %d", payloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, wireFrame{}, err
	}
	return payload, hdr, nil
}
