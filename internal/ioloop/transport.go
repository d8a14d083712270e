// Package ioloop implements the background I/O task: one
// duplex outbound connection with a two-lane priority queue, one
// topic-filtered inbound connection, and safe exception handoff to the
// main task. The transport itself is WebTransport/QUIC: one session per
// room, with both outbound lanes sharing a single reliable duplex
// stream; datagrams are inbound-only, carrying the topic-tagged room
// broadcasts on the subscribe session.
package ioloop

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"
)

// SendOutcome is the three-valued result of one outbound send
// attempt: Backpressure is not a disconnect, only Fatal is.
type SendOutcome int

const (
	Sent SendOutcome = iota
	Backpressure
	Fatal
)

func (o SendOutcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Backpressure:
		return "backpressure"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// writeDeadline bounds how long a single outbound frame write may block
// before being classified as backpressure rather than a fatal error.
const writeDeadline = 5 * time.Millisecond

// receiveDeadline bounds a single inbound drain attempt.
const receiveDeadline = 10 * time.Millisecond

// Transport is the collaborator the loop drives: one duplex
// client→server connection for sends, one subscribe connection for
// server→client broadcasts filtered by room topic.
type Transport interface {
	// Connect dials both the duplex and the subscribe connections for
	// addr and roomId. dealerPort carries the duplex channel, subPort the
	// broadcast channel.
	Connect(ctx context.Context, addr string, dealerPort, subPort int, roomId string) error

	// Disconnect tears down both connections. Safe to call multiple times.
	Disconnect()

	// Send writes one frame on the duplex connection, classifying a
	// would-block condition as Backpressure rather than an error.
	Send(payload []byte) (SendOutcome, error)

	// Receive waits up to its internal bound for one inbound (topic,
	// payload) broadcast. ok is false on a plain timeout (not an error).
	Receive(ctx context.Context) (topic string, payload []byte, ok bool, err error)
}

// WebTransportTransport is the production Transport: one reliable
// stream carries every outbound frame (control and transform alike),
// and inbound datagrams — each framed as
// [u8 topicLen][topic][payload] — carry the filtered broadcast channel.
type WebTransportTransport struct {
	duplexSess    *webtransport.Session
	duplexStream  *webtransport.Stream
	subscribeSess *webtransport.Session
}

var _ Transport = (*WebTransportTransport)(nil)

// NewWebTransportTransport creates a Transport with no active connection.
func NewWebTransportTransport() *WebTransportTransport {
	return &WebTransportTransport{}
}

func dial(ctx context.Context, addr string, port int, roomId string) (*webtransport.Session, error) {
	d := webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec — self-signed server cert
		QUICConfig: &quic.Config{
			EnableDatagrams:                  true,
			EnableStreamResetPartialDelivery: true,
		},
	}
	url := fmt.Sprintf("https://%s:%d/room/%s", addr, port, roomId)
	_, sess, err := d.Dial(ctx, url, http.Header{})
	return sess, err
}

// Connect dials the duplex session (opening its outbound stream) and the
// subscribe session.
func (t *WebTransportTransport) Connect(ctx context.Context, addr string, dealerPort, subPort int, roomId string) error {
	duplexSess, err := dial(ctx, addr, dealerPort, roomId)
	if err != nil {
		return fmt.Errorf("dial duplex: %w", err)
	}
	stream, err := duplexSess.OpenStream()
	if err != nil {
		duplexSess.CloseWithError(0, "failed to open duplex stream")
		return fmt.Errorf("open duplex stream: %w", err)
	}

	subscribeSess, err := dial(ctx, addr, subPort, roomId)
	if err != nil {
		stream.Close() //nolint:errcheck
		duplexSess.CloseWithError(0, "failed to dial subscribe session")
		return fmt.Errorf("dial subscribe: %w", err)
	}

	t.duplexSess = duplexSess
	t.duplexStream = stream
	t.subscribeSess = subscribeSess
	return nil
}

// Disconnect closes both sessions. Safe to call when not connected.
func (t *WebTransportTransport) Disconnect() {
	if t.duplexStream != nil {
		t.duplexStream.Close() //nolint:errcheck
		t.duplexStream = nil
	}
	if t.duplexSess != nil {
		t.duplexSess.CloseWithError(0, "disconnect")
		t.duplexSess = nil
	}
	if t.subscribeSess != nil {
		t.subscribeSess.CloseWithError(0, "disconnect")
		t.subscribeSess = nil
	}
}

// Send writes a length-prefixed frame to the duplex stream. A deadline
// exceeded on the write is reported as Backpressure; any other error is
// Fatal.
func (t *WebTransportTransport) Send(payload []byte) (SendOutcome, error) {
	if t.duplexStream == nil {
		return Fatal, fmt.Errorf("duplex stream not connected")
	}

	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))

	if err := t.duplexStream.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return Fatal, err
	}
	if _, err := t.duplexStream.Write(header); err != nil {
		if isDeadlineExceeded(err) {
			return Backpressure, nil
		}
		return Fatal, err
	}
	if _, err := t.duplexStream.Write(payload); err != nil {
		if isDeadlineExceeded(err) {
			return Backpressure, nil
		}
		return Fatal, err
	}
	return Sent, nil
}

// Receive waits for one inbound datagram on the subscribe session,
// bounded by receiveDeadline, and splits it into (topic, payload).
func (t *WebTransportTransport) Receive(ctx context.Context) (topic string, payload []byte, ok bool, err error) {
	if t.subscribeSess == nil {
		return "", nil, false, fmt.Errorf("subscribe session not connected")
	}

	rctx, cancel := context.WithTimeout(ctx, receiveDeadline)
	defer cancel()

	data, err := t.subscribeSess.ReceiveDatagram(rctx)
	if err != nil {
		if rctx.Err() != nil {
			return "", nil, false, nil
		}
		return "", nil, false, err
	}

	if len(data) < 1 {
		return "", nil, false, nil
	}
	topicLen := int(data[0])
	if len(data) < 1+topicLen {
		return "", nil, false, nil
	}
	return string(data[1 : 1+topicLen]), data[1+topicLen:], true, nil
}

func isDeadlineExceeded(err error) bool {
	var nerr interface{ Timeout() bool }
	if e, ok := err.(interface{ Timeout() bool }); ok {
		nerr = e
		return nerr.Timeout()
	}
	return false
}
