// Package transport provides byte-stream transports for the RFB client.
// A transport owns the connection and its inbound queue; the client
// attaches to the transport's notifications and reads through its
// peekable queue, but never closes it.
package transport

import (
	"io"
	"net"
	"sync"

	"github.com/juju/errors"
	logging "github.com/op/go-logging"

	"github.com/signal-slot/go-rfbclient/rfbclient"
)

var log = logging.MustGetLogger("transport")

// Handler receives transport lifecycle and readability notifications.
// *rfbclient.Client satisfies it.
type Handler interface {
	TransportConnected()
	TransportDisconnected()
	TransportReadable()
}

// TCP adapts a net.Conn to the client's Transport contract. All inbound
// queue access happens on the Run goroutine, which is also the execution
// context every Handler notification runs on.
type TCP struct {
	conn net.Conn
	in   rfbclient.Buffer

	wmu sync.Mutex
}

// NewTCP wraps an established connection.
func NewTCP(conn net.Conn) *TCP {
	return &TCP{conn: conn}
}

// Run pumps the connection into the inbound queue and notifies h until
// the connection ends. It returns nil on a clean remote close.
func (t *TCP) Run(h Handler) error {
	h.TransportConnected()
	defer h.TransportDisconnected()

	chunk := make([]byte, 32*1024)
	for {
		n, err := t.conn.Read(chunk)
		if n > 0 {
			t.in.Append(chunk[:n])
			h.TransportReadable()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			log.Debugf("read ended: %v", err)
			return errors.Trace(err)
		}
	}
}

// Buffered returns the number of queued inbound bytes.
func (t *TCP) Buffered() int { return t.in.Len() }

// Peek returns the next n queued bytes without consuming them.
func (t *TCP) Peek(n int) ([]byte, bool) { return t.in.Peek(n) }

// Next consumes and returns the next n queued bytes.
func (t *TCP) Next(n int) []byte { return t.in.Next(n) }

// Write sends p to the server. Safe for concurrent use.
func (t *TCP) Write(p []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.conn.Write(p); err != nil {
		return errors.Trace(err)
	}
	return nil
}
