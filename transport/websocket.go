package transport

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"github.com/signal-slot/go-rfbclient/rfbclient"
)

// Websocket adapts a websocket connection carrying raw RFB bytes in
// binary messages, as served by noVNC-style proxies. Message framing is
// ignored: fragments are queued in arrival order.
type Websocket struct {
	conn *websocket.Conn
	in   rfbclient.Buffer

	wmu sync.Mutex
}

// NewWebsocket wraps an established websocket connection.
func NewWebsocket(conn *websocket.Conn) *Websocket {
	return &Websocket{conn: conn}
}

// Run pumps binary messages into the inbound queue and notifies h until
// the connection ends. It returns nil on a clean close.
func (t *Websocket) Run(h Handler) error {
	h.TransportConnected()
	defer h.TransportDisconnected()

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			log.Debugf("websocket read ended: %v", err)
			return errors.Trace(err)
		}
		if kind != websocket.BinaryMessage {
			log.Warningf("ignoring non-binary websocket message type %d", kind)
			continue
		}
		if len(data) > 0 {
			t.in.Append(data)
			h.TransportReadable()
		}
	}
}

// Buffered returns the number of queued inbound bytes.
func (t *Websocket) Buffered() int { return t.in.Len() }

// Peek returns the next n queued bytes without consuming them.
func (t *Websocket) Peek(n int) ([]byte, bool) { return t.in.Peek(n) }

// Next consumes and returns the next n queued bytes.
func (t *Websocket) Next(n int) []byte { return t.in.Next(n) }

// Write sends p as one binary message. Safe for concurrent use.
func (t *Websocket) Write(p []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return errors.Trace(err)
	}
	return nil
}
