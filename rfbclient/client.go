// Package rfbclient implements the client side of the Remote Framebuffer
// (RFB) protocol, better known as VNC.
//
// The client is reactive: it owns no socket and runs no goroutines.
// Whenever the transport reports buffered inbound bytes, the owner invokes
// TransportReadable and the state machine consumes as much as it can.
// Parsers are transactional: they consume nothing until every byte of
// their next unit of work is buffered, so the same data may arrive in any
// fragmentation without changing the outcome.
package rfbclient

import (
	"encoding/binary"

	"github.com/juju/errors"
	logging "github.com/op/go-logging"

	"github.com/signal-slot/go-rfbclient/vncdes"
)

var log = logging.MustGetLogger("rfbclient")

// ConnectionState identifies which parser runs next.
type ConnectionState int

const (
	AwaitProtocolVersion ConnectionState = iota
	AwaitSecurityList
	AwaitSecurityResult
	AwaitVncChallenge
	AwaitClientInit // transient: left as soon as the ClientInit byte is written
	AwaitServerInit
	Running
)

// ProtocolVersion is the negotiated RFB version.
type ProtocolVersion int

const (
	VersionUnknown ProtocolVersion = iota
	Version33
	Version37
	Version38
)

func (v ProtocolVersion) String() string {
	switch v {
	case Version33:
		return "3.3"
	case Version37:
		return "3.7"
	case Version38:
		return "3.8"
	}
	return "unknown"
}

// SecurityType is an RFB security type identifier.
type SecurityType uint32

const (
	SecurityInvalid SecurityType = 0
	SecurityNone    SecurityType = 1
	SecurityVncAuth SecurityType = 2
	SecurityUnknown SecurityType = 0xFFFFFFFF
)

// Encoding identifiers advertised in SetEncodings. The default advertised
// order, most preferred first, is Tight, ZRLE, Hextile, Raw.
const (
	EncodingRaw     int32 = 0
	EncodingHextile int32 = 5
	EncodingTight   int32 = 7
	EncodingZRLE    int32 = 16
)

// Transport is the byte-stream collaborator the client reads from and
// writes to. The transport owns the connection and its inbound queue; the
// client never closes it.
type Transport interface {
	// Buffered returns the number of inbound bytes currently queued.
	Buffered() int
	// Peek returns the next n queued bytes without consuming them. ok is
	// false when fewer than n bytes are queued. The returned slice is
	// only valid until the next call on the transport.
	Peek(n int) ([]byte, bool)
	// Next consumes and returns the next n queued bytes.
	Next(n int) []byte
	// Write sends p to the server.
	Write(p []byte) error
}

// Callbacks are the observer hooks emitted by the client. All callbacks
// run on the execution context draining the transport; they must not call
// back into TransportReadable (a guard makes such calls no-ops).
type Callbacks struct {
	ConnectionChanged      func(connected bool)
	ProtocolVersionChanged func(v ProtocolVersion)
	SecurityTypeChanged    func(t SecurityType)
	FramebufferSizeChanged func(width, height uint16)
	ImageChanged           func(region Rectangle)
	PasswordRequested      func()
}

// Config carries client options. The zero value works against servers
// that offer the None security type.
type Config struct {
	// Password for VncAuthentication. May also be supplied after the
	// challenge arrives via SetPassword.
	Password string

	// Encodings to advertise, most preferred first. Defaults to
	// Tight, ZRLE, Hextile, Raw. Raw is always appended if absent.
	Encodings []int32
}

// Client drives the RFB protocol over a Transport and maintains the
// remote framebuffer as a canonical 24-bit RGB grid.
type Client struct {
	transport Transport
	config    Config
	callbacks Callbacks

	state       ConnectionState
	version     ProtocolVersion
	security    SecurityType
	pixelFormat PixelFormat
	fb          *Framebuffer
	desktopName string

	hasPassword      bool
	pendingChallenge []byte

	update  updateProgress
	streams streamBank

	// awaitReason is set when the next server bytes are a failure
	// reason string rather than the state's usual payload.
	awaitReason string

	// reading guards against re-entrant dispatch from callbacks;
	// pendingWake records a deferred wake-up request.
	reading     bool
	pendingWake bool

	aborted bool

	pointerX, pointerY uint16
}

// NewClient builds a client over the given transport. The transport is
// referenced, not owned.
func NewClient(transport Transport, config Config, callbacks Callbacks) *Client {
	return &Client{
		transport:   transport,
		config:      config,
		callbacks:   callbacks,
		state:       AwaitProtocolVersion,
		version:     VersionUnknown,
		security:    SecurityUnknown,
		hasPassword: config.Password != "",
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState { return c.state }

// Version returns the negotiated protocol version.
func (c *Client) Version() ProtocolVersion { return c.version }

// Security returns the negotiated security type.
func (c *Client) Security() SecurityType { return c.security }

// Framebuffer returns the current framebuffer, or nil before ServerInit.
// It must only be read on the client's execution context.
func (c *Client) Framebuffer() *Framebuffer { return c.fb }

// DesktopName returns the name reported by ServerInit.
func (c *Client) DesktopName() string { return c.desktopName }

// PixelFormat returns the server's pixel format.
func (c *Client) PixelFormat() PixelFormat { return c.pixelFormat }

// SetPassword supplies the VncAuthentication password. If a challenge is
// already waiting, the response is transmitted immediately.
func (c *Client) SetPassword(password string) {
	c.config.Password = password
	c.hasPassword = true
	if c.pendingChallenge != nil && c.state == AwaitVncChallenge {
		challenge := c.pendingChallenge
		c.pendingChallenge = nil
		c.respondToChallenge(challenge)
		c.dispatch()
	}
}

// TransportConnected is invoked by the transport owner when the
// connection is established.
func (c *Client) TransportConnected() {
	log.Infof("connected to VNC server")
	c.state = AwaitProtocolVersion
	c.setVersion(VersionUnknown)
	c.setSecurity(SecurityUnknown)
	c.emitConnectionChanged(true)
	c.dispatch()
}

// TransportDisconnected is invoked by the transport owner when the
// connection goes away. All protocol and decode state is discarded.
func (c *Client) TransportDisconnected() {
	log.Infof("disconnected from VNC server")
	c.reset()
	c.emitConnectionChanged(false)
}

// TransportReadable is invoked by the transport owner whenever inbound
// bytes are queued. Re-entrant invocations (from callbacks fired during
// parsing) are recorded and honored after the current pass.
func (c *Client) TransportReadable() {
	c.dispatch()
}

func (c *Client) dispatch() {
	if c.reading {
		c.pendingWake = true
		return
	}
	c.reading = true
	defer func() { c.reading = false }()

	for {
		c.pendingWake = false
		advanced := c.step()
		if !advanced {
			// A FramebufferUpdate waiting on a partial rectangle
			// parks here until the transport reports more bytes.
			return
		}
		if c.transport.Buffered() == 0 && !c.pendingWake {
			return
		}
	}
}

func (c *Client) step() bool {
	if c.aborted {
		return false
	}
	if c.awaitReason != "" {
		return c.parseFailureReason()
	}
	switch c.state {
	case AwaitProtocolVersion:
		return c.parseProtocolVersion()
	case AwaitSecurityList:
		return c.parseSecurityList()
	case AwaitSecurityResult:
		return c.parseSecurityResult()
	case AwaitVncChallenge:
		return c.parseVncChallenge()
	case AwaitServerInit:
		return c.parseServerInit()
	case Running:
		return c.parseServerMessage()
	}
	return false
}

func (c *Client) reset() {
	c.state = AwaitProtocolVersion
	c.setVersion(VersionUnknown)
	c.setSecurity(SecurityUnknown)
	c.pixelFormat = PixelFormat{}
	c.fb = nil
	c.desktopName = ""
	c.pendingChallenge = nil
	c.update = updateProgress{}
	c.streams.reset()
	c.awaitReason = ""
	c.aborted = false
	c.emitFramebufferSizeChanged(0, 0)
}

// abort stops all further parsing until the transport disconnects. The
// client cannot close the transport itself; the server is expected to.
func (c *Client) abort(err error) {
	log.Errorf("aborting protocol: %v", err)
	c.aborted = true
}

func (c *Client) send(p []byte) {
	if err := c.transport.Write(p); err != nil {
		c.abort(errors.Annotate(err, "transport write failed"))
	}
}

func (c *Client) respondToChallenge(challenge []byte) {
	c.send(vncdes.EncryptChallenge(c.config.Password, challenge))
	if c.version == Version33 {
		c.clientInit()
	} else {
		c.state = AwaitSecurityResult
	}
}

// parseFailureReason consumes a length-prefixed reason string in one
// transaction and abandons the connection.
func (c *Client) parseFailureReason() bool {
	b, ok := c.transport.Peek(4)
	if !ok {
		return false
	}
	n := int(binary.BigEndian.Uint32(b))
	all, ok := c.transport.Peek(4 + n)
	if !ok {
		return false
	}
	reason := string(all[4:])
	c.transport.Next(4 + n)
	c.abort(errors.Errorf("%s: %s", c.awaitReason, reason))
	c.awaitReason = ""
	return true
}

func (c *Client) setVersion(v ProtocolVersion) {
	if c.version == v {
		return
	}
	c.version = v
	if c.callbacks.ProtocolVersionChanged != nil {
		c.callbacks.ProtocolVersionChanged(v)
	}
}

func (c *Client) setSecurity(t SecurityType) {
	if c.security == t {
		return
	}
	c.security = t
	if c.callbacks.SecurityTypeChanged != nil {
		c.callbacks.SecurityTypeChanged(t)
	}
}

func (c *Client) emitConnectionChanged(connected bool) {
	if c.callbacks.ConnectionChanged != nil {
		c.callbacks.ConnectionChanged(connected)
	}
}

func (c *Client) emitFramebufferSizeChanged(w, h uint16) {
	if c.callbacks.FramebufferSizeChanged != nil {
		c.callbacks.FramebufferSizeChanged(w, h)
	}
}

func (c *Client) emitImageChanged(region Rectangle) {
	if c.callbacks.ImageChanged != nil {
		c.callbacks.ImageChanged(region)
	}
}

func (c *Client) emitPasswordRequested() {
	if c.callbacks.PasswordRequested != nil {
		c.callbacks.PasswordRequested()
	}
}
