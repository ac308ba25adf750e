package rfbclient

import (
	"encoding/binary"

	"github.com/juju/errors"
)

var versionBanners = map[string]ProtocolVersion{
	"RFB 003.003\n": Version33,
	"RFB 003.007\n": Version37,
	"RFB 003.008\n": Version38,
}

func (c *Client) parseProtocolVersion() bool {
	b, ok := c.transport.Peek(12)
	if !ok {
		return false
	}
	banner := string(b)
	c.transport.Next(12)

	version, known := versionBanners[banner]
	if !known {
		c.abort(errors.Errorf("unsupported protocol version %q", banner))
		return true
	}

	log.Debugf("negotiated protocol version %s", version)
	c.setVersion(version)
	c.send([]byte(banner))
	c.state = AwaitSecurityList
	return true
}

func (c *Client) parseSecurityList() bool {
	switch c.version {
	case Version33:
		b, ok := c.transport.Peek(4)
		if !ok {
			return false
		}
		t := SecurityType(binary.BigEndian.Uint32(b))
		c.transport.Next(4)
		c.setSecurity(t)
		c.applySecurity(t)
		return true
	case Version37, Version38:
		return c.parseSecurityList37()
	}
	return false
}

// parseSecurityList37 handles the 3.7+ form: a count byte followed by
// that many one-byte types, from which the client picks.
func (c *Client) parseSecurityList37() bool {
	head, ok := c.transport.Peek(1)
	if !ok {
		return false
	}
	count := int(head[0])
	if count == 0 {
		c.transport.Next(1)
		c.awaitReason = "security negotiation failed"
		return true
	}
	list, ok := c.transport.Peek(1 + count)
	if !ok {
		return false
	}

	selected := SecurityInvalid
	for _, t := range list[1:] {
		if SecurityType(t) == SecurityVncAuth {
			selected = SecurityVncAuth
			break
		}
		if SecurityType(t) == SecurityNone {
			selected = SecurityNone
		}
	}
	c.transport.Next(1 + count)

	c.setSecurity(selected)
	if selected != SecurityInvalid {
		c.send([]byte{byte(selected)})
	}
	c.applySecurity(selected)
	return true
}

func (c *Client) applySecurity(t SecurityType) {
	switch t {
	case SecurityNone:
		switch c.version {
		case Version33, Version37:
			c.clientInit()
		case Version38:
			c.state = AwaitSecurityResult
		}
	case SecurityVncAuth:
		c.state = AwaitVncChallenge
	case SecurityInvalid:
		if c.version == Version33 {
			// The 3.3 server follows the zero type with a reason.
			c.awaitReason = "security negotiation failed"
			return
		}
		c.abort(errors.New("no acceptable security type offered"))
	default:
		c.abort(errors.Errorf("unsupported security type %d", uint32(t)))
	}
}

func (c *Client) parseVncChallenge() bool {
	b, ok := c.transport.Peek(16)
	if !ok {
		return false
	}
	challenge := append([]byte(nil), b...)
	c.transport.Next(16)

	if !c.hasPassword {
		log.Infof("authentication challenge received before a password was set")
		c.pendingChallenge = challenge
		c.emitPasswordRequested()
		return true
	}
	c.respondToChallenge(challenge)
	return true
}

func (c *Client) parseSecurityResult() bool {
	b, ok := c.transport.Peek(4)
	if !ok {
		return false
	}
	result := binary.BigEndian.Uint32(b)
	c.transport.Next(4)

	if result == 0 {
		c.clientInit()
		return true
	}
	if c.version == Version38 {
		// 3.8 servers follow the failure with a reason string.
		c.awaitReason = "authentication failed"
		return true
	}
	c.abort(errors.Errorf("authentication failed (result %d)", result))
	return true
}

func (c *Client) clientInit() {
	c.state = AwaitClientInit
	// Shared flag: keep other clients connected.
	c.send([]byte{1})
	c.state = AwaitServerInit
}

const serverInitFixedSize = 2 + 2 + pixelFormatSize + 4

func (c *Client) parseServerInit() bool {
	head, ok := c.transport.Peek(serverInitFixedSize)
	if !ok {
		return false
	}
	nameLen := int(binary.BigEndian.Uint32(head[20:24]))
	all, ok := c.transport.Peek(serverInitFixedSize + nameLen)
	if !ok {
		return false
	}

	width := binary.BigEndian.Uint16(all[0:2])
	height := binary.BigEndian.Uint16(all[2:4])
	c.pixelFormat = parsePixelFormat(all[4:20])
	c.desktopName = string(all[serverInitFixedSize:])
	c.transport.Next(serverInitFixedSize + nameLen)

	log.Infof("server %q framebuffer %dx%d", c.desktopName, width, height)
	log.Debugf("pixel format: %d bpp, depth %d, bigEndian=%v, trueColor=%v, "+
		"r %d<<%d, g %d<<%d, b %d<<%d",
		c.pixelFormat.BitsPerPixel, c.pixelFormat.Depth,
		c.pixelFormat.BigEndian, c.pixelFormat.TrueColor,
		c.pixelFormat.RedMax, c.pixelFormat.RedShift,
		c.pixelFormat.GreenMax, c.pixelFormat.GreenShift,
		c.pixelFormat.BlueMax, c.pixelFormat.BlueShift)

	c.fb = NewFramebuffer(width, height)
	c.emitFramebufferSizeChanged(width, height)

	c.state = Running
	c.sendSetPixelFormat()
	c.sendSetEncodings(c.encodings())
	c.RequestUpdate(false, 0, 0, width, height)
	return true
}

func (c *Client) encodings() []int32 {
	encs := c.config.Encodings
	if encs == nil {
		encs = []int32{EncodingTight, EncodingZRLE, EncodingHextile, EncodingRaw}
	}
	hasRaw := false
	for _, e := range encs {
		if e == EncodingRaw {
			hasRaw = true
		}
	}
	if !hasRaw {
		encs = append(append([]int32(nil), encs...), EncodingRaw)
	}
	return encs
}
