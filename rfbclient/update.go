package rfbclient

import (
	"encoding/binary"

	"github.com/juju/errors"
)

type decodeStatus int

const (
	// decodeDone: the rectangle's bytes are fully consumed and its
	// pixels written.
	decodeDone decodeStatus = iota
	// decodeIncomplete: more bytes are needed; the decoder's resume
	// cursor is preserved and nothing past it was consumed.
	decodeIncomplete
	// decodeAborted: the connection is unusable; parsing stops.
	decodeAborted
)

// updateProgress is the resumable cursor for a FramebufferUpdate in
// flight. While active, no other server message may begin parsing.
type updateProgress struct {
	active     bool
	total      uint16
	done       uint16
	headerRead bool
	rect       Rectangle
	encoding   int32
	hextile    hextileState
}

func (c *Client) parseServerMessage() bool {
	if c.update.active {
		return c.continueUpdate()
	}

	head, ok := c.transport.Peek(1)
	if !ok {
		return false
	}
	switch head[0] {
	case serverMsgFramebufferUpdate:
		// Message type, padding, big-endian rectangle count.
		hdr, ok := c.transport.Peek(4)
		if !ok {
			return false
		}
		total := binary.BigEndian.Uint16(hdr[2:4])
		c.transport.Next(4)
		c.update = updateProgress{active: true, total: total}
		log.Debugf("framebuffer update: %d rectangles", total)
		c.continueUpdate()
		return true
	default:
		c.transport.Next(1)
		c.abort(errors.Errorf("unknown server message type %d", head[0]))
		return true
	}
}

func (c *Client) continueUpdate() bool {
	u := &c.update
	advanced := false
	for u.done < u.total {
		if !u.headerRead {
			hdr, ok := c.transport.Peek(12)
			if !ok {
				return advanced
			}
			u.rect = Rectangle{
				X:      binary.BigEndian.Uint16(hdr[0:2]),
				Y:      binary.BigEndian.Uint16(hdr[2:4]),
				Width:  binary.BigEndian.Uint16(hdr[4:6]),
				Height: binary.BigEndian.Uint16(hdr[6:8]),
			}
			u.encoding = int32(binary.BigEndian.Uint32(hdr[8:12]))
			c.transport.Next(12)
			u.headerRead = true
			u.hextile = hextileState{}
			advanced = true
		}

		switch c.decodeRect() {
		case decodeIncomplete:
			return advanced
		case decodeAborted:
			return true
		}

		region := u.rect
		u.done++
		u.headerRead = false
		c.emitImageChanged(region)
		advanced = true
	}

	u.active = false
	// Keep the stream flowing: ask for the next incremental update over
	// the whole framebuffer.
	c.RequestUpdate(true, 0, 0, c.fb.Width, c.fb.Height)
	return true
}

func (c *Client) decodeRect() decodeStatus {
	u := &c.update
	switch u.encoding {
	case EncodingRaw:
		return c.decodeRaw(&u.rect)
	case EncodingHextile:
		return c.decodeHextile(&u.rect, &u.hextile)
	case EncodingZRLE:
		return c.decodeZRLE(&u.rect)
	case EncodingTight:
		return c.decodeTight(&u.rect)
	default:
		// The payload length of an unknown encoding is unknowable, so
		// the rest of the stream cannot be framed.
		c.abort(errors.Errorf("unsupported encoding type %d", u.encoding))
		return decodeAborted
	}
}
