package rfbclient

import (
	"encoding/binary"

	"github.com/juju/errors"
)

// Button is a pointer button bit in the PointerEvent mask.
type Button uint8

const (
	ButtonLeft   Button = 1 << 0
	ButtonMiddle Button = 1 << 1
	ButtonRight  Button = 1 << 2
)

// KeyEvent sends a raw keysym with the given press state.
func (c *Client) KeyEvent(keysym uint32, down bool) error {
	if c.state != Running {
		return errors.New("not connected")
	}
	flag := byte(0)
	if down {
		flag = 1
	}
	msg := make([]byte, 0, 8)
	msg = append(msg, msgKeyEvent, flag, 0, 0)
	msg = binary.BigEndian.AppendUint32(msg, keysym)
	c.send(msg)
	return nil
}

// SendKey sends a named key with the given press state.
func (c *Client) SendKey(k Key, down bool) error {
	sym, ok := Keysym(k)
	if !ok {
		log.Warningf("no keysym for key %d; event dropped", k)
		return errors.Errorf("no keysym for key %d", k)
	}
	return c.KeyEvent(sym, down)
}

// TapKey sends a press followed by a release for a named key.
func (c *Client) TapKey(k Key) error {
	if err := c.SendKey(k, true); err != nil {
		return errors.Trace(err)
	}
	return c.SendKey(k, false)
}

// Text types a string by sending a press and release pair per
// character, using the character's Unicode code point as the keysym.
// Servers may not honor this for characters outside Latin-1.
func (c *Client) Text(s string) error {
	for _, r := range s {
		if err := c.KeyEvent(uint32(r), true); err != nil {
			return errors.Trace(err)
		}
		if err := c.KeyEvent(uint32(r), false); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// PointerEvent sends a raw pointer event and caches the position for
// Drag.
func (c *Client) PointerEvent(mask Button, x, y uint16) error {
	if c.state != Running {
		return errors.New("not connected")
	}
	msg := make([]byte, 0, 6)
	msg = append(msg, msgPointerEvent, byte(mask))
	msg = binary.BigEndian.AppendUint16(msg, x)
	msg = binary.BigEndian.AppendUint16(msg, y)
	c.send(msg)
	c.pointerX, c.pointerY = x, y
	return nil
}

// Move moves the pointer with no buttons held.
func (c *Client) Move(x, y uint16) error {
	return c.PointerEvent(0, x, y)
}

// Click presses and releases a button at (x, y).
func (c *Client) Click(x, y uint16, b Button) error {
	if err := c.PointerEvent(b, x, y); err != nil {
		return errors.Trace(err)
	}
	return c.PointerEvent(0, x, y)
}

// Drag presses a button at the current pointer position, moves to
// (x, y) with it held, and releases there.
func (c *Client) Drag(x, y uint16, b Button) error {
	if err := c.PointerEvent(b, c.pointerX, c.pointerY); err != nil {
		return errors.Trace(err)
	}
	if err := c.PointerEvent(b, x, y); err != nil {
		return errors.Trace(err)
	}
	return c.PointerEvent(0, x, y)
}
