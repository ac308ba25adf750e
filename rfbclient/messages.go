package rfbclient

import "encoding/binary"

// Client-to-server message types.
const (
	msgSetPixelFormat           = 0
	msgSetEncodings             = 2
	msgFramebufferUpdateRequest = 3
	msgKeyEvent                 = 4
	msgPointerEvent             = 5
)

// Server-to-client message types.
const serverMsgFramebufferUpdate = 0

// sendSetPixelFormat echoes the server's pixel format back, pinning the
// layout used for all further pixel payloads.
func (c *Client) sendSetPixelFormat() {
	msg := make([]byte, 0, 4+pixelFormatSize)
	msg = append(msg, msgSetPixelFormat, 0, 0, 0)
	msg = c.pixelFormat.appendTo(msg)
	c.send(msg)
}

func (c *Client) sendSetEncodings(encodings []int32) {
	msg := make([]byte, 0, 4+4*len(encodings))
	msg = append(msg, msgSetEncodings, 0)
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(encodings)))
	for _, e := range encodings {
		msg = binary.BigEndian.AppendUint32(msg, uint32(e))
	}
	c.send(msg)
}

// RequestUpdate asks the server for a framebuffer update covering the
// given region. The state machine issues these itself; the method is
// exported for callers that subscribe to sub-regions.
func (c *Client) RequestUpdate(incremental bool, x, y, w, h uint16) {
	msg := make([]byte, 0, 10)
	flag := byte(0)
	if incremental {
		flag = 1
	}
	msg = append(msg, msgFramebufferUpdateRequest, flag)
	msg = binary.BigEndian.AppendUint16(msg, x)
	msg = binary.BigEndian.AppendUint16(msg, y)
	msg = binary.BigEndian.AppendUint16(msg, w)
	msg = binary.BigEndian.AppendUint16(msg, h)
	c.send(msg)
}
