package rfbclient

import (
	"bytes"

	"github.com/juju/errors"
	"github.com/pixiv/go-libjpeg/jpeg"
)

// Tight compression-control modes (bits 4..7 of the control byte).
const (
	tightModeFill = 0x08
	tightModeJpeg = 0x09
)

// Tight filter ids.
const (
	tightFilterCopy     = 0
	tightFilterPalette  = 1
	tightFilterGradient = 2
)

// Payloads shorter than this are sent raw, with no compact length and no
// zlib framing.
const tightMinSizeToCompress = 12

// decodeTight consumes a Tight rectangle. The entire record length is
// computed from peeked bytes before anything is consumed or any zlib
// stream touched, so a retry after decodeIncomplete never double-feeds a
// stream.
func (c *Client) decodeTight(rect *Rectangle) decodeStatus {
	if !c.pixelFormat.compactTight() {
		c.abort(errors.Errorf("tight encoding requires 32-bpp true color with 8-bit channels (got %d bpp)",
			c.pixelFormat.BitsPerPixel))
		return decodeAborted
	}

	head, ok := c.transport.Peek(1)
	if !ok {
		return decodeIncomplete
	}
	ctrl := head[0]

	switch mode := ctrl >> 4; {
	case mode == tightModeFill:
		return c.decodeTightFill(rect, ctrl)
	case mode == tightModeJpeg:
		return c.decodeTightJpeg(rect, ctrl)
	case mode <= 0x07:
		return c.decodeTightBasic(rect, ctrl)
	default:
		// 0x0A..0x0F carry reserved compression-type bits; the record
		// length is undefined, so the stream cannot be re-framed.
		c.abort(errors.Errorf("reserved tight compression control %#02x", ctrl))
		return decodeAborted
	}
}

// resetTightStreams ends and re-initializes the streams named by the low
// four control bits. Called only once the whole record is buffered.
func (c *Client) resetTightStreams(ctrl byte) {
	for i := range c.streams.tight {
		if ctrl&(1<<i) != 0 {
			c.streams.tight[i].reset()
		}
	}
}

func (c *Client) decodeTightFill(rect *Rectangle, ctrl byte) decodeStatus {
	buf, ok := c.transport.Peek(1 + 3)
	if !ok {
		return decodeIncomplete
	}
	color := tpixel(buf[1:4])
	c.resetTightStreams(ctrl)
	c.transport.Next(1 + 3)

	c.fb.fillRect(int(rect.X), int(rect.Y), int(rect.Width), int(rect.Height), color)
	return decodeDone
}

func (c *Client) decodeTightJpeg(rect *Rectangle, ctrl byte) decodeStatus {
	avail := c.peekAvailable()
	if len(avail) < 2 {
		return decodeIncomplete
	}
	length, lenBytes, ok := compactLength(avail[1:])
	if !ok {
		return decodeIncomplete
	}
	total := 1 + lenBytes + length
	buf, ok := c.transport.Peek(total)
	if !ok {
		return decodeIncomplete
	}
	c.resetTightStreams(ctrl)
	data := append([]byte(nil), buf[1+lenBytes:]...)
	c.transport.Next(total)

	img, err := jpeg.DecodeIntoRGB(bytes.NewReader(data), &jpeg.DecoderOptions{})
	if err != nil {
		log.Errorf("tight JPEG decode failed: %v", err)
		return decodeDone
	}
	bounds := img.Rect
	for y := 0; y < bounds.Dy() && y < int(rect.Height); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < bounds.Dx() && x < int(rect.Width); x++ {
			c.fb.Set(int(rect.X)+x, int(rect.Y)+y, tpixel(row[x*3:x*3+3]))
		}
	}
	return decodeDone
}

func (c *Client) decodeTightBasic(rect *Rectangle, ctrl byte) decodeStatus {
	avail := c.peekAvailable()
	area := rect.Area()

	// In Basic mode the nibble above the reset bits carries the stream
	// id (low two bits) and the filter-byte flag (third bit).
	mode := ctrl >> 4
	stream := mode & 0x03

	off := 1
	filter := byte(tightFilterCopy)
	if mode&0x04 != 0 {
		if len(avail) < 2 {
			return decodeIncomplete
		}
		filter = avail[1]
		off = 2
	}

	paletteSize := 0
	palOff := off
	var dataSize int
	switch filter {
	case tightFilterCopy:
		dataSize = area * 3
	case tightFilterPalette:
		if len(avail) < off+1 {
			return decodeIncomplete
		}
		paletteSize = int(avail[off]) + 1
		palOff = off + 1
		off = palOff + paletteSize*3
		if paletteSize == 2 {
			dataSize = (int(rect.Width) + 7) / 8 * int(rect.Height)
		} else {
			dataSize = area
		}
	case tightFilterGradient:
		dataSize = area * 3
	default:
		c.abort(errors.Errorf("invalid tight filter id %d", filter))
		return decodeAborted
	}

	var data []byte
	if dataSize < tightMinSizeToCompress {
		total := off + dataSize
		buf, ok := c.transport.Peek(total)
		if !ok {
			return decodeIncomplete
		}
		c.resetTightStreams(ctrl)
		data = append([]byte(nil), buf[off:total]...)
		c.applyTightFilter(rect, filter, buf[palOff:palOff+paletteSize*3], data)
		c.transport.Next(total)
		return decodeDone
	}

	if len(avail) < off+1 {
		return decodeIncomplete
	}
	zlen, lenBytes, ok := compactLength(avail[off:])
	if !ok {
		return decodeIncomplete
	}
	total := off + lenBytes + zlen
	buf, ok := c.transport.Peek(total)
	if !ok {
		return decodeIncomplete
	}
	c.resetTightStreams(ctrl)
	c.streams.tight[stream].feed(buf[off+lenBytes : total])
	palette := append([]byte(nil), buf[palOff:palOff+paletteSize*3]...)
	c.transport.Next(total)

	data = make([]byte, dataSize)
	if err := c.streams.tight[stream].readFull(data); err != nil {
		// Abandon the rectangle; the stream dictionary may be corrupt
		// until the next reset or disconnect.
		log.Errorf("tight decompression failed on stream %d: %v", stream, err)
		return decodeDone
	}
	c.applyTightFilter(rect, filter, palette, data)
	return decodeDone
}

func (c *Client) applyTightFilter(rect *Rectangle, filter byte, palette, data []byte) {
	w, h := int(rect.Width), int(rect.Height)
	x0, y0 := int(rect.X), int(rect.Y)

	switch filter {
	case tightFilterCopy:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := (y*w + x) * 3
				c.fb.Set(x0+x, y0+y, tpixel(data[off:off+3]))
			}
		}
	case tightFilterPalette:
		paletteSize := len(palette) / 3
		colors := make([]Color, paletteSize)
		for i := range colors {
			colors[i] = tpixel(palette[i*3 : i*3+3])
		}
		if paletteSize == 2 {
			// One bit per pixel, most significant first, rows padded
			// to a byte boundary.
			stride := (w + 7) / 8
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					bit := data[y*stride+x/8] >> (7 - uint(x%8)) & 1
					c.fb.Set(x0+x, y0+y, colors[bit])
				}
			}
			return
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := int(data[y*w+x])
				if idx >= paletteSize {
					log.Warningf("tight palette index %d out of range %d", idx, paletteSize)
					continue
				}
				c.fb.Set(x0+x, y0+y, colors[idx])
			}
		}
	case tightFilterGradient:
		// Each byte is an error term against a prediction from the
		// left, upper and upper-left neighbors, zero outside the
		// rectangle.
		prev := make([][3]int, w)
		cur := make([][3]int, w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for ch := 0; ch < 3; ch++ {
					pred := 0
					if x > 0 {
						pred += cur[x-1][ch]
					}
					if y > 0 {
						pred += prev[x][ch]
					}
					if x > 0 && y > 0 {
						pred -= prev[x-1][ch]
					}
					if pred < 0 {
						pred = 0
					}
					if pred > 255 {
						pred = 255
					}
					cur[x][ch] = (pred + int(data[(y*w+x)*3+ch])) & 0xFF
				}
				c.fb.Set(x0+x, y0+y, Color{
					R: uint8(cur[x][0]),
					G: uint8(cur[x][1]),
					B: uint8(cur[x][2]),
				})
			}
			prev, cur = cur, prev
		}
	}
}

// tpixel interprets a 3-byte Tight pixel, which is always literal
// R, G, B regardless of the negotiated shifts.
func tpixel(b []byte) Color {
	return Color{R: b[0], G: b[1], B: b[2]}
}

// compactLength decodes the 1-3 byte little-endian 7-bits-per-byte
// length that prefixes compressed Tight payloads, starting at b[0].
// ok is false when b ends before the length does.
func compactLength(b []byte) (length, size int, ok bool) {
	var x uint64
	var s uint
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, false
		}
		v := b[i]
		if v < 0x80 || i == 2 {
			return int(x | uint64(v)<<s), i + 1, true
		}
		x |= uint64(v&0x7F) << s
		s += 7
	}
	return 0, 0, false
}

// peekAvailable returns everything currently buffered without consuming
// it, for decoders that size their records incrementally.
func (c *Client) peekAvailable() []byte {
	b, _ := c.transport.Peek(c.transport.Buffered())
	return b
}
