package rfbclient

// Hextile subencoding flag bits.
const (
	hextileRaw                 = 1
	hextileBackgroundSpecified = 2
	hextileForegroundSpecified = 4
	hextileAnySubrects         = 8
	hextileSubrectsColoured    = 16
)

const hextileTileSize = 16

// hextileState is the resume cursor for a Hextile rectangle: the origin
// of the next undecoded tile plus the inherited background and
// foreground colors, which persist across tiles within the rectangle.
type hextileState struct {
	tx, ty int
	bg, fg Color
}

// decodeHextile consumes 16x16 tiles in row-major order. Completed tiles
// are never re-painted: when the buffer runs dry mid-rectangle the
// cursor stays on the first unfinished tile.
func (c *Client) decodeHextile(rect *Rectangle, st *hextileState) decodeStatus {
	w, h := int(rect.Width), int(rect.Height)

	for ty := st.ty; ty < h; ty += hextileTileSize {
		th := min(hextileTileSize, h-ty)
		txStart := 0
		if ty == st.ty {
			txStart = st.tx
		}
		for tx := txStart; tx < w; tx += hextileTileSize {
			tw := min(hextileTileSize, w-tx)
			if status := c.decodeHextileTile(rect, st, tx, ty, tw, th); status != decodeDone {
				st.tx, st.ty = tx, ty
				return status
			}
		}
	}
	return decodeDone
}

// decodeHextileTile computes the exact byte length of one tile from its
// subencoding byte, and consumes nothing until all of it is buffered.
func (c *Client) decodeHextileTile(rect *Rectangle, st *hextileState, tx, ty, tw, th int) decodeStatus {
	head, ok := c.transport.Peek(1)
	if !ok {
		return decodeIncomplete
	}
	sub := head[0]
	bpp := c.pixelFormat.byteSize()

	n := 1
	count := 0
	if sub&hextileRaw != 0 {
		n += tw * th * bpp
	} else if sub&hextileAnySubrects != 0 {
		if sub&hextileBackgroundSpecified != 0 {
			n += bpp
		}
		if sub&hextileForegroundSpecified != 0 {
			n += bpp
		}
		countOff := n
		b, ok := c.transport.Peek(countOff + 1)
		if !ok {
			return decodeIncomplete
		}
		count = int(b[countOff])
		per := 2
		if sub&hextileSubrectsColoured != 0 {
			per += bpp
		}
		n = countOff + 1 + count*per
	} else if sub&hextileBackgroundSpecified != 0 {
		n += bpp
	}

	buf, ok := c.transport.Peek(n)
	if !ok {
		return decodeIncomplete
	}

	pixel := func(off int) Color {
		color, ok := c.pixelFormat.readPixel(buf[off : off+bpp])
		if !ok {
			log.Warningf("skipping pixel in unsupported pixel format (%d bpp)",
				c.pixelFormat.BitsPerPixel)
		}
		return color
	}

	x0, y0 := int(rect.X)+tx, int(rect.Y)+ty

	if sub&hextileRaw != 0 {
		off := 1
		for y := 0; y < th; y++ {
			for x := 0; x < tw; x++ {
				c.fb.Set(x0+x, y0+y, pixel(off))
				off += bpp
			}
		}
		c.transport.Next(n)
		return decodeDone
	}

	off := 1
	if sub&hextileBackgroundSpecified != 0 {
		st.bg = pixel(off)
		off += bpp
	}
	// Every non-raw tile is repainted with the current background, even
	// when it was inherited from an earlier tile.
	c.fb.fillRect(x0, y0, tw, th, st.bg)

	if sub&hextileAnySubrects != 0 {
		if sub&hextileForegroundSpecified != 0 {
			st.fg = pixel(off)
			off += bpp
		}
		off++ // subrect count, already extracted
		for i := 0; i < count; i++ {
			color := st.fg
			if sub&hextileSubrectsColoured != 0 {
				color = pixel(off)
				off += bpp
			}
			xy := buf[off]
			wh := buf[off+1]
			off += 2

			sx := int(xy >> 4 & 0xF)
			sy := int(xy & 0xF)
			sw := int(wh>>4&0xF) + 1
			sh := int(wh&0xF) + 1
			for y := 0; y < sh && sy+y < th; y++ {
				for x := 0; x < sw && sx+x < tw; x++ {
					c.fb.Set(x0+sx+x, y0+sy+y, color)
				}
			}
		}
	}

	c.transport.Next(n)
	return decodeDone
}

func min(x, y int) int {
	if x > y {
		return y
	}
	return x
}
