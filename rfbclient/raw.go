package rfbclient

// decodeRaw consumes an uncompressed rectangle: width*height wire
// pixels, row major.
func (c *Client) decodeRaw(rect *Rectangle) decodeStatus {
	bpp := c.pixelFormat.byteSize()
	total := rect.Area() * bpp
	buf, ok := c.transport.Peek(total)
	if !ok {
		return decodeIncomplete
	}

	warned := false
	for y := 0; y < int(rect.Height); y++ {
		for x := 0; x < int(rect.Width); x++ {
			off := (y*int(rect.Width) + x) * bpp
			color, ok := c.pixelFormat.readPixel(buf[off : off+bpp])
			if !ok {
				if !warned {
					log.Warningf("skipping pixels in unsupported pixel format (%d bpp)",
						c.pixelFormat.BitsPerPixel)
					warned = true
				}
				continue
			}
			c.fb.Set(int(rect.X)+x, int(rect.Y)+y, color)
		}
	}
	c.transport.Next(total)
	return decodeDone
}
