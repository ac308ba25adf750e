package rfbclient

import (
	"encoding/binary"
	"io"

	"github.com/juju/errors"
)

const zrleTileSize = 64

// decodeZRLE consumes a ZRLE rectangle: a 4-byte length, then that many
// compressed bytes fed to the connection's persistent inflate stream.
// The whole compressed payload is buffered before anything is consumed,
// so the stream is never double-fed on a retry.
func (c *Client) decodeZRLE(rect *Rectangle) decodeStatus {
	head, ok := c.transport.Peek(4)
	if !ok {
		return decodeIncomplete
	}
	length := int(binary.BigEndian.Uint32(head))
	if length == 0 {
		c.transport.Next(4)
		return decodeDone
	}
	all, ok := c.transport.Peek(4 + length)
	if !ok {
		return decodeIncomplete
	}
	c.streams.zrle.feed(all[4:])
	c.transport.Next(4 + length)

	r, err := c.streams.zrle.reader()
	if err != nil {
		// The stream is likely corrupt until the next disconnect;
		// abandon the rectangle but keep the connection.
		log.Errorf("ZRLE decompression failed: %v", err)
		return decodeDone
	}
	colors, err := decodeZRLETiles(r, &c.pixelFormat, rect.Width, rect.Height)
	if err != nil {
		log.Errorf("ZRLE decode failed: %v", err)
		return decodeDone
	}

	for y := 0; y < int(rect.Height); y++ {
		start := y * int(rect.Width)
		c.fb.setRow(int(rect.X), int(rect.Y)+y, colors[start:start+int(rect.Width)])
	}
	return decodeDone
}

// decodeZRLETiles decodes the decompressed side of a ZRLE rectangle as
// 64x64 tiles in row-major order, returning a width*height pixel grid.
// A truncated payload leaves the truncated tile (including any pixels
// decoded before the cut) and every later tile black, which mirrors
// how servers in the wild are treated by existing clients.
// TODO: decide whether truncation should abandon the connection instead.
func decodeZRLETiles(r io.Reader, pf *PixelFormat, width, height uint16) ([]Color, error) {
	colors := make([]Color, int(width)*int(height))
	scratch := make([]Color, zrleTileSize*zrleTileSize)
	cpix := make([]byte, pf.cpixelSize())
	var one [1]byte

	readByte := func() (byte, error) {
		_, err := io.ReadFull(r, one[:])
		return one[0], err
	}
	readColor := func() (Color, error) {
		if _, err := io.ReadFull(r, cpix); err != nil {
			return Color{}, err
		}
		return pf.readCPixel(cpix), nil
	}
	// Run lengths are one more than the sum of the length bytes; any
	// byte other than 255 ends the run.
	readRunLength := func() (int, error) {
		count := 1
		for {
			b, err := readByte()
			if err != nil {
				return count, err
			}
			count += int(b)
			if b != 255 {
				return count, nil
			}
		}
	}

	for ty := 0; ty < int(height); ty += zrleTileSize {
		th := min(zrleTileSize, int(height)-ty)
		for tx := 0; tx < int(width); tx += zrleTileSize {
			tw := min(zrleTileSize, int(width)-tx)
			tile := scratch[:tw*th]
			for i := range tile {
				tile[i] = Color{}
			}

			err := decodeZRLETile(tile, tw, readByte, readColor, readRunLength)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				log.Warningf("truncated ZRLE payload at tile (%d,%d); remainder left black", tx, ty)
				return colors, nil
			}
			if err != nil {
				return colors, errors.Trace(err)
			}

			for j := 0; j < th; j++ {
				start := (ty+j)*int(width) + tx
				copy(colors[start:start+tw], tile[j*tw:(j+1)*tw])
			}
		}
	}
	return colors, nil
}

func decodeZRLETile(tile []Color, tw int, readByte func() (byte, error),
	readColor func() (Color, error), readRunLength func() (int, error)) error {

	sub, err := readByte()
	if err != nil {
		return err
	}
	rle := sub&128 != 0
	paletteSize := int(sub & 127)

	// Reserved values: 17..127 (oversized packed palette) and 129
	// (palette reuse, which ZRLE does not define).
	if (!rle && paletteSize > 16) || (rle && paletteSize == 1) {
		log.Warningf("reserved ZRLE subencoding %d; tile skipped", sub)
		return nil
	}

	palette := make([]Color, paletteSize)
	for i := range palette {
		if palette[i], err = readColor(); err != nil {
			return err
		}
	}

	switch {
	case !rle && paletteSize == 0:
		// Raw CPIXELs.
		for i := range tile {
			if tile[i], err = readColor(); err != nil {
				return err
			}
		}
	case !rle && paletteSize == 1:
		// Solid tile.
		fillColors(tile, palette[0])
	case !rle:
		// Packed palette: 1, 2 or 4 bits per index, each row padded to
		// a byte boundary.
		var bits uint
		switch {
		case paletteSize > 4:
			bits = 4
		case paletteSize > 2:
			bits = 2
		default:
			bits = 1
		}
		th := len(tile) / tw
		for j := 0; j < th; j++ {
			var b byte
			var nbits uint
			for i := 0; i < tw; i++ {
				if nbits == 0 {
					if b, err = readByte(); err != nil {
						return err
					}
					nbits = 8
				}
				nbits -= bits
				idx := int(b >> nbits & (1<<bits - 1))
				if idx < paletteSize {
					tile[j*tw+i] = palette[idx]
				}
			}
		}
	case paletteSize == 0:
		// Plain RLE: (CPIXEL, run) pairs until the tile is full.
		for pos := 0; pos < len(tile); {
			color, err := readColor()
			if err != nil {
				return err
			}
			count, err := readRunLength()
			if err != nil {
				return err
			}
			if pos+count > len(tile) {
				log.Warningf("ZRLE run overflows tile by %d pixels; clamped", pos+count-len(tile))
				count = len(tile) - pos
			}
			fillColors(tile[pos:pos+count], color)
			pos += count
		}
	default:
		// Palette RLE: a set index bit 7 marks a run, clear marks a
		// single pixel.
		for pos := 0; pos < len(tile); {
			idx, err := readByte()
			if err != nil {
				return err
			}
			count := 1
			if idx&128 != 0 {
				if count, err = readRunLength(); err != nil {
					return err
				}
			}
			if pos+count > len(tile) {
				log.Warningf("ZRLE run overflows tile by %d pixels; clamped", pos+count-len(tile))
				count = len(tile) - pos
			}
			if int(idx&127) < paletteSize {
				fillColors(tile[pos:pos+count], palette[idx&127])
			}
			pos += count
		}
	}
	return nil
}

// fillColors floods dst with c, doubling the copied span each pass.
func fillColors(dst []Color, c Color) {
	if len(dst) == 0 {
		return
	}
	dst[0] = c
	for n := 1; n < len(dst); n *= 2 {
		copy(dst[n:], dst[:n])
	}
}
