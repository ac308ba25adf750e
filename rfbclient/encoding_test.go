package rfbclient

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// updateMsg frames one FramebufferUpdate from pre-built rectangle blobs.
func updateMsg(rects ...[]byte) []byte {
	msg := []byte{0, 0}
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(rects)))
	for _, r := range rects {
		msg = append(msg, r...)
	}
	return msg
}

// zlibSegments compresses each chunk on a single deflate stream with a
// sync flush between chunks, the way servers feed persistent streams.
func zlibSegments(t *testing.T, chunks ...[]byte) [][]byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	out := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		prev := buf.Len()
		_, err := zw.Write(c)
		require.NoError(t, err)
		require.NoError(t, zw.Flush())
		out = append(out, append([]byte(nil), buf.Bytes()[prev:]...))
	}
	return out
}

func compactLenBytes(n int) []byte {
	out := []byte{byte(n & 0x7F)}
	if n > 0x7F {
		out[0] |= 0x80
		out = append(out, byte(n>>7&0x7F))
		if n > 0x3FFF {
			out[1] |= 0x80
			out = append(out, byte(n>>14))
		}
	}
	return out
}

func TestRawRectangle(t *testing.T) {
	var regions []Rectangle
	var c *Client
	c, tr := newRunningClient(t, testPixelFormat(), 4, 4, Callbacks{
		ImageChanged: func(r Rectangle) {
			regions = append(regions, r)
			// By the time observers hear about a rectangle, its pixels
			// are already in place.
			assert.Equal(t, Color{B: 0xFF}, c.Framebuffer().At(0, 0))
		},
	})

	// 2x1 rectangle, BGRA byte order per the 16/8/0 shifts.
	rect := append(rectHeader(0, 0, 2, 1, EncodingRaw),
		0xFF, 0x00, 0x00, 0x00, // blue
		0x00, 0xFF, 0x00, 0x00) // green
	tr.feed(c, updateMsg(rect))

	assert.Equal(t, Color{B: 0xFF}, c.Framebuffer().At(0, 0))
	assert.Equal(t, Color{G: 0xFF}, c.Framebuffer().At(1, 0))
	assert.Equal(t, white, c.Framebuffer().At(2, 0), "pixels outside the rectangle untouched")
	require.Len(t, regions, 1)
	assert.Equal(t, Rectangle{X: 0, Y: 0, Width: 2, Height: 1}, regions[0])

	// The finished update triggers an incremental request for the
	// whole framebuffer.
	assert.Equal(t, []byte{msgFramebufferUpdateRequest, 1, 0, 0, 0, 0, 0, 4, 0, 4}, tr.takeOut())
}

// redPixel32 is red in the test pixel format's wire layout.
var redPixel32 = []byte{0x00, 0x00, 0xFF, 0x00}

func TestHextileBackgroundInheritance(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 32, 16, Callbacks{})

	rect := rectHeader(0, 0, 32, 16, EncodingHextile)
	rect = append(rect, hextileBackgroundSpecified)
	rect = append(rect, redPixel32...)
	rect = append(rect, 0) // second tile: no flags, inherits the background
	tr.feed(c, updateMsg(rect))

	red := Color{R: 0xFF}
	assert.Equal(t, red, c.Framebuffer().At(0, 0))
	assert.Equal(t, red, c.Framebuffer().At(15, 15))
	assert.Equal(t, red, c.Framebuffer().At(16, 0), "second tile inherits the background")
	assert.Equal(t, red, c.Framebuffer().At(31, 15))
	assert.Equal(t, 0, tr.Buffered())
}

func TestHextileSubrects(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 16, 16, Callbacks{})

	// Background red, foreground green (unused: SubrectsColoured gives
	// every subrect its own color), then two blue subrects: one at (0,0)
	// of size 1x1 and one at (2,3) of size 4x2.
	rect := rectHeader(0, 0, 16, 16, EncodingHextile)
	rect = append(rect, hextileBackgroundSpecified|hextileForegroundSpecified|
		hextileAnySubrects|hextileSubrectsColoured)
	rect = append(rect, redPixel32...)
	rect = append(rect, 0x00, 0xFF, 0x00, 0x00) // foreground green
	rect = append(rect, 2)                      // subrect count
	rect = append(rect, 0xFF, 0x00, 0x00, 0x00) // blue
	rect = append(rect, 0x00, 0x00)             // at (0,0), 1x1
	rect = append(rect, 0xFF, 0x00, 0x00, 0x00) // blue
	rect = append(rect, 0x23, 0x31)             // at (2,3), 4x2
	tr.feed(c, updateMsg(rect))

	assert.Equal(t, Color{B: 0xFF}, c.Framebuffer().At(0, 0))
	assert.Equal(t, Color{R: 0xFF}, c.Framebuffer().At(1, 0))
	assert.Equal(t, Color{B: 0xFF}, c.Framebuffer().At(2, 3))
	assert.Equal(t, Color{B: 0xFF}, c.Framebuffer().At(5, 4))
	assert.Equal(t, Color{R: 0xFF}, c.Framebuffer().At(6, 3))
}

func TestHextileResumesMidTile(t *testing.T) {
	whole := rectHeader(0, 0, 32, 16, EncodingHextile)
	whole = append(whole, hextileBackgroundSpecified)
	whole = append(whole, redPixel32...)
	whole = append(whole, 0)
	msg := updateMsg(whole)

	// Reference: the whole message at once.
	want, tr := newRunningClient(t, testPixelFormat(), 32, 16, Callbacks{})
	tr.feed(want, msg)

	// Split inside the first tile's background pixel.
	c, tr2 := newRunningClient(t, testPixelFormat(), 32, 16, Callbacks{})
	split := len(msg) - 3
	tr2.feed(c, msg[:split])
	require.True(t, c.update.active, "update still in progress")
	tr2.feed(c, msg[split:])

	assert.Equal(t, want.Framebuffer().Pix, c.Framebuffer().Pix)
	assert.False(t, c.update.active)
}

func TestTightFill(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 8, 8, Callbacks{})

	rect := append(rectHeader(0, 0, 8, 8, EncodingTight), 0x80, 0x00, 0x00, 0xFF)
	tr.feed(c, updateMsg(rect))

	blue := Color{B: 0xFF}
	assert.Equal(t, blue, c.Framebuffer().At(0, 0))
	assert.Equal(t, blue, c.Framebuffer().At(7, 7))
}

func TestTightCompactLength(t *testing.T) {
	tests := []struct {
		in   []byte
		want int
		size int
	}{
		{[]byte{127}, 127, 1},
		{[]byte{0x90, 0x4E}, 10000, 2},
		{[]byte{0x81, 0x81, 0x01}, 16513, 3},
	}
	for _, tt := range tests {
		got, size, ok := compactLength(tt.in)
		require.True(t, ok)
		assert.Equal(t, tt.want, got, "compactLength(%v)", tt.in)
		assert.Equal(t, tt.size, size)

		// Incomplete input must not be misread.
		_, _, ok = compactLength(tt.in[:tt.size-1])
		if tt.size > 1 {
			assert.False(t, ok)
		}
		assert.Equal(t, tt.in[:tt.size], compactLenBytes(tt.want))
	}
}

func TestTightCopyFilterPersistentStream(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 8, 8, Callbacks{})

	// Two rectangles on zlib stream 0, compressed as one deflate
	// stream with a flush between them.
	pix1 := bytes.Repeat([]byte{0xFF, 0x00, 0x00}, 6) // 2x3 red
	pix2 := bytes.Repeat([]byte{0x00, 0xFF, 0x00}, 6) // 2x3 green
	segs := zlibSegments(t, pix1, pix2)

	rect1 := append(rectHeader(0, 0, 2, 3, EncodingTight), 0x00)
	rect1 = append(rect1, compactLenBytes(len(segs[0]))...)
	rect1 = append(rect1, segs[0]...)
	tr.feed(c, updateMsg(rect1))
	assert.Equal(t, Color{R: 0xFF}, c.Framebuffer().At(1, 2))

	rect2 := append(rectHeader(2, 0, 2, 3, EncodingTight), 0x00)
	rect2 = append(rect2, compactLenBytes(len(segs[1]))...)
	rect2 = append(rect2, segs[1]...)
	tr.feed(c, updateMsg(rect2))
	assert.Equal(t, Color{G: 0xFF}, c.Framebuffer().At(3, 2))
	assert.Equal(t, 0, tr.Buffered())
}

func TestTightStreamReset(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 8, 8, Callbacks{})

	pix := bytes.Repeat([]byte{0x11, 0x22, 0x33}, 6)
	first := zlibSegments(t, pix)[0]
	rect1 := append(rectHeader(0, 0, 2, 3, EncodingTight), 0x00)
	rect1 = append(rect1, compactLenBytes(len(first))...)
	rect1 = append(rect1, first...)
	tr.feed(c, updateMsg(rect1))

	// Bit 0 set: stream 0 restarts from a fresh zlib header.
	fresh := zlibSegments(t, pix)[0]
	rect2 := append(rectHeader(2, 0, 2, 3, EncodingTight), 0x01)
	rect2 = append(rect2, compactLenBytes(len(fresh))...)
	rect2 = append(rect2, fresh...)
	tr.feed(c, updateMsg(rect2))

	want := Color{R: 0x11, G: 0x22, B: 0x33}
	assert.Equal(t, want, c.Framebuffer().At(0, 0))
	assert.Equal(t, want, c.Framebuffer().At(3, 2))
	assert.Equal(t, 0, tr.Buffered())
}

func TestTightPaletteFilters(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 16, 4, Callbacks{})

	// Two-color palette: indices are one bit per pixel, rows padded to
	// a byte. 10x2 -> 2 bytes per row, 4 data bytes, sent raw.
	rect := append(rectHeader(0, 0, 10, 2, EncodingTight), 0x40, tightFilterPalette)
	rect = append(rect, 1)                // num_colors - 1
	rect = append(rect, 0x00, 0x00, 0x00) // palette[0] black
	rect = append(rect, 0xFF, 0xFF, 0xFF) // palette[1] white
	rect = append(rect, 0x80, 0x40, 0x01, 0x00)
	tr.feed(c, updateMsg(rect))

	assert.Equal(t, Color{R: 0xFF, G: 0xFF, B: 0xFF}, c.Framebuffer().At(0, 0))
	assert.Equal(t, Color{}, c.Framebuffer().At(1, 0))
	assert.Equal(t, Color{R: 0xFF, G: 0xFF, B: 0xFF}, c.Framebuffer().At(9, 0), "second row byte, MSB first")
	assert.Equal(t, Color{R: 0xFF, G: 0xFF, B: 0xFF}, c.Framebuffer().At(7, 1))
	assert.Equal(t, Color{}, c.Framebuffer().At(8, 1))

	// A wider palette uses one byte per pixel; 16 indices compress.
	indices := make([]byte, 16)
	for i := range indices {
		indices[i] = byte(i % 3)
	}
	seg := zlibSegments(t, indices)[0]
	rect2 := append(rectHeader(0, 2, 16, 1, EncodingTight), 0x40, tightFilterPalette)
	rect2 = append(rect2, 2)                // three colors
	rect2 = append(rect2, 0xFF, 0x00, 0x00) // red
	rect2 = append(rect2, 0x00, 0xFF, 0x00) // green
	rect2 = append(rect2, 0x00, 0x00, 0xFF) // blue
	rect2 = append(rect2, compactLenBytes(len(seg))...)
	rect2 = append(rect2, seg...)
	tr.feed(c, updateMsg(rect2))

	assert.Equal(t, Color{R: 0xFF}, c.Framebuffer().At(0, 2))
	assert.Equal(t, Color{G: 0xFF}, c.Framebuffer().At(1, 2))
	assert.Equal(t, Color{B: 0xFF}, c.Framebuffer().At(2, 2))
	assert.Equal(t, Color{R: 0xFF}, c.Framebuffer().At(15, 2))
}

func TestTightGradientFilter(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 4, 4, Callbacks{})

	// Error terms for a 2x2 rectangle; predictions come from the left,
	// upper and upper-left neighbors.
	diffs := []byte{
		10, 20, 30, // (0,0): pred 0 -> (10,20,30)
		5, 5, 5, //    (1,0): pred (10,20,30) -> (15,25,35)
		0, 0, 0, //    (0,1): pred (10,20,30) -> (10,20,30)
		250, 0, 0, //  (1,1): pred (15,25,35) -> ((15+250)&255,25,35)
	}
	seg := zlibSegments(t, diffs)[0]
	rect := append(rectHeader(0, 0, 2, 2, EncodingTight), 0x40, tightFilterGradient)
	rect = append(rect, compactLenBytes(len(seg))...)
	rect = append(rect, seg...)
	tr.feed(c, updateMsg(rect))

	assert.Equal(t, Color{R: 10, G: 20, B: 30}, c.Framebuffer().At(0, 0))
	assert.Equal(t, Color{R: 15, G: 25, B: 35}, c.Framebuffer().At(1, 0))
	assert.Equal(t, Color{R: 10, G: 20, B: 30}, c.Framebuffer().At(0, 1))
	assert.Equal(t, Color{R: 9, G: 25, B: 35}, c.Framebuffer().At(1, 1))
}

func TestTightReservedControlAborts(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 4, 4, Callbacks{})
	rect := append(rectHeader(0, 0, 4, 4, EncodingTight), 0xA0)
	tr.feed(c, updateMsg(rect))
	assert.True(t, c.aborted)
}

func TestZRLESolidTile(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 16, 8, Callbacks{})

	// One solid tile: subencoding 1 plus a single CPIXEL (low 24 bits
	// of the wire pixel, little endian).
	seg := zlibSegments(t, []byte{0x01, 0xFF, 0x00, 0x00})[0]
	rect := rectHeader(0, 0, 10, 5, EncodingZRLE)
	rect = binary.BigEndian.AppendUint32(rect, uint32(len(seg)))
	rect = append(rect, seg...)
	tr.feed(c, updateMsg(rect))

	blue := Color{B: 0xFF}
	assert.Equal(t, blue, c.Framebuffer().At(0, 0))
	assert.Equal(t, blue, c.Framebuffer().At(9, 4))
	assert.Equal(t, white, c.Framebuffer().At(10, 0))
	assert.Equal(t, 0, tr.Buffered())
}

func TestZRLEPersistentStream(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 16, 8, Callbacks{})

	segs := zlibSegments(t,
		[]byte{0x01, 0x00, 0x00, 0xFF}, // solid red
		[]byte{0x01, 0x00, 0xFF, 0x00}) // solid green

	rect1 := rectHeader(0, 0, 4, 4, EncodingZRLE)
	rect1 = binary.BigEndian.AppendUint32(rect1, uint32(len(segs[0])))
	rect1 = append(rect1, segs[0]...)
	tr.feed(c, updateMsg(rect1))
	assert.Equal(t, Color{R: 0xFF}, c.Framebuffer().At(3, 3))

	rect2 := rectHeader(4, 0, 4, 4, EncodingZRLE)
	rect2 = binary.BigEndian.AppendUint32(rect2, uint32(len(segs[1])))
	rect2 = append(rect2, segs[1]...)
	tr.feed(c, updateMsg(rect2))
	assert.Equal(t, Color{G: 0xFF}, c.Framebuffer().At(7, 3))
}

func TestZRLEEmptyRectangle(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 8, 8, Callbacks{})
	rect := rectHeader(0, 0, 8, 8, EncodingZRLE)
	rect = binary.BigEndian.AppendUint32(rect, 0)
	tr.feed(c, updateMsg(rect))
	assert.Equal(t, white, c.Framebuffer().At(0, 0))
	assert.Equal(t, 0, tr.Buffered())
}

// zrleFixturePixelFormat matches the capture source: 32-bpp little
// endian with red in the low byte.
func zrleFixturePixelFormat() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 32,
		Depth:        24,
		TrueColor:    true,
		RedMax:       255,
		GreenMax:     255,
		BlueMax:      255,
		RedShift:     0,
		GreenShift:   8,
		BlueShift:    16,
	}
}

// Decompressed ZRLE payloads captured from a live session.
func TestZRLECapturedPayloads(t *testing.T) {
	t.Run("six-color-packed", func(t *testing.T) {
		data, err := base64.StdEncoding.DecodeString(
			"Bv////j4+Pj59gAAAPn4+Pb5+AAREiERAwIiIREDMCIhEQMzAiERAzMwIREDMzMBFAMzMzAUAzMzMwQDMzMzMAMzMwAAAzAzAREDAQMwEQARAzAREREQMwERERAzARERFQAR")
		require.NoError(t, err)
		pf := zrleFixturePixelFormat()
		colors, err := decodeZRLETiles(bytes.NewReader(data), &pf, 10, 16)
		require.NoError(t, err)

		grayA := Color{R: 248, G: 248, B: 248}
		grayB := Color{R: 248, G: 249, B: 246}
		black := Color{}
		// Row 0 packs indices 0 0 1 1 1 2 2 1 1 1.
		assert.Equal(t, []Color{white, white, grayA, grayA, grayA,
			grayB, grayB, grayA, grayA, grayA}, colors[:10])
		// Row 1 packs indices 0 3 0 2 2 2 2 1 1 1.
		assert.Equal(t, []Color{white, black, white, grayB, grayB,
			grayB, grayB, grayA, grayA, grayA}, colors[10:20])
		// Row 15 packs indices 1 1 1 1 1 5 0 0 1 1.
		assert.Equal(t, Color{R: 246, G: 249, B: 248}, colors[155])
		assert.Equal(t, white, colors[156])
	})

	t.Run("four-color-packed", func(t *testing.T) {
		data, err := base64.StdEncoding.DecodeString(
			"A////13qpgAAEQaqqqoKqqqqCqqqqgqqqqoKqqqqCqqqqgqqqqoKqqqqCqqqqgqqqqoKqqqqCqqqqgqqqqoKqqqqCqqqqgqqqqo=")
		require.NoError(t, err)
		pf := zrleFixturePixelFormat()
		colors, err := decodeZRLETiles(bytes.NewReader(data), &pf, 16, 16)
		require.NoError(t, err)

		accent := Color{R: 93, G: 234, B: 166}
		dark := Color{R: 0, G: 0, B: 17}
		for row := 0; row < 16; row++ {
			off := row * 16
			assert.Equal(t, white, colors[off], "row %d", row)
			assert.Equal(t, white, colors[off+1], "row %d", row)
			if row == 0 {
				assert.Equal(t, accent, colors[off+2])
			} else {
				assert.Equal(t, dark, colors[off+2], "row %d", row)
			}
			for x := 3; x < 16; x++ {
				assert.Equal(t, dark, colors[off+x], "row %d col %d", row, x)
			}
		}
	})
}

func TestZRLETruncatedPayloadLeavesBlack(t *testing.T) {
	c, tr := newRunningClient(t, testPixelFormat(), 16, 8, Callbacks{})

	// The tile announces raw CPIXELs but the stream ends early.
	seg := zlibSegments(t, []byte{0x00, 0xFF, 0x00, 0x00})[0]
	rect := rectHeader(0, 0, 8, 8, EncodingZRLE)
	rect = binary.BigEndian.AppendUint32(rect, uint32(len(seg)))
	rect = append(rect, seg...)
	tr.feed(c, updateMsg(rect))

	assert.Equal(t, Color{}, c.Framebuffer().At(0, 0), "truncated tiles paint black")
	assert.False(t, c.update.active, "rectangle completes despite truncation")
}

func TestIncrementalParseEquivalence(t *testing.T) {
	rawRect := append(rectHeader(0, 0, 2, 1, EncodingRaw),
		0xFF, 0x00, 0x00, 0x00,
		0x00, 0xFF, 0x00, 0x00)

	hexRect := rectHeader(0, 2, 32, 16, EncodingHextile)
	hexRect = append(hexRect, hextileBackgroundSpecified)
	hexRect = append(hexRect, redPixel32...)
	hexRect = append(hexRect, 0)

	seg := zlibSegments(t, []byte{0x01, 0xFF, 0x00, 0x00})[0]
	zrleRect := rectHeader(0, 20, 6, 3, EncodingZRLE)
	zrleRect = binary.BigEndian.AppendUint32(zrleRect, uint32(len(seg)))
	zrleRect = append(zrleRect, seg...)

	transcript := updateMsg(rawRect, hexRect, zrleRect)

	run := func(chunk int) (*Framebuffer, []Rectangle) {
		var regions []Rectangle
		c, tr := newRunningClient(t, testPixelFormat(), 32, 24, Callbacks{
			ImageChanged: func(r Rectangle) { regions = append(regions, r) },
		})
		for off := 0; off < len(transcript); off += chunk {
			end := off + chunk
			if end > len(transcript) {
				end = len(transcript)
			}
			tr.feed(c, transcript[off:end])
		}
		require.Equal(t, 0, tr.Buffered(), "chunk size %d", chunk)
		return c.Framebuffer(), regions
	}

	wantFB, wantRegions := run(len(transcript))
	for chunk := 1; chunk <= 17; chunk++ {
		gotFB, gotRegions := run(chunk)
		assert.Equal(t, wantFB.Pix, gotFB.Pix, "chunk size %d", chunk)
		assert.Equal(t, wantRegions, gotRegions, "chunk size %d", chunk)
	}
}
