package rfbclient

// Color is one framebuffer pixel in canonical 24-bit RGB.
type Color struct {
	R, G, B uint8
}

var white = Color{R: 0xFF, G: 0xFF, B: 0xFF}

// Rectangle is a region of the framebuffer.
type Rectangle struct {
	X      uint16
	Y      uint16
	Width  uint16
	Height uint16
}

func (r *Rectangle) Area() int {
	return int(r.Width) * int(r.Height)
}

// Framebuffer holds the remote screen. Pix is row-major with stride
// Width. A pixel (x, y) exists iff 0 <= x < Width and 0 <= y < Height;
// writes outside that range are dropped.
type Framebuffer struct {
	Width  uint16
	Height uint16
	Pix    []Color
}

// NewFramebuffer allocates a framebuffer cleared to white.
func NewFramebuffer(width, height uint16) *Framebuffer {
	fb := &Framebuffer{
		Width:  width,
		Height: height,
		Pix:    make([]Color, int(width)*int(height)),
	}
	for i := range fb.Pix {
		fb.Pix[i] = white
	}
	return fb
}

// At returns the pixel at (x, y), or the zero Color out of bounds.
func (f *Framebuffer) At(x, y int) Color {
	if x < 0 || y < 0 || x >= int(f.Width) || y >= int(f.Height) {
		return Color{}
	}
	return f.Pix[y*int(f.Width)+x]
}

// Set writes the pixel at (x, y). Out-of-bounds writes are dropped.
func (f *Framebuffer) Set(x, y int, c Color) {
	if x < 0 || y < 0 || x >= int(f.Width) || y >= int(f.Height) {
		return
	}
	f.Pix[y*int(f.Width)+x] = c
}

// setRow copies a run of pixels starting at (x, y), clipped to the
// framebuffer bounds.
func (f *Framebuffer) setRow(x, y int, row []Color) {
	if y < 0 || y >= int(f.Height) || x >= int(f.Width) {
		return
	}
	if x < 0 {
		row = row[-x:]
		x = 0
	}
	if max := int(f.Width) - x; len(row) > max {
		row = row[:max]
	}
	start := y*int(f.Width) + x
	copy(f.Pix[start:start+len(row)], row)
}

// fillRect paints a solid rectangle, clipped to the framebuffer bounds.
func (f *Framebuffer) fillRect(x, y, w, h int, c Color) {
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			f.Set(x+i, y+j, c)
		}
	}
}
