package rfbclient

import "encoding/binary"

// PixelFormat describes the wire layout of a pixel as advertised in
// ServerInit. The client echoes the server's format back unchanged and
// interprets all subsequent pixel payloads with it.
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColor    bool
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     uint8
	GreenShift   uint8
	BlueShift    uint8
}

const pixelFormatSize = 16

func parsePixelFormat(b []byte) PixelFormat {
	return PixelFormat{
		BitsPerPixel: b[0],
		Depth:        b[1],
		BigEndian:    b[2] != 0,
		TrueColor:    b[3] != 0,
		RedMax:       binary.BigEndian.Uint16(b[4:6]),
		GreenMax:     binary.BigEndian.Uint16(b[6:8]),
		BlueMax:      binary.BigEndian.Uint16(b[8:10]),
		RedShift:     b[10],
		GreenShift:   b[11],
		BlueShift:    b[12],
	}
}

func (f *PixelFormat) appendTo(b []byte) []byte {
	flag := func(set bool) byte {
		if set {
			return 1
		}
		return 0
	}
	b = append(b, f.BitsPerPixel, f.Depth, flag(f.BigEndian), flag(f.TrueColor))
	b = binary.BigEndian.AppendUint16(b, f.RedMax)
	b = binary.BigEndian.AppendUint16(b, f.GreenMax)
	b = binary.BigEndian.AppendUint16(b, f.BlueMax)
	b = append(b, f.RedShift, f.GreenShift, f.BlueShift, 0, 0, 0)
	return b
}

func (f *PixelFormat) byteSize() int { return int(f.BitsPerPixel) / 8 }

func (f *PixelFormat) byteOrder() binary.ByteOrder {
	if f.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// rgb converts a raw pixel value to canonical RGB by shifting and
// masking per channel.
func (f *PixelFormat) rgb(raw uint32) Color {
	return Color{
		R: uint8(raw >> f.RedShift & uint32(f.RedMax)),
		G: uint8(raw >> f.GreenShift & uint32(f.GreenMax)),
		B: uint8(raw >> f.BlueShift & uint32(f.BlueMax)),
	}
}

// readPixel interprets b as one wire pixel. ok is false for layouts the
// client cannot render (non-truecolor, or widths other than 8/16/32);
// callers skip the pixel and log.
func (f *PixelFormat) readPixel(b []byte) (Color, bool) {
	if !f.TrueColor {
		return Color{}, false
	}
	var raw uint32
	switch f.BitsPerPixel {
	case 8:
		raw = uint32(b[0])
	case 16:
		raw = uint32(f.byteOrder().Uint16(b))
	case 32:
		raw = f.byteOrder().Uint32(b)
	default:
		return Color{}, false
	}
	return f.rgb(raw), true
}

// encodePixel is the inverse of readPixel for supported formats. Used to
// verify the pixel round-trip property.
func (f *PixelFormat) encodePixel(dst []byte, c Color) bool {
	if !f.TrueColor {
		return false
	}
	raw := uint32(c.R)<<f.RedShift | uint32(c.G)<<f.GreenShift | uint32(c.B)<<f.BlueShift
	switch f.BitsPerPixel {
	case 8:
		dst[0] = uint8(raw)
	case 16:
		f.byteOrder().PutUint16(dst, uint16(raw))
	case 32:
		f.byteOrder().PutUint32(dst, raw)
	default:
		return false
	}
	return true
}

// compactZRLE reports whether CPIXELs are 3 bytes: 32 bpp true color
// with every channel fitting one byte.
func (f *PixelFormat) compactZRLE() bool {
	return f.BitsPerPixel == 32 && f.TrueColor &&
		f.RedMax <= 255 && f.GreenMax <= 255 && f.BlueMax <= 255
}

// compactTight reports whether TPIXELs are 3 bytes: like compactZRLE but
// the channel maxima must be exactly 255.
func (f *PixelFormat) compactTight() bool {
	return f.BitsPerPixel == 32 && f.TrueColor &&
		f.RedMax == 255 && f.GreenMax == 255 && f.BlueMax == 255
}

func (f *PixelFormat) cpixelSize() int {
	if f.compactZRLE() {
		return 3
	}
	return f.byteSize()
}

// readCPixel interprets a ZRLE compact pixel: the wire pixel with its
// known-zero byte dropped, so the three bytes carry the low 24 bits in
// the format's byte order.
func (f *PixelFormat) readCPixel(b []byte) Color {
	if !f.compactZRLE() {
		c, _ := f.readPixel(b)
		return c
	}
	var raw uint32
	if f.BigEndian {
		raw = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	} else {
		raw = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	}
	return f.rgb(raw)
}
