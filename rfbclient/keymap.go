package rfbclient

// Key identifies a named, platform-neutral key. Printable text is sent
// via Client.Text instead and never goes through this table.
type Key int

const (
	KeyBackspace Key = iota
	KeyTab
	KeyReturn
	KeyEnter
	KeyInsert
	KeyDelete
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyLeft
	KeyUp
	KeyRight
	KeyDown
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyShift
	KeyControl
	KeyMeta
	KeyAlt
	KeyEscape
)

// keysyms maps named keys to X11 keysym values.
var keysyms = map[Key]uint32{
	KeyBackspace: 0xff08,
	KeyTab:       0xff09,
	KeyReturn:    0xff0d,
	KeyEnter:     0xff0d,
	KeyInsert:    0xff63,
	KeyDelete:    0xffff,
	KeyHome:      0xff50,
	KeyEnd:       0xff57,
	KeyPageUp:    0xff55,
	KeyPageDown:  0xff56,
	KeyLeft:      0xff51,
	KeyUp:        0xff52,
	KeyRight:     0xff53,
	KeyDown:      0xff54,
	KeyF1:        0xffbe,
	KeyF2:        0xffbf,
	KeyF3:        0xffc0,
	KeyF4:        0xffc1,
	KeyF5:        0xffc2,
	KeyF6:        0xffc3,
	KeyF7:        0xffc4,
	KeyF8:        0xffc5,
	KeyF9:        0xffc6,
	KeyF10:       0xffc7,
	KeyF11:       0xffc8,
	KeyF12:       0xffc9,
	KeyShift:     0xffe1,
	KeyControl:   0xffe3,
	KeyMeta:      0xffe7,
	KeyAlt:       0xffe9,
	KeyEscape:    0xff1b,
}

// Keysym resolves a named key to its X11 keysym. ok is false for keys
// the table does not cover.
func Keysym(k Key) (uint32, bool) {
	sym, ok := keysyms[k]
	return sym, ok
}
