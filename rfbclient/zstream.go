package rfbclient

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/juju/errors"
)

type readCloseResetter interface {
	io.ReadCloser
	zlib.Resetter
}

// inflateStream is one persistent zlib inflate stream. Compressed bytes
// are appended to src as rectangles arrive; the decompressor keeps its
// LZ77 window across rectangles until the stream is reset. src satisfies
// io.ByteReader, so the decompressor never reads ahead of what it needs
// and leftover sync-flush bytes simply wait for the next feed.
type inflateStream struct {
	zr  readCloseResetter
	src bytes.Buffer
}

// feed queues compressed bytes for inflation.
func (s *inflateStream) feed(p []byte) {
	s.src.Write(p)
}

// reader returns the decompressed side of the stream, initializing it on
// first use. Initialization consumes the 2-byte zlib header, so at least
// one feed must precede it.
func (s *inflateStream) reader() (io.Reader, error) {
	if s.zr == nil {
		zr, err := zlib.NewReader(&s.src)
		if err != nil {
			return nil, errors.Annotate(err, "zlib stream init")
		}
		s.zr = zr.(readCloseResetter)
	}
	return s.zr, nil
}

// readFull decompresses exactly len(p) bytes into p.
func (s *inflateStream) readFull(p []byte) error {
	r, err := s.reader()
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(r, p); err != nil {
		return errors.Annotate(err, "zlib inflate")
	}
	return nil
}

// reset ends the stream and discards its dictionary and any pending
// compressed bytes. The next use re-initializes from a fresh zlib
// header.
func (s *inflateStream) reset() {
	if s.zr != nil {
		s.zr.Close()
		s.zr = nil
	}
	s.src.Reset()
}

// streamBank owns the connection's persistent inflate streams: one for
// ZRLE and four for Tight.
type streamBank struct {
	zrle  inflateStream
	tight [4]inflateStream
}

func (b *streamBank) reset() {
	b.zrle.reset()
	for i := range b.tight {
		b.tight[i].reset()
	}
}
