package chunkstream

import (
	"fmt"
	"io"
)

// Reader is a read cursor over a stream's logical content. It implements the
// [io.Reader], [io.ByteReader], [io.Seeker] and [io.WriterTo] interfaces,
// reads holes as zero, and does not move the stream's own cursor.
//
// A reader borrows the stream's storage: it shares the stream's
// single-threaded discipline and is invalid once the stream is disposed.
type Reader[P ChunkRenter] struct {
	s   *Stream[P]
	pos int64
}

func NewReader[P ChunkRenter](s *Stream[P]) *Reader[P] {
	return &Reader[P]{s: s}
}

// Reader returns a new read cursor positioned at the start of the stream.
func (s *Stream[P]) Reader() *Reader[P] {
	return NewReader(s)
}

// Offset returns the reader's position within the stream.
func (r *Reader[P]) Offset() int64 {
	return r.pos
}

// Reset rewinds the reader to the start of the stream.
func (r *Reader[P]) Reset() *Reader[P] {
	r.pos = 0
	return r
}

// Read reads up to len(p) bytes of the stream's content at the reader's
// position. The error is [io.EOF] at the end of the stream.
func (r *Reader[P]) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := r.s.readAt(p, r.pos)
	if n == 0 {
		return 0, io.EOF
	}
	r.pos += int64(n)
	return n, nil
}

// ReadByte reads a single byte at the reader's position.
func (r *Reader[P]) ReadByte() (byte, error) {
	if r.pos >= r.s.length {
		return 0, io.EOF
	}
	var b [1]byte
	r.s.readAt(b[:], r.pos)
	r.pos++
	return b[0], nil
}

// Seek sets the offset for the next read. Seeking past the end of the stream
// is allowed; subsequent reads return [io.EOF].
func (r *Reader[P]) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = r.pos
	case io.SeekEnd:
		base = r.s.length
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", ErrInvalidArgument, whence)
	}
	p := base + offset
	if p < 0 {
		return 0, fmt.Errorf("%w: negative position %d", ErrInvalidArgument, p)
	}
	r.pos = p
	return p, nil
}

// WriteTo writes the stream's remaining content to w chunk by chunk, feeding
// chunk views directly without an intermediate copy. Hole spans are fed from
// a shared zero page. It implements the [io.WriterTo] interface.
func (r *Reader[P]) WriteTo(w io.Writer) (int64, error) {
	s := r.s
	size := int64(s.pool.ChunkSize())
	var written int64
	for r.pos < s.length {
		idx, off := s.chunkPos(r.pos)
		n := int(min(size-int64(off), s.length-r.pos))
		var err error
		if idx < len(s.chunks) && !s.chunks[idx].IsNull() {
			n, err = w.Write(s.chunks[idx].Slice(off, n))
		} else {
			n, err = writeZeroes(w, n)
		}
		written += int64(n)
		r.pos += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// writeZeroes writes n zero bytes to w from the shared zero page.
func writeZeroes(w io.Writer, n int) (int, error) {
	written := 0
	for written < n {
		c := min(n-written, len(zeroPage))
		k, err := w.Write(zeroPage[:c])
		written += k
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
