package chunkstream

import (
	"encoding/binary"
	"unicode/utf16"
	"unicode/utf8"
)

// TextWriter encodes characters as little-endian UTF-16 code units and writes
// them through a stream's write path.
type TextWriter[P ChunkRenter] struct {
	s *Stream[P]
}

func NewTextWriter[P ChunkRenter](s *Stream[P]) *TextWriter[P] {
	return &TextWriter[P]{s: s}
}

// WriteRune writes the UTF-16LE encoding of r, 2 bytes per code unit.
// Invalid runes are written as the replacement character. It returns the
// number of bytes written to the stream.
func (w *TextWriter[P]) WriteRune(r rune) (int, error) {
	var buf [4]byte
	n := encodeUTF16LE(buf[:], r)
	return w.s.Write(buf[:n])
}

// WriteString writes the UTF-16LE encoding of str and returns the number of
// bytes written to the stream.
// It implements the [io.StringWriter] interface.
func (w *TextWriter[P]) WriteString(str string) (int, error) {
	var buf [4]byte
	written := 0
	for _, r := range str {
		n, err := w.s.Write(buf[:encodeUTF16LE(buf[:], r)])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// encodeUTF16LE encodes r into buf as little-endian UTF-16 and returns the
// number of bytes used (2, or 4 for a surrogate pair).
func encodeUTF16LE(buf []byte, r rune) int {
	if utf16.IsSurrogate(r) || !utf8.ValidRune(r) {
		r = utf8.RuneError
	}
	if r < 0x10000 {
		binary.LittleEndian.PutUint16(buf, uint16(r))
		return 2
	}
	hi, lo := utf16.EncodeRune(r)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(hi))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(lo))
	return 4
}
