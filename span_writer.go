package chunkstream

import "fmt"

// SpanWriter is a scatter/gather write adapter over a stream. GetSpan hands
// out a writable region and Advance commits the bytes the caller filled in:
// spans that fit the cursor's current chunk are written in place with no
// copy, larger spans go through a temporary buffer and the normal write path.
//
// Advance must be called exactly once per GetSpan, and the caller must not
// write past the span's length.
type SpanWriter[P ChunkRenter] struct {
	s       *Stream[P]
	span    []byte
	tmp     []byte // Non-nil when the span is an oversize temporary.
	pending bool
}

func NewSpanWriter[P ChunkRenter](s *Stream[P]) *SpanWriter[P] {
	return &SpanWriter[P]{s: s}
}

// GetSpan returns a writable region of at least sizeHint bytes. When sizeHint
// is 0 or fits the remainder of the cursor's chunk, the region is a direct
// view into that chunk; otherwise it is a temporary buffer flushed by Advance.
func (w *SpanWriter[P]) GetSpan(sizeHint int) ([]byte, error) {
	if sizeHint < 0 {
		return nil, fmt.Errorf("%w: negative size hint %d", ErrInvalidArgument, sizeHint)
	}
	if w.pending {
		return nil, fmt.Errorf("%w: span has not been advanced", ErrInvalidOperation)
	}
	s := w.s
	if s.state == stateDisposed {
		return nil, ErrDisposed
	}
	if s.state == stateReadForward {
		return nil, fmt.Errorf("%w: write in forward-read state", ErrInvalidOperation)
	}

	_, off := s.chunkPos(s.position)
	remaining := s.pool.ChunkSize() - off
	if sizeHint == 0 || sizeHint <= remaining {
		span, err := w.chunkSpan(remaining)
		if err != nil {
			return nil, err
		}
		w.span, w.tmp, w.pending = span, nil, true
		return span, nil
	}
	w.tmp = make([]byte, sizeHint)
	w.span, w.pending = w.tmp, true
	return w.tmp, nil
}

// chunkSpan materializes the chunk under the cursor and returns the view
// [cursor, chunk end).
func (w *SpanWriter[P]) chunkSpan(n int) ([]byte, error) {
	s := w.s
	if err := s.checkSize(s.position + int64(n)); err != nil {
		return nil, err
	}
	if s.position > s.length {
		// Grow the logical length up to the cursor, zero-filling the gap.
		s.resize(s.position)
		s.length = s.position
	}
	idx, off := s.chunkPos(s.position)
	if err := s.ensureChunkCapacity(idx + 1); err != nil {
		return nil, err
	}
	if s.chunks[idx].IsNull() {
		zero := off != 0 || s.length > s.position
		s.chunks[idx] = s.pool.Rent(zero)
	}
	return s.chunks[idx].Slice(off, n), nil
}

// Advance commits the first n bytes of the span returned by the last GetSpan.
// An in-chunk span only moves the cursor and length; a temporary span is
// written to the stream through the normal write path.
func (w *SpanWriter[P]) Advance(n int) error {
	if !w.pending {
		return fmt.Errorf("%w: no span to advance", ErrInvalidOperation)
	}
	if n < 0 || n > len(w.span) {
		return fmt.Errorf("%w: advance count %d out of range [0, %d]", ErrInvalidArgument, n, len(w.span))
	}
	w.pending = false
	s := w.s
	if w.tmp != nil {
		tmp := w.tmp
		w.tmp, w.span = nil, nil
		_, err := s.Write(tmp[:n])
		return err
	}
	w.span = nil
	if n == 0 {
		// A span that opened a chunk at the logical end commits nothing; return
		// that chunk so that no slot past the valid region stays rented.
		idx, off := s.chunkPos(s.position)
		if off == 0 && s.position == s.length && idx < len(s.chunks) && !s.chunks[idx].IsNull() {
			s.pool.Return(&s.chunks[idx])
		}
		return nil
	}
	s.position += int64(n)
	if s.position > s.length {
		s.length = s.position
	}
	return nil
}
