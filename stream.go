// Package chunkstream implements a seekable, growable in-memory byte stream
// backed by fixed-size memory chunks rented from a shared pool.
//
// The pool carves a single off-heap buffer into chunks and lends them in O(1)
// through an intrusive free list; it is safe for concurrent use. A stream owns
// a sparse array of chunk slots: slots are rented on first write, unwritten
// slots are holes that read as zero, and truncation returns slots to the pool.
// A stream instance is not safe for concurrent use.
package chunkstream

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
)

// ChunkRenter defines the contract for a pool of fixed-size memory chunks.
type ChunkRenter interface {
	ChunkSize() int        // Fixed chunk size in bytes.
	Rent(zero bool) Chunk  // Rents a chunk, falling back to the heap when the pool is empty.
	Return(c *Chunk) error // Returns a rented chunk and nulls the caller's copy.
}

// maxChunkIndex is the largest addressable chunk index within a stream.
const maxChunkIndex = math.MaxInt32

// zeroPage backs hole reads that need a real byte region without
// materializing the hole.
var zeroPage [4 * KiB]byte

type streamState int

const (
	stateReadWrite   streamState = iota // Normal operation.
	stateReadForward                    // Monotonic reads only; consumed chunks are released eagerly.
	stateDisposed                       // Terminal; all operations fail.
)

func (s streamState) String() string {
	switch s {
	case stateReadWrite:
		return "readWrite"
	case stateReadForward:
		return "readForward"
	case stateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("streamState(%d)", int(s))
	}
}

// SpanFunc is invoked for each chunk-bounded span of an iteration.
// The span is a borrowed view into the chunk's storage, valid only for the
// duration of the call.
type SpanFunc func(p []byte) error

// Stream is a seekable in-memory byte stream over a sparse sequence of chunks.
//
// The logical length and the cursor position are independent: the position may
// be moved past the length, and the next write zero-fills the gap. Regions
// that were never written occupy no memory and read as zero.
type Stream[P ChunkRenter] struct {
	pool       P
	arrayPool  ChunkArrayPooler
	readerPool *readerPool[P]

	// chunks is the sparse backing array. Slots at indices covering the valid
	// region may be null (holes); slots past the valid region are always null.
	chunks   []Chunk
	length   int64
	position int64
	state    streamState

	// released is the next chunk index eligible for eager release while in
	// forward-read state.
	released int
}

// New creates an empty stream backed by the process-wide default pool.
func New() *Stream[*Pool] {
	return Custom[*Pool](DefaultPool(), HeapChunkArrayPool{})
}

// Custom creates an empty stream with a custom chunk pool and chunk-array pool.
func Custom[P ChunkRenter](pool P, arrays ChunkArrayPooler) *Stream[P] {
	s := &Stream[P]{pool: pool, arrayPool: arrays}
	s.readerPool = newReaderPool(s)
	return s
}

// Len returns the stream's logical length in bytes.
func (s *Stream[P]) Len() int64 {
	return s.length
}

// Position returns the cursor position.
func (s *Stream[P]) Position() int64 {
	return s.position
}

// SetPosition moves the cursor to p. The position may exceed the stream's
// length; the next write grows the stream and zero-fills the gap.
func (s *Stream[P]) SetPosition(p int64) error {
	if s.state == stateDisposed {
		return ErrDisposed
	}
	if p < 0 {
		return fmt.Errorf("%w: negative position %d", ErrInvalidArgument, p)
	}
	if s.state == stateReadForward && p < s.position {
		return fmt.Errorf("%w: backward seek in forward-read state", ErrInvalidOperation)
	}
	s.position = p
	if s.state == stateReadForward {
		s.releaseConsumed()
	}
	return nil
}

// Seek sets the cursor position relative to whence.
// It implements the [io.Seeker] interface.
func (s *Stream[P]) Seek(offset int64, whence int) (int64, error) {
	if s.state == stateDisposed {
		return 0, ErrDisposed
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.position
	case io.SeekEnd:
		base = s.length
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", ErrInvalidArgument, whence)
	}
	p := base + offset
	if offset > 0 && p < base {
		return 0, fmt.Errorf("%w: position overflow", ErrInvalidArgument)
	}
	if p < 0 {
		return 0, fmt.Errorf("%w: negative position %d", ErrInvalidArgument, p)
	}
	if err := s.SetPosition(p); err != nil {
		return 0, err
	}
	return p, nil
}

// chunkPos splits an absolute stream position into a chunk index and an
// in-chunk offset.
func (s *Stream[P]) chunkPos(p int64) (chunkIdx int, pos int) {
	size := int64(s.pool.ChunkSize())
	return int(p / size), int(p % size)
}

// chunkPosUpper is the upper-bound form used for range ends: a position on a
// chunk boundary closes the preceding chunk, so that [from, to) iteration is
// uniform. Position 0 closes no chunk at all and reports index -1.
func (s *Stream[P]) chunkPosUpper(p int64) (chunkIdx int, pos int) {
	size := int64(s.pool.ChunkSize())
	idx, off := p/size, p%size
	if off == 0 {
		return int(idx - 1), int(size)
	}
	return int(idx), int(off)
}

// checkSize guards the maximum stream size: every byte position must map to a
// chunk index addressable as an int32.
func (s *Stream[P]) checkSize(p int64) error {
	if p/int64(s.pool.ChunkSize()) > maxChunkIndex {
		return ErrStreamTooLarge
	}
	return nil
}

// ensureChunkCapacity grows the sparse chunk array to hold at least minLen
// slots, doubling through the chunk-array pool.
func (s *Stream[P]) ensureChunkCapacity(minLen int) error {
	if minLen <= len(s.chunks) {
		return nil
	}
	arr, err := s.arrayPool.Rent(max(minLen, 2*len(s.chunks)))
	if err != nil {
		return err
	}
	copy(arr, s.chunks)
	if s.chunks != nil {
		s.arrayPool.Return(s.chunks, true)
	}
	s.chunks = arr
	return nil
}

// readAt copies up to len(p) bytes of the valid region starting at off into p,
// bounded by the stream's length. Holes contribute zero bytes. It does not
// move the cursor. It returns the number of bytes copied.
func (s *Stream[P]) readAt(p []byte, off int64) int {
	total := int(min(int64(len(p)), s.length-off))
	if total <= 0 {
		return 0
	}
	size := s.pool.ChunkSize()
	read := 0
	for read < total {
		idx, o := s.chunkPos(off + int64(read))
		n := min(size-o, total-read)
		dst := p[read : read+n]
		if idx < len(s.chunks) && !s.chunks[idx].IsNull() {
			copy(dst, s.chunks[idx].Slice(o, n))
		} else {
			clear(dst)
		}
		read += n
	}
	return total
}

// Read reads up to len(p) bytes from the cursor position and advances the
// cursor. It implements the [io.Reader] interface; the error is [io.EOF] at
// the end of the stream.
func (s *Stream[P]) Read(p []byte) (int, error) {
	if s.state == stateDisposed {
		return 0, ErrDisposed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := s.readAt(p, s.position)
	if n == 0 {
		return 0, io.EOF
	}
	s.position += int64(n)
	if s.state == stateReadForward {
		s.releaseConsumed()
	}
	return n, nil
}

// ReadByte reads a single byte at the cursor position.
// It implements the [io.ByteReader] interface.
func (s *Stream[P]) ReadByte() (byte, error) {
	if s.state == stateDisposed {
		return 0, ErrDisposed
	}
	if s.position >= s.length {
		return 0, io.EOF
	}
	var b [1]byte
	s.readAt(b[:], s.position)
	s.position++
	if s.state == stateReadForward {
		s.releaseConsumed()
	}
	return b[0], nil
}

// Write writes len(p) bytes at the cursor position, renting chunks on demand
// and growing the stream's length as needed. A write past the logical end
// first zero-fills the gap. It implements the [io.Writer] interface.
func (s *Stream[P]) Write(p []byte) (int, error) {
	if s.state == stateDisposed {
		return 0, ErrDisposed
	}
	if s.state == stateReadForward {
		return 0, fmt.Errorf("%w: write in forward-read state", ErrInvalidOperation)
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := s.position + int64(len(p))
	if end < 0 {
		return 0, ErrStreamTooLarge
	}
	if err := s.checkSize(end); err != nil {
		return 0, err
	}
	if s.position > s.length {
		// Grow the logical length up to the cursor, zero-filling the gap.
		s.resize(s.position)
		s.length = s.position
	}

	lastIdx, _ := s.chunkPosUpper(end)
	if err := s.ensureChunkCapacity(lastIdx + 1); err != nil {
		return 0, err
	}

	size := s.pool.ChunkSize()
	written := 0
	for written < len(p) {
		pos := s.position + int64(written)
		idx, off := s.chunkPos(pos)
		n := min(size-off, len(p)-written)
		if s.chunks[idx].IsNull() {
			// A write that does not start at the chunk boundary, or that lands
			// in the interior of the stream, must see zeroed memory around the
			// copied range.
			zero := off != 0 || s.length > pos
			s.chunks[idx] = s.pool.Rent(zero)
		}
		copy(s.chunks[idx].Slice(off, n), p[written:written+n])
		written += n
	}
	s.position = end
	if end > s.length {
		s.length = end
	}
	return len(p), nil
}

// WriteByte writes a single byte at the cursor position.
// It implements the [io.ByteWriter] interface.
func (s *Stream[P]) WriteByte(b byte) error {
	buf := [1]byte{b}
	_, err := s.Write(buf[:])
	return err
}

// SetLength truncates or grows the stream's logical length.
//
// Shrinking returns every chunk above the new boundary to the pool. Growing
// zeroes the tail of the boundary chunk so that the extended region reads as
// zero; chunk slots beyond it stay null. The cursor is clamped to the new
// length.
func (s *Stream[P]) SetLength(n int64) error {
	if s.state == stateDisposed {
		return ErrDisposed
	}
	if s.state == stateReadForward {
		return fmt.Errorf("%w: truncate in forward-read state", ErrInvalidOperation)
	}
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidArgument, n)
	}
	if err := s.checkSize(n); err != nil {
		return err
	}
	s.resize(n)
	s.length = n
	if s.position > n {
		s.position = n
	}
	return nil
}

// resize zeroes or releases backing chunks for a length change from s.length
// to n. It does not update s.length.
func (s *Stream[P]) resize(n int64) {
	iNew, oNew := s.chunkPosUpper(n)
	iOld, oOld := s.chunkPosUpper(s.length)
	size := s.pool.ChunkSize()
	switch {
	case iNew == iOld:
		if oNew > oOld && iNew < len(s.chunks) && !s.chunks[iNew].IsNull() {
			clear(s.chunks[iNew].Slice(oOld, oNew-oOld))
		}
	case iNew > iOld:
		if iOld >= 0 && iOld < len(s.chunks) && !s.chunks[iOld].IsNull() && oOld < size {
			clear(s.chunks[iOld].Slice(oOld, size-oOld))
		}
	default:
		// Shrink: chunks above the new boundary leave the valid region and
		// must not linger as phantoms.
		for i := min(iOld, len(s.chunks)-1); i > iNew; i-- {
			if !s.chunks[i].IsNull() {
				s.pool.Return(&s.chunks[i])
			}
		}
	}
}

// ForEach invokes fn for every chunk-bounded span in [from, to), ascending.
// Holes in the range are materialized into zeroed pool chunks so that every
// callback sees real memory. The iteration does not move the cursor or change
// the length; a callback that mutates either fails the iteration with
// ErrStreamMutated.
func (s *Stream[P]) ForEach(from, to int64, fn SpanFunc) error {
	return s.forEach(from, to, false, fn)
}

// ForEachContext is like ForEach but checks ctx between chunk callbacks.
func (s *Stream[P]) ForEachContext(ctx context.Context, from, to int64, fn SpanFunc) error {
	return s.forEach(from, to, false, func(p []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(p)
	})
}

func (s *Stream[P]) forEach(from, to int64, release bool, fn SpanFunc) error {
	if s.state == stateDisposed {
		return ErrDisposed
	}
	if s.state == stateReadForward {
		return fmt.Errorf("%w: iterate in forward-read state", ErrInvalidOperation)
	}
	if from < 0 || from > s.length {
		return fmt.Errorf("%w: range start %d out of range [0, %d]", ErrInvalidArgument, from, s.length)
	}
	if to < 0 || to > s.length {
		return fmt.Errorf("%w: range end %d out of range [0, %d]", ErrInvalidArgument, to, s.length)
	}
	if from > to {
		return fmt.Errorf("%w: [%d, %d)", ErrReversedRange, from, to)
	}
	if from == to {
		return nil
	}

	lastIdx, _ := s.chunkPosUpper(to)
	if err := s.ensureChunkCapacity(lastIdx + 1); err != nil {
		return err
	}

	position, length := s.position, s.length
	size := s.pool.ChunkSize()
	for cur := from; cur < to; {
		idx, off := s.chunkPos(cur)
		n := int(min(int64(size-off), to-cur))
		if s.chunks[idx].IsNull() {
			// Materialize the hole so the callback sees real memory.
			s.chunks[idx] = s.pool.Rent(true)
		}
		if err := fn(s.chunks[idx].Slice(off, n)); err != nil {
			return err
		}
		if s.position != position || s.length != length {
			return fmt.Errorf("%w: position or length changed by callback", ErrStreamMutated)
		}
		if release && off == 0 {
			// The span owns the whole chunk; release it now that the
			// callback has consumed it.
			if err := s.pool.Return(&s.chunks[idx]); err != nil {
				return err
			}
		}
		cur += int64(n)
	}
	return nil
}

// MoveTo writes the stream's content from the cursor position to the end into
// w, releasing each fully-owned chunk back to the pool as it is consumed, and
// truncates the stream to the cursor position.
func (s *Stream[P]) MoveTo(w io.Writer) error {
	return s.moveTo(nil, w)
}

// MoveToContext is like MoveTo but checks ctx between chunks. On cancellation
// the chunks already fed to w stay released and the stream's length is
// unchanged; the released prefix reads as zero.
func (s *Stream[P]) MoveToContext(ctx context.Context, w io.Writer) error {
	return s.moveTo(ctx, w)
}

func (s *Stream[P]) moveTo(ctx context.Context, w io.Writer) error {
	if s.state == stateDisposed {
		return ErrDisposed
	}
	if s.state == stateReadForward {
		return fmt.Errorf("%w: move in forward-read state", ErrInvalidOperation)
	}
	if s.position >= s.length {
		return nil
	}
	err := s.forEach(s.position, s.length, true, func(p []byte) error {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		_, err := w.Write(p)
		return err
	})
	if err != nil {
		return err
	}
	s.length = s.position
	return nil
}

// ToArray returns a copy of the stream's logical content. The cursor position
// is unaffected and holes read as zero.
func (s *Stream[P]) ToArray() ([]byte, error) {
	if s.state == stateDisposed {
		return nil, ErrDisposed
	}
	if s.state == stateReadForward {
		return nil, fmt.Errorf("%w: copy in forward-read state", ErrInvalidOperation)
	}
	buf := make([]byte, s.length)
	r := s.readerPool.Get()
	defer s.readerPool.Put(r)
	r.Read(buf)
	return buf, nil
}

// Sum64 returns the xxhash digest of the stream's logical content.
// Holes are hashed as zero bytes without being materialized.
func (s *Stream[P]) Sum64() (uint64, error) {
	if s.state == stateDisposed {
		return 0, ErrDisposed
	}
	if s.state == stateReadForward {
		return 0, fmt.Errorf("%w: hash in forward-read state", ErrInvalidOperation)
	}
	d := xxhash.New()
	r := s.readerPool.Get()
	defer s.readerPool.Put(r)
	if _, err := r.WriteTo(d); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

// StartForwardRead switches the stream into forward-read state with the
// cursor at from. In this state reads are monotonic and every chunk behind
// the cursor is returned to the pool as soon as it is fully consumed;
// writing, truncating and seeking backward fail with ErrInvalidOperation.
// The only transition out of forward-read state is Close.
func (s *Stream[P]) StartForwardRead(from int64) error {
	if s.state == stateDisposed {
		return ErrDisposed
	}
	if s.state == stateReadForward {
		return fmt.Errorf("%w: already in forward-read state", ErrInvalidOperation)
	}
	if from < 0 || from > s.length {
		return fmt.Errorf("%w: position %d out of range [0, %d]", ErrInvalidArgument, from, s.length)
	}
	s.position = from
	s.state = stateReadForward
	s.released = 0
	s.releaseConsumed()
	return nil
}

// releaseConsumed returns every chunk strictly behind the cursor to the pool.
// Only called in forward-read state, where the cursor never moves backward.
func (s *Stream[P]) releaseConsumed() {
	idx, _ := s.chunkPos(s.position)
	for i := s.released; i < idx && i < len(s.chunks); i++ {
		if !s.chunks[i].IsNull() {
			s.pool.Return(&s.chunks[i])
		}
		s.released = i + 1
	}
}

// Close disposes the stream: every non-null chunk is returned to the pool in
// descending index order and the chunk array is returned to its pool. Close is
// idempotent and never fails; after it, every other operation fails with
// ErrDisposed.
func (s *Stream[P]) Close() error {
	if s.state == stateDisposed {
		return nil
	}
	for i := len(s.chunks) - 1; i >= 0; i-- {
		if !s.chunks[i].IsNull() {
			s.pool.Return(&s.chunks[i])
		}
	}
	if s.chunks != nil {
		// Every slot is already null after the returns above.
		s.arrayPool.Return(s.chunks, false)
		s.chunks = nil
	}
	s.length = 0
	s.position = 0
	s.state = stateDisposed
	return nil
}
