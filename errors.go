package chunkstream

import "errors"

var (
	// ErrInvalidArgument reports a negative size, position or count, or an
	// out-of-range pool configuration.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrForeignChunk reports a chunk returned to a pool it was not rented from.
	ErrForeignChunk = errors.New("chunk does not belong to this pool")

	// ErrDisposed reports an operation on a disposed stream.
	ErrDisposed = errors.New("stream is disposed")

	// ErrStreamTooLarge reports a stream position whose chunk index would
	// exceed the maximum addressable chunk count.
	ErrStreamTooLarge = errors.New("stream is too large")

	// ErrReversedRange reports an iteration range whose start exceeds its end.
	ErrReversedRange = errors.New("range start exceeds range end")

	// ErrStreamMutated reports a callback that changed the stream's position
	// or length while a chunk iteration was in progress.
	ErrStreamMutated = errors.New("stream mutated during iteration")

	// ErrInvalidOperation reports an operation that is not allowed in the
	// stream's current state, e.g. writing in forward-read state.
	ErrInvalidOperation = errors.New("operation not allowed in current state")
)
