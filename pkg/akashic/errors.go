package akashic

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStreamID rejects stream IDs outside [A-Za-z0-9_-]{1,128}
	// (covers path traversal, separators, control bytes).
	ErrInvalidStreamID = errors.New("invalid stream id")

	// ErrStreamNotFound is returned when reading a stream that has no
	// events file.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrChainMismatch marks a prev_hash that does not match the
	// predecessor's recomputed hash.
	ErrChainMismatch = errors.New("hash chain mismatch")

	// ErrCorruptEvent marks a line that cannot be parsed or whose stored
	// hash does not match its content.
	ErrCorruptEvent = errors.New("corrupt event")

	// ErrEventNotFound is returned when an event ID does not exist in the
	// stream being queried.
	ErrEventNotFound = errors.New("event not found")
)

// StorageError wraps an underlying I/O failure on the append/replay path.
// The raw cause is preserved for errors.Is/As.
type StorageError struct {
	Op     string // "append", "sync", "open", "export"
	Stream string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for stream %q: %v", e.Op, e.Stream, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
