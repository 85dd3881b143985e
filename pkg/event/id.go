package event

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// The process-wide ID generator. ULIDs are time-prefixed and the monotonic
// entropy source guarantees strict ordering for IDs minted in the same
// millisecond. lastMs pins the timestamp component against wall-clock
// regression so NewID never moves backwards.
var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
	lastMs    uint64
)

// NewID returns a fresh ULID string: 26 base-32 characters, lexicographically
// sortable, strictly increasing across the process.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()

	ms := ulid.Timestamp(time.Now().UTC())
	if ms < lastMs {
		ms = lastMs
	}
	lastMs = ms
	return ulid.MustNew(ms, idEntropy).String()
}

// ParseID validates that s is a well-formed ULID.
func ParseID(s string) error {
	_, err := ulid.ParseStrict(s)
	return err
}
