package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// TimeFormat renders timestamps as RFC 3339 UTC with microsecond precision.
// Events minted by this process always use this layout; events written by
// other implementations keep their original string (see Timestamp below).
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

var (
	// ErrAlreadySealed is returned by Seal on an event that has a hash.
	ErrAlreadySealed = errors.New("event already sealed")
	// ErrNotSealed is returned by Verify on an event without a hash.
	ErrNotSealed = errors.New("event not sealed")
	// ErrHashMismatch is returned by Verify when the stored hash does not
	// match the recomputed content hash.
	ErrHashMismatch = errors.New("event hash mismatch")
)

// Event is one record in the Akashic Record. Fields mirror the wire shape
// one-to-one; RunID, TaskID and PrevHash serialise as null when empty.
//
// Timestamp is kept as its wire string rather than time.Time so that a
// parsed event re-serialises byte-identically regardless of which
// implementation wrote it (fractional-second width varies). Use Time() for
// comparisons.
type Event struct {
	ID        string
	Type      Type
	Timestamp string
	RunID     string
	TaskID    string
	Actor     string
	Payload   map[string]any
	Parents   []string
	PrevHash  string
	Hash      string
}

// Option configures an event under construction.
type Option func(*Event)

// WithRunID sets the owning run.
func WithRunID(id string) Option { return func(e *Event) { e.RunID = id } }

// WithTaskID sets the owning task.
func WithTaskID(id string) Option { return func(e *Event) { e.TaskID = id } }

// WithActor sets the acting identity (user, beekeeper, queen:<colony>, …).
func WithActor(actor string) Option { return func(e *Event) { e.Actor = actor } }

// WithPayload sets the type-indexed payload. The map is deep-copied and its
// string values are NFC-normalised so the content hash is independent of the
// caller's Unicode composition.
func WithPayload(p map[string]any) Option {
	return func(e *Event) {
		m, _ := normalizeValue(p).(map[string]any)
		e.Payload = m
	}
}

// WithParents sets explicit causal parents, overriding lineage resolution.
func WithParents(ids ...string) Option {
	return func(e *Event) { e.Parents = append([]string(nil), ids...) }
}

// New creates an unsealed event: fresh ULID, UTC timestamp, empty parents,
// prev_hash and hash unset. Seal fills the latter two at the append boundary.
func New(t Type, opts ...Option) *Event {
	e := &Event{
		ID:        NewID(),
		Type:      t,
		Timestamp: time.Now().UTC().Format(TimeFormat),
		Actor:     "system",
		Payload:   map[string]any{},
		Parents:   []string{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Actor = nfc(e.Actor)
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if e.Parents == nil {
		e.Parents = []string{}
	}
	return e
}

// Seal fixes the event's position in its chain: prev_hash is set to the
// predecessor's hash ("" for the first event of a stream) and the content
// hash is computed. Called exactly once per event; sealing twice errors.
func (e *Event) Seal(prevHash string) error {
	if e.Hash != "" {
		return ErrAlreadySealed
	}
	e.PrevHash = prevHash
	h, err := e.ComputeHash()
	if err != nil {
		return fmt.Errorf("compute hash: %w", err)
	}
	e.Hash = h
	return nil
}

// Verify recomputes the content hash and compares it to the stored one.
func (e *Event) Verify() error {
	if e.Hash == "" {
		return ErrNotSealed
	}
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	if h != e.Hash {
		return fmt.Errorf("%w: stored %s, computed %s", ErrHashMismatch, e.Hash, h)
	}
	return nil
}

// Time parses the event timestamp. Accepts any RFC 3339 fractional width.
func (e *Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// Clone returns an independent deep copy.
func (e *Event) Clone() *Event {
	c := *e
	c.Parents = append([]string(nil), e.Parents...)
	if e.Payload != nil {
		c.Payload, _ = normalizeValue(e.Payload).(map[string]any)
	}
	return &c
}

// wireEvent is the JSON shape: empty RunID/TaskID/PrevHash become null,
// parents and payload are never null.
type wireEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	RunID     *string        `json:"run_id"`
	TaskID    *string        `json:"task_id"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload"`
	Parents   []string       `json:"parents"`
	PrevHash  *string        `json:"prev_hash"`
	Hash      string         `json:"hash,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (e Event) wire(includeHash bool) wireEvent {
	w := wireEvent{
		ID:        e.ID,
		Type:      string(e.Type),
		Timestamp: e.Timestamp,
		RunID:     optional(e.RunID),
		TaskID:    optional(e.TaskID),
		Actor:     e.Actor,
		Payload:   e.Payload,
		Parents:   e.Parents,
		PrevHash:  optional(e.PrevHash),
	}
	if w.Payload == nil {
		w.Payload = map[string]any{}
	}
	if w.Parents == nil {
		w.Parents = []string{}
	}
	if includeHash {
		w.Hash = e.Hash
	}
	return w
}

// MarshalJSON emits the canonical (RFC 8785) form including the hash field.
// This is the exact byte form stored on disk, one event per line.
func (e Event) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.wire(true))
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// Parse decodes one JSON line into an Event. Numbers inside the payload are
// kept as json.Number so the digits that were written are the digits we
// re-emit; canonicalisation then renders them identically on both sides of
// a round trip.
func Parse(line []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if w.ID == "" {
		return nil, errors.New("parse event: missing id")
	}
	e := &Event{
		ID:        w.ID,
		Type:      Type(w.Type),
		Timestamp: w.Timestamp,
		Actor:     w.Actor,
		Payload:   w.Payload,
		Parents:   w.Parents,
		Hash:      w.Hash,
	}
	if w.RunID != nil {
		e.RunID = *w.RunID
	}
	if w.TaskID != nil {
		e.TaskID = *w.TaskID
	}
	if w.PrevHash != nil {
		e.PrevHash = *w.PrevHash
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if e.Parents == nil {
		e.Parents = []string{}
	}
	return e, nil
}
