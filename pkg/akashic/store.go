// Package akashic implements the Akashic Record: a per-stream, append-only,
// hash-chained event log rooted at a Vault directory.
//
// Layout:
//
//	<vault>/<stream_id>/events.jsonl   one canonical JSON event per line
//
// A single process owns a Vault. Appends to one stream are serialised by a
// per-stream mutex and chained via prev_hash; readers replay the file
// without locks and tolerate one unterminated tail line. Durability is
// write-per-append with batched fsync (time or count threshold, whichever
// trips first).
package akashic

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// EventsFileName is the per-stream log file name. Directories under the
// Vault root without this file are not streams.
const EventsFileName = "events.jsonl"

var streamIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateStreamID rejects anything outside the safe charset: path
// separators, "..", control bytes and over-long names all fail the pattern.
func ValidateStreamID(id string) error {
	if !streamIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidStreamID, id)
	}
	return nil
}

// Option configures a Store.
type Option func(*Store)

// WithFsyncBatch overrides the fsync batching thresholds (default 50 ms / 32
// appends, whichever first).
func WithFsyncBatch(cfg FsyncConfig) Option {
	return func(s *Store) { s.fsyncCfg = cfg }
}

// Store is the Vault-rooted event store. Safe for concurrent use.
type Store struct {
	root     string
	fsyncCfg FsyncConfig

	mu      sync.Mutex // guards streams
	streams map[string]*stream

	flusher *flusher
	watch   *watcher
}

// stream holds the mutable per-stream state: the append lock, the open
// O_APPEND handle, and the tail cache (last sealed event) that supplies
// prev_hash in O(1).
type stream struct {
	id   string
	path string

	mu        sync.Mutex
	file      *os.File
	tail      *event.Event // last appended event; nil when unknown or empty
	tailValid bool         // true once tail reflects the file contents
	syncErr   error        // sticky error from a failed batched fsync
}

// Open creates the Vault root if needed and returns a ready Store.
func Open(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("vault root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &StorageError{Op: "open", Stream: "", Err: err}
	}
	s := &Store{
		root:     root,
		fsyncCfg: DefaultFsyncConfig(),
		streams:  make(map[string]*stream),
		watch:    newWatcher(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.flusher = newFlusher(s.fsyncCfg)
	s.flusher.start()
	slog.Info("Akashic record opened",
		"vault", root,
		"fsync_interval", s.fsyncCfg.Interval,
		"fsync_batch", s.fsyncCfg.Batch)
	return s, nil
}

// Root returns the Vault root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) streamFor(id string) (*stream, error) {
	if err := ValidateStreamID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		st = &stream{
			id:   id,
			path: filepath.Join(s.root, id, EventsFileName),
		}
		s.streams[id] = st
	}
	return st, nil
}

// Append seals e against the stream tail and writes it as one line.
// On success the sealed event (same pointer) is returned. On any write
// failure the tail cache is invalidated and the raw error is surfaced
// wrapped in StorageError; a partially written line is truncated away so
// the file never carries one.
func (s *Store) Append(streamID string, e *event.Event) (*event.Event, error) {
	st, err := s.streamFor(streamID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.syncErr != nil {
		err := st.syncErr
		st.syncErr = nil
		st.invalidate()
		return nil, &StorageError{Op: "sync", Stream: streamID, Err: err}
	}

	if err := st.ensureOpen(); err != nil {
		return nil, &StorageError{Op: "open", Stream: streamID, Err: err}
	}
	if err := st.ensureTail(); err != nil {
		return nil, err
	}

	prevHash := ""
	if st.tail != nil {
		prevHash = st.tail.Hash
		// A producer that minted its ID before losing the append race would
		// break ID monotonicity. The event is unsealed (nothing references
		// its ID yet), so re-mint under the lock; the generator is globally
		// monotonic, so the fresh ID sorts after the tail.
		if e.ID <= st.tail.ID {
			e.ID = event.NewID()
		}
	}

	if err := e.Seal(prevHash); err != nil {
		return nil, err
	}

	line, err := e.MarshalJSON()
	if err != nil {
		st.invalidate()
		return nil, &StorageError{Op: "append", Stream: streamID, Err: err}
	}
	line = append(line, '\n')

	info, err := st.file.Stat()
	if err != nil {
		st.invalidate()
		return nil, &StorageError{Op: "append", Stream: streamID, Err: err}
	}
	sizeBefore := info.Size()

	n, err := st.file.Write(line)
	if err != nil || n != len(line) {
		// Roll back any partial line so readers never see it.
		if terr := st.file.Truncate(sizeBefore); terr != nil {
			slog.Error("Failed to truncate partial append",
				"stream", streamID, "error", terr)
		}
		st.invalidate()
		if err == nil {
			err = io.ErrShortWrite
		}
		return nil, &StorageError{Op: "append", Stream: streamID, Err: err}
	}

	st.tail = e
	st.tailValid = true
	s.flusher.schedule(st)
	s.watch.wake(streamID)
	return e, nil
}

// LastEvent returns the stream's newest event in O(1) once the tail cache is
// warm. ok is false for an empty or absent stream.
func (s *Store) LastEvent(streamID string) (*event.Event, bool, error) {
	st, err := s.streamFor(streamID)
	if err != nil {
		return nil, false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.ensureTail(); err != nil {
		return nil, false, err
	}
	if st.tail == nil {
		return nil, false, nil
	}
	return st.tail.Clone(), true, nil
}

// CountEvents scans the stream and counts events. Linear; admin use.
func (s *Store) CountEvents(streamID string) (int, error) {
	cur, err := s.Replay(streamID)
	if err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			return 0, nil
		}
		return 0, err
	}
	defer cur.Close()
	n := 0
	for {
		_, err := cur.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// ListStreams enumerates directories under the Vault root that contain an
// events file.
func (s *Store) ListStreams() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &StorageError{Op: "open", Stream: "", Err: err}
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), EventsFileName)); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// ExportStream copies the stream's events file byte-for-byte to dest and
// returns the number of events copied.
func (s *Store) ExportStream(streamID, dest string) (int, error) {
	if err := ValidateStreamID(streamID); err != nil {
		return 0, err
	}
	src, err := os.Open(filepath.Join(s.root, streamID, EventsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
		}
		return 0, &StorageError{Op: "export", Stream: streamID, Err: err}
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, &StorageError{Op: "export", Stream: streamID, Err: err}
	}
	defer out.Close()

	counter := &lineCounter{}
	if _, err := io.Copy(out, io.TeeReader(src, counter)); err != nil {
		return 0, &StorageError{Op: "export", Stream: streamID, Err: err}
	}
	if err := out.Sync(); err != nil {
		return 0, &StorageError{Op: "export", Stream: streamID, Err: err}
	}
	return counter.lines, nil
}

// Sync forces an fsync of every stream with unsynced appends. Used at
// shutdown and by tests that need durability now.
func (s *Store) Sync() error {
	return s.flusher.syncAll()
}

// Close fsyncs outstanding appends, stops the flusher, and closes all
// stream handles.
func (s *Store) Close() error {
	err := s.flusher.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams {
		st.mu.Lock()
		if st.file != nil {
			if cerr := st.file.Close(); cerr != nil && err == nil {
				err = cerr
			}
			st.file = nil
		}
		st.mu.Unlock()
	}
	slog.Info("Akashic record closed", "vault", s.root)
	return err
}

// ensureOpen opens the events file with O_APPEND, creating the stream
// directory on first use. Caller holds st.mu.
func (st *stream) ensureOpen() error {
	if st.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(st.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	st.file = f
	return nil
}

// ensureTail loads the tail cache with a file scan on cold start. Caller
// holds st.mu.
func (st *stream) ensureTail() error {
	if st.tailValid {
		return nil
	}
	last, err := scanLastEvent(st.path)
	if err != nil {
		return err
	}
	st.tail = last
	st.tailValid = true
	return nil
}

func (st *stream) invalidate() {
	st.tail = nil
	st.tailValid = false
}

// scanLastEvent reads the stream file and returns its last complete event,
// or nil when the file is absent or empty.
func scanLastEvent(path string) (*event.Event, error) {
	cur, err := openCursor(path, 0)
	if err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer cur.Close()

	var last *event.Event
	for {
		e, err := cur.Next()
		if err == io.EOF {
			return last, nil
		}
		if err != nil {
			return nil, err
		}
		last = e
	}
}

type lineCounter struct{ lines int }

func (c *lineCounter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			c.lines++
		}
	}
	return len(p), nil
}
