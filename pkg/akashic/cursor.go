package akashic

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// Cursor streams a stream's events in insertion order without locking the
// append path. It reads the file as it was at each Next call; a trailing
// line with no newline yet is treated as not written and ends the scan.
type Cursor struct {
	file   *os.File
	reader *bufio.Reader
	offset int64     // bytes consumed through the last complete line
	index  int       // events returned so far
	since  time.Time // zero means no filter
}

// Replay opens a cursor over the whole stream.
func (s *Store) Replay(streamID string) (*Cursor, error) {
	return s.ReplayFrom(streamID, 0)
}

// ReplaySince opens a cursor skipping events with timestamp < since.
func (s *Store) ReplaySince(streamID string, since time.Time) (*Cursor, error) {
	cur, err := s.ReplayFrom(streamID, 0)
	if err != nil {
		return nil, err
	}
	cur.since = since
	return cur, nil
}

// ReplayFrom opens a cursor at a byte offset previously obtained from
// Cursor.Offset. Offset 0 is the stream start.
func (s *Store) ReplayFrom(streamID string, offset int64) (*Cursor, error) {
	if err := ValidateStreamID(streamID); err != nil {
		return nil, err
	}
	return openCursor(filepath.Join(s.root, streamID, EventsFileName), offset)
}

// ReplayAll collects the full stream into memory. Convenience for
// projections and tests; large streams should use Replay.
func (s *Store) ReplayAll(streamID string) ([]*event.Event, error) {
	cur, err := s.Replay(streamID)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var events []*event.Event
	for {
		e, err := cur.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}

func openCursor(path string, offset int64) (*Cursor, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, filepath.Base(filepath.Dir(path)))
		}
		return nil, &StorageError{Op: "open", Stream: filepath.Base(filepath.Dir(path)), Err: err}
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, &StorageError{Op: "open", Stream: filepath.Base(filepath.Dir(path)), Err: err}
		}
	}
	return &Cursor{
		file:   f,
		reader: bufio.NewReaderSize(f, 64*1024),
		offset: offset,
	}, nil
}

// Next returns the next event or io.EOF at the end of the written stream.
// Blank lines are skipped; an unparseable complete line is ErrCorruptEvent.
func (c *Cursor) Next() (*event.Event, error) {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err == io.EOF {
			// Partial tail line: a writer is mid-append. Not ours yet.
			return nil, io.EOF
		}
		if err != nil {
			return nil, &StorageError{Op: "replay", Stream: "", Err: err}
		}
		c.offset += int64(len(line))

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		e, perr := event.Parse(trimmed)
		if perr != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrCorruptEvent, c.index, perr)
		}
		c.index++

		if !c.since.IsZero() {
			ts, terr := e.Time()
			if terr != nil || ts.Before(c.since) {
				continue
			}
		}
		return e, nil
	}
}

// Offset returns the byte position after the last complete line consumed.
// Feed it back to ReplayFrom to resume.
func (c *Cursor) Offset() int64 { return c.offset }

// Index returns how many events Next has returned.
func (c *Cursor) Index() int { return c.index }

// Close releases the underlying file.
func (c *Cursor) Close() error { return c.file.Close() }

// VerifyChain checks every event in the stream: its own hash must be
// recomputable from its content, and its prev_hash must equal the
// predecessor's hash (empty for the first event). Returns ok=true with
// firstFailure=-1, or ok=false with the index of the first offending event.
// The error return is reserved for I/O problems.
func (s *Store) VerifyChain(streamID string) (bool, int, error) {
	cur, err := s.Replay(streamID)
	if err != nil {
		return false, 0, err
	}
	defer cur.Close()

	prevHash := ""
	idx := 0
	for {
		e, err := cur.Next()
		if err == io.EOF {
			return true, -1, nil
		}
		if errors.Is(err, ErrCorruptEvent) {
			return false, idx, nil
		}
		if err != nil {
			return false, idx, err
		}

		if e.PrevHash != prevHash {
			return false, idx, nil
		}
		if verr := e.Verify(); verr != nil {
			return false, idx, nil
		}
		prevHash = e.Hash
		idx++
	}
}
