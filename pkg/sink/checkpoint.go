package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// checkpointFile is the JSON sidecar persisted per stream per sink.
type checkpointFile struct {
	LastAppliedEventID string         `json:"last_applied_event_id"`
	SyncedEventIDs     []string       `json:"synced_event_ids"`
	State              map[string]any `json:"state,omitempty"`
}

// checkpoint tracks which event IDs a sink has applied on one stream.
// Sidecars live beside events.jsonl and are owned by the sink layer; the
// core store never reads them.
type checkpoint struct {
	path   string
	last   string
	synced map[string]struct{}
	state  map[string]any
}

func checkpointPath(root, streamID, sinkName string) string {
	return filepath.Join(root, streamID, "sink."+sinkName+".json")
}

// loadCheckpoint reads a sidecar, returning an empty checkpoint when the
// file does not exist yet.
func loadCheckpoint(path string) (*checkpoint, error) {
	cp := &checkpoint{path: path, synced: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var file checkpointFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	cp.last = file.LastAppliedEventID
	for _, id := range file.SyncedEventIDs {
		cp.synced[id] = struct{}{}
	}
	cp.state = file.State
	return cp, nil
}

func (c *checkpoint) has(eventID string) bool {
	_, ok := c.synced[eventID]
	return ok
}

func (c *checkpoint) mark(eventID string) {
	c.synced[eventID] = struct{}{}
	c.last = eventID
}

// save writes the sidecar atomically via a temp file rename.
func (c *checkpoint) save() error {
	ids := make([]string, 0, len(c.synced))
	for id := range c.synced {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, err := json.MarshalIndent(checkpointFile{
		LastAppliedEventID: c.last,
		SyncedEventIDs:     ids,
		State:              c.state,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", c.path, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("commit checkpoint %s: %w", c.path, err)
	}
	return nil
}
