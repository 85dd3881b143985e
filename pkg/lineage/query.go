package lineage

import (
	"fmt"
	"sort"

	"github.com/colonyforge/hiveforge/pkg/akashic"
	"github.com/colonyforge/hiveforge/pkg/event"
)

// DefaultMaxDepth bounds a lineage walk when the caller does not.
const DefaultMaxDepth = 100

// Node is one event in a lineage graph.
type Node struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Actor   string   `json:"actor"`
	Depth   int      `json:"depth"`
	Parents []string `json:"parents"`
}

// Graph is the ancestry of one event: the root plus every transitive
// parent reachable within the depth bound.
type Graph struct {
	Root  string `json:"root"`
	Nodes []Node `json:"nodes"`
	// Truncated is true when the depth bound cut the walk short.
	Truncated bool `json:"truncated,omitempty"`
}

// Query walks the parent DAG of eventID breadth-first over the stream's
// history. maxDepth <= 0 means DefaultMaxDepth. Parent IDs that do not
// resolve to a stored event are listed on the child but produce no node.
func Query(store *akashic.Store, streamID, eventID string, maxDepth int) (*Graph, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	events, err := store.ReplayAll(streamID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*event.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	root, ok := byID[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, akashic.ErrEventNotFound)
	}

	graph := &Graph{Root: root.ID}
	visited := map[string]struct{}{root.ID: {}}

	type queued struct {
		e     *event.Event
		depth int
	}
	queue := []queued{{root, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		parents := append([]string{}, cur.e.Parents...)
		sort.Strings(parents)
		graph.Nodes = append(graph.Nodes, Node{
			ID:      cur.e.ID,
			Type:    string(cur.e.Type),
			Actor:   cur.e.Actor,
			Depth:   cur.depth,
			Parents: parents,
		})

		if cur.depth >= maxDepth {
			if len(parents) > 0 {
				graph.Truncated = true
			}
			continue
		}
		for _, pid := range parents {
			if _, seen := visited[pid]; seen {
				continue
			}
			visited[pid] = struct{}{}
			parent, stored := byID[pid]
			if !stored {
				continue
			}
			queue = append(queue, queued{parent, cur.depth + 1})
		}
	}
	return graph, nil
}
