package agent

import (
	"fmt"
	"sort"
	"strings"
)

// TaskContext is the hand-off package a worker receives when its task is
// dispatched: the run goal, the task itself, and the results of every
// completed predecessor.
type TaskContext struct {
	OriginalGoal string
	RunID        string
	TaskID       string
	TaskTitle    string
	TaskBody     string
	// PredecessorResults maps predecessor task ID to its result payload.
	PredecessorResults map[string]map[string]any
}

// Render produces the user-message text for the first turn of a task.
// Predecessor sections are ordered by task ID so the prompt is stable.
func (tc *TaskContext) Render() string {
	var b strings.Builder

	if tc.OriginalGoal != "" {
		fmt.Fprintf(&b, "Overall goal: %s\n\n", tc.OriginalGoal)
	}
	fmt.Fprintf(&b, "Your task: %s", tc.TaskTitle)
	if tc.TaskBody != "" {
		fmt.Fprintf(&b, "\n%s", tc.TaskBody)
	}

	if len(tc.PredecessorResults) > 0 {
		b.WriteString("\n\nResults from completed predecessor tasks:\n")
		ids := make([]string, 0, len(tc.PredecessorResults))
		for id := range tc.PredecessorResults {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "\n[%s]\n%s\n", id, renderResult(tc.PredecessorResults[id]))
		}
	}
	return b.String()
}

// renderResult flattens a result payload into key: value lines, keys sorted.
func renderResult(result map[string]any) string {
	if len(result) == 0 {
		return "(no output)"
	}
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %v", k, result[k])
	}
	return b.String()
}
