package projection

import "github.com/colonyforge/hiveforge/pkg/event"

// RunState is the lifecycle state of a run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunAborted   RunState = "aborted"
)

// Terminal reports whether no further transitions are legal.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunAborted
}

// TaskState is the lifecycle state of a task inside a run.
// task.assigned moves a task straight to in_progress; "assigned" exists as
// an event, not as a distinct projected state.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskInProgress TaskState = "in_progress"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskBlocked    TaskState = "blocked"
)

// Terminal reports whether the task can no longer progress.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskBlocked
}

// RequirementState is the lifecycle state of an open requirement.
type RequirementState string

const (
	RequirementPending  RequirementState = "pending"
	RequirementApproved RequirementState = "approved"
	RequirementRejected RequirementState = "rejected"
)

// TaskProjection is the folded view of one task.
type TaskProjection struct {
	TaskID       string         `json:"task_id"`
	Title        string         `json:"title"`
	State        TaskState      `json:"state"`
	Assignee     string         `json:"assignee,omitempty"`
	Progress     int            `json:"progress"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	BlockedBy    []string       `json:"blocked_by,omitempty"`
}

// RequirementProjection is the folded view of one requirement.
type RequirementProjection struct {
	RequirementID string           `json:"requirement_id"`
	Question      string           `json:"question"`
	State         RequirementState `json:"state"`
	DecidedBy     string           `json:"decided_by,omitempty"`
}

// RunProjection is the folded view of a run stream.
type RunProjection struct {
	RunID        string                            `json:"run_id"`
	State        RunState                          `json:"state"`
	Goal         string                            `json:"goal,omitempty"`
	Tasks        map[string]*TaskProjection        `json:"tasks"`
	Requirements map[string]*RequirementProjection `json:"requirements"`
	EventCount   int                               `json:"event_count"`
	StartedAt    string                            `json:"started_at,omitempty"`
	CompletedAt  string                            `json:"completed_at,omitempty"`
	Errors       []TransitionError                 `json:"errors,omitempty"`
}

// NewRunProjection returns an empty projection in the pending state.
func NewRunProjection(runID string) *RunProjection {
	return &RunProjection{
		RunID:        runID,
		State:        RunPending,
		Tasks:        make(map[string]*TaskProjection),
		Requirements: make(map[string]*RequirementProjection),
	}
}

// Apply folds one event. Every event counts toward EventCount; only known
// lifecycle types mutate state.
func (p *RunProjection) Apply(e *event.Event) {
	p.EventCount++

	switch e.Type {
	case event.TypeRunStarted:
		if p.State != RunPending {
			p.fail(e, "run.started in state %s", p.State)
			return
		}
		p.State = RunRunning
		p.Goal = event.Str(e.Payload, "goal")
		p.StartedAt = e.Timestamp

	case event.TypeRunCompleted:
		if p.State != RunRunning {
			p.fail(e, "run.completed in state %s", p.State)
			return
		}
		p.State = RunCompleted
		p.CompletedAt = e.Timestamp

	case event.TypeRunFailed:
		if p.State != RunRunning {
			p.fail(e, "run.failed in state %s", p.State)
			return
		}
		p.State = RunFailed
		p.CompletedAt = e.Timestamp

	case event.TypeRunAborted:
		if p.State.Terminal() {
			p.fail(e, "run.aborted in terminal state %s", p.State)
			return
		}
		p.State = RunAborted
		p.CompletedAt = e.Timestamp

	case event.TypeTaskCreated:
		if e.TaskID == "" {
			p.fail(e, "task.created without task_id")
			return
		}
		if _, exists := p.Tasks[e.TaskID]; exists {
			p.fail(e, "duplicate task.created for %s", e.TaskID)
			return
		}
		p.Tasks[e.TaskID] = &TaskProjection{
			TaskID:    e.TaskID,
			Title:     event.Str(e.Payload, "title"),
			State:     TaskPending,
			DependsOn: event.Strings(e.Payload, "depends_on"),
		}

	case event.TypeTaskAssigned:
		task := p.task(e)
		if task == nil {
			return
		}
		task.State = TaskInProgress
		task.Assignee = event.Str(e.Payload, "assignee")

	case event.TypeTaskProgressed:
		task := p.task(e)
		if task == nil {
			return
		}
		task.Progress = event.Int(e.Payload, "progress")

	case event.TypeTaskCompleted:
		task := p.task(e)
		if task == nil {
			return
		}
		task.State = TaskCompleted
		task.Progress = 100
		task.Result = event.Map(e.Payload, "result")

	case event.TypeTaskFailed:
		task := p.task(e)
		if task == nil {
			return
		}
		task.State = TaskFailed
		task.ErrorMessage = event.Str(e.Payload, "error_message")

	case event.TypeTaskBlocked:
		task := p.task(e)
		if task == nil {
			return
		}
		task.State = TaskBlocked
		task.BlockedBy = event.Strings(e.Payload, "blocked_by")

	case event.TypeRequirementCreated:
		id := requirementID(e)
		if id == "" {
			p.fail(e, "requirement.created without requirement id")
			return
		}
		if _, exists := p.Requirements[id]; exists {
			p.fail(e, "duplicate requirement.created for %s", id)
			return
		}
		p.Requirements[id] = &RequirementProjection{
			RequirementID: id,
			Question:      event.Str(e.Payload, "question"),
			State:         RequirementPending,
		}

	case event.TypeRequirementApproved:
		p.decideRequirement(e, RequirementApproved)

	case event.TypeRequirementRejected:
		p.decideRequirement(e, RequirementRejected)
	}
}

func (p *RunProjection) task(e *event.Event) *TaskProjection {
	if e.TaskID == "" {
		p.fail(e, "%s without task_id", e.Type)
		return nil
	}
	task, ok := p.Tasks[e.TaskID]
	if !ok {
		p.fail(e, "%s for unknown task %s", e.Type, e.TaskID)
		return nil
	}
	return task
}

func (p *RunProjection) decideRequirement(e *event.Event, to RequirementState) {
	id := requirementID(e)
	req, ok := p.Requirements[id]
	if !ok {
		p.fail(e, "%s for unknown requirement %q", e.Type, id)
		return
	}
	if req.State != RequirementPending {
		p.fail(e, "%s in state %s", e.Type, req.State)
		return
	}
	req.State = to
	req.DecidedBy = event.Str(e.Payload, "decided_by")
}

func requirementID(e *event.Event) string {
	return event.Str(e.Payload, "requirement_id")
}

func (p *RunProjection) fail(e *event.Event, format string, args ...any) {
	p.Errors = append(p.Errors, illegal(e, format, args...))
}
