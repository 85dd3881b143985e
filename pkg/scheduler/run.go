package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/projection"
)

// RunOption adjusts StartRun.
type RunOption func(*runState)

// InColony binds the run to a colony so its result feeds the colony
// progress roll-up.
func InColony(colonyID string) RunOption {
	return func(r *runState) { r.colonyID = colonyID }
}

// StartRun opens a run stream, emits run.started, registers the run with
// the watchdog, and returns the run ID.
func (s *Scheduler) StartRun(goal string, opts ...RunOption) (string, error) {
	if goal == "" {
		return "", NewValidationError("goal", "required")
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	runID := newID("run")
	ctx, cancel := context.WithCancel(context.Background())
	run := &runState{
		runID:       runID,
		proj:        projection.NewRunProjection(runID),
		ctx:         ctx,
		cancel:      cancel,
		taskCancels: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(run)
	}
	if run.colonyID != "" {
		hiveID, ok := s.colonies[run.colonyID]
		if !ok {
			s.mu.Unlock()
			cancel()
			return "", fmt.Errorf("colony %s: %w", run.colonyID, ErrNotFound)
		}
		run.hiveID = hiveID
	}
	s.runs[runID] = run
	s.mu.Unlock()

	payload := event.RunStartedPayload(goal)
	if run.colonyID != "" {
		payload["colony_id"] = run.colonyID
	}
	_, err := s.append(runID, event.New(event.TypeRunStarted,
		event.WithRunID(runID),
		event.WithActor(s.opts.Actor),
		event.WithPayload(payload),
	))
	if err != nil {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
		cancel()
		return "", fmt.Errorf("start run: %w", err)
	}

	s.watchdog.Register(ctx, runID)
	s.log.Info("Run started", "run_id", runID, "colony_id", run.colonyID)
	return runID, nil
}

// CreateTask plans a task inside a running run. depends_on must name
// existing tasks.
func (s *Scheduler) CreateTask(runID, title, description string, dependsOn []string) (string, error) {
	if title == "" {
		return "", NewValidationError("title", "required")
	}

	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if run.proj.State != projection.RunRunning {
		s.mu.Unlock()
		return "", fmt.Errorf("run %s in state %s: %w", runID, run.proj.State, ErrConflict)
	}
	for _, dep := range dependsOn {
		if _, exists := run.proj.Tasks[dep]; !exists {
			s.mu.Unlock()
			return "", NewValidationError("depends_on", fmt.Sprintf("unknown task %q", dep))
		}
	}
	taskID := newID("task")
	s.mu.Unlock()

	_, err := s.append(runID, event.New(event.TypeTaskCreated,
		event.WithRunID(runID),
		event.WithTaskID(taskID),
		event.WithActor(s.opts.Actor),
		event.WithPayload(event.TaskCreatedPayload(title, description, dependsOn)),
	))
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return taskID, nil
}

// CompleteTask records a task result (the manual REST path; dispatched
// tasks complete through the dispatcher).
func (s *Scheduler) CompleteTask(runID, taskID string, result map[string]any) error {
	if err := s.checkTask(runID, taskID, projection.TaskPending, projection.TaskInProgress); err != nil {
		return err
	}
	_, err := s.append(runID, event.New(event.TypeTaskCompleted,
		event.WithRunID(runID),
		event.WithTaskID(taskID),
		event.WithActor(s.opts.Actor),
		event.WithPayload(event.TaskCompletedPayload(result)),
	))
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return s.propagateBlocked(runID)
}

// FailTask records a task failure and blocks its transitive dependents.
func (s *Scheduler) FailTask(runID, taskID, errorMessage string) error {
	if err := s.checkTask(runID, taskID, projection.TaskPending, projection.TaskInProgress); err != nil {
		return err
	}
	_, err := s.append(runID, event.New(event.TypeTaskFailed,
		event.WithRunID(runID),
		event.WithTaskID(taskID),
		event.WithActor(s.opts.Actor),
		event.WithPayload(event.TaskFailedPayload(errorMessage)),
	))
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return s.propagateBlocked(runID)
}

func (s *Scheduler) checkTask(runID, taskID string, allowed ...projection.TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	task, ok := run.proj.Tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	for _, state := range allowed {
		if task.State == state {
			return nil
		}
	}
	return fmt.Errorf("task %s in state %s: %w", taskID, task.State, ErrConflict)
}

// propagateBlocked marks every pending task with a failed or blocked
// dependency as blocked, repeating until the transitive closure settles.
func (s *Scheduler) propagateBlocked(runID string) error {
	for {
		s.mu.Lock()
		run, ok := s.runs[runID]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		type blocked struct {
			taskID    string
			blockedBy []string
		}
		var toBlock []blocked
		for taskID, task := range run.proj.Tasks {
			if task.State != projection.TaskPending {
				continue
			}
			var by []string
			for _, dep := range task.DependsOn {
				depTask := run.proj.Tasks[dep]
				if depTask == nil {
					continue
				}
				if depTask.State == projection.TaskFailed || depTask.State == projection.TaskBlocked {
					by = append(by, dep)
				}
			}
			if len(by) > 0 {
				sort.Strings(by)
				toBlock = append(toBlock, blocked{taskID, by})
			}
		}
		s.mu.Unlock()

		if len(toBlock) == 0 {
			return nil
		}
		sort.Slice(toBlock, func(i, j int) bool { return toBlock[i].taskID < toBlock[j].taskID })
		for _, b := range toBlock {
			_, err := s.append(runID, event.New(event.TypeTaskBlocked,
				event.WithRunID(runID),
				event.WithTaskID(b.taskID),
				event.WithActor(s.opts.Actor),
				event.WithPayload(event.TaskBlockedPayload(b.blockedBy)),
			))
			if err != nil {
				return fmt.Errorf("block task %s: %w", b.taskID, err)
			}
		}
	}
}

// CompleteRun finishes a running run.
func (s *Scheduler) CompleteRun(runID, summary string) error {
	return s.finishRun(runID, event.TypeRunCompleted, event.RunCompletedPayload(summary))
}

// FailRun fails a running run.
func (s *Scheduler) FailRun(runID, reason string) error {
	return s.finishRun(runID, event.TypeRunFailed, event.RunFailedPayload(reason))
}

func (s *Scheduler) finishRun(runID string, t event.Type, payload map[string]any) error {
	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if run.proj.State != projection.RunRunning {
		s.mu.Unlock()
		return fmt.Errorf("run %s in state %s: %w", runID, run.proj.State, ErrConflict)
	}
	if run.colonyID != "" {
		payload["colony_id"] = run.colonyID
	}
	s.mu.Unlock()

	if _, err := s.append(runID, event.New(t,
		event.WithRunID(runID),
		event.WithActor(s.opts.Actor),
		event.WithPayload(payload),
	)); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}

	s.watchdog.Deregister(runID)
	run.cancel()
	s.log.Info("Run finished", "run_id", runID, "state", string(t))
	return nil
}

// GetRun returns a deep-copied snapshot of the run projection.
func (s *Scheduler) GetRun(runID string) (*projection.RunProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	snap := *run.proj
	snap.Tasks = make(map[string]*projection.TaskProjection, len(run.proj.Tasks))
	for id, task := range run.proj.Tasks {
		t := *task
		snap.Tasks[id] = &t
	}
	snap.Requirements = make(map[string]*projection.RequirementProjection, len(run.proj.Requirements))
	for id, req := range run.proj.Requirements {
		r := *req
		snap.Requirements[id] = &r
	}
	snap.Errors = append([]projection.TransitionError(nil), run.proj.Errors...)
	return &snap, nil
}

// StopScope names what an emergency stop covers.
type StopScope string

const (
	StopRun    StopScope = "run"
	StopColony StopScope = "colony"
	StopHive   StopScope = "hive"
	StopAll    StopScope = "all"
)

// EmergencyStop cancels every active run in scope: each affected run
// stream receives system.emergency_stop then run.aborted, dispatched
// work is cancelled, and undispatched tasks are dropped with the run.
func (s *Scheduler) EmergencyStop(scope StopScope, targetID, reason string) (int, error) {
	if reason == "" {
		return 0, NewValidationError("reason", "required")
	}

	s.mu.Lock()
	var affected []*runState
	for _, run := range s.runs {
		if run.proj.State.Terminal() {
			continue
		}
		switch scope {
		case StopRun:
			if run.runID == targetID {
				affected = append(affected, run)
			}
		case StopColony:
			if run.colonyID == targetID {
				affected = append(affected, run)
			}
		case StopHive:
			if run.hiveID == targetID {
				affected = append(affected, run)
			}
		case StopAll:
			affected = append(affected, run)
		default:
			s.mu.Unlock()
			return 0, NewValidationError("scope", fmt.Sprintf("unknown scope %q", scope))
		}
	}
	s.mu.Unlock()

	if scope == StopRun && len(affected) == 0 {
		return 0, fmt.Errorf("run %s: %w", targetID, ErrNotFound)
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i].runID < affected[j].runID })

	for _, run := range affected {
		if _, err := s.append(run.runID, event.New(event.TypeSystemEmergencyStop,
			event.WithRunID(run.runID),
			event.WithActor(s.opts.Actor),
			event.WithPayload(event.EmergencyStopPayload(string(scope), targetID, reason)),
		)); err != nil {
			return 0, fmt.Errorf("record emergency stop for %s: %w", run.runID, err)
		}

		run.cancel()
		s.mu.Lock()
		for _, cancelTask := range run.taskCancels {
			cancelTask()
		}
		s.mu.Unlock()

		if _, err := s.append(run.runID, event.New(event.TypeRunAborted,
			event.WithRunID(run.runID),
			event.WithActor(s.opts.Actor),
			event.WithPayload(event.RunAbortedPayload(reason)),
		)); err != nil {
			return 0, fmt.Errorf("abort run %s: %w", run.runID, err)
		}
		s.watchdog.Deregister(run.runID)
	}

	s.log.Warn("Emergency stop executed",
		"scope", string(scope), "target_id", targetID, "affected_runs", len(affected), "reason", reason)
	return len(affected), nil
}
