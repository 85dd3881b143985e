package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/colonyforge/hiveforge/pkg/agent"
	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/projection"
	"github.com/colonyforge/hiveforge/pkg/waggle"
)

// TaskExecutor executes one dispatched task and returns its result
// payload. The scheduler owns all event emission around the execution.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, tc *agent.TaskContext) (map[string]any, error)
}

// TaskExecutorFunc adapts a function to TaskExecutor.
type TaskExecutorFunc func(ctx context.Context, tc *agent.TaskContext) (map[string]any, error)

func (f TaskExecutorFunc) ExecuteTask(ctx context.Context, tc *agent.TaskContext) (map[string]any, error) {
	return f(ctx, tc)
}

type taskOutcome struct {
	taskID string
	result map[string]any
	err    error
}

// DispatchRun drives every task of the run to a terminal state: ready
// tasks (all dependencies completed) are handed to exec under a bounded
// worker pool, completions promote dependents, failures block them.
// Returns once all tasks are terminal or the run is cancelled.
func (s *Scheduler) DispatchRun(ctx context.Context, runID string, exec TaskExecutor) error {
	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	goal := run.proj.Goal
	runCtx := run.ctx
	s.mu.Unlock()

	dispatchCtx, cancel := mergeContexts(ctx, runCtx)
	defer cancel()

	s.wg.Add(1)
	defer s.wg.Done()

	slots := make(chan struct{}, s.opts.MaxWorkers)
	// Buffered so workers never block on a departed dispatcher.
	outcomes := make(chan taskOutcome, s.opts.MaxWorkers)
	dispatched := make(map[string]bool)
	inflight := 0

	for {
		// Check the run context as well: its cancellation propagates to
		// dispatchCtx asynchronously, and an emergency stop must win over
		// any worker outcome already queued.
		if err := firstErr(dispatchCtx, runCtx); err != nil {
			// Drain in-flight workers; their contexts are cancelled.
			for inflight > 0 {
				<-outcomes
				inflight--
			}
			return err
		}

		ready, remaining := s.readyTasks(runID, dispatched)
		if len(ready) == 0 && inflight == 0 {
			if remaining == 0 {
				return nil
			}
			return fmt.Errorf("run %s stalled with %d undispatchable tasks: %w", runID, remaining, ErrConflict)
		}

		launched := false
		for _, taskID := range ready {
			acquired := false
			select {
			case slots <- struct{}{}:
				acquired = true
			default:
			}
			if !acquired {
				break
			}
			if err := s.launchTask(dispatchCtx, run, goal, taskID, exec, slots, outcomes); err != nil {
				<-slots
				return err
			}
			dispatched[taskID] = true
			inflight++
			launched = true
		}
		if launched {
			continue
		}

		select {
		case <-dispatchCtx.Done():
			continue
		case outcome := <-outcomes:
			inflight--
			if err := s.settleTask(dispatchCtx, runID, outcome); err != nil {
				return err
			}
		}
	}
}

// readyTasks returns pending tasks whose dependencies are all completed
// and which have not been dispatched, sorted; remaining counts pending
// undispatched tasks overall.
func (s *Scheduler) readyTasks(runID string, dispatched map[string]bool) (ready []string, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, 0
	}
	for taskID, task := range run.proj.Tasks {
		if dispatched[taskID] || task.State != projection.TaskPending {
			continue
		}
		remaining++
		depsDone := true
		for _, dep := range task.DependsOn {
			depTask := run.proj.Tasks[dep]
			if depTask == nil || depTask.State != projection.TaskCompleted {
				depsDone = false
				break
			}
		}
		if depsDone {
			ready = append(ready, taskID)
		}
	}
	sort.Strings(ready)
	return ready, remaining
}

// launchTask emits task.assigned and starts the worker goroutine with its
// own cancel func and heartbeat loop.
func (s *Scheduler) launchTask(ctx context.Context, run *runState, goal, taskID string, exec TaskExecutor, slots chan struct{}, outcomes chan<- taskOutcome) error {
	assignee := "worker:" + taskID

	s.mu.Lock()
	task := run.proj.Tasks[taskID]
	tc := &agent.TaskContext{
		OriginalGoal:       goal,
		RunID:              run.runID,
		TaskID:             taskID,
		TaskTitle:          task.Title,
		PredecessorResults: make(map[string]map[string]any, len(task.DependsOn)),
	}
	for _, dep := range task.DependsOn {
		if depTask := run.proj.Tasks[dep]; depTask != nil && depTask.Result != nil {
			tc.PredecessorResults[dep] = depTask.Result
		}
	}
	s.mu.Unlock()

	// The assignment is a queen→worker message; validate it against the
	// waggle schema before it goes out.
	s.validateMessage(run.runID, waggle.QueenToWorker, map[string]any{
		"task_id":       taskID,
		"colony_id":     messageColonyID(run),
		"instructions":  tc.TaskTitle,
		"tools_allowed": []string{},
	})

	if _, err := s.append(run.runID, event.New(event.TypeTaskAssigned,
		event.WithRunID(run.runID),
		event.WithTaskID(taskID),
		event.WithActor(s.opts.Actor),
		event.WithPayload(event.TaskAssignedPayload(assignee)),
	)); err != nil {
		return fmt.Errorf("assign task %s: %w", taskID, err)
	}

	taskCtx, cancelTask := context.WithCancel(ctx)
	s.mu.Lock()
	run.taskCancels[taskID] = cancelTask
	s.mu.Unlock()

	go func() {
		defer func() {
			cancelTask()
			s.mu.Lock()
			delete(run.taskCancels, taskID)
			s.mu.Unlock()
			<-slots
		}()

		heartbeatDone := make(chan struct{})
		go s.heartbeat(taskCtx, run.runID, assignee, heartbeatDone)

		result, err := exec.ExecuteTask(taskCtx, tc)
		close(heartbeatDone)
		outcomes <- taskOutcome{taskID: taskID, result: result, err: err}
	}()
	return nil
}

// heartbeat keeps the silence watchdog fed while a worker is busy.
func (s *Scheduler) heartbeat(ctx context.Context, runID, workerID string, done <-chan struct{}) {
	interval := s.opts.SilenceTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if _, err := s.append(runID, event.New(event.TypeWorkerHeartbeat,
				event.WithRunID(runID),
				event.WithActor(workerID),
				event.WithPayload(event.WorkerHeartbeatPayload(workerID)),
			)); err != nil {
				s.log.Error("Heartbeat append failed", "run_id", runID, "worker", workerID, "error", err)
			}
		}
	}
}

// settleTask records a worker outcome and promotes or blocks dependents.
// A cancelled run swallows the outcome: run.aborted is the terminal word.
func (s *Scheduler) settleTask(ctx context.Context, runID string, outcome taskOutcome) error {
	if ctx.Err() != nil {
		return nil
	}

	s.mu.Lock()
	run := s.runs[runID]
	terminal := run != nil && run.proj.State.Terminal()
	s.mu.Unlock()
	if run == nil || run.ctx.Err() != nil || terminal {
		return nil
	}

	// The outcome is a worker→queen message; validate before recording.
	resultMsg := map[string]any{
		"task_id":   outcome.taskID,
		"colony_id": messageColonyID(run),
		"success":   outcome.err == nil,
	}
	if outcome.err != nil {
		resultMsg["evidence"] = outcome.err.Error()
		resultMsg["error_message"] = outcome.err.Error()
	} else if evidence := event.Str(outcome.result, "output"); evidence != "" {
		resultMsg["evidence"] = evidence
	} else {
		resultMsg["evidence"] = "task completed"
	}
	s.validateMessage(runID, waggle.WorkerToQueen, resultMsg)

	if outcome.err != nil {
		if err := s.FailTask(runID, outcome.taskID, outcome.err.Error()); err != nil {
			return fmt.Errorf("settle failed task %s: %w", outcome.taskID, err)
		}
		return nil
	}
	if err := s.CompleteTask(runID, outcome.taskID, outcome.result); err != nil {
		return fmt.Errorf("settle completed task %s: %w", outcome.taskID, err)
	}
	return nil
}

// messageColonyID scopes a waggle message: standalone runs use the run ID
// as their colony scope.
func messageColonyID(run *runState) string {
	if run == nil {
		return ""
	}
	if run.colonyID != "" {
		return run.colonyID
	}
	return run.runID
}

// firstErr returns the first non-nil context error.
func firstErr(ctxs ...context.Context) error {
	for _, c := range ctxs {
		if err := c.Err(); err != nil {
			return err
		}
	}
	return nil
}

// mergeContexts returns a context cancelled when either input is.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
