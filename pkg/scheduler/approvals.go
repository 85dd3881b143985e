package scheduler

import (
	"fmt"

	"github.com/colonyforge/hiveforge/pkg/agent"
	"github.com/colonyforge/hiveforge/pkg/event"
)

// Approvals exposes the broker agent runners park on.
func (s *Scheduler) Approvals() *agent.ApprovalBroker { return s.approvals }

// GrantApproval records approval.granted on the run stream and releases
// the parked turn.
func (s *Scheduler) GrantApproval(runID, approvalID, decidedBy string) error {
	return s.resolveApproval(runID, approvalID, decidedBy, true)
}

// DenyApproval records approval.denied and releases the parked turn with
// a denial.
func (s *Scheduler) DenyApproval(runID, approvalID, decidedBy string) error {
	return s.resolveApproval(runID, approvalID, decidedBy, false)
}

func (s *Scheduler) resolveApproval(runID, approvalID, decidedBy string, granted bool) error {
	if approvalID == "" {
		return NewValidationError("approval_id", "required")
	}
	t := event.TypeApprovalDenied
	if granted {
		t = event.TypeApprovalGranted
	}
	if _, err := s.append(runID, event.New(t,
		event.WithRunID(runID),
		event.WithActor(decidedBy),
		event.WithPayload(event.ApprovalDecisionPayload(approvalID, decidedBy)),
	)); err != nil {
		return fmt.Errorf("record approval decision: %w", err)
	}
	if !s.approvals.Resolve(approvalID, granted) {
		s.log.Warn("Approval decision had no waiting turn", "approval_id", approvalID, "run_id", runID)
	}
	return nil
}

// RunEmitter returns an agent.Emitter that stamps events with the run,
// task, and actor and appends them through the scheduler.
func (s *Scheduler) RunEmitter(runID, taskID, actor string) agent.Emitter {
	return &runEmitter{s: s, runID: runID, taskID: taskID, actor: actor}
}

type runEmitter struct {
	s      *Scheduler
	runID  string
	taskID string
	actor  string
}

func (e *runEmitter) Emit(t event.Type, payload map[string]any) {
	opts := []event.Option{
		event.WithRunID(e.runID),
		event.WithActor(e.actor),
		event.WithPayload(payload),
	}
	if e.taskID != "" {
		opts = append(opts, event.WithTaskID(e.taskID))
	}
	if _, err := e.s.append(e.runID, event.New(t, opts...)); err != nil {
		e.s.log.Error("Agent event append failed",
			"run_id", e.runID, "task_id", e.taskID, "type", string(t), "error", err)
	}
}
