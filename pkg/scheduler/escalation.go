package scheduler

import (
	"fmt"
	"sort"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// Escalation is an open question a Queen surfaced to the Beekeeper.
type Escalation struct {
	ID               string   `json:"id"`
	RunID            string   `json:"run_id"`
	Type             string   `json:"type"`
	Severity         string   `json:"severity"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	Resolved         bool     `json:"resolved"`
	Feedback         string   `json:"feedback,omitempty"`
}

// Escalate records queen.escalation on the run stream and tracks it until
// Beekeeper feedback arrives.
func (s *Scheduler) Escalate(runID, escalationType, severity string, suggestedActions []string) (string, error) {
	if escalationType == "" {
		return "", NewValidationError("type", "required")
	}
	s.mu.Lock()
	if _, ok := s.runs[runID]; !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	escalationID := newID("esc")
	s.escalations[escalationID] = &Escalation{
		ID:               escalationID,
		RunID:            runID,
		Type:             escalationType,
		Severity:         severity,
		SuggestedActions: suggestedActions,
	}
	s.mu.Unlock()

	payload := map[string]any{
		"escalation_id": escalationID,
		"type":          escalationType,
		"severity":      severity,
	}
	if len(suggestedActions) > 0 {
		payload["suggested_actions"] = suggestedActions
	}
	_, err := s.append(runID, event.New(event.TypeQueenEscalation,
		event.WithRunID(runID),
		event.WithActor("queen"),
		event.WithPayload(payload),
	))
	if err != nil {
		s.mu.Lock()
		delete(s.escalations, escalationID)
		s.mu.Unlock()
		return "", fmt.Errorf("escalate: %w", err)
	}

	s.log.Info("Escalation raised", "escalation_id", escalationID, "run_id", runID, "severity", severity)
	return escalationID, nil
}

// ResolveEscalation records beekeeper.feedback and closes the escalation.
func (s *Scheduler) ResolveEscalation(escalationID, feedback string) error {
	s.mu.Lock()
	esc, ok := s.escalations[escalationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("escalation %s: %w", escalationID, ErrNotFound)
	}
	if esc.Resolved {
		s.mu.Unlock()
		return fmt.Errorf("escalation %s already resolved: %w", escalationID, ErrConflict)
	}
	runID := esc.RunID
	s.mu.Unlock()

	_, err := s.append(runID, event.New(event.TypeBeekeeperFeedback,
		event.WithRunID(runID),
		event.WithActor("beekeeper"),
		event.WithPayload(map[string]any{
			"escalation_id": escalationID,
			"feedback":      feedback,
		}),
	))
	if err != nil {
		return fmt.Errorf("resolve escalation: %w", err)
	}

	s.mu.Lock()
	esc.Resolved = true
	esc.Feedback = feedback
	s.mu.Unlock()
	return nil
}

// OpenEscalations lists unresolved escalations for a run, ordered by ID.
func (s *Scheduler) OpenEscalations(runID string) []*Escalation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Escalation
	for _, esc := range s.escalations {
		if esc.RunID == runID && !esc.Resolved {
			copied := *esc
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
