package event

import "encoding/json"

// Payload builders for the event families that more than one component
// constructs or folds over. Payloads are plain JSON objects; these helpers
// pin the conventional key names so writers and projections agree.

// RunStartedPayload carries the run goal.
func RunStartedPayload(goal string) map[string]any {
	return map[string]any{"goal": goal}
}

// RunCompletedPayload carries the final summary.
func RunCompletedPayload(summary string) map[string]any {
	return map[string]any{"summary": summary}
}

// RunFailedPayload carries the terminal failure reason.
func RunFailedPayload(reason string) map[string]any {
	return map[string]any{"reason": reason}
}

// RunAbortedPayload carries the abort reason (emergency stop, shutdown).
func RunAbortedPayload(reason string) map[string]any {
	return map[string]any{"reason": reason}
}

// TaskCreatedPayload carries title, optional description, and the IDs of
// tasks this one depends on.
func TaskCreatedPayload(title, description string, dependsOn []string) map[string]any {
	p := map[string]any{"title": title}
	if description != "" {
		p["description"] = description
	}
	if len(dependsOn) > 0 {
		p["depends_on"] = dependsOn
	}
	return p
}

// TaskAssignedPayload names the agent the task was handed to.
func TaskAssignedPayload(assignee string) map[string]any {
	return map[string]any{"assignee": assignee}
}

// TaskProgressedPayload carries a 0–100 progress figure.
func TaskProgressedPayload(progress int) map[string]any {
	return map[string]any{"progress": progress}
}

// TaskCompletedPayload carries the structured task result.
func TaskCompletedPayload(result map[string]any) map[string]any {
	if result == nil {
		result = map[string]any{}
	}
	return map[string]any{"result": result}
}

// TaskFailedPayload carries the error message shown in projections.
func TaskFailedPayload(errorMessage string) map[string]any {
	return map[string]any{"error_message": errorMessage}
}

// TaskBlockedPayload names the failed predecessors that block this task.
func TaskBlockedPayload(blockedBy []string) map[string]any {
	return map[string]any{"blocked_by": blockedBy}
}

// RequirementCreatedPayload carries the open question raised by the
// requirement-analysis pipeline.
func RequirementCreatedPayload(question string) map[string]any {
	return map[string]any{"question": question}
}

// RequirementDecidedPayload records who approved or rejected a requirement.
func RequirementDecidedPayload(decidedBy string) map[string]any {
	return map[string]any{"decided_by": decidedBy}
}

// HiveCreatedPayload carries hive metadata.
func HiveCreatedPayload(name, description string) map[string]any {
	p := map[string]any{"name": name}
	if description != "" {
		p["description"] = description
	}
	return p
}

// ColonyCreatedPayload binds a colony to its hive.
func ColonyCreatedPayload(hiveID, name, goal string) map[string]any {
	p := map[string]any{"hive_id": hiveID, "name": name}
	if goal != "" {
		p["goal"] = goal
	}
	return p
}

// ColonyTerminalPayload marks colony completion or failure; forced is true
// when the transition was imposed by closing the owning hive.
func ColonyTerminalPayload(hiveID string, forced bool) map[string]any {
	p := map[string]any{"hive_id": hiveID}
	if forced {
		p["forced"] = true
	}
	return p
}

// EmergencyStopPayload records scope ("run", "colony", "hive", "all"),
// optional target, and the operator-supplied reason.
func EmergencyStopPayload(scope, targetID, reason string) map[string]any {
	p := map[string]any{"scope": scope, "reason": reason}
	if targetID != "" {
		p["target_id"] = targetID
	}
	return p
}

// SilenceDetectedPayload reports how long a run has been quiet.
func SilenceDetectedPayload(silentForSeconds float64) map[string]any {
	return map[string]any{"silent_for_seconds": silentForSeconds}
}

// ApprovalRequestedPayload parks a tool call pending human approval.
func ApprovalRequestedPayload(approvalID, tool, actor string, args map[string]any) map[string]any {
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"approval_id": approvalID,
		"tool":        tool,
		"actor":       actor,
		"arguments":   args,
	}
}

// ApprovalDecisionPayload resolves a parked approval.
func ApprovalDecisionPayload(approvalID, decidedBy string) map[string]any {
	return map[string]any{"approval_id": approvalID, "decided_by": decidedBy}
}

// OperationFailedPayload records a failed tool call or cancelled operation.
// Reason is one of: validation, timeout, tool_error, cancelled.
func OperationFailedPayload(tool, reason, message string) map[string]any {
	return map[string]any{
		"tool":           tool,
		"failure_reason": reason,
		"message":        message,
	}
}

// OperationTimeoutPayload records a tool call that exceeded its budget.
func OperationTimeoutPayload(tool string, timeoutSeconds float64) map[string]any {
	return map[string]any{"tool": tool, "timeout_seconds": timeoutSeconds}
}

// WorkerHeartbeatPayload keeps the silence watchdog fed while a worker is
// busy on a long tool call.
func WorkerHeartbeatPayload(workerID string) map[string]any {
	return map[string]any{"worker_id": workerID}
}

// Typed accessors over payload maps. Parsed payloads carry json.Number for
// numeric values (see Parse); freshly built payloads carry native Go types.
// These helpers absorb both.

// Str returns p[key] as a string, or "" when absent or not a string.
func Str(p map[string]any, key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

// Int returns p[key] as an int, or 0 when absent or non-numeric.
func Int(p map[string]any, key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return int(i)
	default:
		return 0
	}
}

// Float returns p[key] as a float64, or 0 when absent or non-numeric.
func Float(p map[string]any, key string) float64 {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Bool returns p[key] as a bool, or false when absent or not a bool.
func Bool(p map[string]any, key string) bool {
	if p == nil {
		return false
	}
	b, _ := p[key].(bool)
	return b
}

// Strings returns p[key] as a string slice, absorbing []string and []any.
func Strings(p map[string]any, key string) []string {
	if p == nil {
		return nil
	}
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns p[key] as a nested object, or nil.
func Map(p map[string]any, key string) map[string]any {
	if p == nil {
		return nil
	}
	m, _ := p[key].(map[string]any)
	return m
}
