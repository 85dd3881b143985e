// Package event defines the immutable, content-addressed event model that
// every other component builds on.
//
// An Event is a typed, timestamped record with causal parent references and
// a SHA-256 content hash computed over its RFC 8785 (JCS) canonical JSON
// form. Events are chained per stream: each event's prev_hash equals the
// hash of the event appended before it, so any mutation of history is
// detectable by recomputation.
//
// Lifecycle: New() assigns a fresh ULID and timestamp and leaves prev_hash
// and hash unset; Seal() fills them exactly once at the append boundary.
// Sealed events are frozen — there is no API to modify one.
package event

// Type identifies what happened. The set is closed: components switch on
// these constants, and projections ignore types they do not know. Unknown
// type strings encountered on replay are preserved as-is (forward
// compatibility with newer writers).
type Type string

// Run lifecycle.
const (
	TypeRunStarted   Type = "run.started"
	TypeRunCompleted Type = "run.completed"
	TypeRunFailed    Type = "run.failed"
	TypeRunAborted   Type = "run.aborted"
)

// Task lifecycle.
const (
	TypeTaskCreated    Type = "task.created"
	TypeTaskAssigned   Type = "task.assigned"
	TypeTaskProgressed Type = "task.progressed"
	TypeTaskCompleted  Type = "task.completed"
	TypeTaskFailed     Type = "task.failed"
	TypeTaskBlocked    Type = "task.blocked"
)

// Requirement lifecycle (produced by the requirement-analysis pipeline).
const (
	TypeRequirementCreated  Type = "requirement.created"
	TypeRequirementApproved Type = "requirement.approved"
	TypeRequirementRejected Type = "requirement.rejected"
)

// Hive and Colony lifecycle.
const (
	TypeHiveCreated    Type = "hive.created"
	TypeHiveClosed     Type = "hive.closed"
	TypeColonyCreated  Type = "colony.created"
	TypeColonyStarted  Type = "colony.started"
	TypeColonyComplete Type = "colony.completed"
	TypeColonyFailed   Type = "colony.failed"
)

// Decisions. A decision may supersede an earlier one and may carry a
// rollback plan; decision.applied marks the moment it took effect.
const (
	TypeDecisionRecorded   Type = "decision.recorded"
	TypeDecisionApplied    Type = "decision.applied"
	TypeDecisionSuperseded Type = "decision.superseded"
	TypeDecisionRolledBack Type = "decision.rolled_back"
)

// Conflicts between agents or colonies.
const (
	TypeConflictDetected Type = "conflict.detected"
	TypeConflictResolved Type = "conflict.resolved"
)

// Escalation between Queen and Beekeeper.
const (
	TypeQueenEscalation    Type = "queen.escalation"
	TypeBeekeeperFeedback  Type = "beekeeper.feedback"
	TypeBeekeeperDirective Type = "beekeeper.directive"
)

// Requirement-analysis pipeline progress.
const (
	TypeRAAnalysisStarted   Type = "ra.analysis_started"
	TypeRAAmbiguityDetected Type = "ra.ambiguity_detected"
	TypeRAQuestionRaised    Type = "ra.question_raised"
	TypeRAAnswerReceived    Type = "ra.answer_received"
	TypeRASpecDrafted       Type = "ra.spec_drafted"
	TypeRASpecApproved      Type = "ra.spec_approved"
	TypeRAAnalysisCompleted Type = "ra.analysis_completed"
)

// Waggle Dance protocol compliance.
const (
	TypeWaggleDanceValidated Type = "waggle_dance.validated"
	TypeWaggleDanceViolation Type = "waggle_dance.violation"
)

// System-level signals.
const (
	TypeSystemStartup         Type = "system.startup"
	TypeSystemShutdown        Type = "system.shutdown"
	TypeSystemEmergencyStop   Type = "system.emergency_stop"
	TypeSystemSilenceDetected Type = "system.silence_detected"
)

// Tool approval flow (REQUIRE_APPROVAL decisions park the agent turn).
const (
	TypeApprovalRequested Type = "approval.requested"
	TypeApprovalGranted   Type = "approval.granted"
	TypeApprovalDenied    Type = "approval.denied"
)

// Tool / operation outcomes recorded by the agent runner.
const (
	TypeOperationTimeout Type = "operation.timeout"
	TypeOperationFailed  Type = "operation.failed"
)

// Worker process lifecycle.
const (
	TypeWorkerStarted   Type = "worker.started"
	TypeWorkerStopped   Type = "worker.stopped"
	TypeWorkerCrashed   Type = "worker.crashed"
	TypeWorkerRestarted Type = "worker.restarted"
	TypeWorkerHeartbeat Type = "worker.heartbeat"
)

// Conference mode (colony-to-colony coordination sessions).
const (
	TypeConferenceConvened         Type = "conference.convened"
	TypeConferenceOpinionSubmitted Type = "conference.opinion_submitted"
	TypeConferenceVotingStarted    Type = "conference.voting_started"
	TypeConferenceVoteCast         Type = "conference.vote_cast"
	TypeConferenceConcluded        Type = "conference.concluded"
	TypeConferenceCancelled        Type = "conference.cancelled"
)

// Inter-colony messenger.
const (
	TypeMessageSent      Type = "message.sent"
	TypeMessageReceived  Type = "message.received"
	TypeMessageBroadcast Type = "message.broadcast"
	TypeMessageResponded Type = "message.responded"
)

// Resource locks held by colonies.
const (
	TypeResourceLockAcquired Type = "resource.lock_acquired"
	TypeResourceLockReleased Type = "resource.lock_released"
	TypeResourceConflict     Type = "resource.conflict_detected"
	TypeResourceDeadlock     Type = "resource.deadlock_detected"
)

// Sentinel integrity monitoring.
const (
	TypeSentinelAlertRaised    Type = "sentinel.alert_raised"
	TypeSentinelAlertCleared   Type = "sentinel.alert_cleared"
	TypeSentinelIntegrityCheck Type = "sentinel.integrity_check"
)

// Guard verification of worker results.
const (
	TypeGuardVerificationStarted Type = "guard.verification_started"
	TypeGuardVerificationPassed  Type = "guard.verification_passed"
	TypeGuardVerificationFailed  Type = "guard.verification_failed"
)

// Forager exploratory testing.
const (
	TypeForagerExplorationStarted   Type = "forager.exploration_started"
	TypeForagerExplorationCompleted Type = "forager.exploration_completed"
)

// Referee Best-of-N scoring.
const (
	TypeRefereeScoringStarted Type = "referee.scoring_started"
	TypeRefereeScoresRecorded Type = "referee.scores_recorded"
	TypeRefereeWinnerSelected Type = "referee.winner_selected"
)

// Scout historical advice.
const (
	TypeScoutConsulted   Type = "scout.consulted"
	TypeScoutAdviceGiven Type = "scout.advice_given"
)

// knownTypes indexes every declared constant for IsKnown.
var knownTypes = map[Type]struct{}{
	TypeRunStarted: {}, TypeRunCompleted: {}, TypeRunFailed: {}, TypeRunAborted: {},
	TypeTaskCreated: {}, TypeTaskAssigned: {}, TypeTaskProgressed: {},
	TypeTaskCompleted: {}, TypeTaskFailed: {}, TypeTaskBlocked: {},
	TypeRequirementCreated: {}, TypeRequirementApproved: {}, TypeRequirementRejected: {},
	TypeHiveCreated: {}, TypeHiveClosed: {},
	TypeColonyCreated: {}, TypeColonyStarted: {}, TypeColonyComplete: {}, TypeColonyFailed: {},
	TypeDecisionRecorded: {}, TypeDecisionApplied: {}, TypeDecisionSuperseded: {}, TypeDecisionRolledBack: {},
	TypeConflictDetected: {}, TypeConflictResolved: {},
	TypeQueenEscalation: {}, TypeBeekeeperFeedback: {}, TypeBeekeeperDirective: {},
	TypeRAAnalysisStarted: {}, TypeRAAmbiguityDetected: {}, TypeRAQuestionRaised: {},
	TypeRAAnswerReceived: {}, TypeRASpecDrafted: {}, TypeRASpecApproved: {}, TypeRAAnalysisCompleted: {},
	TypeWaggleDanceValidated: {}, TypeWaggleDanceViolation: {},
	TypeSystemStartup: {}, TypeSystemShutdown: {}, TypeSystemEmergencyStop: {}, TypeSystemSilenceDetected: {},
	TypeApprovalRequested: {}, TypeApprovalGranted: {}, TypeApprovalDenied: {},
	TypeOperationTimeout: {}, TypeOperationFailed: {},
	TypeWorkerStarted: {}, TypeWorkerStopped: {}, TypeWorkerCrashed: {}, TypeWorkerRestarted: {}, TypeWorkerHeartbeat: {},
	TypeConferenceConvened: {}, TypeConferenceOpinionSubmitted: {}, TypeConferenceVotingStarted: {},
	TypeConferenceVoteCast: {}, TypeConferenceConcluded: {}, TypeConferenceCancelled: {},
	TypeMessageSent: {}, TypeMessageReceived: {}, TypeMessageBroadcast: {}, TypeMessageResponded: {},
	TypeResourceLockAcquired: {}, TypeResourceLockReleased: {}, TypeResourceConflict: {}, TypeResourceDeadlock: {},
	TypeSentinelAlertRaised: {}, TypeSentinelAlertCleared: {}, TypeSentinelIntegrityCheck: {},
	TypeGuardVerificationStarted: {}, TypeGuardVerificationPassed: {}, TypeGuardVerificationFailed: {},
	TypeForagerExplorationStarted: {}, TypeForagerExplorationCompleted: {},
	TypeRefereeScoringStarted: {}, TypeRefereeScoresRecorded: {}, TypeRefereeWinnerSelected: {},
	TypeScoutConsulted: {}, TypeScoutAdviceGiven: {},
}

// IsKnown reports whether t is one of the declared type constants.
// Unknown types are legal on replay (they are carried opaquely) but are
// skipped by projections and the lineage resolver.
func (t Type) IsKnown() bool {
	_, ok := knownTypes[t]
	return ok
}

func (t Type) String() string { return string(t) }
