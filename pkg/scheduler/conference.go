package scheduler

import (
	"fmt"
	"sort"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// ConferenceState is the lifecycle of a colony-to-colony session.
type ConferenceState string

const (
	ConferencePending    ConferenceState = "pending"
	ConferenceInProgress ConferenceState = "in_progress"
	ConferenceVoting     ConferenceState = "voting"
	ConferenceConcluded  ConferenceState = "concluded"
	ConferenceCancelled  ConferenceState = "cancelled"
)

// Vote is one colony's ballot.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
	VoteAbstain Vote = "abstain"
)

// VoteRule selects how the summary decides the outcome.
type VoteRule string

const (
	// ApproveMajority: more approvals than rejections wins; equal is a tie.
	ApproveMajority VoteRule = "approve_majority"
	// ConsensusRequired: every cast non-abstain vote must approve, and at
	// least one vote must be cast.
	ConsensusRequired VoteRule = "consensus_required"
)

// VoteSummary is the deterministic tally of a concluded conference.
type VoteSummary struct {
	Approve int    `json:"approve"`
	Reject  int    `json:"reject"`
	Abstain int    `json:"abstain"`
	Outcome string `json:"outcome"` // approved | rejected | tie
}

// Conference is one coordination session between colonies in a hive.
type Conference struct {
	ID           string          `json:"id"`
	HiveID       string          `json:"hive_id"`
	Topic        string          `json:"topic"`
	Participants []string        `json:"participants"`
	Rule         VoteRule        `json:"rule"`
	State        ConferenceState `json:"state"`

	opinions map[string]string
	votes    map[string]Vote
}

// ConveneConference starts a session among participant colonies of one
// hive. Events land on the hive stream.
func (s *Scheduler) ConveneConference(hiveID, topic string, participants []string, rule VoteRule) (*Conference, error) {
	if topic == "" {
		return nil, NewValidationError("topic", "required")
	}
	if len(participants) < 2 {
		return nil, NewValidationError("participants", "at least two colonies required")
	}
	if rule == "" {
		rule = ApproveMajority
	}
	if rule != ApproveMajority && rule != ConsensusRequired {
		return nil, NewValidationError("rule", fmt.Sprintf("unknown vote rule %q", rule))
	}

	s.mu.Lock()
	if _, ok := s.hives[hiveID]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("hive %s: %w", hiveID, ErrNotFound)
	}
	for _, colonyID := range participants {
		if s.colonies[colonyID] != hiveID {
			s.mu.Unlock()
			return nil, NewValidationError("participants", fmt.Sprintf("colony %q does not belong to hive %s", colonyID, hiveID))
		}
	}
	conf := &Conference{
		ID:           newID("conf"),
		HiveID:       hiveID,
		Topic:        topic,
		Participants: append([]string(nil), participants...),
		Rule:         rule,
		State:        ConferencePending,
		opinions:     make(map[string]string),
		votes:        make(map[string]Vote),
	}
	s.conferences[conf.ID] = conf
	s.mu.Unlock()

	_, err := s.append(hiveID, event.New(event.TypeConferenceConvened,
		event.WithActor(s.opts.Actor),
		event.WithPayload(map[string]any{
			"conference_id": conf.ID,
			"topic":         topic,
			"participants":  participants,
			"rule":          string(rule),
		}),
	))
	if err != nil {
		s.mu.Lock()
		delete(s.conferences, conf.ID)
		s.mu.Unlock()
		return nil, fmt.Errorf("convene conference: %w", err)
	}

	s.mu.Lock()
	conf.State = ConferenceInProgress
	snapshot := conf.snapshot()
	s.mu.Unlock()
	s.log.Info("Conference convened", "conference_id", conf.ID, "hive_id", hiveID, "participants", len(participants))
	return snapshot, nil
}

// SubmitOpinion records a participant's opinion during in_progress.
func (s *Scheduler) SubmitOpinion(conferenceID, colonyID, opinion string) error {
	conf, err := s.conference(conferenceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if conf.State != ConferenceInProgress {
		state := conf.State
		s.mu.Unlock()
		return fmt.Errorf("conference %s in state %s: %w", conferenceID, state, ErrConflict)
	}
	if !conf.participant(colonyID) {
		s.mu.Unlock()
		return NewValidationError("colony_id", fmt.Sprintf("colony %q is not a participant", colonyID))
	}
	conf.opinions[colonyID] = opinion
	hiveID := conf.HiveID
	s.mu.Unlock()

	_, err = s.append(hiveID, event.New(event.TypeConferenceOpinionSubmitted,
		event.WithActor(colonyID),
		event.WithPayload(map[string]any{
			"conference_id": conferenceID,
			"colony_id":     colonyID,
			"opinion":       opinion,
		}),
	))
	if err != nil {
		return fmt.Errorf("submit opinion: %w", err)
	}
	return nil
}

// StartVoting transitions the conference to the voting phase.
func (s *Scheduler) StartVoting(conferenceID string) error {
	conf, err := s.conference(conferenceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if conf.State != ConferenceInProgress {
		state := conf.State
		s.mu.Unlock()
		return fmt.Errorf("conference %s in state %s: %w", conferenceID, state, ErrConflict)
	}
	conf.State = ConferenceVoting
	hiveID := conf.HiveID
	s.mu.Unlock()

	_, err = s.append(hiveID, event.New(event.TypeConferenceVotingStarted,
		event.WithActor(s.opts.Actor),
		event.WithPayload(map[string]any{"conference_id": conferenceID}),
	))
	if err != nil {
		return fmt.Errorf("start voting: %w", err)
	}
	return nil
}

// CastVote records one participant's ballot; re-voting overwrites.
func (s *Scheduler) CastVote(conferenceID, colonyID string, vote Vote) error {
	switch vote {
	case VoteApprove, VoteReject, VoteAbstain:
	default:
		return NewValidationError("vote", fmt.Sprintf("unknown vote %q", vote))
	}
	conf, err := s.conference(conferenceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if conf.State != ConferenceVoting {
		state := conf.State
		s.mu.Unlock()
		return fmt.Errorf("conference %s in state %s: %w", conferenceID, state, ErrConflict)
	}
	if !conf.participant(colonyID) {
		s.mu.Unlock()
		return NewValidationError("colony_id", fmt.Sprintf("colony %q is not a participant", colonyID))
	}
	conf.votes[colonyID] = vote
	hiveID := conf.HiveID
	s.mu.Unlock()

	_, err = s.append(hiveID, event.New(event.TypeConferenceVoteCast,
		event.WithActor(colonyID),
		event.WithPayload(map[string]any{
			"conference_id": conferenceID,
			"colony_id":     colonyID,
			"vote":          string(vote),
		}),
	))
	if err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	return nil
}

// ConcludeConference tallies the votes deterministically and emits
// conference.concluded with the summary.
func (s *Scheduler) ConcludeConference(conferenceID string) (*VoteSummary, error) {
	conf, err := s.conference(conferenceID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if conf.State != ConferenceVoting {
		state := conf.State
		s.mu.Unlock()
		return nil, fmt.Errorf("conference %s in state %s: %w", conferenceID, state, ErrConflict)
	}
	summary := tally(conf.votes, conf.Rule)
	conf.State = ConferenceConcluded
	hiveID := conf.HiveID
	s.mu.Unlock()

	_, err = s.append(hiveID, event.New(event.TypeConferenceConcluded,
		event.WithActor(s.opts.Actor),
		event.WithPayload(map[string]any{
			"conference_id": conferenceID,
			"approve":       summary.Approve,
			"reject":        summary.Reject,
			"abstain":       summary.Abstain,
			"outcome":       summary.Outcome,
		}),
	))
	if err != nil {
		return nil, fmt.Errorf("conclude conference: %w", err)
	}

	s.log.Info("Conference concluded", "conference_id", conferenceID, "outcome", summary.Outcome)
	return summary, nil
}

// CancelConference aborts a session in any non-terminal state.
func (s *Scheduler) CancelConference(conferenceID, reason string) error {
	conf, err := s.conference(conferenceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if conf.State == ConferenceConcluded || conf.State == ConferenceCancelled {
		state := conf.State
		s.mu.Unlock()
		return fmt.Errorf("conference %s in state %s: %w", conferenceID, state, ErrConflict)
	}
	conf.State = ConferenceCancelled
	hiveID := conf.HiveID
	s.mu.Unlock()

	_, err = s.append(hiveID, event.New(event.TypeConferenceCancelled,
		event.WithActor(s.opts.Actor),
		event.WithPayload(map[string]any{
			"conference_id": conferenceID,
			"reason":        reason,
		}),
	))
	if err != nil {
		return fmt.Errorf("cancel conference: %w", err)
	}
	return nil
}

// GetConference returns a snapshot of one conference.
func (s *Scheduler) GetConference(conferenceID string) (*Conference, error) {
	conf, err := s.conference(conferenceID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return conf.snapshot(), nil
}

func (s *Scheduler) conference(conferenceID string) (*Conference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conf, ok := s.conferences[conferenceID]
	if !ok {
		return nil, fmt.Errorf("conference %s: %w", conferenceID, ErrNotFound)
	}
	return conf, nil
}

func (c *Conference) participant(colonyID string) bool {
	for _, id := range c.Participants {
		if id == colonyID {
			return true
		}
	}
	return false
}

// snapshot copies the public shape; caller holds the scheduler lock.
func (c *Conference) snapshot() *Conference {
	return &Conference{
		ID:           c.ID,
		HiveID:       c.HiveID,
		Topic:        c.Topic,
		Participants: append([]string(nil), c.Participants...),
		Rule:         c.Rule,
		State:        c.State,
	}
}

// Opinions returns submitted opinions keyed by colony.
func (s *Scheduler) Opinions(conferenceID string) (map[string]string, error) {
	conf, err := s.conference(conferenceID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(conf.opinions))
	for k, v := range conf.opinions {
		out[k] = v
	}
	return out, nil
}

// tally computes the deterministic vote summary.
func tally(votes map[string]Vote, rule VoteRule) *VoteSummary {
	summary := &VoteSummary{}
	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		switch votes[id] {
		case VoteApprove:
			summary.Approve++
		case VoteReject:
			summary.Reject++
		case VoteAbstain:
			summary.Abstain++
		}
	}

	switch rule {
	case ConsensusRequired:
		if summary.Reject == 0 && summary.Approve > 0 {
			summary.Outcome = "approved"
		} else {
			summary.Outcome = "rejected"
		}
	default: // ApproveMajority
		switch {
		case summary.Approve > summary.Reject:
			summary.Outcome = "approved"
		case summary.Reject > summary.Approve:
			summary.Outcome = "rejected"
		default:
			summary.Outcome = "tie"
		}
	}
	return summary
}
