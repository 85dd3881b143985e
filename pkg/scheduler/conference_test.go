package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// conferenceFixture builds a hive with three colonies and a convened
// conference between the first two.
func conferenceFixture(t *testing.T, rule VoteRule) (*Scheduler, *Conference, []string) {
	t.Helper()
	s := newTestScheduler(t, Options{})

	hive, err := s.CreateHive("deliberation", "")
	require.NoError(t, err)

	colonies := make([]string, 3)
	for i, name := range []string{"alpha", "beta", "gamma"} {
		colonies[i], err = s.CreateColony(hive.HiveID, name, "")
		require.NoError(t, err)
	}

	conf, err := s.ConveneConference(hive.HiveID, "merge strategy", colonies, rule)
	require.NoError(t, err)
	return s, conf, colonies
}

func TestConferenceLifecycle(t *testing.T) {
	s, conf, colonies := conferenceFixture(t, ApproveMajority)
	assert.Equal(t, ConferenceInProgress, conf.State)

	require.NoError(t, s.SubmitOpinion(conf.ID, colonies[0], "squash merge"))
	require.NoError(t, s.SubmitOpinion(conf.ID, colonies[1], "rebase"))

	opinions, err := s.Opinions(conf.ID)
	require.NoError(t, err)
	assert.Equal(t, "squash merge", opinions[colonies[0]])
	assert.Equal(t, "rebase", opinions[colonies[1]])

	require.NoError(t, s.StartVoting(conf.ID))
	require.NoError(t, s.CastVote(conf.ID, colonies[0], VoteApprove))
	require.NoError(t, s.CastVote(conf.ID, colonies[1], VoteApprove))
	require.NoError(t, s.CastVote(conf.ID, colonies[2], VoteReject))

	summary, err := s.ConcludeConference(conf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Approve)
	assert.Equal(t, 1, summary.Reject)
	assert.Equal(t, "approved", summary.Outcome)

	got, err := s.GetConference(conf.ID)
	require.NoError(t, err)
	assert.Equal(t, ConferenceConcluded, got.State)

	types := streamTypes(t, s, conf.HiveID)
	assert.Contains(t, types, event.TypeConferenceConvened)
	assert.Contains(t, types, event.TypeConferenceVotingStarted)
	assert.Contains(t, types, event.TypeConferenceConcluded)
}

func TestConferenceStateConflicts(t *testing.T) {
	s, conf, colonies := conferenceFixture(t, ApproveMajority)

	// Voting before the phase opens.
	err := s.CastVote(conf.ID, colonies[0], VoteApprove)
	assert.ErrorIs(t, err, ErrConflict)

	// Concluding before voting.
	_, err = s.ConcludeConference(conf.ID)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, s.StartVoting(conf.ID))

	// Opinions close once voting starts.
	err = s.SubmitOpinion(conf.ID, colonies[0], "late thought")
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, s.CastVote(conf.ID, colonies[0], VoteApprove))
	_, err = s.ConcludeConference(conf.ID)
	require.NoError(t, err)

	// Terminal state rejects everything.
	err = s.CastVote(conf.ID, colonies[0], VoteReject)
	assert.ErrorIs(t, err, ErrConflict)
	err = s.CancelConference(conf.ID, "too late")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestConferenceRevoteOverwrites(t *testing.T) {
	s, conf, colonies := conferenceFixture(t, ApproveMajority)
	require.NoError(t, s.StartVoting(conf.ID))

	require.NoError(t, s.CastVote(conf.ID, colonies[0], VoteReject))
	require.NoError(t, s.CastVote(conf.ID, colonies[0], VoteApprove))

	summary, err := s.ConcludeConference(conf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Approve)
	assert.Equal(t, 0, summary.Reject)
}

func TestConferenceCancel(t *testing.T) {
	s, conf, _ := conferenceFixture(t, ApproveMajority)
	require.NoError(t, s.CancelConference(conf.ID, "priorities changed"))

	got, err := s.GetConference(conf.ID)
	require.NoError(t, err)
	assert.Equal(t, ConferenceCancelled, got.State)
	assert.Contains(t, streamTypes(t, s, conf.HiveID), event.TypeConferenceCancelled)
}

func TestConveneConferenceValidation(t *testing.T) {
	s := newTestScheduler(t, Options{})
	hive, err := s.CreateHive("h", "")
	require.NoError(t, err)
	colony, err := s.CreateColony(hive.HiveID, "solo", "")
	require.NoError(t, err)

	other, err := s.CreateHive("other", "")
	require.NoError(t, err)
	foreign, err := s.CreateColony(other.HiveID, "outsider", "")
	require.NoError(t, err)

	_, err = s.ConveneConference(hive.HiveID, "", []string{colony, foreign}, ApproveMajority)
	assert.True(t, IsValidationError(err))

	_, err = s.ConveneConference(hive.HiveID, "topic", []string{colony}, ApproveMajority)
	assert.True(t, IsValidationError(err))

	_, err = s.ConveneConference(hive.HiveID, "topic", []string{colony, foreign}, ApproveMajority)
	assert.True(t, IsValidationError(err))

	_, err = s.ConveneConference(hive.HiveID, "topic", []string{colony, colony}, VoteRule("plurality"))
	assert.True(t, IsValidationError(err))

	_, err = s.ConveneConference("hive-missing", "topic", []string{colony, foreign}, ApproveMajority)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTallyRules(t *testing.T) {
	tests := []struct {
		name    string
		rule    VoteRule
		votes   map[string]Vote
		outcome string
	}{
		{
			name:    "majority approves",
			rule:    ApproveMajority,
			votes:   map[string]Vote{"a": VoteApprove, "b": VoteApprove, "c": VoteReject},
			outcome: "approved",
		},
		{
			name:    "majority rejects",
			rule:    ApproveMajority,
			votes:   map[string]Vote{"a": VoteReject, "b": VoteReject, "c": VoteApprove},
			outcome: "rejected",
		},
		{
			name:    "tie",
			rule:    ApproveMajority,
			votes:   map[string]Vote{"a": VoteApprove, "b": VoteReject},
			outcome: "tie",
		},
		{
			name:    "abstentions do not break a tie",
			rule:    ApproveMajority,
			votes:   map[string]Vote{"a": VoteApprove, "b": VoteReject, "c": VoteAbstain},
			outcome: "tie",
		},
		{
			name:    "no votes is a tie",
			rule:    ApproveMajority,
			votes:   map[string]Vote{},
			outcome: "tie",
		},
		{
			name:    "consensus holds",
			rule:    ConsensusRequired,
			votes:   map[string]Vote{"a": VoteApprove, "b": VoteApprove, "c": VoteAbstain},
			outcome: "approved",
		},
		{
			name:    "consensus broken by one rejection",
			rule:    ConsensusRequired,
			votes:   map[string]Vote{"a": VoteApprove, "b": VoteApprove, "c": VoteReject},
			outcome: "rejected",
		},
		{
			name:    "consensus needs at least one approval",
			rule:    ConsensusRequired,
			votes:   map[string]Vote{"a": VoteAbstain, "b": VoteAbstain},
			outcome: "rejected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.outcome, tally(tt.votes, tt.rule).Outcome)
		})
	}
}
