package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsensusAutoModeFirstVoterDecides(t *testing.T) {
	c := NewConsensus(nil)
	p := c.Submit(Proposal{Type: "merge", Mode: ModeAuto}, []string{"voter-a", "voter-b"})

	// voter-b votes first but isn't the decider (lexicographically first id).
	assert.Nil(t, c.Vote(p.ID, Vote{VoterID: "voter-b", Approve: false}))

	d := c.Vote(p.ID, Vote{VoterID: "voter-a", Approve: true, Reason: "looks good"})
	require.NotNil(t, d)
	assert.True(t, d.Approved)
	assert.Equal(t, "looks good", d.Reason)
}

func TestConsensusQuorumModeMajority(t *testing.T) {
	c := NewConsensus(nil)
	p := c.Submit(Proposal{Type: "deploy", Mode: ModeQuorum}, []string{"v1", "v2", "v3"})

	assert.Nil(t, c.Vote(p.ID, Vote{VoterID: "v1", Approve: true}))
	assert.Nil(t, c.Vote(p.ID, Vote{VoterID: "v2", Approve: false}))
	d := c.Vote(p.ID, Vote{VoterID: "v3", Approve: true})
	require.NotNil(t, d)
	assert.True(t, d.Approved)
	assert.Len(t, d.Votes, 3)
}

func TestConsensusQuorumRejected(t *testing.T) {
	c := NewConsensus(nil)
	p := c.Submit(Proposal{Mode: ModeQuorum}, []string{"v1", "v2", "v3"})

	c.Vote(p.ID, Vote{VoterID: "v1", Approve: false})
	c.Vote(p.ID, Vote{VoterID: "v2", Approve: false})
	d := c.Vote(p.ID, Vote{VoterID: "v3", Approve: true})
	require.NotNil(t, d)
	assert.False(t, d.Approved)
}

func TestConsensusIgnoresVotesFromNonVoters(t *testing.T) {
	c := NewConsensus(nil)
	p := c.Submit(Proposal{Mode: ModeAuto}, []string{"v1"})
	assert.Nil(t, c.Vote(p.ID, Vote{VoterID: "intruder", Approve: true}))
	_, decided := c.Decision(p.ID)
	assert.False(t, decided)
}

func TestConsensusIgnoresVotesAfterDecision(t *testing.T) {
	c := NewConsensus(nil)
	p := c.Submit(Proposal{Mode: ModeAuto}, []string{"v1", "v2"})
	c.Vote(p.ID, Vote{VoterID: "v1", Approve: true})
	// Changing vote after decision must not alter it.
	assert.Nil(t, c.Vote(p.ID, Vote{VoterID: "v1", Approve: false}))
	d, ok := c.Decision(p.ID)
	require.True(t, ok)
	assert.True(t, d.Approved)
}
