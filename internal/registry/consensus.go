package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProposalType enumerates the kinds of decision a Consensus gate can vote on.
type ProposalType string

// DecisionMode selects how a proposal's outcome is determined.
type DecisionMode string

const (
	ModeAuto    DecisionMode = "auto"    // a single designated voter decides
	ModeQuorum  DecisionMode = "quorum"  // a majority of cast votes decides
)

// Proposal is a submitted decision request.
type Proposal struct {
	ID          string       `json:"id"`
	Type        ProposalType `json:"type"`
	Description string       `json:"description"`
	Content     any          `json:"content"`
	Proposer    string       `json:"proposer"`
	Mode        DecisionMode `json:"mode"`
	CreatedAt   int64        `json:"createdAt"`
}

// Vote is one voter's response to a proposal.
type Vote struct {
	VoterID string `json:"voterID"`
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// Decision is the rendered outcome of a proposal.
type Decision struct {
	ProposalID string `json:"proposalID"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason"`
	Votes      []Vote `json:"votes"`
}

type proposalState struct {
	proposal Proposal
	voters   map[string]bool
	votes    map[string]Vote
	decided  bool
	decision Decision
}

// Consensus distributes voting on proposals across registered voters and
// renders an approved/rejected decision once enough votes are in.
type Consensus struct {
	mu        sync.Mutex
	proposals map[string]*proposalState
	now       func() time.Time
}

// NewConsensus creates an empty Consensus gate.
func NewConsensus(now func() time.Time) *Consensus {
	if now == nil {
		now = time.Now
	}
	return &Consensus{
		proposals: make(map[string]*proposalState),
		now:       now,
	}
}

// Submit registers a new proposal open for voting by voterIDs. For
// ModeAuto, the lexicographically smallest id in voterIDs is the sole
// decider; for ModeQuorum, a strict majority of voterIDs must approve.
func (c *Consensus) Submit(p Proposal, voterIDs []string) Proposal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = c.now().UnixMilli()

	voters := make(map[string]bool, len(voterIDs))
	for _, v := range voterIDs {
		voters[v] = true
	}
	c.proposals[p.ID] = &proposalState{
		proposal: p,
		voters:   voters,
		votes:    make(map[string]Vote),
	}
	return p
}

// Vote casts voterID's vote on proposalID. Returns the rendered Decision
// once the proposal has enough votes to decide, or nil if still pending.
// Votes from ids not in the registered voter set, or cast after a decision
// has already been rendered, are ignored.
func (c *Consensus) Vote(proposalID string, vote Vote) *Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.proposals[proposalID]
	if !ok || st.decided || !st.voters[vote.VoterID] {
		return nil
	}
	st.votes[vote.VoterID] = vote

	switch st.proposal.Mode {
	case ModeAuto:
		decider := firstVoter(st.voters)
		if v, voted := st.votes[decider]; voted {
			st.decided = true
			st.decision = Decision{
				ProposalID: proposalID,
				Approved:   v.Approve,
				Reason:     v.Reason,
				Votes:      voteList(st.votes),
			}
		}
	default: // ModeQuorum
		if len(st.votes) < len(st.voters) {
			break
		}
		approvals := 0
		for _, v := range st.votes {
			if v.Approve {
				approvals++
			}
		}
		approved := approvals*2 > len(st.voters)
		reason := "quorum approved"
		if !approved {
			reason = "quorum rejected"
		}
		st.decided = true
		st.decision = Decision{
			ProposalID: proposalID,
			Approved:   approved,
			Reason:     reason,
			Votes:      voteList(st.votes),
		}
	}

	if st.decided {
		d := st.decision
		return &d
	}
	return nil
}

// Decision returns the rendered decision for proposalID, if any.
func (c *Consensus) Decision(proposalID string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.proposals[proposalID]
	if !ok || !st.decided {
		return Decision{}, false
	}
	return st.decision, true
}

func firstVoter(voters map[string]bool) string {
	best := ""
	for v := range voters {
		if best == "" || v < best {
			best = v
		}
	}
	return best
}

func voteList(votes map[string]Vote) []Vote {
	out := make([]Vote, 0, len(votes))
	for _, v := range votes {
		out = append(out, v)
	}
	return out
}
