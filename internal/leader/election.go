// Package leader implements the leader-based replication mode (C4):
// majority-vote election, term-tagged heartbeats, best-effort log apply on
// followers, and leader-redirect for followers that receive a write.
package leader

import (
	"sync"
	"time"
)

// Role is this node's position in the term state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

const (
	heartbeatInterval  = 100 * time.Millisecond
	healthCheckPeriod  = 200 * time.Millisecond
	heartbeatTimeout   = 2 * time.Second
	voteTimeout        = 500 * time.Millisecond
	applyTimeout       = 1 * time.Second
)

// electionState is the volatile per-term bookkeeping from §3's Election
// State. Everything here is reset or advanced by term transitions; nothing
// is durable — on restart a node always starts as a fresh follower.
type electionState struct {
	mu              sync.Mutex
	term            int
	votedFor        string
	role            Role
	knownLeaderID   string
	knownLeaderAddr string
	lastHeartbeat   time.Time
}

// handleVoteRequest implements §4.4 step 2. A candidate's request is
// granted iff its term is strictly newer (in which case we adopt it and
// demote), or the term matches and we haven't voted yet this term.
//
// §9 flags that treating "already a same-term candidate" as already-voted
// is a quirk of the original behavior, not a bug to fix — preserved as-is:
// a node that started its own candidacy has already set votedFor to itself,
// so it naturally falls through to the "already voted" branch below.
func (s *electionState) handleVoteRequest(term int, candidateID string) (granted bool, respTerm int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if term > s.term {
		s.term = term
		s.votedFor = candidateID
		s.role = Follower
		return true, s.term
	}
	if term == s.term && s.votedFor == "" {
		s.votedFor = candidateID
		return true, s.term
	}
	return false, s.term
}

// handleHeartbeat implements §4.4's heartbeat-adoption rule: any heartbeat
// whose term is >= ours is honored, regardless of who we currently think
// the leader is — a higher or equal term always wins.
func (s *electionState) handleHeartbeat(term int, leaderID, leaderAddr string) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if term < s.term {
		return false
	}
	s.term = term
	s.role = Follower
	s.knownLeaderID = leaderID
	s.knownLeaderAddr = leaderAddr
	s.lastHeartbeat = time.Now()
	return true
}

func (s *electionState) snapshot() (role Role, term int, leaderID, leaderAddr string, lastHeartbeat time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role, s.term, s.knownLeaderID, s.knownLeaderAddr, s.lastHeartbeat
}

// beginCandidacy bumps the term, votes for self, and marks this node a
// candidate. Returns the new term so the caller can tag outbound vote RPCs.
func (s *electionState) beginCandidacy(selfID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term++
	s.votedFor = selfID
	s.role = Candidate
	return s.term
}

// becomeLeader promotes this node, provided term is still the term it ran
// its candidacy under (a concurrent heartbeat from a higher term may have
// already demoted it).
func (s *electionState) becomeLeader(selfID, selfAddr string, term int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.term != term || s.role != Candidate {
		return false
	}
	s.role = Leader
	s.knownLeaderID = selfID
	s.knownLeaderAddr = selfAddr
	s.lastHeartbeat = time.Now()
	return true
}

// stepDown reverts to follower without changing the term — used when a
// candidacy loses and must not keep claiming to be a candidate forever.
func (s *electionState) stepDown(term int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.term == term && s.role == Candidate {
		s.role = Follower
	}
}
