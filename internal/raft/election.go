package raft

import "github.com/kelridge/raftkv/internal/raftmsg"

// startElection fires on either a follower's first timeout or a
// candidate's timeout without a majority (spec.md section 4.1: both are
// "begin a new election" with a term bump).
func (r *Replica) startElection() {
	r.becomeCandidate()
}

// handleRequestVote implements the vote-granting rule of spec.md section
// 4.2. Term reconciliation has already happened in dispatch, so by the
// time this runs r.currentTerm >= msg.Term.
func (r *Replica) handleRequestVote(msg raftmsg.Envelope) {
	grant := false
	if msg.Term >= r.currentTerm && r.role == Follower {
		upToDate := msg.LastLogTerm > r.log.LastTerm() ||
			(msg.LastLogTerm == r.log.LastTerm() && msg.LastLogIndex >= r.log.LastIndex())
		if upToDate && (r.votedFor == "" || r.votedFor == msg.Src) {
			grant = true
		}
	}
	if grant {
		r.votedFor = msg.Src
		r.resetElectionDeadline()
	}
	r.send(raftmsg.Envelope{
		Src:    r.id,
		Dst:    msg.Src,
		Leader: r.currentLeader,
		Type:   raftmsg.TypeVote,
		Term:   r.currentTerm,
		Vote:   grant,
	})
}

// handleVote tallies a vote response. Only a candidate still in the term
// it solicited votes for counts anything (a stale or cross-term reply is
// simply dropped, per spec.md section 7's "role/message mismatch" rule).
func (r *Replica) handleVote(msg raftmsg.Envelope) {
	if r.role != Candidate || msg.Term != r.currentTerm || !msg.Vote {
		return
	}
	r.votes[msg.Src] = true
	if len(r.votes) >= majorityOf(len(r.peers)+1) {
		r.becomeLeader()
	}
}
