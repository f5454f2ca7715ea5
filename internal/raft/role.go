package raft

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kelridge/raftkv/internal/raftmsg"
)

// resetElectionDeadline draws a fresh randomized timeout uniformly from
// [ElectionTimeoutMin, ElectionTimeoutMax], per spec.md section 4.2. It
// is called on every transition named there: becoming follower, becoming
// candidate, granting a vote, and receiving a valid AppendEntries.
func (r *Replica) resetElectionDeadline() {
	span := int64(r.pacing.ElectionTimeoutMax - r.pacing.ElectionTimeoutMin)
	var jitter time.Duration
	if span > 0 {
		jitter = time.Duration(r.rng.Int63n(span + 1))
	}
	r.electionDeadline = time.Now().Add(r.pacing.ElectionTimeoutMin + jitter)
}

// becomeFollower handles every "any -> follower" transition in spec.md
// section 4.1. term is only a floor: votedFor is reset to none only when
// term strictly increases (the State Machine Safety / vote invariant in
// section 3 -- "voted_for is reset to none on any term increase" -- is
// the authoritative rule here, not the looser wording under "Entering
// follower" that would otherwise permit re-voting within one term after
// every append). leader is always adopted as current_leader, including
// raftmsg.Broadcast for "no leader known" -- a deposed leader must not be
// left believing it is still current_leader just because the message
// that unseated it wasn't a confirmed AppendEntries (see DESIGN.md).
func (r *Replica) becomeFollower(term int64, leader string) {
	if term > r.currentTerm {
		r.currentTerm = term
		r.votedFor = ""
	}
	r.role = Follower
	r.currentLeader = leader
	r.votes = nil
	r.leader = nil
	r.resetElectionDeadline()
}

// becomeCandidate implements spec.md section 4.1's "Entering candidate"
// actions, used for both the follower->candidate and candidate->candidate
// transitions (the latter is just a fresh election after a timeout with
// no majority).
func (r *Replica) becomeCandidate() {
	r.currentTerm++
	r.votedFor = r.id
	r.role = Candidate
	r.currentLeader = raftmsg.Broadcast
	r.votes = map[string]bool{r.id: true}
	r.leader = nil
	r.resetElectionDeadline()

	log.Info().Str("id", r.id).Int64("term", r.currentTerm).Msg("starting election")
	r.send(raftmsg.Envelope{
		Src:          r.id,
		Dst:          raftmsg.Broadcast,
		Leader:       r.currentLeader,
		Type:         raftmsg.TypeRequestVote,
		Term:         r.currentTerm,
		LastLogIndex: r.log.LastIndex(),
		LastLogTerm:  r.log.LastTerm(),
	})
}

// becomeLeader implements spec.md section 4.1's "Entering leader"
// actions: next_index[p] = commit_index + 1 and match_index[p] = 0 for
// every peer (the more specific operational rule here takes precedence
// over section 3's general "initialized to |log|" description -- see
// DESIGN.md), followed by an immediate heartbeat.
func (r *Replica) becomeLeader() {
	r.role = Leader
	r.currentLeader = r.id
	r.votes = nil

	ls := &leaderState{
		nextIndex:      make(map[string]int64, len(r.peers)),
		matchIndex:     make(map[string]int64, len(r.peers)),
		lastAppendSent: make(map[string]time.Time, len(r.peers)),
	}
	for _, p := range r.peers {
		ls.nextIndex[p] = r.commitIndex + 1
		ls.matchIndex[p] = 0
	}
	r.leader = ls

	log.Info().Str("id", r.id).Int64("term", r.currentTerm).Msg("elected leader")
	r.sendHeartbeats()
}
