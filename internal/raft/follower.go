package raft

import "github.com/kelridge/raftkv/internal/raftmsg"

// handleAppend implements the follower append handler of spec.md section
// 4.5. By the time this runs, dispatch has already adopted any strictly
// higher term, so msg.Term < r.currentTerm here means the sender's term
// was no greater than ours even before that reconciliation -- a genuinely
// stale leader.
func (r *Replica) handleAppend(msg raftmsg.Envelope) {
	if msg.Term < r.currentTerm {
		r.replyAppendFail(msg)
		return
	}

	// Step 1: adopt the sender as leader for this term and reset the
	// election timeout, even for a bare heartbeat.
	r.role = Follower
	r.currentLeader = msg.Src
	r.resetElectionDeadline()
	r.drainPendingQueue()

	if !r.log.Match(msg.PrevLogIndex, msg.PrevLogTerm) {
		r.replyAppendFail(msg)
		return
	}

	if msg.PrevLogIndex+1 <= r.log.LastIndex() {
		r.log.TruncateFrom(msg.PrevLogIndex + 1)
	}
	r.log.AppendAll(msg.Entries)
	r.commitIndex = min64(msg.LeaderCommit, r.log.LastIndex())

	r.send(raftmsg.Envelope{
		Src:          r.id,
		Dst:          msg.Src,
		Leader:       r.currentLeader,
		Type:         raftmsg.TypeOK,
		Term:         r.currentTerm,
		PrevLogIndex: msg.PrevLogIndex,
		PrevLogTerm:  msg.PrevLogTerm,
		Entries:      msg.Entries,
	})
}

func (r *Replica) replyAppendFail(msg raftmsg.Envelope) {
	hint := r.log.FirstConflictIndex(msg.PrevLogIndex)
	r.send(raftmsg.Envelope{
		Src:        r.id,
		Dst:        msg.Src,
		Leader:     r.currentLeader,
		Type:       raftmsg.TypeFail,
		Term:       r.currentTerm,
		FirstIndex: &hint,
	})
}
