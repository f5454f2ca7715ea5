package raft

import "github.com/kelridge/raftkv/internal/raftmsg"

// handleGet implements the read path of spec.md section 4.6. A leader
// answers directly from its store; anyone else redirects to a known
// leader or, lacking one, queues the request until a leader appears.
func (r *Replica) handleGet(msg raftmsg.Envelope) {
	if r.role == Leader {
		value, _ := r.store.Get(msg.Key)
		r.send(raftmsg.Envelope{
			Src:    r.id,
			Dst:    msg.Src,
			Leader: r.currentLeader,
			Type:   raftmsg.TypeOK,
			MID:    msg.MID,
			Key:    msg.Key,
			Value:  value,
		})
		return
	}

	if r.currentLeader != raftmsg.Broadcast {
		r.send(raftmsg.Envelope{
			Src:    r.id,
			Dst:    msg.Src,
			Leader: r.currentLeader,
			Type:   raftmsg.TypeRedirect,
			MID:    msg.MID,
		})
		return
	}

	r.enqueue(msg)
}

// handlePut implements the write path of spec.md section 4.6. A leader
// first checks whether this MID has already been committed -- the
// at-most-once guarantee requires a resent put to be acknowledged without
// appending a second entry -- and only appends a fresh entry otherwise.
// Non-leaders redirect or queue exactly like handleGet.
func (r *Replica) handlePut(msg raftmsg.Envelope) {
	if r.role == Leader {
		if idx, found := r.findCommittedMID(msg.MID); found {
			entry := r.log.At(idx)
			r.send(raftmsg.Envelope{
				Src:    r.id,
				Dst:    msg.Src,
				Leader: r.currentLeader,
				Type:   raftmsg.TypeOK,
				MID:    msg.MID,
				Key:    entry.Key,
				Value:  entry.Value,
			})
			return
		}

		r.log.Append(raftmsg.LogEntry{
			Term:    r.currentTerm,
			Command: raftmsg.CommandPut,
			Src:     msg.Src,
			MID:     msg.MID,
			Key:     msg.Key,
			Value:   msg.Value,
		})
		return
	}

	if r.currentLeader != raftmsg.Broadcast {
		r.send(raftmsg.Envelope{
			Src:    r.id,
			Dst:    msg.Src,
			Leader: r.currentLeader,
			Type:   raftmsg.TypeRedirect,
			MID:    msg.MID,
		})
		return
	}

	r.enqueue(msg)
}

// findCommittedMID scans the committed portion of the log for a put entry
// carrying mid, implementing the at-most-once dedup rule of spec.md
// section 4.6. Uncommitted entries are deliberately not considered: a put
// that has not yet committed is retried exactly as if it were new, since
// it may never commit (e.g. the leader that accepted it is about to lose
// an election).
func (r *Replica) findCommittedMID(mid string) (int64, bool) {
	if mid == "" {
		return 0, false
	}
	for i := int64(1); i <= r.commitIndex; i++ {
		entry := r.log.At(i)
		if entry.Command == raftmsg.CommandPut && entry.MID == mid {
			return i, true
		}
	}
	return 0, false
}

// enqueue holds a get/put request that arrived with no known leader, to
// be redirected once one is learned (spec.md section 4.6, "no leader
// known" case).
func (r *Replica) enqueue(msg raftmsg.Envelope) {
	r.pending = append(r.pending, msg)
}

// drainPendingQueue flushes any requests queued while the leader was
// unknown, redirecting each to the leader just learned. Called from
// handleAppend as soon as a replica adopts a sender as leader.
func (r *Replica) drainPendingQueue() {
	if len(r.pending) == 0 || r.currentLeader == raftmsg.Broadcast {
		return
	}
	for _, msg := range r.pending {
		r.send(raftmsg.Envelope{
			Src:    r.id,
			Dst:    msg.Src,
			Leader: r.currentLeader,
			Type:   raftmsg.TypeRedirect,
			MID:    msg.MID,
		})
	}
	r.pending = nil
}

// applyCommitted advances the state machine over any newly committed
// entries, per spec.md section 4.6. Only the leader notifies the
// originating client on apply: a follower applying the same entry has no
// client connection to answer on, since the client's original request
// was sent to (or redirected toward) the leader.
func (r *Replica) applyCommitted() {
	for r.lastApplied < r.commitIndex {
		r.lastApplied++
		entry := r.log.At(r.lastApplied)
		if entry.Command != raftmsg.CommandPut {
			continue
		}
		r.store.Put(entry.Key, entry.Value)

		if r.role == Leader {
			r.send(raftmsg.Envelope{
				Src:    r.id,
				Dst:    entry.Src,
				Leader: r.currentLeader,
				Type:   raftmsg.TypeOK,
				MID:    entry.MID,
				Key:    entry.Key,
				Value:  entry.Value,
			})
		}
	}
}
