package raft

import "github.com/kelridge/raftkv/internal/raftmsg"

// Log is the append-only, 1-origin sequence described in spec.md section
// 3: entries[0] is the fixed sentinel {term: 0, command: none}, so that
// prev_log_index arithmetic is total for any live index >= 0.
type Log struct {
	entries []raftmsg.LogEntry
}

// NewLog returns a log containing only the index-0 sentinel.
func NewLog() *Log {
	return &Log{entries: []raftmsg.LogEntry{{Term: 0, Command: raftmsg.CommandNone}}}
}

// LastIndex returns the highest valid index in the log (>= 0, the
// sentinel counts).
func (l *Log) LastIndex() int64 {
	return int64(len(l.entries) - 1)
}

// LastTerm returns the term stamped on the last entry.
func (l *Log) LastTerm() int64 {
	return l.entries[len(l.entries)-1].Term
}

// At returns the entry at index i. Callers must keep i within
// [0, LastIndex()].
func (l *Log) At(i int64) raftmsg.LogEntry {
	return l.entries[i]
}

// Append adds entry to the tail (leader-only) and returns its index.
func (l *Log) Append(entry raftmsg.LogEntry) int64 {
	l.entries = append(l.entries, entry)
	return l.LastIndex()
}

// AppendAll adds entries to the tail in order (follower-only, after any
// necessary TruncateFrom).
func (l *Log) AppendAll(entries []raftmsg.LogEntry) {
	l.entries = append(l.entries, entries...)
}

// TruncateFrom discards every entry at index >= i (follower-only,
// invoked when a leader's AppendEntries conflicts with the local log).
func (l *Log) TruncateFrom(i int64) {
	if i < 0 || i > l.LastIndex() {
		return
	}
	l.entries = l.entries[:i]
}

// Match reports whether prevIndex is within bounds and the entry there
// carries prevTerm, per spec.md section 4.3.
func (l *Log) Match(prevIndex, prevTerm int64) bool {
	if prevIndex < 0 || prevIndex > l.LastIndex() {
		return false
	}
	return l.entries[prevIndex].Term == prevTerm
}

// FirstConflictIndex computes the back-off hint a follower returns with
// a "fail" reply: if i is beyond the log, the last valid index; else the
// smallest index sharing log[i]'s term. The leader jumps next_index to
// this hint rather than decrementing by one.
func (l *Log) FirstConflictIndex(i int64) int64 {
	if i > l.LastIndex() {
		return l.LastIndex()
	}
	if i < 0 {
		return 0
	}
	term := l.entries[i].Term
	for i > 0 && l.entries[i-1].Term == term {
		i--
	}
	return i
}

// Slice returns up to limit entries starting at from, never nil (an
// empty, non-nil slice marshals as "[]" rather than "null", matching the
// wire contract for heartbeats). limit <= 0 means "no cap".
func (l *Log) Slice(from int64, limit int) []raftmsg.LogEntry {
	out := make([]raftmsg.LogEntry, 0)
	if from > l.LastIndex() || from < 0 {
		return out
	}
	end := len(l.entries)
	if limit > 0 && from+int64(limit) < int64(end) {
		end = int(from) + limit
	}
	out = append(out, l.entries[from:end]...)
	return out
}

// Snapshot returns a private copy of the full log, for the diagnostics
// surface.
func (l *Log) Snapshot() []raftmsg.LogEntry {
	out := make([]raftmsg.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
