// Package raft implements the replicated state machine described in
// spec.md: the follower/candidate/leader role state machine, the
// election and log-replication protocols, and the client get/put request
// pipeline. The replica is single-threaded and cooperative -- Run's
// event loop is the only writer of any field below, so none of it is
// guarded by a lock (see spec.md section 5). The one exception is the
// status snapshot published for the diagnostics HTTP surface, which uses
// atomic.Value precisely because that surface runs on its own goroutine.
package raft

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kelridge/raftkv/internal/raftmsg"
	"github.com/kelridge/raftkv/internal/store"
	"github.com/kelridge/raftkv/internal/transport"
)

// Role is the replica's current position in the state machine. Candidate
// is tracked distinctly even though, per spec.md's design notes, it
// behaves like a quiescent follower with respect to client traffic.
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

// Pacing holds the timing constants fixed by spec.md section 4 (the
// zero-value Pacing is not valid; use DefaultPacing or config.Pacing).
type Pacing struct {
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	AppendInterval     time.Duration
	PollTimeout        time.Duration
	ChunkSize          int
}

// DefaultPacing returns the constants named in spec.md section 4/8.
func DefaultPacing() Pacing {
	return Pacing{
		ElectionTimeoutMin: 500 * time.Millisecond,
		ElectionTimeoutMax: 800 * time.Millisecond,
		HeartbeatInterval:  150 * time.Millisecond,
		AppendInterval:     300 * time.Millisecond,
		PollTimeout:        100 * time.Millisecond,
		ChunkSize:          30,
	}
}

// leaderState is the volatile, leader-only bookkeeping from spec.md
// section 3. It is allocated on becoming leader and discarded on
// stepping down, so leader-only invariants are unrepresentable off-leader
// (spec.md section 9, "Role as tagged variant").
type leaderState struct {
	nextIndex      map[string]int64
	matchIndex     map[string]int64
	lastAppendSent map[string]time.Time
}

// Status is a read-only snapshot of a replica, published once per event
// loop iteration for the diagnostics HTTP server (internal/api). It is
// never consulted by the replica's own logic.
type Status struct {
	ID          string
	Role        string
	Term        int64
	Leader      string
	CommitIndex int64
	LastApplied int64
	Log         []raftmsg.LogEntry
	KV          map[string]string
}

// Replica is one member of the cluster: all the state the event loop
// needs to drive the Raft protocol and serve client get/put requests.
type Replica struct {
	id    string
	peers []string

	transport transport.Transport
	store     *store.KV
	pacing    Pacing
	rng       *rand.Rand

	role          Role
	currentTerm   int64
	votedFor      string
	log           *Log
	commitIndex   int64
	lastApplied   int64
	currentLeader string

	electionDeadline time.Time
	lastHeartbeat    time.Time

	votes map[string]bool

	leader *leaderState

	pending []raftmsg.Envelope

	status atomic.Value
}

// NewReplica constructs a replica in the follower role at term 0 with an
// empty (sentinel-only) log and no known leader, per spec.md section 3.
func NewReplica(id string, peers []string, tr transport.Transport, kv *store.KV, pacing Pacing) *Replica {
	r := &Replica{
		id:            id,
		peers:         append([]string(nil), peers...),
		transport:     tr,
		store:         kv,
		pacing:        pacing,
		rng:           rand.New(rand.NewSource(seedFor(id))),
		role:          Follower,
		log:           NewLog(),
		currentLeader: raftmsg.Broadcast,
	}
	r.resetElectionDeadline()
	r.publishStatus()
	return r
}

func seedFor(id string) int64 {
	var h int64 = 1469598103934665603
	for _, c := range id {
		h ^= int64(c)
		h *= 1099511628211
	}
	return h ^ time.Now().UnixNano()
}

// Run starts the event loop. It announces the replica with a broadcast
// "hello" (spec.md section 6) and then iterates until stop is closed.
func (r *Replica) Run(stop <-chan struct{}) {
	r.send(raftmsg.Envelope{Src: r.id, Dst: raftmsg.Broadcast, Leader: raftmsg.Broadcast, Type: raftmsg.TypeHello})
	for {
		select {
		case <-stop:
			return
		default:
		}
		r.tick()
	}
}

// tick runs one iteration of the five-step loop in spec.md section 4.7.
func (r *Replica) tick() {
	now := time.Now()

	if r.role != Leader && !now.Before(r.electionDeadline) {
		r.startElection()
	}

	if r.role == Leader && now.Sub(r.lastHeartbeat) >= r.pacing.HeartbeatInterval {
		r.sendHeartbeats()
	}

	if r.role == Leader {
		r.maybeReplicate(now)
	}

	if msg, ok := r.transport.Recv(r.pacing.PollTimeout); ok {
		r.dispatch(msg)
	}

	r.applyCommitted()
	r.publishStatus()
}

// dispatch reconciles terms before routing by message type, per spec.md
// section 4.7 step 4 ("reconcile terms (step down on higher term), then
// dispatch by type").
func (r *Replica) dispatch(msg raftmsg.Envelope) {
	if msg.Term > r.currentTerm {
		// Only a confirmed AppendEntries names a legitimate leader here;
		// anything else (e.g. a requestvote from a replica whose term
		// inflated while partitioned) only proves our term is stale, not
		// who leads it, so current_leader resets to "unknown" rather than
		// keeping whatever this replica believed (or, if it was leader
		// itself, its own now-stale id).
		leader := raftmsg.Broadcast
		if msg.Type == raftmsg.TypeAppend {
			leader = msg.Src
		}
		r.becomeFollower(msg.Term, leader)
	}

	switch msg.Type {
	case raftmsg.TypeGet:
		r.handleGet(msg)
	case raftmsg.TypePut:
		r.handlePut(msg)
	case raftmsg.TypeRequestVote:
		r.handleRequestVote(msg)
	case raftmsg.TypeVote:
		r.handleVote(msg)
	case raftmsg.TypeAppend:
		r.handleAppend(msg)
	case raftmsg.TypeOK:
		r.handleAppendAck(msg)
	case raftmsg.TypeFail:
		r.handleAppendFail(msg)
	case raftmsg.TypeHello:
		log.Debug().Str("src", msg.Src).Msg("peer announced itself")
	default:
		log.Debug().Str("type", msg.Type).Str("src", msg.Src).Msg("dropping unknown message type")
	}
}

func (r *Replica) send(msg raftmsg.Envelope) {
	if err := r.transport.Send(msg); err != nil {
		log.Warn().Err(err).Str("type", msg.Type).Str("dst", msg.Dst).Msg("failed to send message")
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// majorityOf returns the smallest strict majority of total nodes, i.e.
// floor(total/2) + 1. Used for both election vote tallies and the
// replication commit quorum.
func majorityOf(total int) int {
	return total/2 + 1
}

// Status returns the most recently published snapshot.
func (r *Replica) Status() Status {
	v := r.status.Load()
	if v == nil {
		return Status{ID: r.id}
	}
	return v.(Status)
}

func (r *Replica) publishStatus() {
	r.status.Store(Status{
		ID:          r.id,
		Role:        r.role.String(),
		Term:        r.currentTerm,
		Leader:      r.currentLeader,
		CommitIndex: r.commitIndex,
		LastApplied: r.lastApplied,
		Log:         r.log.Snapshot(),
		KV:          r.store.Snapshot(),
	})
}

// Close releases the underlying transport.
func (r *Replica) Close() error {
	return r.transport.Close()
}
