package raft

import (
	"testing"

	"github.com/kelridge/raftkv/internal/raftmsg"
	"github.com/kelridge/raftkv/internal/transport"
)

func TestHandleGetAsLeaderReadsFromStore(t *testing.T) {
	net := transport.NewFakeNetwork([]string{"a", "b", "client"})
	r := makeLeader(t, "a", []string{"b"}, net)
	r.store.Put("k", "v")

	r.handleGet(raftmsg.Envelope{Src: "client", Type: raftmsg.TypeGet, Key: "k", MID: "m1"})

	reply, ok := net.Endpoint("client").Recv(0)
	if !ok || reply.Type != raftmsg.TypeOK || reply.Value != "v" {
		t.Fatalf("expected ok with value v, got %+v ok=%v", reply, ok)
	}
}

func TestHandleGetAsFollowerWithKnownLeaderRedirects(t *testing.T) {
	net := transport.NewFakeNetwork([]string{"a", "b", "client"})
	r := newTestReplica("a", []string{"b"}, net)
	r.currentLeader = "b"

	r.handleGet(raftmsg.Envelope{Src: "client", Type: raftmsg.TypeGet, Key: "k"})

	reply, ok := net.Endpoint("client").Recv(0)
	if !ok || reply.Type != raftmsg.TypeRedirect || reply.Leader != "b" {
		t.Fatalf("expected redirect to b, got %+v ok=%v", reply, ok)
	}
}

func TestHandleGetWithNoKnownLeaderQueues(t *testing.T) {
	net := transport.NewFakeNetwork([]string{"a", "client"})
	r := newTestReplica("a", nil, net)

	r.handleGet(raftmsg.Envelope{Src: "client", Type: raftmsg.TypeGet, Key: "k"})

	if len(r.pending) != 1 {
		t.Fatalf("pending = %d, want 1 queued request", len(r.pending))
	}
	if _, ok := net.Endpoint("client").Recv(0); ok {
		t.Fatalf("expected no reply while leader is unknown")
	}
}

func TestHandlePutAsLeaderAppendsNewEntry(t *testing.T) {
	net := transport.NewFakeNetwork([]string{"a", "b", "client"})
	r := makeLeader(t, "a", []string{"b"}, net)
	before := r.log.LastIndex()

	r.handlePut(raftmsg.Envelope{Src: "client", Type: raftmsg.TypePut, Key: "k", Value: "v", MID: "m1"})

	if r.log.LastIndex() != before+1 {
		t.Fatalf("LastIndex = %d, want %d (one new entry appended)", r.log.LastIndex(), before+1)
	}
	entry := r.log.At(r.log.LastIndex())
	if entry.Key != "k" || entry.Value != "v" || entry.MID != "m1" {
		t.Fatalf("appended entry = %+v, want matching put", entry)
	}
}

func TestHandlePutDedupsAlreadyCommittedMID(t *testing.T) {
	net := transport.NewFakeNetwork([]string{"a", "b", "client"})
	r := makeLeader(t, "a", []string{"b"}, net)
	idx := r.log.Append(raftmsg.LogEntry{Term: r.currentTerm, Command: raftmsg.CommandPut, Src: "client", MID: "m1", Key: "k", Value: "v"})
	r.commitIndex = idx

	r.handlePut(raftmsg.Envelope{Src: "client", Type: raftmsg.TypePut, Key: "k", Value: "v2", MID: "m1"})

	if r.log.LastIndex() != idx {
		t.Fatalf("LastIndex = %d, want unchanged %d -- duplicate MID must not append", r.log.LastIndex(), idx)
	}
	reply, ok := net.Endpoint("client").Recv(0)
	if !ok || reply.Type != raftmsg.TypeOK || reply.Value != "v" {
		t.Fatalf("expected immediate ok echoing the already-committed value, got %+v ok=%v", reply, ok)
	}
}

func TestApplyCommittedUpdatesStoreAndNotifiesClientWhenLeader(t *testing.T) {
	net := transport.NewFakeNetwork([]string{"a", "b", "client"})
	r := makeLeader(t, "a", []string{"b"}, net)
	idx := r.log.Append(raftmsg.LogEntry{Term: r.currentTerm, Command: raftmsg.CommandPut, Src: "client", MID: "m1", Key: "k", Value: "v"})
	r.commitIndex = idx

	r.applyCommitted()

	if v, ok := r.store.Get("k"); !ok || v != "v" {
		t.Fatalf("store.Get(k) = (%q, %v), want (v, true)", v, ok)
	}
	reply, ok := net.Endpoint("client").Recv(0)
	if !ok || reply.Type != raftmsg.TypeOK || reply.MID != "m1" {
		t.Fatalf("expected ok notification to client, got %+v ok=%v", reply, ok)
	}
}

func TestApplyCommittedSkipsNotifyWhenNotLeader(t *testing.T) {
	net := transport.NewFakeNetwork([]string{"a", "client"})
	r := newTestReplica("a", nil, net)
	idx := r.log.Append(raftmsg.LogEntry{Term: 1, Command: raftmsg.CommandPut, Src: "client", MID: "m1", Key: "k", Value: "v"})
	r.commitIndex = idx

	r.applyCommitted()

	if v, ok := r.store.Get("k"); !ok || v != "v" {
		t.Fatalf("a follower must still apply to its own store")
	}
	if _, ok := net.Endpoint("client").Recv(0); ok {
		t.Fatalf("a follower must not notify the client")
	}
}

func TestDrainPendingQueueRedirectsOnceLeaderKnown(t *testing.T) {
	net := transport.NewFakeNetwork([]string{"a", "client"})
	r := newTestReplica("a", nil, net)
	r.enqueue(raftmsg.Envelope{Src: "client", Type: raftmsg.TypeGet, Key: "k"})
	r.currentLeader = "b"

	r.drainPendingQueue()

	if len(r.pending) != 0 {
		t.Fatalf("pending = %d, want drained to 0", len(r.pending))
	}
	reply, ok := net.Endpoint("client").Recv(0)
	if !ok || reply.Type != raftmsg.TypeRedirect || reply.Leader != "b" {
		t.Fatalf("expected redirect to b, got %+v ok=%v", reply, ok)
	}
}
