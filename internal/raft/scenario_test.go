package raft

import (
	"testing"
	"time"

	"github.com/kelridge/raftkv/internal/raftmsg"
	"github.com/kelridge/raftkv/internal/store"
	"github.com/kelridge/raftkv/internal/transport"
)

// cluster wires up a small set of replicas over a FakeNetwork and runs
// each one's event loop on its own goroutine, mirroring the end-to-end
// scenarios in spec.md section 8.
type cluster struct {
	net      *transport.FakeNetwork
	replicas map[string]*Replica
	stop     chan struct{}
}

func newCluster(t *testing.T, ids []string) *cluster {
	t.Helper()
	net := transport.NewFakeNetwork(append(append([]string(nil), ids...), "client"))
	c := &cluster{net: net, replicas: make(map[string]*Replica, len(ids)), stop: make(chan struct{})}
	for _, id := range ids {
		var peers []string
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		c.replicas[id] = NewReplica(id, peers, net.Endpoint(id), store.New(), DefaultPacing())
	}
	for _, r := range c.replicas {
		go r.Run(c.stop)
	}
	return c
}

func (c *cluster) close() {
	close(c.stop)
}

func (c *cluster) waitForLeader(t *testing.T, timeout time.Duration) *Replica {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, r := range c.replicas {
			if r.Status().Role == Leader.String() {
				return r
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no leader elected within %s", timeout)
	return nil
}

func TestScenarioFiveReplicasElectExactlyOneLeader(t *testing.T) {
	c := newCluster(t, []string{"1", "2", "3", "4", "5"})
	defer c.close()

	c.waitForLeader(t, 3*time.Second)

	time.Sleep(200 * time.Millisecond)
	leaders := 0
	for _, r := range c.replicas {
		if r.Status().Role == Leader.String() {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("leaders = %d, want exactly 1", leaders)
	}
}

func TestScenarioPutThenGetRoundTrips(t *testing.T) {
	c := newCluster(t, []string{"1", "2", "3"})
	defer c.close()

	leader := c.waitForLeader(t, 3*time.Second)
	client := c.net.Endpoint("client")

	client.Send(raftmsg.Envelope{Src: "client", Dst: leader.Status().ID, Type: raftmsg.TypePut, Key: "x", Value: "1", MID: "put-1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := leader.store.Get("x"); ok && v == "1" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if v, ok := leader.store.Get("x"); !ok || v != "1" {
		t.Fatalf("store.Get(x) = (%q, %v), want (1, true)", v, ok)
	}

	client.Send(raftmsg.Envelope{Src: "client", Dst: leader.Status().ID, Type: raftmsg.TypeGet, Key: "x", MID: "get-1"})
	reply, ok := client.Recv(2 * time.Second)
	for ok && reply.MID != "get-1" {
		reply, ok = client.Recv(2 * time.Second)
	}
	if !ok || reply.Value != "1" {
		t.Fatalf("expected get reply with value 1, got %+v ok=%v", reply, ok)
	}
}

func TestScenarioFollowerRedirectsClient(t *testing.T) {
	c := newCluster(t, []string{"1", "2", "3"})
	defer c.close()

	leader := c.waitForLeader(t, 3*time.Second)
	var follower string
	for id := range c.replicas {
		if id != leader.Status().ID {
			follower = id
			break
		}
	}

	client := c.net.Endpoint("client")
	client.Send(raftmsg.Envelope{Src: "client", Dst: follower, Type: raftmsg.TypeGet, Key: "x", MID: "get-1"})

	reply, ok := client.Recv(2 * time.Second)
	for ok && reply.MID != "get-1" {
		reply, ok = client.Recv(2 * time.Second)
	}
	if !ok || reply.Type != raftmsg.TypeRedirect || reply.Leader != leader.Status().ID {
		t.Fatalf("expected redirect to %s, got %+v ok=%v", leader.Status().ID, reply, ok)
	}
}

func TestScenarioMinorityPartitionDoesNotBlockProgress(t *testing.T) {
	c := newCluster(t, []string{"1", "2", "3", "4", "5"})
	defer c.close()

	leader := c.waitForLeader(t, 3*time.Second)
	var minority string
	for id := range c.replicas {
		if id != leader.Status().ID {
			minority = id
			break
		}
	}
	c.net.Partition(minority, true)

	client := c.net.Endpoint("client")
	client.Send(raftmsg.Envelope{Src: "client", Dst: leader.Status().ID, Type: raftmsg.TypePut, Key: "y", Value: "2", MID: "put-2"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := leader.store.Get("y"); ok && v == "2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("a 4/5 majority must still commit with one replica partitioned")
}
