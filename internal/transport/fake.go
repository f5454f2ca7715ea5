package transport

import (
	"sync"
	"time"

	"github.com/kelridge/raftkv/internal/raftmsg"
)

// FakeNetwork is an in-process stand-in for the harness's lossy channel,
// used to drive multi-replica scenario tests without real sockets. It
// supports the partition simulation the spec's end-to-end scenarios
// require (see spec.md section 8, "Partition of minority").
type FakeNetwork struct {
	mu          sync.Mutex
	inboxes     map[string]chan raftmsg.Envelope
	partitioned map[string]bool
}

// NewFakeNetwork creates a network with one inbox per id in ids.
func NewFakeNetwork(ids []string) *FakeNetwork {
	n := &FakeNetwork{
		inboxes:     make(map[string]chan raftmsg.Envelope),
		partitioned: make(map[string]bool),
	}
	for _, id := range ids {
		n.inboxes[id] = make(chan raftmsg.Envelope, 1024)
	}
	return n
}

// Endpoint returns the Transport a replica with the given id should use.
func (n *FakeNetwork) Endpoint(id string) *FakeEndpoint {
	return &FakeEndpoint{net: n, self: id}
}

// Partition marks id as unreachable: messages to or from it are dropped
// until it is healed. Used to simulate the minority-partition scenario.
func (n *FakeNetwork) Partition(id string, cut bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[id] = cut
}

func (n *FakeNetwork) isPartitioned(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.partitioned[id]
}

func (n *FakeNetwork) deliver(msg raftmsg.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.partitioned[msg.Src] {
		return
	}
	if msg.Dst == raftmsg.Broadcast {
		for id, ch := range n.inboxes {
			if id == msg.Src || n.partitioned[id] {
				continue
			}
			select {
			case ch <- msg:
			default:
			}
		}
		return
	}
	if n.partitioned[msg.Dst] {
		return
	}
	if ch, ok := n.inboxes[msg.Dst]; ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// FakeEndpoint implements Transport against a FakeNetwork.
type FakeEndpoint struct {
	net  *FakeNetwork
	self string
}

// Send delivers msg immediately (or drops it if self or dst is
// partitioned).
func (e *FakeEndpoint) Send(msg raftmsg.Envelope) error {
	e.net.deliver(msg)
	return nil
}

// Recv waits up to timeout for the next message addressed to self.
func (e *FakeEndpoint) Recv(timeout time.Duration) (raftmsg.Envelope, bool) {
	if e.net.isPartitioned(e.self) {
		time.Sleep(timeout)
		return raftmsg.Envelope{}, false
	}
	e.net.mu.Lock()
	ch := e.net.inboxes[e.self]
	e.net.mu.Unlock()
	select {
	case msg := <-ch:
		return msg, true
	case <-time.After(timeout):
		return raftmsg.Envelope{}, false
	}
}

// Close is a no-op; the network outlives any one endpoint.
func (e *FakeEndpoint) Close() error {
	return nil
}
