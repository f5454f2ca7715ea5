// Package transport is the datagram adaptor between a Replica and the
// outside world. It is deliberately thin: the spec treats the network as
// an unreliable, unordered, possibly-duplicating channel owned by an
// external harness, so this package's only job is framing (JSON over
// UDP) and the single-port routing scheme the harness expects -- all
// outbound messages go to the same loopback port, and the harness
// demultiplexes by the envelope's dst field.
package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kelridge/raftkv/internal/raftmsg"
)

// maxDatagramSize matches the spec's 65535-byte datagram ceiling, which is
// also what drives the 30-entry chunking policy upstream in the replica.
const maxDatagramSize = 65535

// Transport is the narrow interface the replica event loop depends on.
// Production code gets UDPTransport; tests get FakeNetwork.
type Transport interface {
	Send(msg raftmsg.Envelope) error
	Recv(timeout time.Duration) (raftmsg.Envelope, bool)
	Close() error
}

// UDPTransport owns one UDP socket bound to an ephemeral local port and
// addresses every outbound datagram to the harness's well-known port.
// Per the spec's concurrency model, only the replica's event loop ever
// calls Send or Recv -- there is no internal locking here.
type UDPTransport struct {
	conn    *net.UDPConn
	simAddr *net.UDPAddr
}

// NewUDPTransport opens a socket for a replica that exchanges datagrams
// with the harness listening on simPort.
func NewUDPTransport(simPort int) (*UDPTransport, error) {
	simAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("127.0.0.1:%d", simPort))
	if err != nil {
		return nil, fmt.Errorf("resolve sim address: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	return &UDPTransport{conn: conn, simAddr: simAddr}, nil
}

// Send marshals msg and writes it to the harness port.
func (t *UDPTransport) Send(msg raftmsg.Envelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = t.conn.WriteToUDP(data, t.simAddr)
	return err
}

// Recv waits up to timeout for one datagram. A decode failure or a
// timeout both return ok=false; the caller treats them identically
// (drop and continue, per the spec's error handling design).
func (t *UDPTransport) Recv(timeout time.Duration) (raftmsg.Envelope, bool) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		log.Warn().Err(err).Msg("failed to set read deadline")
		return raftmsg.Envelope{}, false
	}
	buf := make([]byte, maxDatagramSize)
	n, _, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return raftmsg.Envelope{}, false
	}
	var msg raftmsg.Envelope
	if err := json.Unmarshal(buf[:n], &msg); err != nil {
		log.Debug().Err(err).Msg("dropping undecodable datagram")
		return raftmsg.Envelope{}, false
	}
	return msg, true
}

// Close releases the socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
