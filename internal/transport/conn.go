// Package transport runs the two TCP listeners a server exposes: the
// client-facing Acceptor and the replication-facing PeerListener. Both are
// goroutine-per-connection, matching the teacher's socket handling shape.
package transport

import (
	"net"
	"sync"

	"github.com/relaychat/coordinator/internal/wire"
)

// clientConn wraps a client's net.Conn so concurrent writers — the
// connection's own read loop relaying a reply, and an unrelated
// goroutine pushing an async notification — never interleave partial
// frames on the wire. It implements presence.Sender.
type clientConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func newClientConn(c net.Conn) *clientConn {
	return &clientConn{conn: c}
}

// SendFrame writes f as one complete, newline-terminated JSON value.
func (c *clientConn) SendFrame(f wire.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

// writeRaw writes an already-encoded, newline-terminated frame — used for
// the dispatcher's reply, which is produced pre-encoded.
func (c *clientConn) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(data)
	return err
}
