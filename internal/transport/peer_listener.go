package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"
	"time"

	"github.com/relaychat/coordinator/internal/cluster"
	"github.com/relaychat/coordinator/internal/wire"
)

// PeerListener is the replication-facing TCP listener: every connection
// carries exactly one wire.PeerMessage, gets handed to the replicator, and
// is closed after at most one reply is written back.
type PeerListener struct {
	listener   net.Listener
	replicator *cluster.Replicator
}

// NewPeerListener binds addr for inter-replica traffic.
func NewPeerListener(addr string, r *cluster.Replicator) (*PeerListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &PeerListener{listener: ln, replicator: r}, nil
}

// Addr returns the address the listener is actually bound to.
func (p *PeerListener) Addr() net.Addr { return p.listener.Addr() }

// Serve accepts peer connections until ctx is cancelled.
func (p *PeerListener) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.listener.Close()
	}()

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("transport: peer accept: %v", err)
				return
			}
		}
		go p.handle(conn)
	}
}

func (p *PeerListener) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return
	}
	var msg wire.PeerMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return
	}

	reply := p.replicator.HandlePeerMessage(msg)
	if reply == nil {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	conn.Write(append(data, '\n'))
}
