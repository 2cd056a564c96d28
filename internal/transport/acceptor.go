package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"
	"time"

	"github.com/relaychat/coordinator/internal/cluster"
	"github.com/relaychat/coordinator/internal/dispatch"
	"github.com/relaychat/coordinator/internal/presence"
	"github.com/relaychat/coordinator/internal/wire"
)

// Acceptor is the client-facing TCP listener. Each connection gets its own
// goroutine reading one JSON frame at a time; the frame's operation code
// decides whether it is answered locally or routed through the replicator.
type Acceptor struct {
	listener   net.Listener
	dispatcher *dispatch.Dispatcher
	replicator *cluster.Replicator
	presence   *presence.Registry
}

// NewAcceptor binds addr and returns an Acceptor ready to Serve.
func NewAcceptor(addr string, d *dispatch.Dispatcher, r *cluster.Replicator, p *presence.Registry) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{listener: ln, dispatcher: d, replicator: r, presence: p}, nil
}

// Addr returns the address the acceptor is actually bound to.
func (a *Acceptor) Addr() net.Addr { return a.listener.Addr() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (a *Acceptor) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		a.listener.Close()
	}()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("transport: accept: %v", err)
				return
			}
		}
		go a.handle(ctx, conn)
	}
}

func (a *Acceptor) handle(ctx context.Context, raw net.Conn) {
	conn := newClientConn(raw)
	defer raw.Close()

	var boundUsername string
	defer func() {
		if boundUsername != "" {
			a.presence.Unbind(boundUsername, conn)
		}
	}()

	reader := bufio.NewReader(raw)
	for {
		if ctx.Err() != nil {
			return
		}
		raw.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		code, _ := frameType(line)
		var resp []byte
		var applyErr error
		if wire.IsWrite(code) {
			resp, applyErr = a.replicator.HandleClientOperation(line)
		} else {
			resp, applyErr = a.dispatcher.HandleLocal(line, conn)
			if code == wire.Login {
				boundUsername = loggedInUsername(line, resp)
			}
		}
		if applyErr != nil {
			reply, _ := wire.Error(applyErr.Error()).Encode()
			conn.writeRaw(reply)
			continue
		}
		conn.writeRaw(resp)
	}
}

func frameType(raw []byte) (string, bool) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", false
	}
	return envelope.Type, true
}

// loggedInUsername extracts the username a successful Login bound, so the
// Acceptor knows what to Unbind when the connection closes. It re-parses
// the request rather than the reply because the reply carries stats, not
// the username.
func loggedInUsername(request, reply []byte) string {
	var replyFrame wire.Frame
	if err := json.Unmarshal(reply, &replyFrame); err != nil || replyFrame.Type != wire.TypeUserStats {
		return ""
	}
	var frame wire.Frame
	if err := json.Unmarshal(request, &frame); err != nil {
		return ""
	}
	var creds wire.Credentials
	if err := json.Unmarshal(frame.Payload, &creds); err != nil {
		return ""
	}
	return creds.Username
}
