// Package presence tracks which logged-in users currently have an open
// client connection, so the dispatcher can push an unsolicited message
// frame to a recipient without the recipient polling for it.
package presence

import (
	"sync"

	"github.com/relaychat/coordinator/internal/wire"
)

// Sender is the narrow capability a connection needs to receive a pushed
// frame. The transport package's client connection implements this; tests
// can supply a stub.
type Sender interface {
	SendFrame(wire.Frame) error
}

// Registry is a concurrent username -> Sender map. Bind/Unbind/Lookup/Notify
// are the only operations; there is no iteration because no operation in
// spec §4 needs one.
type Registry struct {
	mu      sync.RWMutex
	online  map[string]Sender
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{online: make(map[string]Sender)}
}

// Bind records that username is now reachable through conn, replacing any
// prior connection registered for the same name (a second login from a new
// socket displaces the old one; the displaced connection is not closed and
// keeps serving its own requests, but no longer receives pushed frames).
func (r *Registry) Bind(username string, conn Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[username] = conn
}

// Unbind removes username, but only if it is still bound to conn — a stale
// Unbind from a connection that has since been displaced by a fresher
// login must not evict the fresher one.
func (r *Registry) Unbind(username string, conn Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.online[username] == conn {
		delete(r.online, username)
	}
}

// Lookup returns the connection currently bound to username, if any.
func (r *Registry) Lookup(username string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.online[username]
	return conn, ok
}

// Notify pushes frame to username if they are currently online. It reports
// whether a bound connection was found; a push failure at the transport
// level does not roll back the write that triggered it, matching
// send_message's fire-and-forget delivery semantics.
func (r *Registry) Notify(username string, frame wire.Frame) bool {
	conn, ok := r.Lookup(username)
	if !ok {
		return false
	}
	conn.SendFrame(frame)
	return true
}
