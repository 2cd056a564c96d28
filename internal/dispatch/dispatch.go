// Package dispatch implements the chat operation table: it decodes a
// client frame, runs the corresponding business logic against the store,
// and encodes the reply frame. It knows nothing about sockets or
// replication — those are the transport and cluster packages' jobs.
package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/relaychat/coordinator/internal/presence"
	"github.com/relaychat/coordinator/internal/store"
	"github.com/relaychat/coordinator/internal/wire"
)

// Dispatcher is the single place chat operations are decoded and applied.
type Dispatcher struct {
	store    *store.Store
	presence *presence.Registry
}

// New builds a Dispatcher over the given store and presence registry.
func New(s *store.Store, p *presence.Registry) *Dispatcher {
	return &Dispatcher{store: s, presence: p}
}

// Apply decodes and executes raw, a complete client frame, and encodes the
// reply. It has no connection of its own to push extra frames onto, so it
// is suited to write operations (the only ones the replicator routes
// through it — see cluster.Applier) and to re-applying a replicated write
// on a backup. Read operations that need to bind or notify the requesting
// connection go through HandleLocal instead.
func (d *Dispatcher) Apply(raw []byte) ([]byte, error) {
	return d.dispatch(raw, nil)
}

// HandleLocal decodes and executes raw on behalf of the connection that
// read it directly off its own socket. Only this path can bind that
// connection into the presence registry (Login) or otherwise address it
// specifically.
func (d *Dispatcher) HandleLocal(raw []byte, conn presence.Sender) ([]byte, error) {
	return d.dispatch(raw, conn)
}

func (d *Dispatcher) dispatch(raw []byte, conn presence.Sender) ([]byte, error) {
	var frame wire.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return encode(wire.Error("malformed request")), nil
	}

	var reply wire.Frame
	var err error
	switch frame.Type {
	case wire.Register:
		reply, err = d.register(frame.Payload)
	case wire.Login:
		reply, err = d.login(frame.Payload, conn)
	case wire.SendMessage:
		reply, err = d.sendMessage(frame.Payload)
	case wire.GetMessages:
		reply, err = d.getMessages(frame.Payload)
	case wire.GetUserList:
		reply, err = d.getUserList()
	case wire.DeleteMessage:
		reply, err = d.deleteMessage(frame.Payload)
	case wire.DeleteUser:
		reply, err = d.deleteUser(frame.Payload)
	case wire.UpdateViewCount:
		reply, err = d.updateViewCount(frame.Payload)
	case wire.LogOff:
		reply, err = d.logOff(frame.Payload)
	case wire.GetUserStats:
		reply, err = d.getUserStats(frame.Payload)
	default:
		return encode(wire.Error(fmt.Sprintf("unknown operation %q", frame.Type))), nil
	}
	if err != nil {
		return encode(errorFrame(frame.Type, err)), nil
	}
	return encode(reply), nil
}

func encode(f wire.Frame) []byte {
	data, err := f.Encode()
	if err != nil {
		// f was built from values that marshal cleanly; this only fires on
		// a logic error in this package, not on bad client input.
		return []byte(`{"type":"E","payload":"internal error"}` + "\n")
	}
	return data
}

func (d *Dispatcher) register(payload json.RawMessage) (wire.Frame, error) {
	var creds wire.Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return wire.Frame{}, badRequest("expected [username, password]")
	}
	if creds.Username == "" {
		return wire.Frame{}, badRequest("username must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return wire.Frame{}, wrapStoreErr("register", err)
	}

	created, err := d.store.CreateUser(creds.Username, hash)
	if err != nil {
		return wire.Frame{}, wrapStoreErr("register", err)
	}
	if !created {
		return wire.Frame{}, conflict("username already exists")
	}
	return wire.Success("registration successful"), nil
}

func (d *Dispatcher) login(payload json.RawMessage, conn presence.Sender) (wire.Frame, error) {
	var creds wire.Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return wire.Frame{}, badRequest("expected [username, password]")
	}

	user, ok := d.store.GetUser(creds.Username)
	if !ok {
		return wire.Frame{}, authFailure("no such user")
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return wire.Frame{}, authFailure("invalid credentials")
	}

	if conn != nil {
		d.presence.Bind(creds.Username, conn)
		if bulk, ok := d.buildBulkMessages(creds.Username); ok {
			conn.SendFrame(bulk)
		}
	}

	var logOffTime *string
	if user.LogOffTime != nil {
		s := user.LogOffTime.UTC().Format(time.RFC3339Nano)
		logOffTime = &s
	}
	return wire.NewFrame(wire.TypeUserStats, wire.UserStatsPayload{
		LogOffTime: logOffTime,
		ViewCount:  user.ViewCount,
	})
}

// buildBulkMessages assembles the BM frame Login sends immediately after a
// successful authentication, if the user has any stored conversation.
func (d *Dispatcher) buildBulkMessages(username string) (wire.Frame, bool) {
	buckets := d.store.MessagesForUser(username)
	if len(buckets) == 0 {
		return wire.Frame{}, false
	}
	f, err := wire.NewFrame(wire.TypeBulkMessages, buckets)
	if err != nil {
		return wire.Frame{}, false
	}
	return f, true
}

func (d *Dispatcher) sendMessage(payload json.RawMessage) (wire.Frame, error) {
	var p wire.SendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return wire.Frame{}, badRequest("expected sender/recipient/message")
	}
	if _, ok := d.store.GetUser(p.Recipient); !ok {
		return wire.Frame{}, notFound("recipient does not exist")
	}

	now := time.Now()
	if _, err := d.store.InsertMessage(p.Sender, p.Recipient, p.Message, now); err != nil {
		return wire.Frame{}, wrapStoreErr("send_message", err)
	}

	if notify, err := wire.NewFrame(wire.TypeNotify, wire.NotifyPayload{
		Sender:    p.Sender,
		Recipient: p.Recipient,
		Message:   p.Message,
	}); err == nil {
		d.presence.Notify(p.Recipient, notify)
	}

	return wire.Success("message sent"), nil
}

func (d *Dispatcher) getMessages(payload json.RawMessage) (wire.Frame, error) {
	var u wire.UsernameOnly
	if err := json.Unmarshal(payload, &u); err != nil {
		return wire.Frame{}, badRequest("expected username")
	}
	buckets := d.store.MessagesForUser(u.Username)
	return wire.NewFrame(wire.TypeBulkMessages, buckets)
}

func (d *Dispatcher) getUserList() (wire.Frame, error) {
	return wire.NewFrame(wire.TypeUserList, d.store.AllUsernames())
}

func (d *Dispatcher) deleteMessage(payload json.RawMessage) (wire.Frame, error) {
	var p wire.DeleteMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return wire.Frame{}, badRequest("expected message/timestamp/sender[/receiver]")
	}
	at, ok := parseClientTimestamp(p.Timestamp)
	if !ok {
		return wire.Frame{}, badRequest("unparseable timestamp")
	}
	deleted, err := d.store.DeleteMessage(p.Message, p.Sender, p.Receiver, at)
	if err != nil {
		return wire.Frame{}, wrapStoreErr("delete_message", err)
	}
	if !deleted {
		return wire.Frame{}, notFound("no matching message")
	}
	return wire.Success("message deleted"), nil
}

func parseClientTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (d *Dispatcher) deleteUser(payload json.RawMessage) (wire.Frame, error) {
	var u wire.UsernameOnly
	if err := json.Unmarshal(payload, &u); err != nil {
		return wire.Frame{}, badRequest("expected username")
	}
	deleted, err := d.store.DeleteUser(u.Username)
	if err != nil {
		return wire.Frame{}, wrapStoreErr("delete_user", err)
	}
	if !deleted {
		return wire.Frame{}, notFound("no such user")
	}
	return wire.Success("user deleted"), nil
}

func (d *Dispatcher) updateViewCount(payload json.RawMessage) (wire.Frame, error) {
	var p wire.UpdateViewCountPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return wire.Frame{}, badRequest("expected username/new_count")
	}
	updated, err := d.store.UpdateViewCount(p.Username, p.NewCount)
	if err != nil {
		return wire.Frame{}, wrapStoreErr("update_view_count", err)
	}
	if !updated {
		return wire.Frame{}, notFound("no such user")
	}
	return wire.Success("view count updated"), nil
}

func (d *Dispatcher) logOff(payload json.RawMessage) (wire.Frame, error) {
	var u wire.UsernameOnly
	if err := json.Unmarshal(payload, &u); err != nil {
		return wire.Frame{}, badRequest("expected username")
	}
	updated, err := d.store.SetLogOffTime(u.Username, time.Now())
	if err != nil {
		return wire.Frame{}, wrapStoreErr("log_off", err)
	}
	if !updated {
		return wire.Frame{}, notFound("no such user")
	}
	return wire.Success("logged off"), nil
}

func (d *Dispatcher) getUserStats(payload json.RawMessage) (wire.Frame, error) {
	var u wire.UsernameOnly
	if err := json.Unmarshal(payload, &u); err != nil {
		return wire.Frame{}, badRequest("expected username")
	}
	user, ok := d.store.GetUser(u.Username)
	if !ok {
		return wire.Frame{}, notFound("no such user")
	}
	var logOffTime *string
	if user.LogOffTime != nil {
		s := user.LogOffTime.UTC().Format(time.RFC3339Nano)
		logOffTime = &s
	}
	return wire.NewFrame(wire.TypeUserStats, wire.UserStatsPayload{
		LogOffTime: logOffTime,
		ViewCount:  user.ViewCount,
	})
}
