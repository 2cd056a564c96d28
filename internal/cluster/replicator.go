// Package cluster implements the primary-backup replication and leader
// election engine: a fixed, known set of replicas elects one primary by
// term-based voting, the primary fans every write out to the backups, and
// a backup that stops hearing from its primary starts a new election.
package cluster

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/relaychat/coordinator/internal/wire"
)

// Role is this replica's place in the current term.
type Role int

const (
	// RoleCandidate is the transient state while canvassing votes.
	RoleCandidate Role = iota
	// RolePrimary accepts client writes and replicates them to backups.
	RolePrimary
	// RoleBackup forwards client writes to the known primary.
	RoleBackup
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleBackup:
		return "backup"
	default:
		return "candidate"
	}
}

const (
	heartbeatInterval  = 500 * time.Millisecond
	bootstrapWindow    = 5 * time.Second
	peerDialTimeout    = 2 * time.Second
	voteDialTimeout    = 1 * time.Second
	forwardDialTimeout = 5 * time.Second
	operationRetries   = 3
	operationRetryWait = 500 * time.Millisecond
)

func randomElectionTimeout() time.Duration {
	const minMs, maxMs = 1500, 3000
	return time.Duration(minMs+rand.IntN(maxMs-minMs+1)) * time.Millisecond
}

// Applier decodes and executes one raw client frame against the local
// store and returns the response frame to send back to the originating
// client. It is supplied by the dispatch package so the replicator never
// needs to know the shape of chat operations.
type Applier func(operation []byte) ([]byte, error)

// Replicator owns this replica's role, term and vote state and drives
// leader election and write replication over the cluster's peer
// connections. Its lock discipline follows server_lock / vote_lock /
// log_lock: each guards an independent piece of state, and none is ever
// held across a network call.
type Replicator struct {
	serverID string
	peers    *PeerSet
	apply    Applier
	oplog    *OpLog

	stateMu         sync.Mutex
	role            Role
	currentTerm     uint64
	votedFor        string
	primaryID       string
	lastHeartbeatAt time.Time

	voteMu      sync.Mutex
	activeVotes map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewReplicator builds a Replicator that starts out as a candidate with no
// known primary.
func NewReplicator(serverID string, peers *PeerSet, apply Applier, oplog *OpLog) *Replicator {
	return &Replicator{
		serverID: serverID,
		peers:    peers,
		apply:    apply,
		oplog:    oplog,
		role:     RoleCandidate,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the bootstrap election, then launches the heartbeat and
// election-timeout background loops. It returns once a primary is known
// (elected or self-promoted) or the bootstrap window elapses.
func (r *Replicator) Start() {
	r.startElection()

	deadline := time.Now().Add(bootstrapWindow)
	for time.Now().Before(deadline) {
		if r.hasPrimary() {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	r.stateMu.Lock()
	if r.primaryID == "" {
		r.currentTerm++
		r.role = RolePrimary
		r.primaryID = r.serverID
	}
	r.stateMu.Unlock()

	go r.heartbeatLoop()
	go r.electionTimeoutLoop()
}

// Stop terminates the background loops.
func (r *Replicator) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Replicator) hasPrimary() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.primaryID != ""
}

// Status reports the fields the statusz endpoint exposes.
func (r *Replicator) Status() (role string, term uint64, primaryID, selfID string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.role.String(), r.currentTerm, r.primaryID, r.serverID
}

// HandleClientOperation is the entry point for every frame the transport
// layer reads from a client connection. A primary applies it locally and,
// if it is a write, replicates it; any other replica that knows the primary
// forwards it there, and if the forward fails it forgets that primary and
// starts an election; if no primary is known yet it waits briefly and
// retries.
func (r *Replicator) HandleClientOperation(raw []byte) ([]byte, error) {
	var attempt int
	for attempt = 0; attempt < operationRetries; attempt++ {
		r.stateMu.Lock()
		role := r.role
		primaryID := r.primaryID
		r.stateMu.Unlock()

		switch {
		case role == RolePrimary:
			resp, err := r.apply(raw)
			if err != nil {
				return nil, err
			}
			if code, ok := frameType(raw); ok && wire.IsWrite(code) {
				go r.replicateOperation(raw)
			}
			return resp, nil

		case primaryID != "":
			resp, err := r.forwardToPrimary(primaryID, raw)
			if err == nil {
				return resp, nil
			}
			r.stateMu.Lock()
			if r.primaryID == primaryID {
				r.primaryID = ""
			}
			r.stateMu.Unlock()
			r.startElection()

		default:
			time.Sleep(operationRetryWait)
		}
	}
	return nil, fmt.Errorf("no primary available after %d attempts", operationRetries)
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

// forwardToPrimary relays raw (a client frame this replica isn't allowed
// to apply) to the primary's replication port, wrapped in a PeerForward
// envelope, and unwraps the reply.
func (r *Replicator) forwardToPrimary(primaryID string, raw []byte) ([]byte, error) {
	peer, ok := r.peers.Lookup(primaryID)
	if !ok {
		return nil, fmt.Errorf("unknown primary %s", primaryID)
	}
	req := wire.PeerMessage{Type: wire.PeerForward, ServerID: r.serverID, Operation: string(raw)}
	reply, ok := r.sendPeerMessageAwaitReplyTimeout(peer, req, forwardDialTimeout)
	if !ok {
		return nil, fmt.Errorf("forward to primary %s: no reply", primaryID)
	}
	if reply.Type != wire.PeerForwardReply || reply.Operation == "" {
		return nil, fmt.Errorf("forward to primary %s: rejected", primaryID)
	}
	return []byte(reply.Operation), nil
}

// replicateOperation fans a write out to every peer, fire-and-forget; the
// primary does not wait for acknowledgement before replying to its client,
// matching the single-primary-durability model in spec §4.3.
func (r *Replicator) replicateOperation(raw []byte) {
	r.stateMu.Lock()
	term := r.currentTerm
	r.stateMu.Unlock()

	msg := wire.PeerMessage{
		Type:      wire.PeerReplicate,
		Term:      term,
		ServerID:  r.serverID,
		Operation: string(raw),
	}
	if r.oplog != nil {
		r.oplog.Append(OpLogEntry{At: time.Now(), Term: term, ServerID: r.serverID, Operation: string(raw)})
	}

	var wg sync.WaitGroup
	for _, peer := range r.peers.Others() {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			r.sendPeerMessage(p, msg)
		}(peer)
	}
	wg.Wait()
}

func (r *Replicator) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.stateMu.Lock()
			role, term := r.role, r.currentTerm
			r.stateMu.Unlock()
			if role != RolePrimary {
				continue
			}
			r.sendHeartbeats(term)
		}
	}
}

func (r *Replicator) sendHeartbeats(term uint64) {
	msg := wire.PeerMessage{Type: wire.PeerHeartbeat, Term: term, ServerID: r.serverID}
	var wg sync.WaitGroup
	for _, peer := range r.peers.Others() {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			r.sendPeerMessage(p, msg)
		}(peer)
	}
	wg.Wait()
}

func (r *Replicator) electionTimeoutLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		case <-time.After(randomElectionTimeout()):
		}

		r.stateMu.Lock()
		role := r.role
		primaryID := r.primaryID
		staleness := time.Since(r.lastHeartbeatAt)
		r.stateMu.Unlock()

		if role != RoleBackup {
			continue
		}
		if primaryID != "" && staleness <= randomElectionTimeout() {
			continue
		}

		r.stateMu.Lock()
		r.primaryID = ""
		r.stateMu.Unlock()
		r.startElection()
	}
}

// startElection is a no-op if this replica is already primary or already
// knows of one; otherwise it bumps the term, votes for itself, and
// canvasses every peer in the background: one goroutine per peer sends
// REQUEST_VOTE and reads the VOTE_RESPONSE on the same connection.
// startElection itself returns without waiting for the replies.
func (r *Replicator) startElection() {
	r.stateMu.Lock()
	if r.role == RolePrimary || r.primaryID != "" {
		r.stateMu.Unlock()
		return
	}
	r.currentTerm++
	term := r.currentTerm
	r.votedFor = r.serverID
	r.role = RoleCandidate
	r.primaryID = ""
	r.stateMu.Unlock()

	r.voteMu.Lock()
	r.activeVotes = map[string]bool{r.serverID: true}
	r.voteMu.Unlock()

	req := wire.PeerMessage{Type: wire.PeerRequestVote, Term: term, ServerID: r.serverID}
	for _, peer := range r.peers.Others() {
		go func(p Peer) {
			reply, ok := r.sendPeerMessageAwaitReplyTimeout(p, req, voteDialTimeout)
			if !ok {
				return
			}
			r.handleVoteResponse(reply)
		}(peer)
	}
}

// HandlePeerMessage is the entry point for every message read on the
// replication listener. It returns the reply to write back, if any.
func (r *Replicator) HandlePeerMessage(msg wire.PeerMessage) *wire.PeerMessage {
	switch msg.Type {
	case wire.PeerHeartbeat:
		r.handleHeartbeat(msg)
		return nil
	case wire.PeerRequestVote:
		reply := r.handleVoteRequest(msg)
		return &reply
	case wire.PeerVoteResponse:
		r.handleVoteResponse(msg)
		return nil
	case wire.PeerReplicate:
		r.handleReplicate(msg)
		reply := wire.PeerMessage{Type: wire.PeerReplicateAck, ServerID: r.serverID}
		return &reply
	case wire.PeerForward:
		reply := r.handleForward(msg)
		return &reply
	default:
		return nil
	}
}

// handleForward applies a client operation a backup relayed to us because
// it arrived on that backup's client port. If we are no longer primary by
// the time it arrives, the forwarding backup gets an empty reply and will
// trigger its own re-election.
func (r *Replicator) handleForward(msg wire.PeerMessage) wire.PeerMessage {
	r.stateMu.Lock()
	isPrimary := r.role == RolePrimary
	r.stateMu.Unlock()
	if !isPrimary {
		return wire.PeerMessage{Type: wire.PeerForwardReply, ServerID: r.serverID}
	}

	raw := []byte(msg.Operation)
	resp, err := r.apply(raw)
	if err != nil {
		return wire.PeerMessage{Type: wire.PeerForwardReply, ServerID: r.serverID}
	}
	if code, ok := frameType(raw); ok && wire.IsWrite(code) {
		go r.replicateOperation(raw)
	}
	return wire.PeerMessage{Type: wire.PeerForwardReply, ServerID: r.serverID, Operation: string(resp)}
}

func (r *Replicator) handleHeartbeat(msg wire.PeerMessage) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	r.lastHeartbeatAt = time.Now()
	switch {
	case msg.Term > r.currentTerm:
		r.currentTerm = msg.Term
		r.primaryID = msg.ServerID
		r.role = RoleBackup
		r.votedFor = ""
	case msg.Term == r.currentTerm && r.role != RolePrimary:
		r.primaryID = msg.ServerID
	}
}

func (r *Replicator) handleVoteRequest(msg wire.PeerMessage) wire.PeerMessage {
	r.voteMu.Lock()
	defer r.voteMu.Unlock()

	r.stateMu.Lock()
	if msg.Term > r.currentTerm {
		r.currentTerm = msg.Term
		r.votedFor = ""
		if r.role == RolePrimary {
			r.role = RoleBackup
		}
	}
	term := r.currentTerm
	granted := msg.Term >= r.currentTerm && (r.votedFor == "" || r.votedFor == msg.ServerID)
	if granted {
		r.votedFor = msg.ServerID
	}
	r.stateMu.Unlock()

	return wire.PeerMessage{
		Type:     wire.PeerVoteResponse,
		Term:     term,
		ServerID: r.serverID,
		Granted:  granted,
	}
}

func (r *Replicator) handleVoteResponse(msg wire.PeerMessage) {
	r.stateMu.Lock()
	if r.role != RoleCandidate {
		r.stateMu.Unlock()
		return
	}
	if msg.Term > r.currentTerm {
		r.currentTerm = msg.Term
		r.role = RoleBackup
		r.votedFor = ""
		r.stateMu.Unlock()
		return
	}
	r.stateMu.Unlock()

	if !msg.Granted {
		return
	}

	r.voteMu.Lock()
	if r.activeVotes == nil {
		r.activeVotes = map[string]bool{}
	}
	r.activeVotes[msg.ServerID] = true
	count := len(r.activeVotes)
	r.voteMu.Unlock()

	if !r.peers.Majority(count) {
		return
	}

	r.stateMu.Lock()
	if r.role == RoleCandidate {
		r.role = RolePrimary
		r.primaryID = r.serverID
	}
	r.stateMu.Unlock()
}

func (r *Replicator) handleReplicate(msg wire.PeerMessage) {
	r.stateMu.Lock()
	applies := r.role == RoleBackup && msg.ServerID == r.primaryID && msg.Term >= r.currentTerm
	r.stateMu.Unlock()
	if !applies {
		return
	}
	if _, err := r.apply([]byte(msg.Operation)); err != nil {
		return
	}
	if r.oplog != nil {
		r.oplog.Append(OpLogEntry{At: time.Now(), Term: msg.Term, ServerID: msg.ServerID, Operation: msg.Operation})
	}
}

// sendPeerMessage delivers msg to peer without waiting for a reply.
func (r *Replicator) sendPeerMessage(peer Peer, msg wire.PeerMessage) {
	conn, err := net.DialTimeout("tcp", peer.Address, peerDialTimeout)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(peerDialTimeout))

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	conn.Write(append(data, '\n'))
}

// sendPeerMessageAwaitReplyTimeout delivers msg and reads exactly one
// reply line, used for REQUEST_VOTE's synchronous VOTE_RESPONSE and for
// relaying a forwarded client operation to the primary.
func (r *Replicator) sendPeerMessageAwaitReplyTimeout(peer Peer, msg wire.PeerMessage, timeout time.Duration) (wire.PeerMessage, bool) {
	conn, err := net.DialTimeout("tcp", peer.Address, timeout)
	if err != nil {
		return wire.PeerMessage{}, false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(msg)
	if err != nil {
		return wire.PeerMessage{}, false
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return wire.PeerMessage{}, false
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return wire.PeerMessage{}, false
	}
	var reply wire.PeerMessage
	if err := json.Unmarshal(line, &reply); err != nil {
		return wire.PeerMessage{}, false
	}
	return reply, true
}
