package cluster

import "fmt"

// Peer identifies one member of the fixed replica set: a server id and the
// host:port its replication listener binds.
type Peer struct {
	ID      string
	Address string // host:port, replication port
}

// PeerSet is the known, fixed membership of the cluster. Unlike the
// teacher's Membership, there is no Join/Leave and no consistent-hash
// ring: every write goes to every peer, so there is no partitioning
// concept to route around, and membership is given once at startup rather
// than discovered.
type PeerSet struct {
	self  string
	peers map[string]Peer // includes self
}

// NewPeerSet builds a PeerSet from the full replica list, which must
// include selfID.
func NewPeerSet(selfID string, all []Peer) (*PeerSet, error) {
	peers := make(map[string]Peer, len(all))
	for _, p := range all {
		peers[p.ID] = p
	}
	if _, ok := peers[selfID]; !ok {
		return nil, fmt.Errorf("peer set: self id %q not present in replica list", selfID)
	}
	return &PeerSet{self: selfID, peers: peers}, nil
}

// Self returns this server's own id.
func (s *PeerSet) Self() string { return s.self }

// Others returns every peer except self, in an unspecified order.
func (s *PeerSet) Others() []Peer {
	out := make([]Peer, 0, len(s.peers)-1)
	for id, p := range s.peers {
		if id != s.self {
			out = append(out, p)
		}
	}
	return out
}

// Size returns the total replica count, self included — the basis for
// majority calculations.
func (s *PeerSet) Size() int { return len(s.peers) }

// Lookup returns the peer entry for id.
func (s *PeerSet) Lookup(id string) (Peer, bool) {
	p, ok := s.peers[id]
	return p, ok
}

// Majority reports whether count is strictly more than half the replica
// set, the threshold a candidate needs (counting its own vote) to become
// primary.
func (s *PeerSet) Majority(count int) bool {
	return count > s.Size()/2
}
