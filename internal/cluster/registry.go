package cluster

import (
	"fmt"
	"net"
	"sort"
	"strconv"

	"sumgrid/internal/config"
)

// PeerRegistry maps every other node id to its topology record. It is built
// once before the server starts and never mutated, so concurrent readers
// need no locking.
type PeerRegistry struct {
	self  int
	peers map[int]config.NodeRecord
}

// BuildRegistry derives the peer set from the resolved topology, excluding
// self. A single-node topology is rejected: dispatch assumes at least one
// forwarding target exists.
func BuildRegistry(cfg config.Config, selfID int) (*PeerRegistry, error) {
	if _, ok := cfg.Node(selfID); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNodeID, selfID)
	}

	peers := make(map[int]config.NodeRecord, len(cfg.Nodes)-1)
	for _, rec := range cfg.Nodes {
		if rec.ID != selfID {
			peers[rec.ID] = rec
		}
	}
	if len(peers) == 0 {
		return nil, ErrEmptyPeerSet
	}
	return &PeerRegistry{self: selfID, peers: peers}, nil
}

// SelfID is the id the registry was built for.
func (r *PeerRegistry) SelfID() int {
	return r.self
}

// Peer returns the record for one peer id.
func (r *PeerRegistry) Peer(id int) (config.NodeRecord, bool) {
	rec, ok := r.peers[id]
	return rec, ok
}

// IDs returns all peer ids in ascending order.
func (r *PeerRegistry) IDs() []int {
	ids := make([]int, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// All returns every peer record in ascending id order.
func (r *PeerRegistry) All() []config.NodeRecord {
	out := make([]config.NodeRecord, 0, len(r.peers))
	for _, id := range r.IDs() {
		out = append(out, r.peers[id])
	}
	return out
}

// Higher returns peers with an id greater than self, the candidate set for
// bully elections.
func (r *PeerRegistry) Higher() []config.NodeRecord {
	out := make([]config.NodeRecord, 0, len(r.peers))
	for _, id := range r.IDs() {
		if id > r.self {
			out = append(out, r.peers[id])
		}
	}
	return out
}

// Len is the number of peers.
func (r *PeerRegistry) Len() int {
	return len(r.peers)
}

// Address formats a record's host:port.
func Address(rec config.NodeRecord) string {
	return net.JoinHostPort(rec.IP, strconv.Itoa(rec.Port))
}
