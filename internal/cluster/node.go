package cluster

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Node is the runtime view of this process within the cluster: who leads,
// and which nodes have been seen alive recently. Identity and the registry
// are immutable; only leadership and liveness mutate, guarded by one lock.
type Node struct {
	identity      Identity
	registry      *PeerRegistry
	leaderTimeout time.Duration

	mu       sync.RWMutex
	leaderID int
	isLeader bool
	alive    map[int]time.Time
}

// NewNode builds runtime state for this process. Self is always alive.
func NewNode(identity Identity, registry *PeerRegistry, leaderTimeout time.Duration) *Node {
	n := &Node{
		identity:      identity,
		registry:      registry,
		leaderTimeout: leaderTimeout,
		alive:         make(map[int]time.Time),
	}
	n.alive[identity.ID] = time.Now()
	return n
}

// Identity returns the immutable identity of this process.
func (n *Node) Identity() Identity {
	return n.identity
}

// Registry returns the immutable peer registry.
func (n *Node) Registry() *PeerRegistry {
	return n.registry
}

// SetLeader records the elected leader and flips this node's role.
func (n *Node) SetLeader(leaderID int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leaderID = leaderID
	n.isLeader = leaderID == n.identity.ID
	n.alive[leaderID] = time.Now()
	if n.isLeader {
		log.Info().Msg("assumed cluster leadership")
	} else {
		log.Info().Int("leader", leaderID).Msg("acknowledged leader")
	}
}

// LeaderID returns the current leader id, zero when unknown.
func (n *Node) LeaderID() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.leaderID
}

// IsLeader reports whether this process currently leads the cluster.
func (n *Node) IsLeader() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isLeader
}

// MarkAlive records a liveness observation for a node.
func (n *Node) MarkAlive(nodeID int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alive[nodeID] = time.Now()
}

// IsAlive reports whether a node has been seen within the leader timeout.
func (n *Node) IsAlive(nodeID int) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	last, ok := n.alive[nodeID]
	return ok && time.Since(last) <= n.leaderTimeout
}

// AliveIDs expires stale entries and returns the ids currently considered
// alive, in no particular order.
func (n *Node) AliveIDs() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now()
	ids := make([]int, 0, len(n.alive))
	for id, last := range n.alive {
		if id != n.identity.ID && now.Sub(last) > n.leaderTimeout {
			delete(n.alive, id)
			log.Warn().Int("peer", id).Msg("node marked dead")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Snapshot is the externally visible node state for the status endpoint.
type Snapshot struct {
	NodeID   int   `json:"node_id"`
	IsLeader bool  `json:"is_leader"`
	LeaderID int   `json:"leader_id"`
	Alive    []int `json:"alive_nodes"`
}

// Status returns a consistent snapshot of runtime state.
func (n *Node) Status() Snapshot {
	alive := n.AliveIDs()
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Snapshot{
		NodeID:   n.identity.ID,
		IsLeader: n.isLeader,
		LeaderID: n.leaderID,
		Alive:    alive,
	}
}

// LeaderRecord returns the topology record of the current leader. ok is
// false when no leader is known or the leader is this node.
func (n *Node) LeaderRecord() (id int, address string, ok bool) {
	n.mu.RLock()
	leaderID := n.leaderID
	n.mu.RUnlock()
	if leaderID == 0 || leaderID == n.identity.ID {
		return 0, "", false
	}
	rec, ok := n.registry.Peer(leaderID)
	if !ok {
		return 0, "", false
	}
	return leaderID, Address(rec), true
}
