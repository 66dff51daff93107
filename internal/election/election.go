// Package election implements bully leader election over the cluster's
// HTTP surface: a node that suspects the leader is gone challenges every
// higher-id peer, and declares itself when none of them answers.
package election

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sumgrid/internal/cluster"
	"sumgrid/internal/config"
)

const monitorInterval = 2 * time.Second

// Message is the wire form of an election challenge.
type Message struct {
	NodeID     int    `json:"node_id"`
	ElectionID string `json:"election_id"`
}

// Announcement is the wire form of a leader declaration.
type Announcement struct {
	LeaderID int `json:"leader_id"`
}

// Manager runs the election protocol for one node.
type Manager struct {
	node    *cluster.Node
	timeout time.Duration
	client  *http.Client
	logger  zerolog.Logger

	// onElected fires after this node declares itself leader, letting the
	// task pipeline start without the packages importing each other.
	onElected func()

	mu         sync.Mutex
	electionID string
	inProgress bool
}

// New builds an election manager. onElected may be nil.
func New(node *cluster.Node, electionTimeout time.Duration, logger zerolog.Logger, onElected func()) *Manager {
	return &Manager{
		node:      node,
		timeout:   electionTimeout,
		client:    &http.Client{Timeout: 5 * time.Second},
		logger:    logger,
		onElected: onElected,
	}
}

// Run elects an initial leader, then watches for leader death until the
// context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.Start(ctx)

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			leaderID := m.node.LeaderID()
			if leaderID != 0 && leaderID != m.node.Identity().ID && !m.node.IsAlive(leaderID) {
				m.logger.Warn().Int("leader", leaderID).Msg("leader appears dead, starting election")
				m.Start(ctx)
			}
		}
	}
}

// Start kicks off one election round unless one is already running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.inProgress {
		m.mu.Unlock()
		return
	}
	m.inProgress = true
	m.electionID = uuid.NewString()
	id := m.electionID
	m.mu.Unlock()

	go m.run(ctx, id)
}

func (m *Manager) run(ctx context.Context, electionID string) {
	defer func() {
		m.mu.Lock()
		m.inProgress = false
		m.mu.Unlock()
	}()

	higher := m.node.Registry().Higher()
	if len(higher) == 0 {
		m.declareLeader(ctx)
		return
	}

	answered := false
	for _, peer := range higher {
		if m.challenge(ctx, peer, electionID) {
			answered = true
		}
	}
	if answered {
		// A higher node took over; its announcement will arrive.
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.timeout):
	}
	m.declareLeader(ctx)
}

// challenge sends one election message; a 200 means the peer is alive and
// outranks us.
func (m *Manager) challenge(ctx context.Context, peer config.NodeRecord, electionID string) bool {
	body, err := json.Marshal(Message{NodeID: m.node.Identity().ID, ElectionID: electionID})
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+cluster.Address(peer)+"/election", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Int("peer", peer.ID).Msg("election challenge unreachable")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Receive handles an election message from another node. A challenge from a
// lower id triggers our own round, which is how the highest live node ends
// up winning.
func (m *Manager) Receive(ctx context.Context, senderID int, electionID string) {
	m.mu.Lock()
	known := m.electionID == electionID && electionID != ""
	m.mu.Unlock()
	if known {
		return
	}
	m.logger.Info().Int("sender", senderID).Msg("election message received")
	if senderID < m.node.Identity().ID {
		m.Start(ctx)
	}
}

// ReceiveAnnouncement adopts an announced leader.
func (m *Manager) ReceiveAnnouncement(leaderID int) {
	m.logger.Info().Int("leader", leaderID).Msg("leader announcement received")
	m.node.SetLeader(leaderID)
}

func (m *Manager) declareLeader(ctx context.Context) {
	self := m.node.Identity().ID
	m.logger.Info().Msg("declaring self as leader")
	m.node.SetLeader(self)

	body, err := json.Marshal(Announcement{LeaderID: self})
	if err != nil {
		return
	}
	for _, peer := range m.node.Registry().All() {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			"http://"+cluster.Address(peer)+"/leader", bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := m.client.Do(req)
		if err != nil {
			m.logger.Warn().Err(err).Int("peer", peer.ID).Msg("leader announcement failed")
			continue
		}
		resp.Body.Close()
	}

	if m.onElected != nil {
		m.onElected()
	}
}
