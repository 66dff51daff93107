// Package heartbeat sends periodic liveness pings to every peer and expires
// nodes that stop answering. Leader expiry is observed by the election
// monitor, not here.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sumgrid/internal/cluster"
	"sumgrid/internal/config"
)

// Ping is the wire form of one heartbeat.
type Ping struct {
	NodeID    int     `json:"node_id"`
	Timestamp float64 `json:"timestamp"`
}

// Manager owns the heartbeat send loop and the liveness sweep.
type Manager struct {
	node     *cluster.Node
	interval time.Duration
	client   *http.Client
	logger   zerolog.Logger
}

func New(node *cluster.Node, interval time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		node:     node,
		interval: interval,
		client:   &http.Client{Timeout: 3 * time.Second},
		logger:   logger,
	}
}

// Run pings all peers every interval and sweeps expired liveness entries,
// until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	send := time.NewTicker(m.interval)
	sweep := time.NewTicker(m.interval)
	defer send.Stop()
	defer sweep.Stop()

	m.broadcast(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-send.C:
			m.broadcast(ctx)
		case <-sweep.C:
			// AliveIDs drops entries older than the leader timeout.
			m.node.AliveIDs()
		}
	}
}

// Receive records a heartbeat from another node.
func (m *Manager) Receive(nodeID int) {
	m.node.MarkAlive(nodeID)
	m.logger.Debug().Int("peer", nodeID).Msg("heartbeat received")
}

func (m *Manager) broadcast(ctx context.Context) {
	for _, peer := range m.node.Registry().All() {
		m.ping(ctx, peer)
	}
}

func (m *Manager) ping(ctx context.Context, peer config.NodeRecord) {
	body, err := json.Marshal(Ping{
		NodeID:    m.node.Identity().ID,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+cluster.Address(peer)+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Int("peer", peer.ID).Msg("heartbeat failed")
		return
	}
	resp.Body.Close()
}
