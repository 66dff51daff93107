package heartbeat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sumgrid/internal/cluster"
	"sumgrid/internal/config"
)

func heartbeatNode(t *testing.T, peerAddr string, leaderTimeout time.Duration) *cluster.Node {
	t.Helper()
	host, portStr, err := net.SplitHostPort(peerAddr)
	if err != nil {
		t.Fatalf("split peer addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := config.Config{
		Nodes: []config.NodeRecord{
			{ID: 1, IP: "127.0.0.1", Port: 18000},
			{ID: 2, IP: host, Port: port},
		},
	}
	ident, err := cluster.ResolveIdentity(cfg, 1, cluster.Overrides{})
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	reg, err := cluster.BuildRegistry(cfg, 1)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return cluster.NewNode(ident, reg, leaderTimeout)
}

func TestReceiveMarksAlive(t *testing.T) {
	node := heartbeatNode(t, "127.0.0.1:18001", time.Minute)
	m := New(node, time.Second, zerolog.Nop())

	if node.IsAlive(2) {
		t.Fatalf("peer 2 should start unknown")
	}
	m.Receive(2)
	if !node.IsAlive(2) {
		t.Fatalf("peer 2 should be alive after a heartbeat")
	}
}

func TestBroadcastPingsPeers(t *testing.T) {
	var got atomic.Value
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ping Ping
		if err := json.NewDecoder(r.Body).Decode(&ping); err != nil {
			t.Errorf("decode ping: %v", err)
		}
		got.Store(ping)
		w.WriteHeader(http.StatusOK)
	}))
	defer peer.Close()

	node := heartbeatNode(t, peer.Listener.Addr().String(), time.Minute)
	m := New(node, time.Second, zerolog.Nop())
	m.broadcast(context.Background())

	ping, ok := got.Load().(Ping)
	if !ok {
		t.Fatalf("peer never received a ping")
	}
	if ping.NodeID != 1 || ping.Timestamp <= 0 {
		t.Fatalf("unexpected ping: %+v", ping)
	}
}

func TestRunPingsRepeatedly(t *testing.T) {
	var pings atomic.Int64
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pings.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer peer.Close()

	node := heartbeatNode(t, peer.Listener.Addr().String(), time.Minute)
	m := New(node, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if pings.Load() < 2 {
		t.Fatalf("expected repeated pings, got %d", pings.Load())
	}
}

func TestRunSweepsExpiredPeers(t *testing.T) {
	node := heartbeatNode(t, "127.0.0.1:18001", 20*time.Millisecond)
	m := New(node, 10*time.Millisecond, zerolog.Nop())

	node.MarkAlive(2)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if node.IsAlive(2) {
		t.Fatalf("peer 2 should have expired without fresh heartbeats")
	}
}
